// Package config handles configuration loading for pulse-gateway.
//
// Configuration is loaded from a YAML file with environment variable
// expansion (${VAR_NAME}) and Go duration-string parsing ("30s", "24h").
// Unset optional fields receive defaults; Validate enforces the required
// ones.
//
// # Example
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//
//	redis:
//	  addr: "localhost:6379"
//
//	auth:
//	  jwt_secret: "${PULSE_JWT_SECRET}"
//	  timeout: "10s"
//
//	rate_limits:
//	  connection: { points: 5, window: "60s" }
//	  message:    { points: 100, window: "60s" }
//	  broadcast:  { points: 10, window: "60s" }
//
//	metrics:
//	  retention: "24h"
//	  histogram_cap: 1000
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// The action→quota table under rate_limits is deployment configuration, not
// business logic: the limiter treats any action absent from it as a
// programmer error.
package config
