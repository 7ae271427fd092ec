// Package auth verifies the signed bearer tokens clients present during the
// websocket authentication handshake. Tokens are HS256 JWTs with the
// identity carried in the "sub" claim; issuance is handled by the wider
// platform.
package auth
