// Package queue holds messages addressed to identities that have no live
// authenticated connection. Queues live in the shared counter store, keyed
// by identity, and are drained FIFO when the identity next authenticates.
package queue
