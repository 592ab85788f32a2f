// Package redis provides a read-through Redis cache in front of any ledger
// repository. Cache failures are logged and fall back to the wrapped store.
package redis
