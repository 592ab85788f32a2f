// Package ledger models the address, wallet and transaction records the risk
// engine reads, and the lookup capability it reads them through. Backends
// live elsewhere (storage/mysql, storage/redis, web3/ethereum); this package
// holds the in-memory implementation and the YAML seed loader.
package ledger
