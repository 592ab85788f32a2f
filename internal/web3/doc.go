// Package web3 holds chain connectivity shared by the ledger backends: chain
// definitions loaded from YAML, the snapshot type reported by health checks,
// and the Client interface implemented per chain family (see ethereum).
package web3
