// Package risk implements the address classifier, the transaction pattern
// scanner and the aggregate risk scorer. Every operation is a deterministic
// read over a ledger.Repository; nothing here mutates shared state.
package risk
