// Package mysql persists the ledger (scam registry, wallets, transactions) and
// the agent run history in MySQL. Schema changes ship as embedded SQL files
// under deploy/migrations and are applied once per version on Open.
package mysql
