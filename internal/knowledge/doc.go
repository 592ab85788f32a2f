// Package knowledge supplies short reference cards that agents attach to
// model requests, built from the risk pattern catalog and optional JSON files.
package knowledge
