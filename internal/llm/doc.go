// Package llm defines the narrow contract agents use to ask a language model
// to narrate a deterministic tool result. Provider adapters live in
// subpackages.
package llm
