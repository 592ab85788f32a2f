// Package agent runs the security agents: declarative bundles of instruction
// text, a model reference and tools. Tools are deterministic calls into the
// risk engine; an optional language model narrates their output.
package agent
