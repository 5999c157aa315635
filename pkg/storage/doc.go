// Package storage defines persistence contracts for wisp: a simple
// key-value store for settings and capability state, and a conversation
// store for turn history. Implementations live in the memory and
// postgres subpackages.
package storage
