// Package models defines the documents grove-memory reads and writes:
// the session registry, per-session state, threads and the scar corpus.
package models
