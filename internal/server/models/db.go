// Package models defines the server-side records persisted by the
// repositories. Values handed out by a repository are snapshots: they do not
// follow later changes in storage, so callers re-query for fresh state.
package models

// Serializable is implemented by records that have a public representation.
// Each record chooses its own field subset; secrets never appear in it.
type Serializable interface {
	Serialize() map[string]any
}
