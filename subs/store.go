/*
store.go - Member Record Store interface

PURPOSE:
  The boundary between the engine and the document store that holds member
  records. Each member is one document keyed by MemberID; its fee map is
  written back whole on every ledger mutation.

CONCURRENCY:
  There is no locking across a read-modify-write. Two writers updating the
  same member at once can lose an update. At a few hundred members and
  human-paced data entry this is accepted, not papered over.

ERRORS:
  Missing documents are *NotFoundError. Every other failure is a *StoreError
  and is handed back to callers unchanged, never retried.

IMPLEMENTATIONS:
  - subs/store/memory.go:  in-memory, for tests and development
  - store/sqlite/sqlite.go: SQLite
*/
package subs

import "context"

// MemberStore persists member documents.
type MemberStore interface {
	// GetMember returns a copy of the member document.
	GetMember(ctx context.Context, id MemberID) (*Member, error)

	// ListMembers returns every member ordered by id.
	ListMembers(ctx context.Context) ([]Member, error)

	// CreateMember inserts a new document. Fails with a ValidationError if
	// the id is taken.
	CreateMember(ctx context.Context, m Member) error

	// UpdateFees replaces the member's whole fee map and nothing else.
	UpdateFees(ctx context.Context, id MemberID, fees Fees) error

	// DeleteMember removes the document.
	DeleteMember(ctx context.Context, id MemberID) error
}
