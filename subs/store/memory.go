// Package store provides in-memory record store implementations.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/messmate/subs-engine/access"
	"github.com/messmate/subs-engine/subs"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements subs.MemberStore, access.IdentityStore and
// access.Revocations. Every read hands out a deep copy so callers cannot
// mutate stored documents in place.
type Memory struct {
	mu         sync.RWMutex
	members    map[subs.MemberID]subs.Member
	identities map[string]access.Identity
	revoked    map[string]time.Time

	// FailWith, when set, is returned by every write as a StoreError.
	FailWith error
}

var (
	_ subs.MemberStore     = (*Memory)(nil)
	_ access.IdentityStore = (*Memory)(nil)
	_ access.Revocations   = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		members:    make(map[subs.MemberID]subs.Member),
		identities: make(map[string]access.Identity),
		revoked:    make(map[string]time.Time),
	}
}

func (m *Memory) failure(op string) error {
	if m.FailWith == nil {
		return nil
	}
	return &subs.StoreError{Op: op, Err: m.FailWith}
}

// =============================================================================
// MEMBERS
// =============================================================================

func (m *Memory) GetMember(_ context.Context, id subs.MemberID) (*subs.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	member, ok := m.members[id]
	if !ok {
		return nil, &subs.NotFoundError{Kind: subs.KindMember, Key: string(id)}
	}
	c := member.Clone()
	return &c, nil
}

func (m *Memory) ListMembers(_ context.Context) ([]subs.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]subs.Member, 0, len(m.members))
	for _, member := range m.members {
		result = append(result, member.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) CreateMember(_ context.Context, member subs.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("create member"); err != nil {
		return err
	}
	if _, exists := m.members[member.ID]; exists {
		return &subs.ValidationError{Field: "memberId", Reason: "member " + string(member.ID) + " already exists"}
	}
	if member.CreatedAt.IsZero() {
		member.CreatedAt = time.Now().UTC()
	}
	m.members[member.ID] = member.Clone()
	return nil
}

func (m *Memory) UpdateFees(_ context.Context, id subs.MemberID, fees subs.Fees) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("update fees"); err != nil {
		return err
	}
	member, ok := m.members[id]
	if !ok {
		return &subs.NotFoundError{Kind: subs.KindMember, Key: string(id)}
	}
	member.Fees = fees.Clone()
	m.members[id] = member
	return nil
}

func (m *Memory) DeleteMember(_ context.Context, id subs.MemberID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("delete member"); err != nil {
		return err
	}
	if _, ok := m.members[id]; !ok {
		return &subs.NotFoundError{Kind: subs.KindMember, Key: string(id)}
	}
	delete(m.members, id)
	return nil
}

// =============================================================================
// IDENTITIES
// =============================================================================

func (m *Memory) GetIdentity(_ context.Context, uid string) (*access.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.identities[uid]
	if !ok {
		return nil, &subs.NotFoundError{Kind: subs.KindIdentity, Key: uid}
	}
	return &id, nil
}

func (m *Memory) FindIdentityByEmail(_ context.Context, email string) (*access.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, id := range m.identities {
		if strings.EqualFold(id.Email, strings.TrimSpace(email)) {
			found := id
			return &found, nil
		}
	}
	return nil, &subs.NotFoundError{Kind: subs.KindIdentity, Key: email}
}

func (m *Memory) ListIdentities(_ context.Context) ([]access.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]access.Identity, 0, len(m.identities))
	for _, id := range m.identities {
		result = append(result, id)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Surname != result[j].Surname {
			return result[i].Surname < result[j].Surname
		}
		return result[i].UID < result[j].UID
	})
	return result, nil
}

func (m *Memory) SaveIdentity(_ context.Context, id access.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("save identity"); err != nil {
		return err
	}
	if id.CreatedAt.IsZero() {
		id.CreatedAt = time.Now().UTC()
	}
	m.identities[id.UID] = id
	return nil
}

func (m *Memory) DeleteIdentity(_ context.Context, uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("delete identity"); err != nil {
		return err
	}
	if _, ok := m.identities[uid]; !ok {
		return &subs.NotFoundError{Kind: subs.KindIdentity, Key: uid}
	}
	delete(m.identities, uid)
	return nil
}

// =============================================================================
// REVOCATIONS
// =============================================================================

func (m *Memory) Revoke(_ context.Context, tokenID string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("revoke token"); err != nil {
		return err
	}
	m.revoked[tokenID] = until
	return nil
}

func (m *Memory) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	until, ok := m.revoked[tokenID]
	if !ok {
		return false, nil
	}
	return time.Now().Before(until), nil
}

// Reset clears all data.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.members = make(map[subs.MemberID]subs.Member)
	m.identities = make(map[string]access.Identity)
	m.revoked = make(map[string]time.Time)
	return nil
}
