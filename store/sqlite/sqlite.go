/*
Package sqlite provides a SQLite-backed implementation of the record stores.

PURPOSE:
  Implements subs.MemberStore, access.IdentityStore and access.Revocations on a
  single SQLite database. Each member is one row; its fee map is stored as a
  JSON document in fees_json so a ledger write replaces the whole map in one
  UPDATE, matching the read-modify-write model of the ledger.

KEY TABLES:
  members:        member documents keyed by service number
  identities:     login records keyed by uid, unique email (case-insensitive)
  revoked_tokens: session token ids torn down by logout

FEE HISTORY:
  fees_json is nullable. NULL means the member has no fee history at all;
  '{}' is a tracked history with nothing recorded yet. The two are
  computed differently, so the distinction survives a round trip.

ERRORS:
  Driver failures are wrapped in *subs.StoreError and are never retried.
  Missing rows are *subs.NotFoundError; duplicate keys are
  *subs.ValidationError.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. Two ledger writes to the same member
  can still lose an update between read and write; that is accepted.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) so readers don't block the
  single writer.

USAGE:
  store, err := sqlite.New("./data/mess.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  l := ledger.New(store)

SEE ALSO:
  - subs/store.go:        MemberStore interface
  - access/session.go:    IdentityStore interface
  - subs/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/mattn/go-sqlite3"
	"github.com/messmate/subs-engine/access"
	"github.com/messmate/subs-engine/subs"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db  *sql.DB
	mu  sync.RWMutex
	now func() time.Time
}

var (
	_ subs.MemberStore     = (*Store)(nil)
	_ access.IdentityStore = (*Store)(nil)
	_ access.Revocations   = (*Store)(nil)
)

// New opens the database and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Each connection to :memory: is a separate empty database.
		db.SetMaxOpenConns(1)
	}

	store := FromDB(db)
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// FromDB wraps an open handle without migrating it. The caller owns the schema.
func FromDB(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return &subs.StoreError{Op: "ping", Err: err}
	}
	return nil
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Members (one document per service number)
	CREATE TABLE IF NOT EXISTS members (
		id TEXT PRIMARY KEY,
		first_name TEXT NOT NULL,
		surname TEXT NOT NULL,
		rank TEXT NOT NULL,
		unit TEXT NOT NULL,
		email TEXT,
		joined_date TEXT,
		role TEXT,
		fees_json TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_members_unit ON members(unit);
	CREATE INDEX IF NOT EXISTS idx_members_rank ON members(rank);

	-- Identities (logins)
	CREATE TABLE IF NOT EXISTS identities (
		uid TEXT PRIMARY KEY,
		member_id TEXT,
		first_name TEXT NOT NULL,
		surname TEXT NOT NULL,
		rank TEXT NOT NULL,
		unit TEXT NOT NULL,
		email TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_identities_email
		ON identities(email COLLATE NOCASE);
	CREATE INDEX IF NOT EXISTS idx_identities_member
		ON identities(member_id) WHERE member_id IS NOT NULL;

	-- Revoked session tokens
	CREATE TABLE IF NOT EXISTS revoked_tokens (
		token_id TEXT PRIMARY KEY,
		revoked_until TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// MEMBER STORE (subs.MemberStore interface)
// =============================================================================

const memberColumns = `id, first_name, surname, rank, unit, email, joined_date, role, fees_json, created_at`

func (s *Store) GetMember(ctx context.Context, id subs.MemberID) (*subs.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+memberColumns+" FROM members WHERE id = ?", string(id))
	m, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &subs.NotFoundError{Kind: subs.KindMember, Key: string(id)}
	}
	if err != nil {
		return nil, &subs.StoreError{Op: "get member", Err: err}
	}
	return m, nil
}

func (s *Store) ListMembers(ctx context.Context) ([]subs.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+memberColumns+" FROM members ORDER BY id")
	if err != nil {
		return nil, &subs.StoreError{Op: "list members", Err: err}
	}
	defer rows.Close()

	var members []subs.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, &subs.StoreError{Op: "list members", Err: err}
		}
		members = append(members, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, &subs.StoreError{Op: "list members", Err: err}
	}
	return members, nil
}

func (s *Store) CreateMember(ctx context.Context, m subs.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fees, err := encodeFees(m.Fees)
	if err != nil {
		return &subs.StoreError{Op: "create member", Err: err}
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now().UTC()
	}

	query := `
		INSERT INTO members (` + memberColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		string(m.ID), m.FirstName, m.Surname, m.Rank, m.Unit,
		nullString(m.Email),
		nullDate(m.JoinedDate),
		nullString(roleString(m.Role)),
		fees,
		m.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &subs.ValidationError{Field: "memberId", Reason: "member " + string(m.ID) + " already exists"}
		}
		return &subs.StoreError{Op: "create member", Err: err}
	}
	return nil
}

// UpdateFees replaces the whole fee map of one member.
func (s *Store) UpdateFees(ctx context.Context, id subs.MemberID, fees subs.Fees) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := encodeFees(fees)
	if err != nil {
		return &subs.StoreError{Op: "update fees", Err: err}
	}
	res, err := s.db.ExecContext(ctx, "UPDATE members SET fees_json = ? WHERE id = ?", doc, string(id))
	if err != nil {
		return &subs.StoreError{Op: "update fees", Err: err}
	}
	return requireRow(res, "update fees", subs.KindMember, string(id))
}

func (s *Store) DeleteMember(ctx context.Context, id subs.MemberID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM members WHERE id = ?", string(id))
	if err != nil {
		return &subs.StoreError{Op: "delete member", Err: err}
	}
	return requireRow(res, "delete member", subs.KindMember, string(id))
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMember(row scanner) (*subs.Member, error) {
	var (
		m                         subs.Member
		id                        string
		email, joined, role, fees sql.NullString
		createdAt                 string
	)
	if err := row.Scan(&id, &m.FirstName, &m.Surname, &m.Rank, &m.Unit,
		&email, &joined, &role, &fees, &createdAt); err != nil {
		return nil, err
	}
	m.ID = subs.MemberID(id)
	m.Email = email.String

	var err error
	if m.JoinedDate, err = subs.ParseDatePtr(joined.String); err != nil {
		return nil, fmt.Errorf("member %s: joined_date: %w", id, err)
	}
	if role.Valid && role.String != "" {
		if m.Role, err = access.ParseRole(role.String); err != nil {
			return nil, fmt.Errorf("member %s: %w", id, err)
		}
	}
	if m.Fees, err = decodeFees(fees); err != nil {
		return nil, fmt.Errorf("member %s: fees_json: %w", id, err)
	}
	m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &m, nil
}

// =============================================================================
// IDENTITY STORE (access.IdentityStore interface)
// =============================================================================

const identityColumns = `uid, member_id, first_name, surname, rank, unit, email, password_hash, role, created_at`

func (s *Store) GetIdentity(ctx context.Context, uid string) (*access.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+identityColumns+" FROM identities WHERE uid = ?", uid)
	id, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &subs.NotFoundError{Kind: subs.KindIdentity, Key: uid}
	}
	if err != nil {
		return nil, &subs.StoreError{Op: "get identity", Err: err}
	}
	return id, nil
}

func (s *Store) FindIdentityByEmail(ctx context.Context, email string) (*access.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+identityColumns+" FROM identities WHERE email = ? COLLATE NOCASE",
		strings.TrimSpace(email),
	)
	id, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &subs.NotFoundError{Kind: subs.KindIdentity, Key: email}
	}
	if err != nil {
		return nil, &subs.StoreError{Op: "find identity", Err: err}
	}
	return id, nil
}

func (s *Store) ListIdentities(ctx context.Context) ([]access.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+identityColumns+" FROM identities ORDER BY surname, uid")
	if err != nil {
		return nil, &subs.StoreError{Op: "list identities", Err: err}
	}
	defer rows.Close()

	var out []access.Identity
	for rows.Next() {
		id, err := scanIdentity(rows)
		if err != nil {
			return nil, &subs.StoreError{Op: "list identities", Err: err}
		}
		out = append(out, *id)
	}
	if err := rows.Err(); err != nil {
		return nil, &subs.StoreError{Op: "list identities", Err: err}
	}
	return out, nil
}

// SaveIdentity inserts or replaces an identity.
func (s *Store) SaveIdentity(ctx context.Context, id access.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id.CreatedAt.IsZero() {
		id.CreatedAt = s.now().UTC()
	}
	query := `
		INSERT INTO identities (` + identityColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uid) DO UPDATE SET
			member_id = excluded.member_id,
			first_name = excluded.first_name,
			surname = excluded.surname,
			rank = excluded.rank,
			unit = excluded.unit,
			email = excluded.email,
			password_hash = excluded.password_hash,
			role = excluded.role
	`
	_, err := s.db.ExecContext(ctx, query,
		id.UID, nullString(id.MemberID), id.FirstName, id.Surname, id.Rank, id.Unit,
		id.Email, id.PasswordHash, id.Role.String(),
		id.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &subs.ValidationError{Field: "email", Reason: "already registered"}
		}
		return &subs.StoreError{Op: "save identity", Err: err}
	}
	return nil
}

func (s *Store) DeleteIdentity(ctx context.Context, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM identities WHERE uid = ?", uid)
	if err != nil {
		return &subs.StoreError{Op: "delete identity", Err: err}
	}
	return requireRow(res, "delete identity", subs.KindIdentity, uid)
}

func scanIdentity(row scanner) (*access.Identity, error) {
	var (
		id        access.Identity
		memberID  sql.NullString
		role      string
		createdAt string
	)
	if err := row.Scan(&id.UID, &memberID, &id.FirstName, &id.Surname, &id.Rank, &id.Unit,
		&id.Email, &id.PasswordHash, &role, &createdAt); err != nil {
		return nil, err
	}
	id.MemberID = memberID.String
	r, err := access.ParseRole(role)
	if err != nil {
		return nil, fmt.Errorf("identity %s: %w", id.UID, err)
	}
	id.Role = r
	id.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &id, nil
}

// =============================================================================
// REVOCATIONS (access.Revocations interface)
// =============================================================================

func (s *Store) Revoke(ctx context.Context, tokenID string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO revoked_tokens (token_id, revoked_until) VALUES (?, ?)
		ON CONFLICT(token_id) DO UPDATE SET revoked_until = excluded.revoked_until
	`
	if _, err := s.db.ExecContext(ctx, query, tokenID, until.UTC().Format(time.RFC3339)); err != nil {
		return &subs.StoreError{Op: "revoke token", Err: err}
	}
	return nil
}

func (s *Store) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var until string
	err := s.db.QueryRowContext(ctx,
		"SELECT revoked_until FROM revoked_tokens WHERE token_id = ?", tokenID,
	).Scan(&until)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, &subs.StoreError{Op: "check revocation", Err: err}
	}
	t, err := time.Parse(time.RFC3339, until)
	if err != nil {
		return true, nil
	}
	return s.now().Before(t), nil
}

// PurgeRevocations drops entries for tokens that have expired anyway.
func (s *Store) PurgeRevocations(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM revoked_tokens WHERE revoked_until <= ?",
		s.now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, &subs.StoreError{Op: "purge revocations", Err: err}
	}
	return res.RowsAffected()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"revoked_tokens", "identities", "members"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return &subs.StoreError{Op: "reset " + table, Err: err}
		}
	}
	return nil
}

func encodeFees(f subs.Fees) (sql.NullString, error) {
	if f == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(f)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeFees(doc sql.NullString) (subs.Fees, error) {
	if !doc.Valid {
		return nil, nil
	}
	fees := subs.Fees{}
	if strings.TrimSpace(doc.String) == "" {
		return fees, nil
	}
	if err := json.Unmarshal([]byte(doc.String), &fees); err != nil {
		return nil, err
	}
	return fees, nil
}

func requireRow(res sql.Result, op string, kind subs.NotFoundKind, key string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return &subs.StoreError{Op: op, Err: err}
	}
	if n == 0 {
		return &subs.NotFoundError{Kind: kind, Key: key}
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDate(d *subs.Date) sql.NullString {
	if d == nil || d.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func roleString(r access.Role) string {
	if r.IsZero() {
		return ""
	}
	return r.String()
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrConstraint &&
			(se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
