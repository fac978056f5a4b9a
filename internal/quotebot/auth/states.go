package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

// sentinel errors returned by the state store.
var (
	ErrStateNotFound = errors.New("auth: state not found")
	ErrStateExpired  = errors.New("auth: state expired")
	ErrStateUsed     = errors.New("auth: state already used")
)

// DefaultStateTTL is the OAuth state lifetime when none is configured.
const DefaultStateTTL = 10 * time.Minute

// pendingState is an un-redeemed OAuth state row.
type pendingState struct {
	State     string
	UserID    string
	ChatID    string
	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
}

// stateStore manages oauth_states rows. Each state is single-use: issued
// when a sign-in link is handed out, burned when the callback redeems it.
type stateStore struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

func newStateStore(db *sql.DB, ttl time.Duration, now func() time.Time) *stateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	if now == nil {
		now = time.Now
	}
	return &stateStore{db: db, ttl: ttl, now: now}
}

// Issue creates a new state bound to the user who asked to sign in.
func (s *stateStore) Issue(ctx context.Context, userID, chatID string) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("auth: generate state entropy: %w", err)
	}

	state := base64.RawURLEncoding.EncodeToString(raw)
	now := s.now().UTC()

	_, err := s.db.ExecContext(ctx, `
INSERT INTO oauth_states (state, user_id, chat_id, created_at, expires_at, used)
VALUES (?, ?, ?, ?, ?, 0)
`, state, userID, chatID,
		now.Format(time.RFC3339),
		now.Add(s.ttl).Format(time.RFC3339),
	)
	if err != nil {
		return "", fmt.Errorf("auth: insert state: %w", err)
	}
	return state, nil
}

// Validate fetches the state and checks it is still redeemable. The state
// is NOT consumed; call Burn once the token exchange has succeeded.
func (s *stateStore) Validate(ctx context.Context, state string) (*pendingState, error) {
	var ps pendingState
	var createdStr, expiresStr string
	var usedInt int

	err := s.db.QueryRowContext(ctx, `
SELECT state, user_id, chat_id, created_at, expires_at, used
FROM oauth_states
WHERE state = ?
`, state).Scan(&ps.State, &ps.UserID, &ps.ChatID, &createdStr, &expiresStr, &usedInt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("auth: query state: %w", err)
	}

	ps.Used = usedInt != 0
	ps.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
	ps.ExpiresAt, _ = time.Parse(time.RFC3339, expiresStr)

	if ps.Used {
		return nil, ErrStateUsed
	}
	if s.now().UTC().After(ps.ExpiresAt) {
		return nil, ErrStateExpired
	}
	return &ps, nil
}

// Burn marks a state as used. Returns ErrStateUsed if a concurrent
// callback already burned it.
func (s *stateStore) Burn(ctx context.Context, state string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE oauth_states SET used = 1 WHERE state = ? AND used = 0
`, state)
	if err != nil {
		return fmt.Errorf("auth: burn state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStateUsed
	}
	return nil
}

// PruneExpired deletes states that expired or were already redeemed.
func (s *stateStore) PruneExpired(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
DELETE FROM oauth_states WHERE expires_at < ? OR used = 1
`, s.now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("auth: prune states: %w", err)
	}
	return nil
}
