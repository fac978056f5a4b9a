// Package auth gates the assistant behind a Google OAuth connection and
// supplies the token source the calendar client runs on.
//
// The business connects one Google account; its token lives in the
// database and is shared by all staff users of the assistant. Sign-in
// links carry single-use state tokens bound to the requesting user.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// tokenID is the oauth_tokens row holding the business's Google token.
const tokenID = "google"

// ErrNotConnected is returned by TokenSource before the OAuth flow has
// completed.
var ErrNotConnected = errors.New("auth: google account not connected")

// Config holds the OAuth client registration.
type Config struct {
	ClientID     string
	ClientSecret string
	// RedirectURL is the externally reachable callback, e.g.
	// "https://quotebot.example.com/oauth/callback".
	RedirectURL string
	Scopes      []string
	// StateTTL bounds how long a sign-in link stays valid. Defaults to
	// DefaultStateTTL.
	StateTTL time.Duration
}

// Gate implements the authentication gate and owns token persistence.
type Gate struct {
	db     *sql.DB
	oauth  *oauth2.Config
	states *stateStore
	now    func() time.Time
	log    *slog.Logger

	// onConnected, when set, is called after a successful callback with
	// the user and chat that requested the sign-in link.
	onConnected func(userID, chatID string)

	mu     sync.Mutex
	cached *oauth2.Token
}

// New builds a Gate over the given database. A nil now defaults to the
// wall clock.
func New(db *sql.DB, cfg Config, now func() time.Time, log *slog.Logger) *Gate {
	if now == nil {
		now = time.Now
	}
	return &Gate{
		db: db,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://accounts.google.com/o/oauth2/auth",
				TokenURL: "https://oauth2.googleapis.com/token",
			},
		},
		states: newStateStore(db, cfg.StateTTL, now),
		now:    now,
		log:    log,
	}
}

// Authenticated reports whether the business's Google account is
// connected. A token with a refresh token counts even when the access
// token has expired; the token source refreshes it on demand.
func (g *Gate) Authenticated(ctx context.Context, userID string) (bool, error) {
	tok, err := g.loadToken(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if tok.RefreshToken != "" {
		return true, nil
	}
	return tok.Expiry.After(g.now()), nil
}

// OnConnected registers a hook invoked after a successful sign-in, so the
// transport can tell the user in chat. Call before the HTTP server starts.
func (g *Gate) OnConnected(fn func(userID, chatID string)) {
	g.onConnected = fn
}

// BeginFlow issues a sign-in link for the user. The state in the link is
// single-use, expires after the configured TTL, and remembers the chat the
// request came from so the connection can be confirmed there.
func (g *Gate) BeginFlow(ctx context.Context, userID, chatID string) (string, error) {
	state, err := g.states.Issue(ctx, userID, chatID)
	if err != nil {
		return "", err
	}
	url := g.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	g.log.Info("sign-in link issued", "user_id", userID)
	return url, nil
}

// TokenSource returns a token source backed by the persisted token.
// Refreshed tokens are written back so a restart never loses the session.
func (g *Gate) TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	tok, err := g.loadToken(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotConnected
	}
	if err != nil {
		return nil, err
	}
	return &persistingSource{gate: g, inner: g.oauth.TokenSource(ctx, tok)}, nil
}

// PruneStates clears expired and redeemed sign-in states. Run it
// periodically from the application loop.
func (g *Gate) PruneStates(ctx context.Context) error {
	return g.states.PruneExpired(ctx)
}

func (g *Gate) loadToken(ctx context.Context) (*oauth2.Token, error) {
	g.mu.Lock()
	if g.cached != nil && (g.cached.RefreshToken != "" || g.cached.Expiry.After(g.now())) {
		tok := *g.cached
		g.mu.Unlock()
		return &tok, nil
	}
	g.mu.Unlock()

	var tok oauth2.Token
	var expiry sql.NullTime
	err := g.db.QueryRowContext(ctx, `
SELECT access_token, refresh_token, token_type, expiry
FROM oauth_tokens WHERE id = ?
`, tokenID).Scan(&tok.AccessToken, &tok.RefreshToken, &tok.TokenType, &expiry)
	if err != nil {
		return nil, err
	}
	if expiry.Valid {
		tok.Expiry = expiry.Time
	}

	g.mu.Lock()
	g.cached = &tok
	g.mu.Unlock()
	return &tok, nil
}

func (g *Gate) saveToken(ctx context.Context, tok *oauth2.Token) error {
	_, err := g.db.ExecContext(ctx, `
INSERT INTO oauth_tokens (id, access_token, refresh_token, token_type, expiry, updated_at)
VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(id) DO UPDATE SET
	access_token = excluded.access_token,
	refresh_token = CASE WHEN excluded.refresh_token != '' THEN excluded.refresh_token ELSE oauth_tokens.refresh_token END,
	token_type = excluded.token_type,
	expiry = excluded.expiry,
	updated_at = CURRENT_TIMESTAMP
`, tokenID, tok.AccessToken, tok.RefreshToken, tok.TokenType, tok.Expiry)
	if err != nil {
		return fmt.Errorf("auth: save token: %w", err)
	}

	g.mu.Lock()
	g.cached = tok
	g.mu.Unlock()
	return nil
}

// persistingSource writes refreshed tokens back to the database.
type persistingSource struct {
	gate  *Gate
	inner oauth2.TokenSource

	mu   sync.Mutex
	last *oauth2.Token
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.inner.Token()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	changed := p.last == nil || p.last.AccessToken != tok.AccessToken
	p.last = tok
	p.mu.Unlock()

	if changed {
		if err := p.gate.saveToken(context.Background(), tok); err != nil {
			p.gate.log.Warn("refreshed token not persisted", "error", err)
		}
	}
	return tok, nil
}
