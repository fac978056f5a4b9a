package auth

import (
	"errors"
	"net/http"
)

// CallbackHandler serves the OAuth redirect: it validates the single-use
// state, exchanges the code for a token, and persists it. Mount it at the
// path the RedirectURL points to.
func (g *Gate) CallbackHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		state := r.URL.Query().Get("state")
		code := r.URL.Query().Get("code")
		if state == "" || code == "" {
			http.Error(w, "missing state or code", http.StatusBadRequest)
			return
		}

		ps, err := g.states.Validate(r.Context(), state)
		switch {
		case errors.Is(err, ErrStateNotFound), errors.Is(err, ErrStateUsed):
			http.Error(w, "invalid sign-in link", http.StatusForbidden)
			return
		case errors.Is(err, ErrStateExpired):
			http.Error(w, "sign-in link expired, request a new one with /login", http.StatusForbidden)
			return
		case err != nil:
			g.log.Error("state validation failed", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		tok, err := g.oauth.Exchange(r.Context(), code)
		if err != nil {
			g.log.Error("code exchange failed", "user_id", ps.UserID, "error", err)
			http.Error(w, "token exchange failed", http.StatusBadGateway)
			return
		}
		if err := g.saveToken(r.Context(), tok); err != nil {
			g.log.Error("token persistence failed", "user_id", ps.UserID, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if err := g.states.Burn(r.Context(), state); err != nil {
			// The token is already saved; a burn race only means a second
			// callback raced this one.
			g.log.Warn("state burn failed", "error", err)
		}

		g.log.Info("google account connected", "user_id", ps.UserID)
		if g.onConnected != nil && ps.ChatID != "" {
			g.onConnected(ps.UserID, ps.ChatID)
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Google account connected. You can close this tab and return to the chat."))
	})
}
