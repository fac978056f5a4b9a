// Package app assembles the catering assistant: storage, transport, the
// conversational pipeline, and the HTTP surface for health checks and the
// OAuth callback.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/oauth2"

	"github.com/leylacuisine/quotebot/internal/quotebot/agent"
	"github.com/leylacuisine/quotebot/internal/quotebot/auth"
	"github.com/leylacuisine/quotebot/internal/quotebot/calendar"
	"github.com/leylacuisine/quotebot/internal/quotebot/commands"
	"github.com/leylacuisine/quotebot/internal/quotebot/config"
	"github.com/leylacuisine/quotebot/internal/quotebot/document"
	"github.com/leylacuisine/quotebot/internal/quotebot/matrix"
	"github.com/leylacuisine/quotebot/internal/quotebot/nlp"
	"github.com/leylacuisine/quotebot/internal/quotebot/notify"
	"github.com/leylacuisine/quotebot/internal/quotebot/orchestrator"
	"github.com/leylacuisine/quotebot/internal/quotebot/router"
	"github.com/leylacuisine/quotebot/internal/quotebot/session"
	"github.com/leylacuisine/quotebot/internal/quotebot/store"
	"github.com/leylacuisine/quotebot/internal/quotebot/workflow"
)

// Config holds what the application needs beyond the business config
// file: paths, listen addresses, and the secrets read from the
// environment.
type Config struct {
	DatabasePath       string
	BusinessConfigPath string
	// HTTPAddr is the TCP address for the health/OAuth HTTP server, e.g.
	// ":8080". Required — the OAuth callback must be reachable.
	HTTPAddr string
	Matrix   matrix.Config

	SMTPPassword      string
	OAuthClientSecret string
	NLPAPIKey         string
}

// App is the composed application.
type App struct {
	config       *Config
	business     *config.File
	store        *store.Store
	matrix       *matrix.Client
	gate         *auth.Gate
	limiter      *nlp.RateLimiter
	orchestrator *orchestrator.Orchestrator
	workflows    *workflow.Manager
	commands     *commands.Router
	turns        *Dispatcher
	health       *HealthServer
	stopCh       chan struct{}
}

// gateTokenSource defers token resolution to first use so the app can
// start before the Google account is connected.
type gateTokenSource struct {
	gate *auth.Gate
}

func (s *gateTokenSource) Token() (*oauth2.Token, error) {
	ts, err := s.gate.TokenSource(context.Background())
	if err != nil {
		return nil, err
	}
	return ts.Token()
}

// New composes the application.
func New(cfg *Config) (*App, error) {
	business, err := config.Load(cfg.BusinessConfigPath)
	if err != nil {
		return nil, err
	}
	loc, err := business.Location()
	if err != nil {
		return nil, err
	}

	slog.Info("opening database", "path", cfg.DatabasePath)
	st, err := store.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	matrixCfg := cfg.Matrix
	matrixCfg.DB = st.DB()
	slog.Info("connecting to Matrix", "homeserver", matrixCfg.Homeserver)
	matrixClient, err := matrix.New(&matrixCfg)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("initialize Matrix client: %w", err)
	}

	gate := auth.New(st.DB(), auth.Config{
		ClientID:     business.OAuth.ClientID,
		ClientSecret: cfg.OAuthClientSecret,
		RedirectURL:  business.OAuth.RedirectURL,
		Scopes:       business.OAuth.Scopes,
	}, nil, slog.Default())
	gate.OnConnected(func(userID, chatID string) {
		if err := matrixClient.SendNotice(chatID, "Google account connected — calendar and email are ready."); err != nil {
			slog.Warn("connection notice not delivered", "room", chatID, "error", err)
		}
	})

	provider := nlp.New(nlp.Config{
		APIKey:  cfg.NLPAPIKey,
		BaseURL: business.NLP.BaseURL,
		Model:   business.NLP.Model,
	})
	limiter := nlp.NewRateLimiter(business.NLP.RateLimit, time.Minute)

	calService := calendar.NewValidator(calendar.NewGoogle(calendar.GoogleConfig{
		CalendarID:  business.Calendar.ID,
		TokenSource: &gateTokenSource{gate: gate},
	}), loc, nil)

	renderer, err := document.NewRenderer(business.Business.Name, business.QuotesDir, nil)
	if err != nil {
		st.Close()
		return nil, err
	}

	mailer := notify.NewMailer(notify.Config{
		Host:     business.SMTP.Host,
		Port:     business.SMTP.Port,
		Username: business.SMTP.Username,
		Password: cfg.SMTPPassword,
		From:     business.SMTP.From,
		Subject:  business.SMTP.Subject,
	})

	scheduling := agent.NewScheduling(provider, calService, loc, nil)
	handlers := []agent.Handler{
		agent.NewTriage(provider),
		agent.NewOrder(provider, st, st),
		agent.NewCatalog(provider, st),
		agent.NewDirectory(provider, st),
		scheduling,
	}

	sessions := session.NewStore(agent.NameTriage)
	workflows := workflow.NewManager(mailer, st, scheduling, st, 0, nil, slog.Default())
	rtr := router.New(provider, slog.Default(), handlers...)
	orch := orchestrator.New(sessions, rtr, workflows, st, renderer, gate, slog.Default())

	metaHandlers := commands.NewHandlers(commands.HandlersConfig{
		Gate:     gate,
		Sessions: sessions,
		Catalog:  st,
	})
	cmdRouter := commands.NewRouter("/")
	cmdRouter.Register("help", metaHandlers.HandleHelp)
	cmdRouter.Register("ping", metaHandlers.HandlePing)
	cmdRouter.Register("status", metaHandlers.HandleStatus)
	cmdRouter.Register("login", metaHandlers.HandleLogin)

	health := NewHealthServer(cfg.HTTPAddr, sessions)
	health.Handle(callbackPath(business.OAuth.RedirectURL), gate.CallbackHandler())

	return &App{
		config:       cfg,
		business:     business,
		store:        st,
		matrix:       matrixClient,
		gate:         gate,
		limiter:      limiter,
		orchestrator: orch,
		workflows:    workflows,
		commands:     cmdRouter,
		turns:        NewDispatcher(0),
		health:       health,
		stopCh:       make(chan struct{}),
	}, nil
}

// callbackPath extracts the mount path from the OAuth redirect URL,
// defaulting to /oauth/callback when the URL is unparsable.
func callbackPath(redirectURL string) string {
	if u, err := url.Parse(redirectURL); err == nil && u.Path != "" {
		return u.Path
	}
	return "/oauth/callback"
}

// Run starts the transport and the HTTP server and blocks until SIGINT or
// SIGTERM.
func (a *App) Run() error {
	ctx := context.Background()

	if err := a.health.Start(ctx); err != nil {
		return fmt.Errorf("start HTTP server: %w", err)
	}
	if err := a.matrix.Start(ctx, a.handleTurn); err != nil {
		return fmt.Errorf("start Matrix client: %w", err)
	}
	slog.Info("assistant running",
		"business", a.business.Business.Name,
		"http", a.config.HTTPAddr)

	// Housekeeping: expire abandoned workflows and stale sign-in links.
	go a.housekeeping()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig.String())
	return nil
}

// Stop releases everything Run started.
func (a *App) Stop() {
	close(a.stopCh)
	a.matrix.Stop()
	a.turns.Stop()
	a.health.Stop()
	if err := a.store.Close(); err != nil {
		slog.Warn("database close failed", "error", err)
	}
}

func (a *App) housekeeping() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			if n := a.workflows.SweepStale(); n > 0 {
				slog.Info("expired stale workflows", "count", n)
			}
			if err := a.gate.PruneStates(context.Background()); err != nil {
				slog.Warn("sign-in state prune failed", "error", err)
			}
		}
	}
}

// handleTurn runs one inbound message through the meta-command router or
// the conversational pipeline. The turn is queued on the dispatcher
// synchronously from the sync loop, so a user's turns are applied in the
// order they arrived while other users proceed in parallel.
func (a *App) handleTurn(ctx context.Context, userID, roomID, text string) {
	task := func() {
		_ = a.matrix.SetTyping(roomID, true, 30*time.Second)
		defer func() { _ = a.matrix.SetTyping(roomID, false, 0) }()

		reply, err := a.commands.Route(ctx, text, userID, roomID)
		switch {
		case err == nil:
			// meta-command handled
		case errors.Is(err, commands.ErrNotACommand):
			if !a.limiter.Allow(userID) {
				reply = "You're sending messages a bit fast for me — give me a moment and try again."
				break
			}
			reply = a.orchestrator.HandleTurn(ctx, orchestrator.Turn{
				UserID: userID,
				ChatID: roomID,
				Text:   text,
			})
		default:
			reply = err.Error()
		}

		if reply == "" {
			return
		}
		if err := a.matrix.SendMessage(roomID, reply); err != nil {
			slog.Error("reply send failed", "room", roomID, "error", err)
		}
	}

	if !a.turns.Enqueue(userID, task) {
		slog.Warn("turn queue full, dropping message", "user_id", userID)
		if err := a.matrix.SendMessage(roomID, "You're sending messages faster than I can keep up — give me a moment and try again."); err != nil {
			slog.Error("reply send failed", "room", roomID, "error", err)
		}
	}
}
