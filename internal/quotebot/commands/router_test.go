package commands_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/leylacuisine/quotebot/internal/quotebot/commands"
	"github.com/leylacuisine/quotebot/internal/quotebot/store"
)

type fakeGate struct {
	connected bool
	link      string
}

func (g *fakeGate) Authenticated(ctx context.Context, userID string) (bool, error) {
	return g.connected, nil
}

func (g *fakeGate) BeginFlow(ctx context.Context, userID, chatID string) (string, error) {
	return g.link, nil
}

type fakeSessions struct{ n int }

func (f fakeSessions) Len() int { return f.n }

type fakeMenu struct{ items []store.MenuItem }

func (f fakeMenu) ListItems(ctx context.Context) ([]store.MenuItem, error) { return f.items, nil }

func newRouter(gate *fakeGate) *commands.Router {
	h := commands.NewHandlers(commands.HandlersConfig{
		Gate:     gate,
		Sessions: fakeSessions{n: 3},
		Catalog:  fakeMenu{items: []store.MenuItem{{Name: "Lasagna"}}},
	})
	r := commands.NewRouter("/")
	r.Register("help", h.HandleHelp)
	r.Register("ping", h.HandlePing)
	r.Register("status", h.HandleStatus)
	r.Register("login", h.HandleLogin)
	return r
}

func TestParseRejectsPlainText(t *testing.T) {
	r := commands.NewRouter("/")
	if _, err := r.Parse("hello there"); !errors.Is(err, commands.ErrNotACommand) {
		t.Fatalf("err = %v, want ErrNotACommand", err)
	}
}

func TestParseCommand(t *testing.T) {
	r := commands.NewRouter("/")
	cmd, err := r.Parse("/Status verbose")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cmd.Name != "status" || len(cmd.Args) != 1 || cmd.Args[0] != "verbose" {
		t.Fatalf("cmd = %+v", cmd)
	}
}

func TestPing(t *testing.T) {
	r := newRouter(&fakeGate{})
	reply, err := r.Route(context.Background(), "/ping", "@staff:example.com", "!room:example.com")
	if err != nil || reply != "pong" {
		t.Fatalf("reply=%q err=%v", reply, err)
	}
}

func TestLoginIssuesLink(t *testing.T) {
	r := newRouter(&fakeGate{link: "https://accounts.google.com/o/oauth2/auth?state=abc"})
	reply, err := r.Route(context.Background(), "/login", "@staff:example.com", "!room:example.com")
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if !strings.Contains(reply, "https://accounts.google.com") {
		t.Errorf("reply = %q", reply)
	}
}

func TestLoginWhenAlreadyConnected(t *testing.T) {
	r := newRouter(&fakeGate{connected: true})
	reply, err := r.Route(context.Background(), "/login", "@staff:example.com", "!room:example.com")
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if !strings.Contains(reply, "already connected") {
		t.Errorf("reply = %q", reply)
	}
}

func TestStatusReportsCounts(t *testing.T) {
	r := newRouter(&fakeGate{connected: true})
	reply, err := r.Route(context.Background(), "/status", "@staff:example.com", "!room:example.com")
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	for _, want := range []string{"connected", "Active sessions: 3", "Menu items: 1"} {
		if !strings.Contains(reply, want) {
			t.Errorf("status missing %q:\n%s", want, reply)
		}
	}
}

func TestUnknownCommand(t *testing.T) {
	r := newRouter(&fakeGate{})
	if _, err := r.Route(context.Background(), "/frobnicate", "@staff:example.com", "!room:example.com"); err == nil {
		t.Fatal("want error for unknown command")
	}
}
