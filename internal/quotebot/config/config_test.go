package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/leylacuisine/quotebot/internal/quotebot/config"
)

func write(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "business.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := write(t, `
business:
  name: Leyla Cuisine
  timezone: America/Denver
smtp:
  host: smtp.example.com
  username: quotes@example.com
oauth:
  client_id: abc.apps.googleusercontent.com
  redirect_url: https://quotebot.example.com/oauth/callback
`)
	f, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if f.QuotesDir != "./quotes" {
		t.Errorf("QuotesDir = %q", f.QuotesDir)
	}
	if f.Calendar.ID != "primary" {
		t.Errorf("Calendar.ID = %q", f.Calendar.ID)
	}
	if len(f.OAuth.Scopes) != 1 {
		t.Errorf("Scopes = %v", f.OAuth.Scopes)
	}
	if loc, err := f.Location(); err != nil || loc.String() != "America/Denver" {
		t.Errorf("Location = %v, %v", loc, err)
	}
}

func TestLoadRequiresBusinessName(t *testing.T) {
	path := write(t, "business:\n  timezone: UTC\n")
	if _, err := config.Load(path); err == nil {
		t.Fatal("want error for missing business name")
	}
}

func TestLoadRejectsBadTimezone(t *testing.T) {
	path := write(t, "business:\n  name: X\n  timezone: Mars/Olympus\n")
	if _, err := config.Load(path); err == nil {
		t.Fatal("want error for unknown timezone")
	}
}
