// Package config loads the business configuration file. Secrets (SMTP
// password, OAuth client secret, NLP API key) never live here — they come
// from the environment.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Business identifies the catering business and its timezone. All
// delivery times are interpreted in this zone.
type Business struct {
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// SMTP is the outbound mail account quotes are sent from.
type SMTP struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	From     string `yaml:"from"`
	Subject  string `yaml:"subject"`
}

// OAuth is the Google OAuth client registration for the calendar.
type OAuth struct {
	ClientID    string   `yaml:"client_id"`
	RedirectURL string   `yaml:"redirect_url"`
	Scopes      []string `yaml:"scopes"`
}

// Calendar selects the Google calendar deliveries land on.
type Calendar struct {
	ID string `yaml:"id"`
}

// NLP selects the language model backing classification and extraction.
type NLP struct {
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
	// RateLimit is the per-user LLM calls allowed per minute.
	RateLimit int `yaml:"rate_limit"`
}

// File is the full business configuration.
type File struct {
	Business  Business `yaml:"business"`
	SMTP      SMTP     `yaml:"smtp"`
	OAuth     OAuth    `yaml:"oauth"`
	Calendar  Calendar `yaml:"calendar"`
	NLP       NLP      `yaml:"nlp"`
	QuotesDir string   `yaml:"quotes_dir"`
}

// Load reads and validates the configuration at path.
func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	f.applyDefaults()

	if f.Business.Name == "" {
		return nil, fmt.Errorf("config: business.name is required")
	}
	if _, err := f.Location(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) applyDefaults() {
	if f.Business.Timezone == "" {
		f.Business.Timezone = "UTC"
	}
	if f.QuotesDir == "" {
		f.QuotesDir = "./quotes"
	}
	if f.Calendar.ID == "" {
		f.Calendar.ID = "primary"
	}
	if len(f.OAuth.Scopes) == 0 {
		f.OAuth.Scopes = []string{"https://www.googleapis.com/auth/calendar"}
	}
}

// Location resolves the business timezone.
func (f *File) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(f.Business.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: business.timezone %q: %w", f.Business.Timezone, err)
	}
	return loc, nil
}
