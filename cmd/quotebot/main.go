package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/leylacuisine/quotebot/internal/quotebot/app"
	"github.com/leylacuisine/quotebot/internal/quotebot/matrix"
)

func main() {
	config := loadConfig()

	if config.Matrix.Homeserver == "" {
		fmt.Fprintln(os.Stderr, "Error: MATRIX_HOMESERVER is required")
		os.Exit(1)
	}
	if config.Matrix.UserID == "" {
		fmt.Fprintln(os.Stderr, "Error: MATRIX_USER_ID is required")
		os.Exit(1)
	}
	if config.Matrix.AccessToken == "" {
		fmt.Fprintln(os.Stderr, "Error: MATRIX_ACCESS_TOKEN is required")
		os.Exit(1)
	}

	quotebot, err := app.New(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize quotebot: %v\n", err)
		os.Exit(1)
	}
	defer quotebot.Stop()

	if err := quotebot.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running quotebot: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration from environment variables. Non-secret
// business settings live in the YAML file named by BUSINESS_CONFIG.
func loadConfig() *app.Config {
	var rooms []string
	if roomsStr := getEnv("MATRIX_ROOMS", ""); roomsStr != "" {
		for _, r := range strings.Split(roomsStr, ",") {
			rooms = append(rooms, strings.TrimSpace(r))
		}
	}

	return &app.Config{
		DatabasePath:       getEnv("DATABASE_PATH", "./quotebot.db"),
		BusinessConfigPath: getEnv("BUSINESS_CONFIG", "./business.yaml"),
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		Matrix: matrix.Config{
			Homeserver:  getEnv("MATRIX_HOMESERVER", ""),
			UserID:      getEnv("MATRIX_USER_ID", ""),
			AccessToken: getEnv("MATRIX_ACCESS_TOKEN", ""),
			Rooms:       rooms,
		},
		SMTPPassword:      getEnv("SMTP_PASSWORD", ""),
		OAuthClientSecret: getEnv("OAUTH_CLIENT_SECRET", ""),
		NLPAPIKey:         getEnv("NLP_API_KEY", ""),
	}
}

// getEnv gets an environment variable with a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
