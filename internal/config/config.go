// Package config loads server configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds server configuration, loaded from environment variables.
type Config struct {
	Port int

	// AuthTokens is the set of accepted bearer tokens. Empty means
	// authentication is disabled (local development).
	AuthTokens []string

	MaxSessions   int
	IdleTimeout   time.Duration
	SweepInterval time.Duration

	// RateWindow and RateLimit bound client-originated protocol frames
	// per connection: at most RateLimit frames per RateWindow.
	RateWindow time.Duration
	RateLimit  int

	// AgentCommand is the agent CLI the server drives, resolved via PATH.
	AgentCommand string

	// ProjectsRoot is scanned for git repositories to offer as working
	// directories. Defaults to the user's home directory.
	ProjectsRoot string

	LogLevel  string
	LogPretty bool
}

// Load reads configuration from the environment. A .env file in the
// working directory is applied first if present.
func Load() Config {
	_ = godotenv.Load()

	home, _ := os.UserHomeDir()

	cfg := Config{
		Port:          3002,
		MaxSessions:   10,
		IdleTimeout:   30 * time.Minute,
		SweepInterval: 5 * time.Minute,
		RateWindow:    time.Minute,
		RateLimit:     30,
		AgentCommand:  "claude",
		ProjectsRoot:  home,
		LogLevel:      "info",
	}

	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv("AUTH_TOKENS"); v != "" {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				cfg.AuthTokens = append(cfg.AuthTokens, t)
			}
		}
	}
	if v := os.Getenv("MAX_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxSessions = n
		}
	}
	if v := os.Getenv("SESSION_IDLE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.IdleTimeout = d
		}
	}
	if v := os.Getenv("SESSION_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SweepInterval = d
		}
	}
	if v := os.Getenv("WS_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit = n
		}
	}
	if v := os.Getenv("WS_RATE_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RateWindow = d
		}
	}
	if v := os.Getenv("AGENT_COMMAND"); v != "" {
		cfg.AgentCommand = v
	}
	if v := os.Getenv("PROJECTS_ROOT"); v != "" {
		cfg.ProjectsRoot = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOG_PRETTY"); v != "" {
		cfg.LogPretty = v == "1" || strings.EqualFold(v, "true")
	}

	return cfg
}

// ValidateToken reports whether the given token is accepted. With no
// configured tokens every token (including an empty one) is accepted.
func (c Config) ValidateToken(token string) bool {
	if len(c.AuthTokens) == 0 {
		return true
	}
	for _, t := range c.AuthTokens {
		if t == token {
			return true
		}
	}
	return false
}
