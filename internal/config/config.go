// Package config defines the service configuration: one immutable struct
// with typed fields and documented defaults, constructed once at startup.
package config

import (
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/spf13/viper"
)

// Config holds all recognized options for the memory service. It is
// built once (flags, PROMEM_* environment, or defaults) and treated as
// immutable afterwards.
type Config struct {
	// DBPath is the SQLite file backing this project's memory.
	DBPath string

	// MaxDecisions caps the decision log. At the cap, the oldest
	// decision is evicted to make room for a new one.
	MaxDecisions int

	// MaxPatterns and MaxContextKeys cap the keyed tables. New keys
	// beyond the cap are rejected; existing keys always update.
	MaxPatterns    int
	MaxContextKeys int

	// MaxTextLen bounds every free-text field before storage.
	MaxTextLen int

	// PoolSize is the number of pooled database connections.
	PoolSize int

	// AcquireTimeout bounds how long a caller blocks waiting for a
	// pooled connection before failing fast.
	AcquireTimeout time.Duration

	// RateLimitPerMinute is the sliding-window operation quota.
	RateLimitPerMinute int

	// RateLimitWindow is the width of the sliding window.
	RateLimitWindow time.Duration

	// PersistRateLimit carries the limiter's window across restarts
	// by journaling allowed operations into the database.
	PersistRateLimit bool

	// ReadOnly rejects all write operations with a permission error.
	ReadOnly bool

	// Import payload guards, checked before any row is written.
	MaxImportDecisions   int
	MaxImportPatterns    int
	MaxImportContextKeys int
}

// Default returns the documented default configuration. The database
// path is derived from the current project (working directory name).
func Default() Config {
	return Config{
		DBPath:               DefaultDBPath(),
		MaxDecisions:         1000,
		MaxPatterns:          100,
		MaxContextKeys:       50,
		MaxTextLen:           10000,
		PoolSize:             5,
		AcquireTimeout:       2 * time.Second,
		RateLimitPerMinute:   100,
		RateLimitWindow:      time.Minute,
		PersistRateLimit:     false,
		ReadOnly:             false,
		MaxImportDecisions:   10000,
		MaxImportPatterns:    1000,
		MaxImportContextKeys: 500,
	}
}

// FromViper builds a Config from bound flags and environment, falling
// back to defaults for anything unset.
func FromViper(v *viper.Viper) Config {
	cfg := Default()

	if s := v.GetString("db"); s != "" {
		cfg.DBPath = s
	}
	if n := v.GetInt("max-decisions"); n > 0 {
		cfg.MaxDecisions = n
	}
	if n := v.GetInt("max-patterns"); n > 0 {
		cfg.MaxPatterns = n
	}
	if n := v.GetInt("max-context-keys"); n > 0 {
		cfg.MaxContextKeys = n
	}
	if n := v.GetInt("pool-size"); n > 0 {
		cfg.PoolSize = n
	}
	if n := v.GetInt("rate-limit"); n > 0 {
		cfg.RateLimitPerMinute = n
	}
	if d := v.GetDuration("acquire-timeout"); d > 0 {
		cfg.AcquireTimeout = d
	}
	cfg.PersistRateLimit = v.GetBool("persist-rate-limit")
	cfg.ReadOnly = v.GetBool("read-only")

	return cfg
}

// unsafeNameChars matches everything that should not appear in a
// filename derived from a project directory.
var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// DefaultDBPath derives the database location from project identity:
// ~/.promem/memories/<project>.db, where <project> is the sanitized
// base name of the working directory.
func DefaultDBPath() string {
	cwd, err := os.Getwd()
	project := "default"
	if err == nil {
		project = filepath.Base(cwd)
	}
	safe := unsafeNameChars.ReplaceAllString(project, "_")

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".promem", "memories", safe+".db")
	}
	return filepath.Join(home, ".promem", "memories", safe+".db")
}
