package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/spf13/viper"
)

const (
	StoreBackendSQLite = "sqlite"
	StoreBackendBadger = "badger"

	PropagationModeSync  = "sync"
	PropagationModeAsync = "async"
)

const (
	defaultPropagationQueueSize  = 256
	defaultNumPropagationWorkers = 2
	defaultPropagationAttempts   = 5
	defaultConflictRetries       = 3
	defaultMaxTreeDepth          = 6
	defaultMaxAncestryScan       = 64
	defaultSearchLimit           = 20
	defaultBioMaxLength          = 500

	// DefaultPhotoHostPattern allow-lists the image CDNs profile pictures may come from.
	DefaultPhotoHostPattern = `^([a-z0-9-]+\.)*(cloudinary\.com|amazonaws\.com|googleusercontent\.com)$`
)

type Config struct {
	// storage
	StoreBackend string
	DatabasePath string // sqlite file
	BadgerPath   string // badger directory

	// http
	Port           string
	AllowedOrigins []string

	// logging
	LogLevel  string
	LogFormat string

	// propagation settings
	PropagationMode           string
	PropagationQueueSize      int
	NumPropagationWorkers     int
	PropagationMaxAttempts    int
	PropagationInitialBackoff time.Duration
	PropagationRetryInterval  time.Duration
	PropagationRecordedGrace  time.Duration
	ConflictRetries           int

	// graph limits
	MaxTreeDepth    int
	MaxAncestryScan int
	SearchLimit     int

	// field rules
	LocalNameScript  string
	PhotoHostPattern string
	BioMaxLength     int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("STORE_BACKEND", StoreBackendSQLite)
	v.SetDefault("DATABASE_PATH", "family.db")
	v.SetDefault("BADGER_PATH", "family_badger")
	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("PROPAGATION_MODE", PropagationModeSync)
	v.SetDefault("PROPAGATION_QUEUE_SIZE", defaultPropagationQueueSize)
	v.SetDefault("PROPAGATION_WORKERS", defaultNumPropagationWorkers)
	v.SetDefault("PROPAGATION_MAX_ATTEMPTS", defaultPropagationAttempts)
	v.SetDefault("PROPAGATION_INITIAL_BACKOFF", 200*time.Millisecond)
	v.SetDefault("PROPAGATION_RETRY_INTERVAL", 30*time.Second)
	v.SetDefault("PROPAGATION_RECORDED_GRACE", 5*time.Minute)
	v.SetDefault("CONFLICT_RETRIES", defaultConflictRetries)
	v.SetDefault("MAX_TREE_DEPTH", defaultMaxTreeDepth)
	v.SetDefault("MAX_ANCESTRY_SCAN", defaultMaxAncestryScan)
	v.SetDefault("SEARCH_LIMIT", defaultSearchLimit)
	v.SetDefault("LOCAL_NAME_SCRIPT", "Devanagari")
	v.SetDefault("PHOTO_HOST_PATTERN", DefaultPhotoHostPattern)
	v.SetDefault("BIO_MAX_LENGTH", defaultBioMaxLength)
}

// LoadConfig reads the configuration from environment variables, falling back to defaults.
func LoadConfig() (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	cfg := Config{
		StoreBackend:              strings.ToLower(v.GetString("STORE_BACKEND")),
		DatabasePath:              v.GetString("DATABASE_PATH"),
		BadgerPath:                v.GetString("BADGER_PATH"),
		Port:                      v.GetString("PORT"),
		AllowedOrigins:            splitList(v.GetString("ALLOWED_ORIGINS")),
		LogLevel:                  v.GetString("LOG_LEVEL"),
		LogFormat:                 v.GetString("LOG_FORMAT"),
		PropagationMode:           strings.ToLower(v.GetString("PROPAGATION_MODE")),
		PropagationQueueSize:      v.GetInt("PROPAGATION_QUEUE_SIZE"),
		NumPropagationWorkers:     v.GetInt("PROPAGATION_WORKERS"),
		PropagationMaxAttempts:    v.GetInt("PROPAGATION_MAX_ATTEMPTS"),
		PropagationInitialBackoff: v.GetDuration("PROPAGATION_INITIAL_BACKOFF"),
		PropagationRetryInterval:  v.GetDuration("PROPAGATION_RETRY_INTERVAL"),
		PropagationRecordedGrace:  v.GetDuration("PROPAGATION_RECORDED_GRACE"),
		ConflictRetries:           v.GetInt("CONFLICT_RETRIES"),
		MaxTreeDepth:              v.GetInt("MAX_TREE_DEPTH"),
		MaxAncestryScan:           v.GetInt("MAX_ANCESTRY_SCAN"),
		SearchLimit:               v.GetInt("SEARCH_LIMIT"),
		LocalNameScript:           v.GetString("LOCAL_NAME_SCRIPT"),
		PhotoHostPattern:          v.GetString("PHOTO_HOST_PATTERN"),
		BioMaxLength:              v.GetInt("BIO_MAX_LENGTH"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the settings are usable.
func (c Config) Validate() error {
	switch c.StoreBackend {
	case StoreBackendSQLite:
		if c.DatabasePath == "" {
			return fmt.Errorf("DATABASE_PATH must not be empty")
		}
	case StoreBackendBadger:
		if c.BadgerPath == "" {
			return fmt.Errorf("BADGER_PATH must not be empty")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.PropagationMode != PropagationModeSync && c.PropagationMode != PropagationModeAsync {
		return fmt.Errorf("unknown PROPAGATION_MODE %q", c.PropagationMode)
	}
	if c.PropagationQueueSize <= 0 || c.NumPropagationWorkers <= 0 || c.PropagationMaxAttempts <= 0 {
		return fmt.Errorf("propagation queue size, workers and max attempts must be greater than 0")
	}
	if c.ConflictRetries < 0 {
		return fmt.Errorf("CONFLICT_RETRIES must be >= 0")
	}
	if c.MaxTreeDepth <= 0 || c.MaxAncestryScan <= 0 || c.SearchLimit <= 0 || c.BioMaxLength <= 0 {
		return fmt.Errorf("MAX_TREE_DEPTH, MAX_ANCESTRY_SCAN, SEARCH_LIMIT and BIO_MAX_LENGTH must be greater than 0")
	}
	if _, err := c.LocalScript(); err != nil {
		return err
	}
	if _, err := regexp.Compile(c.PhotoHostPattern); err != nil {
		return fmt.Errorf("invalid PHOTO_HOST_PATTERN: %w", err)
	}
	return nil
}

// LocalScript resolves LocalNameScript to its unicode range table.
func (c Config) LocalScript() (*unicode.RangeTable, error) {
	table, ok := unicode.Scripts[c.LocalNameScript]
	if !ok {
		return nil, fmt.Errorf("unknown LOCAL_NAME_SCRIPT %q", c.LocalNameScript)
	}
	return table, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
