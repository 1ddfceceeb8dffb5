// Package config provides server configuration loaded from environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/morezero/jsonrpc2/pkg/semver"
)

const logPrefix = "config:LoadConfig"

// Process lane modes.
const (
	ProcessModeSubprocess = "subprocess"
	ProcessModeIsolated   = "isolated"
)

// Config holds jsonrpc2d configuration.
type Config struct {
	// TCP line transport
	ListenAddr   string `envconfig:"LISTEN_ADDR" default:"127.0.0.1:8080"`
	MaxLineBytes int    `envconfig:"MAX_LINE_BYTES" default:"1048576"`

	// COMMS: empty COMMSURL disables the NATS transport and failure events.
	COMMSURL            string `envconfig:"COMMS_URL"`
	COMMSName           string `envconfig:"SERVICE_NAME" default:"jsonrpc2d"`
	RPCSubject          string `envconfig:"RPC_SUBJECT" default:"rpc.jsonrpc2.v1"`
	FailureEventSubject string `envconfig:"FAILURE_EVENT_SUBJECT"`

	// Execution lanes
	ThreadPoolSize  int           `envconfig:"THREAD_POOL_SIZE" default:"4"`
	ProcessPoolSize int           `envconfig:"PROCESS_POOL_SIZE" default:"4"`
	ProcessMode     string        `envconfig:"PROCESS_MODE" default:"subprocess"`
	CallTimeout     time.Duration `envconfig:"CALL_TIMEOUT" default:"0s"`

	// Protocol: empty accepts any jsonrpc member value.
	VersionConstraint string `envconfig:"JSONRPC_VERSION_CONSTRAINT"`

	// Database: empty DatabaseURL disables the failure journal.
	DatabaseURL   string `envconfig:"DATABASE_URL"`
	RunMigrations bool   `envconfig:"RUN_MIGRATIONS" default:"false"`
	MigrationPath string `envconfig:"MIGRATION_PATH"`

	// HTTP health endpoint (0 disables it)
	HTTPPort           int           `envconfig:"HTTP_PORT" default:"8081"`
	HealthCheckTimeout time.Duration `envconfig:"HEALTH_CHECK_TIMEOUT" default:"5s"`
	ShutdownTimeout    time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	c.ProcessMode = strings.ToLower(strings.TrimSpace(c.ProcessMode))
	return &c, nil
}

// ValidateForServe checks config when running the server.
func (c *Config) ValidateForServe() error {
	if c.ListenAddr == "" && c.COMMSURL == "" {
		return fmt.Errorf("%s - LISTEN_ADDR or COMMS_URL is required", logPrefix)
	}
	if c.ThreadPoolSize <= 0 {
		return fmt.Errorf("%s - THREAD_POOL_SIZE must be positive", logPrefix)
	}
	if c.ProcessPoolSize <= 0 {
		return fmt.Errorf("%s - PROCESS_POOL_SIZE must be positive", logPrefix)
	}
	if c.ProcessMode != ProcessModeSubprocess && c.ProcessMode != ProcessModeIsolated {
		return fmt.Errorf("%s - PROCESS_MODE must be %q or %q, got %q",
			logPrefix, ProcessModeSubprocess, ProcessModeIsolated, c.ProcessMode)
	}
	if c.CallTimeout < 0 {
		return fmt.Errorf("%s - CALL_TIMEOUT must not be negative", logPrefix)
	}
	if c.MaxLineBytes <= 0 {
		return fmt.Errorf("%s - MAX_LINE_BYTES must be positive", logPrefix)
	}
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("%s - HTTP_PORT out of range: %d", logPrefix, c.HTTPPort)
	}
	if c.HealthCheckTimeout <= 0 {
		return fmt.Errorf("%s - HEALTH_CHECK_TIMEOUT must be positive", logPrefix)
	}
	if _, err := semver.NewVersionPolicy(c.VersionConstraint); err != nil {
		return fmt.Errorf("%s - JSONRPC_VERSION_CONSTRAINT: %w", logPrefix, err)
	}
	return nil
}

// ValidateForDB checks required config when running DB-dependent commands (migrate, journal).
func (c *Config) ValidateForDB() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%s - DATABASE_URL is required", logPrefix)
	}
	return nil
}
