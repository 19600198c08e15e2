package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultConfigPath is the path to the canonical server defaults file.
const DefaultConfigPath = "config/optipass.defaults.json"

// Default values applied by the Get* accessors when a field is unset.
const (
	DefaultOptimizerPath     = "bin/OptiPassMain.exe"
	DefaultWorkRoot          = "tmp"
	DefaultDataRoot          = "static"
	DefaultErrorMarker       = "error"
	DefaultInvocationTimeout = 10 * time.Minute
)

// OptiPassConfig holds the settings for running the optimizer and serving
// its results. Every field is optional; omitted fields fall back to the
// defaults above, so partial files are safe.
type OptiPassConfig struct {
	// OptimizerPath is the optimizer executable.
	OptimizerPath *string `json:"optimizer_path,omitempty"`
	// Launcher runs the optimizer on hosts that cannot execute it
	// directly, e.g. "wine" for the Windows build on Linux.
	Launcher *string `json:"launcher,omitempty"`

	// WorkRoot is the parent of the per-run working directories.
	WorkRoot *string `json:"work_root,omitempty"`
	// KeepWorkDirs keeps each run directory (input, outputs, tables, plot)
	// after aggregation so results can be fetched by token.
	KeepWorkDirs *bool `json:"keep_work_dirs,omitempty"`

	// InvocationTimeout bounds a single optimizer call ("0s" disables).
	InvocationTimeout *string `json:"invocation_timeout,omitempty"`
	// ErrorMarker is searched for, case-insensitively, in the optimizer's
	// output to detect a failed invocation.
	ErrorMarker *string `json:"error_marker,omitempty"`

	// DataRoot holds the project datasets served by the request layer.
	DataRoot *string `json:"data_root,omitempty"`
}

func ptrString(v string) *string { return &v }
func ptrBool(v bool) *bool       { return &v }

// EmptyOptiPassConfig returns a config with all fields unset.
func EmptyOptiPassConfig() *OptiPassConfig {
	return &OptiPassConfig{}
}

// DefaultOptiPassConfig returns a config with every field set to its default.
func DefaultOptiPassConfig() *OptiPassConfig {
	return &OptiPassConfig{
		OptimizerPath:     ptrString(DefaultOptimizerPath),
		Launcher:          ptrString(""),
		WorkRoot:          ptrString(DefaultWorkRoot),
		KeepWorkDirs:      ptrBool(true),
		InvocationTimeout: ptrString(DefaultInvocationTimeout.String()),
		ErrorMarker:       ptrString(DefaultErrorMarker),
		DataRoot:          ptrString(DefaultDataRoot),
	}
}

// LoadOptiPassConfig loads an OptiPassConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadOptiPassConfig(path string) (*OptiPassConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyOptiPassConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *OptiPassConfig) Validate() error {
	if c.OptimizerPath != nil && strings.TrimSpace(*c.OptimizerPath) == "" {
		return fmt.Errorf("optimizer_path must not be empty")
	}
	if c.WorkRoot != nil && strings.TrimSpace(*c.WorkRoot) == "" {
		return fmt.Errorf("work_root must not be empty")
	}
	if c.InvocationTimeout != nil && *c.InvocationTimeout != "" {
		d, err := time.ParseDuration(*c.InvocationTimeout)
		if err != nil {
			return fmt.Errorf("invalid invocation_timeout '%s': %w", *c.InvocationTimeout, err)
		}
		if d < 0 {
			return fmt.Errorf("invocation_timeout must be non-negative, got %s", d)
		}
	}
	if c.ErrorMarker != nil && strings.TrimSpace(*c.ErrorMarker) == "" {
		return fmt.Errorf("error_marker must not be empty")
	}
	return nil
}

func (c *OptiPassConfig) GetOptimizerPath() string {
	if c.OptimizerPath == nil || *c.OptimizerPath == "" {
		return DefaultOptimizerPath
	}
	return *c.OptimizerPath
}

func (c *OptiPassConfig) GetLauncher() string {
	if c.Launcher == nil {
		return ""
	}
	return *c.Launcher
}

func (c *OptiPassConfig) GetWorkRoot() string {
	if c.WorkRoot == nil || *c.WorkRoot == "" {
		return DefaultWorkRoot
	}
	return *c.WorkRoot
}

func (c *OptiPassConfig) GetKeepWorkDirs() bool {
	if c.KeepWorkDirs == nil {
		return true
	}
	return *c.KeepWorkDirs
}

// GetInvocationTimeout returns the per-invocation timeout. Zero means no limit.
func (c *OptiPassConfig) GetInvocationTimeout() time.Duration {
	if c.InvocationTimeout == nil || *c.InvocationTimeout == "" {
		return DefaultInvocationTimeout
	}
	d, err := time.ParseDuration(*c.InvocationTimeout)
	if err != nil || d < 0 {
		return DefaultInvocationTimeout
	}
	return d
}

func (c *OptiPassConfig) GetErrorMarker() string {
	if c.ErrorMarker == nil || *c.ErrorMarker == "" {
		return DefaultErrorMarker
	}
	return *c.ErrorMarker
}

func (c *OptiPassConfig) GetDataRoot() string {
	if c.DataRoot == nil || *c.DataRoot == "" {
		return DefaultDataRoot
	}
	return *c.DataRoot
}
