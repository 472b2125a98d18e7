// Package config provides configuration management for the specmacro CLI.
package config

import (
	"strings"
	"time"

	"github.com/leapstack-labs/specmacro/internal/macrofile"
)

// Config holds all CLI configuration options.
type Config struct {
	// MacroPath lists the macro files loaded in order. In YAML it may be a
	// list or a colon-separated string.
	MacroPath  []string `koanf:"macro_path"`
	MaxDepth   int      `koanf:"max_depth"`
	BufferSize int      `koanf:"buffer_size"`
	Strict     bool     `koanf:"strict"`
	Verbose    bool     `koanf:"verbose"`
	Trace      bool     `koanf:"trace"`

	Shell     string `koanf:"shell"` // native or virtual
	ShellPath string `koanf:"shell_path"`
	// Timeout bounds one expansion, shell escapes and scripts included.
	// Zero means no limit.
	Timeout time.Duration `koanf:"timeout"`

	StarlarkPath   string         `koanf:"starlark_path"`
	ScriptVars     map[string]any `koanf:"script_vars"`
	ScriptMaxSteps uint64         `koanf:"script_max_steps"`

	StatePath string `koanf:"state_path"`

	// ServeAddr is the listen address of the serve command.
	ServeAddr string `koanf:"serve_addr"`
	// SessionSecret signs the playground session cookie. A random key is
	// used when empty, so sessions do not survive a restart.
	SessionSecret string `koanf:"session_secret"`

	LogLevel     string `koanf:"log_level"`
	LogFormat    string `koanf:"log_format"`
	OutputFormat string `koanf:"output"`

	// Defines are "name body" pairs applied at command-line level.
	Defines map[string]string `koanf:"defines"`

	// ConfigFile is the file the configuration was read from, if any.
	ConfigFile string `koanf:"-"`
}

// MacroPathList joins MacroPath back into the colon-separated form.
func (c *Config) MacroPathList() string {
	return strings.Join(c.MacroPath, ":")
}

// Default configuration values.
const (
	DefaultMacroPath  = "/usr/lib/rpm/macros:/etc/rpm/macros:~/.rpmmacros"
	DefaultMaxDepth   = 16
	DefaultBufferSize = 0 // sized from the input
	DefaultShell      = "native"
	DefaultStateFile  = ".specmacro/index.db"
	DefaultServeAddr  = "127.0.0.1:8765"
	DefaultLogLevel   = "warn"
	DefaultLogFormat  = "text"
	DefaultOutput     = "auto" // Auto-detect: TTY=text, non-TTY=markdown
)

// Config file names searched in the working directory.
const (
	ConfigFileName    = "specmacro.yaml"
	ConfigFileNameAlt = "specmacro.yml"
)

// EnvPrefix prefixes the environment variables read as configuration.
const EnvPrefix = "SPECMACRO_"

// Defaults returns the configuration used when nothing is loaded.
func Defaults() *Config {
	return &Config{
		MacroPath:    macrofile.SplitPath(DefaultMacroPath),
		MaxDepth:     DefaultMaxDepth,
		BufferSize:   DefaultBufferSize,
		Shell:        DefaultShell,
		StatePath:    DefaultStateFile,
		ServeAddr:    DefaultServeAddr,
		LogLevel:     DefaultLogLevel,
		LogFormat:    DefaultLogFormat,
		OutputFormat: DefaultOutput,
	}
}
