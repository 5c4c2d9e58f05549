package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
)

const (
	defaultDispatcher              = DispatcherUnbounded
	defaultGracefulShutdownTimeout = "5s"
	defaultAdminUsername           = "admin"
	defaultAdminPassword           = "adminpass"
	defaultAdminBufferSize         = 1024
	defaultIndexFile               = "index.html"
	defaultServeDirectoryListing   = true
	defaultLogLevel                = LogLevelInfo
	defaultLogTarget               = "stderr"
	defaultLogFormat               = "json"
)

// ConfigError describes a failure to load or validate a configuration file.
type ConfigError struct {
	FilePath string
	Message  string
	Err      error
}

func (e *ConfigError) Error() string {
	msg := e.Message
	if e.FilePath != "" {
		msg = fmt.Sprintf("%s (file: %s)", msg, e.FilePath)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// LoadConfig reads, parses, defaults and validates the configuration file at
// filePath. The format follows the extension (.json or .toml); any other
// extension is tried as JSON and then as TOML.
func LoadConfig(filePath string) (*Config, error) {
	return Load(filePath, nil)
}

// Load is LoadConfig with command-line overrides applied between parsing and
// validation. Only flags the user actually set take effect.
func Load(filePath string, flags *pflag.FlagSet) (*Config, error) {
	cfg, err := parseFile(filePath)
	if err != nil {
		return nil, err
	}
	if flags != nil {
		if err := cfg.ApplyFlagOverrides(flags); err != nil {
			return nil, &ConfigError{FilePath: filePath, Message: "invalid command-line override", Err: err}
		}
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseFile(filePath string) (*Config, error) {
	if filePath == "" {
		return nil, &ConfigError{Message: "configuration file path cannot be empty"}
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, &ConfigError{FilePath: filePath, Message: "failed to read configuration file", Err: err}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &ConfigError{FilePath: filePath, Message: "configuration file is empty"}
	}

	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, &ConfigError{FilePath: filePath, Message: "failed to parse JSON config", Err: err}
		}
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, &ConfigError{FilePath: filePath, Message: "failed to parse TOML config", Err: err}
		}
	default:
		jsonErr := json.Unmarshal(data, cfg)
		if jsonErr != nil {
			cfg = &Config{}
			if tomlErr := toml.Unmarshal(data, cfg); tomlErr != nil {
				return nil, &ConfigError{
					FilePath: filePath,
					Message:  fmt.Sprintf("failed to auto-detect and parse config. JSON error: %v; TOML error: %v", jsonErr, tomlErr),
				}
			}
		}
	}

	cfg.originalFilePath = filePath
	return cfg, nil
}

// ApplyDefaults fills every unset optional section and field.
func (c *Config) ApplyDefaults() {
	if c.Server == nil {
		c.Server = &ServerConfig{}
	}
	if c.Server.Dispatcher == nil {
		c.Server.Dispatcher = strPtr(defaultDispatcher)
	}
	if c.Server.GracefulShutdownTimeout == nil {
		c.Server.GracefulShutdownTimeout = strPtr(defaultGracefulShutdownTimeout)
	}

	if c.Admin == nil {
		c.Admin = &AdminConfig{}
	}
	if c.Admin.Username == nil {
		c.Admin.Username = strPtr(defaultAdminUsername)
	}
	if c.Admin.Password == nil {
		c.Admin.Password = strPtr(defaultAdminPassword)
	}
	if c.Admin.BufferSize == nil {
		size := defaultAdminBufferSize
		c.Admin.BufferSize = &size
	}

	if c.StaticFiles == nil {
		c.StaticFiles = &StaticFilesConfig{}
	}
	if len(c.StaticFiles.IndexFiles) == 0 {
		c.StaticFiles.IndexFiles = []string{defaultIndexFile}
	}
	if c.StaticFiles.ServeDirectoryListing == nil {
		listing := defaultServeDirectoryListing
		c.StaticFiles.ServeDirectoryListing = &listing
	}

	if c.Logging == nil {
		c.Logging = &LoggingConfig{}
	}
	if c.Logging.LogLevel == "" {
		c.Logging.LogLevel = defaultLogLevel
	}
	if c.Logging.Target == "" {
		c.Logging.Target = defaultLogTarget
	}
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
}

// Validate checks the configuration. It expects ApplyDefaults to have run.
func (c *Config) Validate() error {
	v := newValidator()
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &ConfigError{FilePath: c.originalFilePath, Message: describeFieldError(verrs[0])}
		}
		return &ConfigError{FilePath: c.originalFilePath, Message: "invalid configuration", Err: err}
	}

	if c.AdminPort == c.Port {
		return &ConfigError{FilePath: c.originalFilePath, Message: fmt.Sprintf("admin_port must differ from port, both are %d", c.Port)}
	}
	if c.DispatcherKind() == DispatcherPool && c.MaxThreads < 1 {
		return &ConfigError{FilePath: c.originalFilePath, Message: "max_threads must be at least 1 when server.dispatcher is \"pool\""}
	}
	return nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		d, err := time.ParseDuration(fl.Field().String())
		return err == nil && d > 0
	})
	_ = v.RegisterValidation("logtarget", func(fl validator.FieldLevel) bool {
		target := fl.Field().String()
		return !IsFilePath(target) || filepath.IsAbs(target)
	})
	return v
}

func describeFieldError(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	value := fmt.Sprint(fe.Value())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s cannot be empty", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s, got %s", field, fe.Param(), value)
	case "max":
		return fmt.Sprintf("%s must be at most %s, got %s", field, fe.Param(), value)
	case "dir":
		return fmt.Sprintf("%s must be an existing directory, got %q", field, value)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", field, fe.Param(), value)
	case "duration":
		return fmt.Sprintf("%s must be a positive duration, got %q", field, value)
	case "logtarget":
		return fmt.Sprintf("%s must be stdout, stderr or an absolute file path, got %q", field, value)
	case "startswith":
		return fmt.Sprintf("%s key %q must start with %q", field, value, fe.Param())
	default:
		return fmt.Sprintf("%s failed %q validation, got %q", field, fe.Tag(), value)
	}
}

// RegisterFlags declares the command-line overrides understood by
// ApplyFlagOverrides.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("host", "", "override host")
	fs.Int("port", 0, "override port")
	fs.Int("admin-port", 0, "override admin_port")
	fs.String("root", "", "override document_root")
	fs.String("log-file", "", "override log_file")
	fs.Int("max-threads", 0, "override max_threads")
	fs.String("dispatcher", "", "override server.dispatcher (unbounded|pool)")
}

// ApplyFlagOverrides copies every explicitly set flag into the configuration.
// Unknown flags are ignored.
func (c *Config) ApplyFlagOverrides(flags *pflag.FlagSet) error {
	var firstErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if !f.Changed || firstErr != nil {
			return
		}
		val := f.Value.String()
		switch f.Name {
		case "host":
			c.Host = val
		case "port":
			firstErr = setInt(&c.Port, f.Name, val)
		case "admin-port":
			firstErr = setInt(&c.AdminPort, f.Name, val)
		case "root":
			c.DocumentRoot = val
		case "log-file":
			c.LogFile = val
		case "max-threads":
			firstErr = setInt(&c.MaxThreads, f.Name, val)
		case "dispatcher":
			if c.Server == nil {
				c.Server = &ServerConfig{}
			}
			c.Server.Dispatcher = strPtr(val)
		}
	})
	return firstErr
}

func setInt(dst *int, name, val string) error {
	n, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("--%s: %w", name, err)
	}
	*dst = n
	return nil
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func strPtr(s string) *string {
	return &s
}
