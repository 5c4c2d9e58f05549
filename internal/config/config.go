package config

import (
	"time"
)

// LogLevel defines the minimum severity for diagnostic logs.
type LogLevel string

const (
	LogLevelDebug   LogLevel = "DEBUG"
	LogLevelInfo    LogLevel = "INFO"
	LogLevelWarning LogLevel = "WARNING"
	LogLevelError   LogLevel = "ERROR"
)

// Dispatcher names accepted by server.dispatcher.
const (
	DispatcherUnbounded = "unbounded"
	DispatcherPool      = "pool"
)

// Config is the top-level configuration structure for the server.
// The six flat keys are the ones every deployment sets; the sections are
// optional and filled by ApplyDefaults.
type Config struct {
	Host         string `json:"host" toml:"host" validate:"required"`
	Port         int    `json:"port" toml:"port" validate:"required,min=1,max=65535"`
	AdminPort    int    `json:"admin_port" toml:"admin_port" validate:"required,min=1,max=65535"`
	DocumentRoot string `json:"document_root" toml:"document_root" validate:"required,dir"`
	MaxThreads   int    `json:"max_threads" toml:"max_threads" validate:"min=0"`
	LogFile      string `json:"log_file" toml:"log_file" validate:"required"`

	Server      *ServerConfig      `json:"server,omitempty" toml:"server,omitempty"`
	Admin       *AdminConfig       `json:"admin,omitempty" toml:"admin,omitempty"`
	StaticFiles *StaticFilesConfig `json:"static_files,omitempty" toml:"static_files,omitempty"`
	Logging     *LoggingConfig     `json:"logging,omitempty" toml:"logging,omitempty"`

	originalFilePath string
}

// ServerConfig holds connection handling settings.
type ServerConfig struct {
	Dispatcher              *string `json:"dispatcher,omitempty" toml:"dispatcher,omitempty" validate:"omitempty,oneof=unbounded pool"`
	ReadTimeout             *string `json:"read_timeout,omitempty" toml:"read_timeout,omitempty" validate:"omitempty,duration"`                           // e.g., "30s"; unset means no timeout
	GracefulShutdownTimeout *string `json:"graceful_shutdown_timeout,omitempty" toml:"graceful_shutdown_timeout,omitempty" validate:"omitempty,duration"` // e.g., "5s"
}

// AdminConfig holds the admin interface settings.
type AdminConfig struct {
	Username   *string `json:"username,omitempty" toml:"username,omitempty" validate:"omitempty,min=1"`
	Password   *string `json:"password,omitempty" toml:"password,omitempty"`
	BufferSize *int    `json:"buffer_size,omitempty" toml:"buffer_size,omitempty" validate:"omitempty,min=64,max=65536"`
}

// StaticFilesConfig configures how files under document_root are served.
type StaticFilesConfig struct {
	IndexFiles            []string          `json:"index_files,omitempty" toml:"index_files,omitempty" validate:"dive,required,excludesall=/\\"`
	ServeDirectoryListing *bool             `json:"serve_directory_listing,omitempty" toml:"serve_directory_listing,omitempty"`
	MimeTypesMap          map[string]string `json:"mime_types,omitempty" toml:"mime_types,omitempty" validate:"dive,keys,startswith=.,endkeys,required,contains=/"`
	MimeTypesPath         *string           `json:"mime_types_path,omitempty" toml:"mime_types_path,omitempty"`
}

// LoggingConfig holds diagnostic logging settings. The request log itself
// always goes to the top-level log_file.
type LoggingConfig struct {
	LogLevel      LogLevel `json:"log_level,omitempty" toml:"log_level,omitempty" validate:"omitempty,oneof=DEBUG INFO WARNING ERROR"`
	Target        string   `json:"target,omitempty" toml:"target,omitempty" validate:"omitempty,logtarget"`
	Format        string   `json:"format,omitempty" toml:"format,omitempty" validate:"omitempty,oneof=json console"`
	StatsInterval *string  `json:"stats_interval,omitempty" toml:"stats_interval,omitempty" validate:"omitempty,duration"`
}

// OriginalFilePath returns the path the configuration was loaded from, or ""
// when it was built in memory.
func (c *Config) OriginalFilePath() string {
	if c == nil {
		return ""
	}
	return c.originalFilePath
}

// MainAddr returns host:port for the static file listener.
func (c *Config) MainAddr() string {
	return joinHostPort(c.Host, c.Port)
}

// AdminAddr returns host:admin_port for the admin listener.
func (c *Config) AdminAddr() string {
	return joinHostPort(c.Host, c.AdminPort)
}

// DispatcherKind returns the configured dispatcher name.
func (c *Config) DispatcherKind() string {
	if c.Server == nil || c.Server.Dispatcher == nil {
		return defaultDispatcher
	}
	return *c.Server.Dispatcher
}

// ReadTimeout returns the per-connection read deadline, zero when disabled.
func (c *Config) ReadTimeout() time.Duration {
	if c.Server == nil {
		return 0
	}
	return parseDurationOrZero(c.Server.ReadTimeout)
}

// GracefulShutdownTimeout returns how long in-flight connections may run
// after the listeners are closed.
func (c *Config) GracefulShutdownTimeout() time.Duration {
	if c.Server == nil {
		return mustParseDuration(defaultGracefulShutdownTimeout)
	}
	if d := parseDurationOrZero(c.Server.GracefulShutdownTimeout); d > 0 {
		return d
	}
	return mustParseDuration(defaultGracefulShutdownTimeout)
}

// StatsInterval returns the period between STATS log lines, zero when disabled.
func (c *Config) StatsInterval() time.Duration {
	if c.Logging == nil {
		return 0
	}
	return parseDurationOrZero(c.Logging.StatsInterval)
}

// AdminCredentials returns the admin username and password, falling back to
// the built-in pair when unset.
func (c *Config) AdminCredentials() (username, password string) {
	username, password = defaultAdminUsername, defaultAdminPassword
	if c.Admin != nil {
		if c.Admin.Username != nil {
			username = *c.Admin.Username
		}
		if c.Admin.Password != nil {
			password = *c.Admin.Password
		}
	}
	return username, password
}

// AdminBufferSize returns the size of the single admin request read.
func (c *Config) AdminBufferSize() int {
	if c.Admin == nil || c.Admin.BufferSize == nil {
		return defaultAdminBufferSize
	}
	return *c.Admin.BufferSize
}

// IsFilePath reports whether a logging target names a file rather than a
// standard stream.
func IsFilePath(target string) bool {
	return target != "stdout" && target != "stderr"
}

func parseDurationOrZero(s *string) time.Duration {
	if s == nil || *s == "" {
		return 0
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return 0
	}
	return d
}

func mustParseDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		panic(err)
	}
	return d
}
