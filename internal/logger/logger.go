package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"example.com/minihttpd/internal/config"
)

// LogFields carries structured key/value pairs for diagnostic events.
type LogFields map[string]interface{}

// entryTimeFormat renders the bracketed timestamp of request log lines,
// e.g. "18-10-2026 14:03:59".
const entryTimeFormat = "02-01-2006 15:04:05"

// Logger owns the append-only request log file, the request counter and the
// diagnostic stream.
//
// The request log is the record the admin page reads back; diagnostics are
// operational events for whoever runs the process. One mutex guards the log
// file handle and the counter together, so the count read by the admin page
// never runs ahead of the lines written.
type Logger struct {
	mu            sync.Mutex
	out           io.Writer
	file          *os.File // nil when out is not a file we opened
	filePath      string
	totalRequests uint64
	startTime     time.Time
	now           func() time.Time

	diag    zerolog.Logger
	diagOut *reopenableFile // nil unless diagnostics go to a file
}

// NewLogger opens logFile for appending (creating it if needed) and sets up
// diagnostics according to cfg. A nil cfg means INFO-level JSON on stderr.
func NewLogger(logFile string, cfg *config.LoggingConfig) (*Logger, error) {
	if logFile == "" {
		return nil, fmt.Errorf("log file path cannot be empty")
	}
	f, err := openAppend(logFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", logFile, err)
	}

	l := &Logger{
		out:       f,
		file:      f,
		filePath:  logFile,
		startTime: time.Now(),
		now:       time.Now,
	}

	level := config.LogLevelInfo
	target := "stderr"
	format := "json"
	if cfg != nil {
		if cfg.LogLevel != "" {
			level = cfg.LogLevel
		}
		if cfg.Target != "" {
			target = cfg.Target
		}
		if cfg.Format != "" {
			format = cfg.Format
		}
	}

	var diagWriter io.Writer
	switch target {
	case "stderr":
		diagWriter = os.Stderr
	case "stdout":
		diagWriter = os.Stdout
	default:
		rf, err := newReopenableFile(target)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to open diagnostic log file %s: %w", target, err)
		}
		l.diagOut = rf
		diagWriter = rf
	}
	l.diag = newDiagnostics(diagWriter, level, format)
	return l, nil
}

// NewTestLogger writes request lines to logFile and DEBUG-level JSON
// diagnostics to out. Writes to out are serialized.
func NewTestLogger(logFile string, out io.Writer) (*Logger, error) {
	f, err := openAppend(logFile)
	if err != nil {
		return nil, err
	}
	return &Logger{
		out:       f,
		file:      f,
		filePath:  logFile,
		startTime: time.Now(),
		now:       time.Now,
		diag:      newDiagnostics(zerolog.SyncWriter(out), config.LogLevelDebug, "json"),
	}, nil
}

// NewDiscardLogger returns a Logger that counts requests but writes nothing.
func NewDiscardLogger() *Logger {
	return &Logger{
		out:       io.Discard,
		startTime: time.Now(),
		now:       time.Now,
		diag:      zerolog.Nop(),
	}
}

func newDiagnostics(w io.Writer, level config.LogLevel, format string) zerolog.Logger {
	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w, NoColor: true, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(zerologLevel(level)).With().Timestamp().Logger()
}

func zerologLevel(level config.LogLevel) zerolog.Level {
	switch level {
	case config.LogLevelDebug:
		return zerolog.DebugLevel
	case config.LogLevelWarning:
		return zerolog.WarnLevel
	case config.LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}

// Log appends "[DD-MM-YYYY HH:MM:SS] msg" (UTC) to the request log.
// Write failures are reported as diagnostics and otherwise ignored.
func (l *Logger) Log(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writeLocked(msg)
}

func (l *Logger) writeLocked(msg string) {
	entry := fmt.Sprintf("[%s] %s\n", l.now().UTC().Format(entryTimeFormat), msg)
	if _, err := io.WriteString(l.out, entry); err != nil {
		l.diag.Error().Err(err).Str("log_file", l.filePath).Msg("Failed to write log entry")
	}
}

// LogRequest counts the request and records how it was answered.
func (l *Logger) LogRequest(peer, requestLine string, status int) {
	l.mu.Lock()
	l.totalRequests++
	l.writeLocked(fmt.Sprintf("REQUEST from %s: '%s' responded with %d", peer, requestLine, status))
	l.mu.Unlock()

	l.Debug("Request served", LogFields{"peer": peer, "request": requestLine, "status": status})
}

// LogError appends an "ERROR: msg" line and emits it as a diagnostic too.
func (l *Logger) LogError(msg string) {
	l.Log("ERROR: " + msg)
	l.diag.Error().Msg(msg)
}

// LogStats appends a STATS line with the current counters.
func (l *Logger) LogStats() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writeLocked(fmt.Sprintf("STATS: Total Requests: %d, Uptime: %d seconds", l.totalRequests, l.uptime()))
}

// StartPeriodicStats writes a STATS line every interval until ctx is done.
// A non-positive interval disables it.
func (l *Logger) StartPeriodicStats(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.LogStats()
			}
		}
	}()
}

// TotalRequests returns the number of requests logged so far.
func (l *Logger) TotalRequests() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalRequests
}

// Uptime returns whole seconds since the logger was created.
func (l *Logger) Uptime() uint64 {
	return l.uptime()
}

func (l *Logger) uptime() uint64 {
	return uint64(l.now().Sub(l.startTime) / time.Second)
}

// LogFilePath returns the request log path ("" for a discard logger).
func (l *Logger) LogFilePath() string {
	return l.filePath
}

// ReopenLogFile closes and reopens every file-backed target. Used on SIGHUP
// after external rotation.
func (l *Logger) ReopenLogFile() error {
	if l.file != nil {
		l.mu.Lock()
		err := l.file.Close()
		if err != nil {
			l.diag.Warn().Err(err).Str("log_file", l.filePath).Msg("Error closing log file during reopen")
		}
		f, err := openAppend(l.filePath)
		if err != nil {
			l.out = io.Discard
			l.file = nil
			l.mu.Unlock()
			return fmt.Errorf("failed to reopen log file %s: %w", l.filePath, err)
		}
		l.out = f
		l.file = f
		l.mu.Unlock()
	}
	if l.diagOut != nil {
		if err := l.diagOut.Reopen(); err != nil {
			return err
		}
	}
	l.Info("Reopened log files", LogFields{"log_file": l.filePath})
	return nil
}

// Close releases every file the logger opened.
func (l *Logger) Close() error {
	var firstErr error
	l.mu.Lock()
	if l.file != nil {
		firstErr = l.file.Close()
		l.file = nil
		l.out = io.Discard
	}
	l.mu.Unlock()
	if l.diagOut != nil {
		if err := l.diagOut.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Diagnostic helpers.

func (l *Logger) Debug(msg string, fields ...LogFields) {
	emit(l.diag.Debug(), msg, fields)
}

func (l *Logger) Info(msg string, fields ...LogFields) {
	emit(l.diag.Info(), msg, fields)
}

func (l *Logger) Warn(msg string, fields ...LogFields) {
	emit(l.diag.Warn(), msg, fields)
}

func (l *Logger) Error(msg string, fields ...LogFields) {
	emit(l.diag.Error(), msg, fields)
}

func emit(ev *zerolog.Event, msg string, fields []LogFields) {
	if ev == nil {
		return
	}
	for _, f := range fields {
		ev = ev.Fields(map[string]interface{}(f))
	}
	ev.Msg(msg)
}
