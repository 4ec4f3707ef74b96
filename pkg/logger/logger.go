// Package logger provides structured, leveled logging for the RTSP core,
// with debug categories that can be toggled independently of the overall
// log level (useful for isolating RTP or auth noise in a running server).
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Level represents the logging verbosity level.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// DebugCategory gates verbose logging for a specific subsystem.
type DebugCategory string

const (
	DebugRTSP      DebugCategory = "rtsp"
	DebugRTP       DebugCategory = "rtp"
	DebugNAL       DebugCategory = "nal"
	DebugAuth      DebugCategory = "auth"
	DebugTransport DebugCategory = "transport"
	DebugAll       DebugCategory = "all"
)

// OutputFormat determines the log output encoding.
type OutputFormat string

const (
	FormatJSON OutputFormat = "json"
	FormatText OutputFormat = "text"
)

// Config holds logger configuration.
type Config struct {
	Level             Level
	Format            OutputFormat
	OutputFile        string
	EnabledCategories map[DebugCategory]bool
	mu                sync.RWMutex
}

// NewConfig creates a logger configuration with defaults.
func NewConfig() *Config {
	return &Config{
		Level:             LevelInfo,
		Format:            FormatText,
		EnabledCategories: make(map[DebugCategory]bool),
	}
}

// ParseLevel converts a string to Level.
func ParseLevel(level string) (Level, error) {
	switch level {
	case "debug", "DEBUG":
		return LevelDebug, nil
	case "info", "INFO":
		return LevelInfo, nil
	case "warn", "WARN", "warning", "WARNING":
		return LevelWarn, nil
	case "error", "ERROR":
		return LevelError, nil
	default:
		return "", fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", level)
	}
}

// ParseFormat converts a string to OutputFormat.
func ParseFormat(format string) (OutputFormat, error) {
	switch format {
	case "json", "JSON":
		return FormatJSON, nil
	case "text", "TEXT":
		return FormatText, nil
	default:
		return "", fmt.Errorf("invalid log format: %s (must be json or text)", format)
	}
}

func (l Level) toZerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// EnableCategory enables a specific debug category.
func (c *Config) EnableCategory(category DebugCategory) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if category == DebugAll {
		c.EnabledCategories[DebugRTSP] = true
		c.EnabledCategories[DebugRTP] = true
		c.EnabledCategories[DebugNAL] = true
		c.EnabledCategories[DebugAuth] = true
		c.EnabledCategories[DebugTransport] = true
		return
	}
	c.EnabledCategories[category] = true
}

// IsCategoryEnabled reports whether a debug category is active.
func (c *Config) IsCategoryEnabled(category DebugCategory) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.EnabledCategories[category]
}

// Logger wraps zerolog.Logger with category-gated debug helpers.
type Logger struct {
	zl     zerolog.Logger
	config *Config
	file   *os.File
}

// New creates a Logger from the given configuration.
func New(cfg *Config) (*Logger, error) {
	var writer io.Writer = os.Stdout
	var file *os.File

	if cfg.OutputFile != "" {
		f, err := os.OpenFile(cfg.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file %s: %w", cfg.OutputFile, err)
		}
		writer = f
		file = f
	}

	if cfg.Format == FormatText {
		writer = zerolog.ConsoleWriter{Out: writer, TimeFormat: time.RFC3339}
	}

	zl := zerolog.New(writer).Level(cfg.Level.toZerolog()).With().Timestamp().Logger()

	return &Logger{zl: zl, config: cfg, file: file}, nil
}

// Close closes the underlying log file, if one was opened.
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func applyFields(e *zerolog.Event, args []any) *zerolog.Event {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", args[i])
		}
		switch v := args[i+1].(type) {
		case string:
			e = e.Str(key, v)
		case error:
			e = e.AnErr(key, v)
		case int:
			e = e.Int(key, v)
		case int32:
			e = e.Int32(key, v)
		case int64:
			e = e.Int64(key, v)
		case uint16:
			e = e.Uint16(key, v)
		case uint32:
			e = e.Uint32(key, v)
		case uint64:
			e = e.Uint64(key, v)
		case bool:
			e = e.Bool(key, v)
		case time.Duration:
			e = e.Dur(key, v)
		case time.Time:
			e = e.Time(key, v)
		default:
			e = e.Interface(key, v)
		}
	}
	return e
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, args ...any) { applyFields(l.zl.Debug(), args).Msg(msg) }

// Info logs at info level.
func (l *Logger) Info(msg string, args ...any) { applyFields(l.zl.Info(), args).Msg(msg) }

// Warn logs at warn level.
func (l *Logger) Warn(msg string, args ...any) { applyFields(l.zl.Warn(), args).Msg(msg) }

// Error logs at error level.
func (l *Logger) Error(msg string, args ...any) { applyFields(l.zl.Error(), args).Msg(msg) }

// With returns a derived Logger carrying the given fields on every entry.
func (l *Logger) With(args ...any) *Logger {
	ctx := l.zl.With()
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", args[i])
		}
		ctx = ctx.Interface(key, args[i+1])
	}
	return &Logger{zl: ctx.Logger(), config: l.config, file: l.file}
}

// DebugRTSP logs RTSP wire details if that category is enabled.
func (l *Logger) DebugRTSP(msg string, args ...any) { l.categoryDebug(DebugRTSP, msg, args) }

// DebugRTP logs RTP packet details if that category is enabled.
func (l *Logger) DebugRTP(msg string, args ...any) { l.categoryDebug(DebugRTP, msg, args) }

// DebugNAL logs NAL unit details if that category is enabled.
func (l *Logger) DebugNAL(msg string, args ...any) { l.categoryDebug(DebugNAL, msg, args) }

// DebugAuth logs authentication details if that category is enabled.
func (l *Logger) DebugAuth(msg string, args ...any) { l.categoryDebug(DebugAuth, msg, args) }

// DebugTransport logs transport negotiation details if that category is enabled.
func (l *Logger) DebugTransport(msg string, args ...any) { l.categoryDebug(DebugTransport, msg, args) }

func (l *Logger) categoryDebug(cat DebugCategory, msg string, args []any) {
	if !l.config.IsCategoryEnabled(cat) {
		return
	}
	args = append([]any{"category", string(cat)}, args...)
	applyFields(l.zl.Debug(), args).Msg(msg)
}

// DebugRTPPacket logs a one-line summary of an outgoing RTP packet.
func (l *Logger) DebugRTPPacket(seq uint16, timestamp uint32, payloadType uint8, payloadSize int) {
	if !l.config.IsCategoryEnabled(DebugRTP) {
		return
	}
	l.zl.Debug().
		Str("category", "rtp").
		Uint16("sequence", seq).
		Uint32("timestamp", timestamp).
		Uint8("payload_type", payloadType).
		Int("payload_size", payloadSize).
		Msg("rtp packet")
}

// DebugNALUnit logs NAL unit type/size for the video packetizer.
func (l *Logger) DebugNALUnit(naluType uint8, size int, fragmented bool) {
	if !l.config.IsCategoryEnabled(DebugNAL) {
		return
	}
	l.zl.Debug().
		Str("category", "nal").
		Uint8("type", naluType).
		Str("type_name", naluTypeName(naluType)).
		Int("size", size).
		Bool("fragmented", fragmented).
		Msg("nal unit")
}

func naluTypeName(naluType uint8) string {
	switch naluType {
	case 1:
		return "P-frame"
	case 5:
		return "IDR"
	case 6:
		return "SEI"
	case 7:
		return "SPS"
	case 8:
		return "PPS"
	case 9:
		return "AUD"
	case 28:
		return "FU-A"
	default:
		return fmt.Sprintf("unknown(%d)", naluType)
	}
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// SetDefault installs logger as the package-level default.
func SetDefault(l *Logger) { defaultLogger = l }

// Default returns the process-wide default logger, creating a plain
// stdout/info logger on first use if none was installed.
func Default() *Logger {
	once.Do(func() {
		if defaultLogger != nil {
			return
		}
		l, err := New(NewConfig())
		if err != nil {
			l = &Logger{zl: zerolog.New(os.Stdout).With().Timestamp().Logger(), config: NewConfig()}
		}
		defaultLogger = l
	})
	return defaultLogger
}
