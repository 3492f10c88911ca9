package framework

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"go.lsp.dev/protocol"
)

// LogLevel mirrors the host log levels. Lower values are more verbose, except
// LogLevelOff which disables output entirely.
type LogLevel int

const (
	LogLevelOff LogLevel = iota
	LogLevelTrace
	LogLevelDebug
	LogLevelInfo
	LogLevelWarning
	LogLevelError
)

// TraceMessages is the LSP wire value for message tracing. protocol.TraceMessage
// is spelled "message", which servers reject.
const TraceMessages protocol.TraceValue = "messages"

var logLevelNames = map[LogLevel]string{
	LogLevelOff:     "off",
	LogLevelTrace:   "trace",
	LogLevelDebug:   "debug",
	LogLevelInfo:    "info",
	LogLevelWarning: "warning",
	LogLevelError:   "error",
}

func (l LogLevel) String() string {
	if name, ok := logLevelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LogLevel(%d)", int(l))
}

// ParseLogLevel accepts the level names used in flags and config files.
func ParseLogLevel(value string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "off", "none":
		return LogLevelOff, nil
	case "trace":
		return LogLevelTrace, nil
	case "debug":
		return LogLevelDebug, nil
	case "", "info":
		return LogLevelInfo, nil
	case "warn", "warning":
		return LogLevelWarning, nil
	case "error":
		return LogLevelError, nil
	}
	return LogLevelInfo, fmt.Errorf("unknown log level %q", value)
}

// CharmLevel maps the level onto the logger's level scale.
func (l LogLevel) CharmLevel() log.Level {
	switch l {
	case LogLevelTrace, LogLevelDebug:
		return log.DebugLevel
	case LogLevelWarning:
		return log.WarnLevel
	case LogLevelError:
		return log.ErrorLevel
	case LogLevelOff:
		return log.FatalLevel
	default:
		return log.InfoLevel
	}
}

// TraceValue converts a single level to the LSP trace setting.
func (l LogLevel) TraceValue() protocol.TraceValue {
	switch l {
	case LogLevelDebug:
		return TraceMessages
	case LogLevelTrace:
		return protocol.TraceVerbose
	default:
		return protocol.TraceOff
	}
}

// TraceLevel picks the LSP trace from the output channel level and the global
// level. When one of them is off the other decides; otherwise the more
// verbose one wins.
func TraceLevel(channel, global LogLevel) protocol.TraceValue {
	if channel == LogLevelOff {
		return global.TraceValue()
	}
	if global == LogLevelOff {
		return channel.TraceValue()
	}
	if channel <= global {
		return channel.TraceValue()
	}
	return global.TraceValue()
}
