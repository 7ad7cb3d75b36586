package mcpservice

import (
	"context"
	"errors"
	"log/slog"

	"github.com/titaniummachine1/Lmaobox-Context-Server/mcp"
)

// NewSlogLevelVarLogging returns a LoggingCapability that maps MCP LoggingLevel
// to a provided slog.LevelVar. This adjusts process-wide slog level when used
// with handlers created from the same LevelVar.
func NewSlogLevelVarLogging(lv *slog.LevelVar) LoggingCapability {
	return &slogLevelVarLogging{lv: lv}
}

type slogLevelVarLogging struct{ lv *slog.LevelVar }

func (l *slogLevelVarLogging) SetLevel(ctx context.Context, level mcp.LoggingLevel) error {
	slogLevel, err := SlogLevel(level)
	if err != nil {
		return err
	}
	if l == nil || l.lv == nil {
		return nil
	}
	l.lv.Set(slogLevel)
	return nil
}

// SlogLevel maps a protocol level onto slog. Notice folds into info; error
// and everything above it fold into error.
func SlogLevel(level mcp.LoggingLevel) (slog.Level, error) {
	switch level {
	case mcp.LoggingLevelDebug:
		return slog.LevelDebug, nil
	case mcp.LoggingLevelInfo, mcp.LoggingLevelNotice:
		return slog.LevelInfo, nil
	case mcp.LoggingLevelWarning:
		return slog.LevelWarn, nil
	case mcp.LoggingLevelError, mcp.LoggingLevelCritical, mcp.LoggingLevelAlert, mcp.LoggingLevelEmergency:
		return slog.LevelError, nil
	default:
		return 0, ErrInvalidLoggingLevel
	}
}

// ErrInvalidLoggingLevel indicates the provided level is not one of the
// protocol-defined LoggingLevel values.
var ErrInvalidLoggingLevel = errors.New("invalid logging level")
