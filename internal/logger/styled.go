package logger

import (
	"log/slog"

	"github.com/relaywatch/relaywatch/internal/domain"
	"github.com/relaywatch/relaywatch/internal/util"
	"github.com/relaywatch/relaywatch/theme"
)

// LogContext carries a split set of arguments for a single log call: UserArgs
// go into the first record; when DetailedArgs is non-empty a second record
// carrying UserArgs plus DetailedArgs is logged under the "detailed" context
// cookie. Both records go to every attached handler, console and file alike.
type LogContext struct {
	UserArgs     []any
	DetailedArgs []any
}

// StyledLogger is the theme-aware logging facade used throughout the proxy.
// Two implementations exist: PrettyStyledLogger (pterm, for an attached TTY)
// and PlainStyledLogger (plain slog, for redirected output or --dashboard
// mode where the console is owned by the TUI).
type StyledLogger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	InfoWithCount(msg string, count int, args ...any)
	InfoWithEndpoint(msg string, endpoint string, args ...any)
	InfoWithHealthCheck(msg string, endpoint string, args ...any)
	InfoWithNumbers(msg string, numbers ...int64)
	WarnWithEndpoint(msg string, endpoint string, args ...any)
	ErrorWithEndpoint(msg string, endpoint string, args ...any)
	InfoHealthy(msg string, endpoint string, args ...any)
	InfoUnhealthy(msg string, endpoint string, args ...any)
	InfoHealthStatus(msg string, name string, status domain.EndpointStatus, args ...any)
	InfoConfigChange(oldName, newName string)

	InfoWithContext(msg string, endpoint string, ctx LogContext)
	WarnWithContext(msg string, endpoint string, ctx LogContext)
	ErrorWithContext(msg string, endpoint string, ctx LogContext)

	GetUnderlying() *slog.Logger
	WithRequestID(requestID string) StyledLogger
	WithAttrs(attrs ...slog.Attr) StyledLogger
	With(args ...any) StyledLogger
}

// NewWithTheme builds the plain slog logger plus a StyledLogger facade
// selected for the current output target: pretty/pterm for a real terminal,
// plain otherwise (redirected output, CI, or --dashboard mode).
func NewWithTheme(cfg *Config) (*slog.Logger, StyledLogger, func(), error) {
	base, cleanup, err := New(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	appTheme := theme.GetTheme(cfg.Theme)

	if cfg.PrettyLogs && util.ShouldUseColors() {
		return base, NewPrettyStyledLogger(base, appTheme), cleanup, nil
	}
	return base, NewPlainStyledLogger(base), cleanup, nil
}
