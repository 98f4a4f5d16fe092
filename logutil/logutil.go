// logutil.go - slog-Logger mit TRACE-Level
//
// Enthaelt:
// - LevelTrace: Level unterhalb von DEBUG (MLXBRIDGE_DEBUG=2)
// - NewLogger: Text-Handler mit kurzen Quelldateinamen
// - Trace: Kurzform fuer slog.Log mit LevelTrace
package logutil

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
)

const LevelTrace slog.Level = -8

// NewLogger erzeugt einen Logger der nach w schreibt. TRACE wird als
// eigener Level-Name ausgegeben.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
		ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.LevelKey:
				if lvl, ok := attr.Value.Any().(slog.Level); ok && lvl == LevelTrace {
					attr.Value = slog.StringValue("TRACE")
				}
			case slog.SourceKey:
				if source, ok := attr.Value.Any().(*slog.Source); ok {
					source.File = filepath.Base(source.File)
				}
			}
			return attr
		},
	}))
}

// Trace loggt msg mit LevelTrace ueber den Default-Logger
func Trace(msg string, args ...any) {
	slog.Log(context.TODO(), LevelTrace, msg, args...)
}
