package logger

import (
	"github.com/rs/zerolog"
)

// ZerologAdapter routes Logger calls into a zerolog.Logger, keeping the
// key/value arguments as structured fields.
type ZerologAdapter struct {
	zl    zerolog.Logger
	level LogLevel
}

// NewZerolog wraps zl. The LogLevel gates calls before they reach zerolog.
func NewZerolog(zl zerolog.Logger, level LogLevel) Logger {
	return &ZerologAdapter{zl: zl, level: level}
}

// LogMode returns a copy of the adapter with a new level.
func (z *ZerologAdapter) LogMode(level LogLevel) Logger {
	return &ZerologAdapter{zl: z.zl, level: level}
}

func (z *ZerologAdapter) Info(msg string, args ...any) {
	if z.level >= Info {
		withFields(z.zl.Info(), args).Msg(msg)
	}
}

func (z *ZerologAdapter) Warn(msg string, args ...any) {
	if z.level >= Warn {
		withFields(z.zl.Warn(), args).Msg(msg)
	}
}

func (z *ZerologAdapter) Error(msg string, args ...any) {
	if z.level >= Error {
		withFields(z.zl.Error(), args).Msg(msg)
	}
}

func (z *ZerologAdapter) Debug(msg string, args ...any) {
	if z.level >= Debug {
		withFields(z.zl.Debug(), args).Msg(msg)
	}
}

func withFields(ev *zerolog.Event, args []any) *zerolog.Event {
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		if i+1 >= len(args) {
			ev = ev.Str(key, "(no value)")
			continue
		}
		switch v := args[i+1].(type) {
		case error:
			ev = ev.AnErr(key, v)
		default:
			ev = ev.Interface(key, v)
		}
	}
	return ev
}
