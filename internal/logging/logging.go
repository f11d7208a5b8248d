// Package logging wires logiface onto a zerolog backend.
package logging

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/rs/zerolog"
)

// Logger is the logger type every component takes. A nil *Logger is valid and discards everything.
type Logger = logiface.Logger[logiface.Event]

type (
	// Event adapts a pooled zerolog event to logiface.
	Event struct {
		logiface.UnimplementedEvent
		z   *zerolog.Event
		lvl logiface.Level
		msg string
	}

	backend struct {
		z zerolog.Logger
	}
)

var (
	_ logiface.Event                = (*Event)(nil)
	_ logiface.EventFactory[*Event] = (*backend)(nil)
	_ logiface.Writer[*Event]       = (*backend)(nil)
)

// New builds a JSON logger writing to w, dropping everything below level.
func New(w io.Writer, level logiface.Level) *Logger {
	b := &backend{z: zerolog.New(w).Level(zerolog.TraceLevel).With().Timestamp().Logger()}
	return logiface.New[*Event](
		logiface.WithEventFactory[*Event](b),
		logiface.WithWriter[*Event](b),
		logiface.WithLevel[*Event](level),
	).Logger()
}

// ParseLevel maps a config level name to a logiface level.
func ParseLevel(s string) (logiface.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return logiface.LevelTrace, nil
	case "debug":
		return logiface.LevelDebug, nil
	case "", "info", "informational":
		return logiface.LevelInformational, nil
	case "notice":
		return logiface.LevelNotice, nil
	case "warn", "warning":
		return logiface.LevelWarning, nil
	case "error", "err":
		return logiface.LevelError, nil
	case "off", "disabled", "none":
		return logiface.LevelDisabled, nil
	}
	return logiface.LevelDisabled, fmt.Errorf("unknown log level %q", s)
}

func (x *backend) NewEvent(level logiface.Level) *Event {
	if !level.Enabled() {
		return nil
	}
	e := Event{lvl: level}
	switch level {
	case logiface.LevelTrace:
		e.z = x.z.Trace()
	case logiface.LevelDebug:
		e.z = x.z.Debug()
	case logiface.LevelInformational, logiface.LevelNotice:
		e.z = x.z.Info()
	case logiface.LevelWarning:
		e.z = x.z.Warn()
	default:
		// critical and above would make zerolog exit or panic
		e.z = x.z.Error()
	}
	return &e
}

func (x *backend) Write(event *Event) error {
	event.z.Msg(event.msg)
	return nil
}

func (x *Event) Level() logiface.Level {
	if x != nil {
		return x.lvl
	}
	return logiface.LevelDisabled
}

func (x *Event) AddField(key string, val any) { x.z.Interface(key, val) }

func (x *Event) AddMessage(msg string) bool {
	x.msg = msg
	return true
}

func (x *Event) AddError(err error) bool {
	x.z.Err(err)
	return true
}

func (x *Event) AddString(key string, val string) bool {
	x.z.Str(key, val)
	return true
}

func (x *Event) AddInt(key string, val int) bool {
	x.z.Int(key, val)
	return true
}

func (x *Event) AddInt64(key string, val int64) bool {
	x.z.Int64(key, val)
	return true
}

func (x *Event) AddUint64(key string, val uint64) bool {
	x.z.Uint64(key, val)
	return true
}

func (x *Event) AddBool(key string, val bool) bool {
	x.z.Bool(key, val)
	return true
}

func (x *Event) AddDuration(key string, val time.Duration) bool {
	x.z.Dur(key, val)
	return true
}

func (x *Event) AddTime(key string, val time.Time) bool {
	x.z.Time(key, val)
	return true
}
