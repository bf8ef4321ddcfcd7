// Package logger wraps zerolog with the household concierge's
// PII-redaction rule: any fromEmail/person field is masked before it
// reaches an output sink, the same guarantee the lineage's hand-rolled
// JSON logger made for subscriber addresses.
package logger

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

var base zerolog.Logger

func init() {
	base = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// Init configures the package-level logger from LOG_LEVEL / LOG_FILE,
// called once at process startup.
func Init(levelName, file string) error {
	level, err := zerolog.ParseLevel(strings.ToLower(levelName))
	if err != nil {
		level = zerolog.InfoLevel
	}

	var writer = os.Stderr
	if file != "" {
		f, err := os.OpenFile(file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		base = zerolog.New(f).Level(level).With().Timestamp().Logger()
		return nil
	}

	base = zerolog.New(writer).Level(level).With().Timestamp().Logger()
	return nil
}

// Event wraps zerolog.Event, adding RedactedStr for the one field type
// this codebase consistently needs masked.
type Event struct {
	ev *zerolog.Event
}

func newEvent(ev *zerolog.Event, module, action string) *Event {
	return &Event{ev: ev.Str("module", module).Str("action", action)}
}

// Debug starts a DEBUG-level entry tagged with module/action, matching
// the grep-ability contract every DiscoveryEngine step log follows.
func Debug(module, action string) *Event { return newEvent(base.Debug(), module, action) }

// Info starts an INFO-level entry.
func Info(module, action string) *Event { return newEvent(base.Info(), module, action) }

// Warn starts a WARN-level entry.
func Warn(module, action string) *Event { return newEvent(base.Warn(), module, action) }

// Error starts an ERROR-level entry.
func Error(module, action string, err error) *Event {
	e := newEvent(base.Error(), module, action)
	if err != nil {
		e.ev = e.ev.Err(err)
	}
	return e
}

// Str attaches a plain string field.
func (e *Event) Str(key, val string) *Event {
	e.ev = e.ev.Str(key, val)
	return e
}

// RedactedEmail attaches an email address field with the local part
// masked: "john.doe@example.com" → "jo***@example.com".
func (e *Event) RedactedEmail(key, email string) *Event {
	e.ev = e.ev.Str(key, RedactEmail(email))
	return e
}

// RedactedPerson attaches a person field, masking each comma-separated
// name to its first two characters: "Colin, Henry" → "Co***, He***".
func (e *Event) RedactedPerson(key, person string) *Event {
	e.ev = e.ev.Str(key, RedactPerson(person))
	return e
}

// Int attaches an integer field.
func (e *Event) Int(key string, val int) *Event {
	e.ev = e.ev.Int(key, val)
	return e
}

// Float attaches a float64 field.
func (e *Event) Float(key string, val float64) *Event {
	e.ev = e.ev.Float64(key, val)
	return e
}

// Bool attaches a boolean field.
func (e *Event) Bool(key string, val bool) *Event {
	e.ev = e.ev.Bool(key, val)
	return e
}

// Msg emits the entry with the given human-readable message.
func (e *Event) Msg(msg string) { e.ev.Msg(msg) }

// RedactEmail masks an email address's local part for safe logging.
// Short local parts (≤2 chars) are fully masked.
func RedactEmail(email string) string {
	parts := strings.SplitN(email, "@", 2)
	if len(parts) != 2 {
		return "***@***"
	}
	name := parts[0]
	if len(name) > 2 {
		return name[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}

// RedactPerson masks a (possibly comma-joined) person field.
func RedactPerson(person string) string {
	names := strings.Split(person, ",")
	for i, n := range names {
		n = strings.TrimSpace(n)
		if len(n) > 2 {
			names[i] = n[:2] + strings.Repeat("*", len(n)-2)
		} else if n != "" {
			names[i] = strings.Repeat("*", len(n))
		}
	}
	return strings.Join(names, ", ")
}

