package logging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// shortConnID is how many characters of a connection UUID the console shows.
const shortConnID = 8

// prettyHandler writes one human-oriented line per record:
//
//	2026-10-19 12:00:00 INFO  [controller] Camera #2 (Step1) – image received serial=SN1 conn=1a2b3c4d
type prettyHandler struct {
	mu        *sync.Mutex
	writer    io.Writer
	level     *slog.LevelVar
	attrs     []slog.Attr
	prefix    string
	addSource bool
}

func newPrettyHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	return &prettyHandler{mu: &sync.Mutex{}, writer: w, level: lvl, addSource: addSource}
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *prettyHandler) Handle(_ context.Context, record slog.Record) error {
	if record.Level < h.level.Level() {
		return nil
	}

	var line consoleLine
	for _, attr := range h.attrs {
		line.add("", attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		line.add(h.prefix, attr)
		return true
	})

	ts := record.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	var buf bytes.Buffer
	buf.Grow(128 + len(line.fields)*24)
	buf.WriteString(ts.Local().Format("2006-01-02 15:04:05"))
	buf.WriteByte(' ')
	buf.WriteString(levelLabel(record.Level))
	if line.component != "" {
		fmt.Fprintf(&buf, " [%s]", line.component)
	}
	if subject := FormatSubject(line.camera, line.step); subject != "" {
		buf.WriteByte(' ')
		buf.WriteString(subject)
	}
	buf.WriteString(" – ")
	if msg := strings.TrimSpace(record.Message); msg != "" {
		buf.WriteString(msg)
	} else {
		buf.WriteString("(no message)")
	}
	if h.addSource {
		if src := record.Source(); src != nil {
			fmt.Fprintf(&buf, " [%s:%d]", filepath.Base(src.File), src.Line)
		}
	}
	for _, f := range line.fields {
		buf.WriteByte(' ')
		buf.WriteString(f.key)
		buf.WriteByte('=')
		buf.WriteString(f.value)
	}
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.writer.Write(buf.Bytes())
	return err
}

// WithAttrs stores attrs with the current group prefix already applied, so
// attrs bound before a later WithGroup keep their own keys.
func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	clone.attrs = append(clone.attrs, h.attrs...)
	for _, a := range attrs {
		clone.attrs = append(clone.attrs, slog.Attr{Key: h.prefix + a.Key, Value: a.Value})
	}
	return &clone
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.attrs = append([]slog.Attr(nil), h.attrs...)
	clone.prefix = h.prefix + name + "."
	return &clone
}

// FormatSubject builds the "Camera #N (StepX)" prefix used in console output.
func FormatSubject(camera, step string) string {
	camera = strings.TrimSpace(camera)
	step = strings.TrimSpace(step)
	switch {
	case camera != "" && step != "":
		return "Camera #" + camera + " (" + step + ")"
	case camera != "":
		return "Camera #" + camera
	default:
		return step
	}
}

type consoleField struct {
	key   string
	value string
}

// consoleLine collects a record's attributes. Component, camera and step are
// lifted into the line prefix; the rest become key=value fields with later
// duplicates replacing earlier ones in place.
type consoleLine struct {
	component string
	camera    string
	step      string
	fields    []consoleField
}

func (l *consoleLine) add(prefix string, attr slog.Attr) {
	if attr.Equal(slog.Attr{}) {
		return
	}
	v := attr.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		next := prefix
		if attr.Key != "" {
			next = prefix + attr.Key + "."
		}
		for _, a := range v.Group() {
			l.add(next, a)
		}
		return
	}

	key := prefix + attr.Key
	switch key {
	case FieldComponent:
		if l.component == "" {
			l.component = plainValue(v)
		}
		return
	case FieldCameraID:
		if l.camera == "" {
			l.camera = plainValue(v)
		}
		return
	case FieldStep:
		if l.step == "" {
			l.step = plainValue(v)
		}
		return
	case FieldConnID:
		id := plainValue(v)
		if len(id) > shortConnID {
			id = id[:shortConnID]
		}
		l.set("conn", id)
		return
	}
	l.set(key, quoteIfNeeded(plainValue(v)))
}

func (l *consoleLine) set(key, value string) {
	if key == "" {
		return
	}
	for i := range l.fields {
		if l.fields[i].key == key {
			l.fields[i].value = value
			return
		}
	}
	l.fields = append(l.fields, consoleField{key: key, value: value})
}

// plainValue renders v without quoting. Raw image bytes are summarized so a
// stray attr never dumps a JPEG into the log.
func plainValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339)
	case slog.KindAny:
		switch x := v.Any().(type) {
		case error:
			return x.Error()
		case []byte:
			return fmt.Sprintf("<%d bytes>", len(x))
		default:
			return fmt.Sprint(x)
		}
	default:
		return v.String()
	}
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsFunc(s, func(r rune) bool { return r <= ' ' || r == '=' || r == '"' }) {
		return strconv.Quote(s)
	}
	return s
}

func levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN "
	case level >= slog.LevelInfo:
		return "INFO "
	default:
		return "DEBUG"
	}
}
