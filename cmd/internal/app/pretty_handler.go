package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"
)

const (
	defaultLogWidth = 100
	minLogWidth     = 40
	wrapIndent      = "    "
	ellipsis        = "…"
)

type prettyHandler struct {
	w      io.Writer
	opts   slog.HandlerOptions
	attrs  []scopedAttr
	groups []string
	color  bool
	st     *prettyStyles
	mu     *sync.Mutex
}

// scopedAttr is a WithAttrs attribute and the group path open when it was
// added.
type scopedAttr struct {
	prefix string
	attr   slog.Attr
}

// prettyStyles holds the palette; a nil *prettyStyles renders plain text.
type prettyStyles struct {
	dim, bold, path             lipgloss.Style
	debug, info, warn, err      lipgloss.Style
	get, post, del, otherMethod lipgloss.Style
	ok, redirect, client, fail  lipgloss.Style
}

func newPrettyStyles(w io.Writer) *prettyStyles {
	r := lipgloss.NewRenderer(w)
	r.SetColorProfile(termenv.ANSI)
	fg := func(c string) lipgloss.Style { return r.NewStyle().Foreground(lipgloss.Color(c)) }

	return &prettyStyles{
		dim:         r.NewStyle().Faint(true),
		bold:        r.NewStyle().Bold(true),
		path:        fg("6"),
		debug:       fg("5"),
		info:        fg("4"),
		warn:        fg("3"),
		err:         fg("1"),
		get:         fg("2"),
		post:        fg("4"),
		del:         fg("1"),
		otherMethod: fg("3"),
		ok:          fg("2"),
		redirect:    fg("6"),
		client:      fg("3"),
		fail:        fg("1").Bold(true),
	}
}

func newPrettyHandler(w io.Writer, opts *slog.HandlerOptions, color bool) slog.Handler {
	h := &prettyHandler{
		w:     w,
		color: color,
		mu:    &sync.Mutex{},
	}
	if opts != nil {
		h.opts = *opts
	}
	if color {
		h.st = newPrettyStyles(w)
	}
	return h
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	segs := []string{
		"ts=" + h.paint(h.style().dim, ts.Format("15:04:05.000")),
		"lvl=" + h.levelTag(r.Level),
		"msg=" + h.paint(h.style().bold, r.Message),
	}

	if h.opts.AddSource && r.PC != 0 {
		frames := runtime.CallersFrames([]uintptr{r.PC})
		frame, _ := frames.Next()
		if frame.File != "" {
			segs = append(segs, "src="+h.paint(h.style().dim, fmt.Sprintf("%s:%d", filepath.Base(frame.File), frame.Line)))
		}
	}

	for _, sa := range h.attrs {
		segs = h.appendAttr(segs, sa.attr, sa.prefix)
	}
	prefix := strings.Join(h.groups, ".")
	r.Attrs(func(a slog.Attr) bool {
		segs = h.appendAttr(segs, a, prefix)
		return true
	})

	var out string
	if h.color {
		out = strings.Join(wrapSegments(segs, " ", h.terminalWidth(), wrapIndent), "\n")
	} else {
		out = strings.Join(segs, " ")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, out+"\n")
	return err
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.attrs = slices.Clone(h.attrs)
	prefix := strings.Join(h.groups, ".")
	for _, a := range attrs {
		cp.attrs = append(cp.attrs, scopedAttr{prefix: prefix, attr: a})
	}
	return &cp
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	if strings.TrimSpace(name) == "" {
		return h
	}
	cp := *h
	cp.groups = append(append([]string{}, h.groups...), name)
	return &cp
}

// terminalWidth honors PACSCHAT_LOG_WIDTH, then COLUMNS. Values narrower than
// minLogWidth are ignored.
func (h *prettyHandler) terminalWidth() int {
	for _, key := range []string{"PACSCHAT_LOG_WIDTH", "COLUMNS"} {
		n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
		if err == nil && n >= minLogWidth {
			return n
		}
	}
	return defaultLogWidth
}

func (h *prettyHandler) appendAttr(segs []string, a slog.Attr, parent string) []string {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return segs
	}

	key := strings.TrimSpace(a.Key)
	if key == "" {
		return segs
	}

	fullKey := key
	if parent != "" {
		fullKey = parent + "." + key
	}

	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			segs = h.appendAttr(segs, ga, fullKey)
		}
		return segs
	}

	return append(segs, remapPrettyKey(fullKey)+"="+h.prettyValue(fullKey, a.Value))
}

func (h *prettyHandler) prettyValue(key string, v slog.Value) string {
	switch leafKey(key) {
	case "method":
		return h.colorizeHTTPMethod(strings.ToUpper(strings.TrimSpace(v.String())))
	case "path", "dest", "destination":
		return h.paint(h.style().path, strings.TrimSpace(v.String()))
	case "status":
		if n, ok := valueToInt64(v); ok {
			return h.colorizeStatusCode(int(n))
		}
	case "status_class", "class":
		return h.colorizeStatusClass(strings.TrimSpace(v.String()))
	case "duration_ms":
		if n, ok := valueToInt64(v); ok {
			return h.colorizeDurationMS(n)
		}
	case "result":
		return h.colorizeResult(strings.ToLower(strings.TrimSpace(v.String())))
	}

	return quoteIfNeeded(valueToString(v))
}

func (h *prettyHandler) style() *prettyStyles {
	if h.st == nil {
		return &prettyStyles{}
	}
	return h.st
}

func (h *prettyHandler) paint(s lipgloss.Style, text string) string {
	if !h.color || h.st == nil {
		return text
	}
	return s.Render(text)
}

func (h *prettyHandler) levelTag(level slog.Level) string {
	st := h.style()
	switch {
	case level >= slog.LevelError:
		return h.paint(st.err, "[ERROR]")
	case level >= slog.LevelWarn:
		return h.paint(st.warn, "[WARN]")
	case level < slog.LevelInfo:
		return h.paint(st.debug, "[DEBUG]")
	default:
		return h.paint(st.info, "[INFO]")
	}
}

func (h *prettyHandler) colorizeHTTPMethod(m string) string {
	st := h.style()
	switch m {
	case "GET", "HEAD":
		return h.paint(st.get, m)
	case "POST", "PUT", "PATCH":
		return h.paint(st.post, m)
	case "DELETE":
		return h.paint(st.del, m)
	default:
		return h.paint(st.otherMethod, m)
	}
}

func (h *prettyHandler) colorizeStatusCode(code int) string {
	return h.paintByClass(statusClass(code), strconv.Itoa(code))
}

func (h *prettyHandler) colorizeStatusClass(class string) string {
	return h.paintByClass(class, class)
}

func (h *prettyHandler) paintByClass(class, text string) string {
	st := h.style()
	switch class {
	case "2xx":
		return h.paint(st.ok, text)
	case "3xx":
		return h.paint(st.redirect, text)
	case "4xx":
		return h.paint(st.client, text)
	case "5xx":
		return h.paint(st.fail, text)
	default:
		return text
	}
}

func (h *prettyHandler) colorizeDurationMS(ms int64) string {
	text := strconv.FormatInt(ms, 10) + "ms"
	st := h.style()
	switch {
	case ms >= 1000:
		return h.paint(st.fail, text)
	case ms >= 250:
		return h.paint(st.client, text)
	default:
		return h.paint(st.dim, text)
	}
}

func (h *prettyHandler) colorizeResult(result string) string {
	st := h.style()
	switch result {
	case "success":
		return h.paint(st.ok, result)
	case "redirect":
		return h.paint(st.redirect, result)
	case "client_error":
		return h.paint(st.client, result)
	case "server_error":
		return h.paint(st.fail, result)
	default:
		return quoteIfNeeded(result)
	}
}

// wrapSegments greedily packs segments into lines of at most width columns.
// Continuation lines start with indent. A segment that cannot fit on a line
// of its own is truncated with an ellipsis.
func wrapSegments(segs []string, sep string, width int, indent string) []string {
	if width <= 0 {
		return []string{strings.Join(segs, sep)}
	}

	var (
		lines []string
		cur   strings.Builder
		empty = true
	)
	fit := func(seg, prefix string) string {
		budget := width - visualLen(prefix)
		if budget > 0 && visualLen(seg) > budget {
			return ansi.Truncate(seg, budget, ellipsis)
		}
		return seg
	}

	for _, seg := range segs {
		if empty {
			prefix := ""
			if len(lines) > 0 {
				prefix = indent
			}
			cur.WriteString(prefix + fit(seg, prefix))
			empty = false
			continue
		}
		if visualLen(cur.String())+visualLen(sep)+visualLen(seg) <= width {
			cur.WriteString(sep + seg)
			continue
		}
		lines = append(lines, cur.String())
		cur.Reset()
		cur.WriteString(indent + fit(seg, indent))
	}
	if !empty {
		lines = append(lines, cur.String())
	}
	return lines
}

func visualLen(s string) int { return ansi.StringWidth(s) }

func stripANSI(s string) string { return ansi.Strip(s) }

// remapPrettyKey shortens well-known leaf keys and keeps any group prefix.
func remapPrettyKey(k string) string {
	prefix := k[:len(k)-len(leafKey(k))]
	switch leafKey(k) {
	case "status_class":
		return prefix + "class"
	case "duration_ms":
		return prefix + "duration"
	default:
		return k
	}
}

// leafKey drops group prefixes: "req.method" -> "method".
func leafKey(k string) string {
	return k[strings.LastIndex(k, ".")+1:]
}

func valueToInt64(v slog.Value) (int64, bool) {
	switch v.Kind() {
	case slog.KindInt64:
		return v.Int64(), true
	case slog.KindUint64:
		return int64(v.Uint64()), true
	case slog.KindFloat64:
		return int64(v.Float64()), true
	case slog.KindString:
		n, err := strconv.ParseInt(strings.TrimSpace(v.String()), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func valueToString(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	default:
		return fmt.Sprint(v.Any())
	}
}

func quoteIfNeeded(s string) string {
	if s == "" {
		return `""`
	}
	if strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}
