package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestStripANSI(t *testing.T) {
	t.Parallel()

	in := "\x1b[34mINFO\x1b[0m plain \x1b[31mERR\x1b[0m"
	got := stripANSI(in)
	want := "INFO plain ERR"
	if got != want {
		t.Fatalf("stripANSI()=%q want=%q", got, want)
	}
}

func TestWrapSegments_WrapsForNarrowWidth(t *testing.T) {
	t.Parallel()

	s1 := strings.Repeat("a", 20)
	s2 := strings.Repeat("b", 20)
	s3 := strings.Repeat("c", 20)

	lines := wrapSegments([]string{s1, s2, s3}, " | ", 60, "-> ")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d (%v)", len(lines), lines)
	}
	if lines[0] != s1+" | "+s2 {
		t.Fatalf("line[0]=%q want %q", lines[0], s1+" | "+s2)
	}
	if lines[1] != "-> "+s3 {
		t.Fatalf("line[1]=%q want %q", lines[1], "-> "+s3)
	}
}

func TestWrapSegments_TruncatesLongSegment(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 80)

	lines := wrapSegments([]string{"head", long}, " ", 60, "-> ")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	for _, l := range lines {
		if visualLen(l) > 60 {
			t.Fatalf("line too wide: %q (visualLen=%d)", l, visualLen(l))
		}
	}
	if !strings.HasPrefix(lines[1], "-> ") || !strings.HasSuffix(lines[1], ellipsis) {
		t.Fatalf("expected indented truncated line, got %q", lines[1])
	}
}

func TestWrapSegments_IgnoresEscapesWhenMeasuring(t *testing.T) {
	t.Parallel()

	colored := "\x1b[32m" + strings.Repeat("g", 30) + "\x1b[0m"
	lines := wrapSegments([]string{colored, strings.Repeat("p", 25)}, " ", 60, "  ")
	if len(lines) != 1 {
		t.Fatalf("escape codes must not count toward width: %q", lines)
	}
}

func TestTerminalWidth_PrefersExplicitOverride(t *testing.T) {
	h := &prettyHandler{}

	t.Setenv("PACSCHAT_LOG_WIDTH", "88")
	t.Setenv("COLUMNS", "132")
	if got := h.terminalWidth(); got != 88 {
		t.Fatalf("terminalWidth()=%d want 88", got)
	}
}

func TestTerminalWidth_UsesColumnsWhenOverrideMissing(t *testing.T) {
	h := &prettyHandler{}

	t.Setenv("PACSCHAT_LOG_WIDTH", "")
	t.Setenv("COLUMNS", "72")
	if got := h.terminalWidth(); got != 72 {
		t.Fatalf("terminalWidth()=%d want 72", got)
	}
}

func TestTerminalWidth_FallbackDefault(t *testing.T) {
	h := &prettyHandler{}

	t.Setenv("PACSCHAT_LOG_WIDTH", "10")
	t.Setenv("COLUMNS", "20")
	if got := h.terminalWidth(); got != defaultLogWidth {
		t.Fatalf("terminalWidth()=%d want %d", got, defaultLogWidth)
	}
}

func TestRemapPrettyKey(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"status_class":         "class",
		"duration_ms":          "duration",
		"req.status_class":     "req.class",
		"http.req.duration_ms": "http.req.duration",
		"req.method":           "req.method",
		"status_class.note":    "status_class.note",
	}
	for in, want := range cases {
		if got := remapPrettyKey(in); got != want {
			t.Fatalf("remapPrettyKey(%q)=%q want=%q", in, got, want)
		}
	}
}

func TestPrettyHandler_PlainRecord(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}, false))

	log.With("conn_id", "01J").WithGroup("req").Warn("http.request",
		"method", "get",
		"status", 404,
		"status_class", "4xx",
		"duration_ms", int64(12),
		"note", "two words",
	)

	out := strings.TrimSpace(buf.String())
	for _, want := range []string{
		"lvl=[WARN]",
		"msg=http.request",
		"conn_id=01J",
		"req.method=GET",
		"req.status=404",
		"req.class=4xx",
		"req.duration=12ms",
		`req.note="two words"`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q missing %q", out, want)
		}
	}
	if strings.Contains(out, "req.conn_id") {
		t.Fatalf("attrs added before WithGroup must stay unqualified: %q", out)
	}
	if strings.Contains(out, "\n") {
		t.Fatalf("uncolored output must stay on one line: %q", out)
	}
}

func TestPrettyHandler_ColoredStatus(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := newPrettyHandler(&buf, nil, true).(*prettyHandler)

	got := h.colorizeStatusCode(503)
	if got == "503" {
		t.Fatalf("expected escape codes around status, got %q", got)
	}
	if stripANSI(got) != "503" {
		t.Fatalf("stripped=%q want=503", stripANSI(got))
	}
}
