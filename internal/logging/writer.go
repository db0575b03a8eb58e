package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
)

const redacted = "***"

// Writer is an io.Writer that forwards external command output to slog one line at a time.
// Partial lines are buffered until a newline arrives or Flush is called. Registered
// secret values are masked before logging.
type Writer struct {
	logger *slog.Logger
	level  slog.Level
	stream string

	mu      sync.Mutex
	buf     bytes.Buffer
	secrets []string
}

// NewWriter constructs a Writer bound to the provided logger. stream labels the
// output ("stdout", "stderr").
func NewWriter(logger *slog.Logger, stream string, secrets ...string) *Writer {
	w := &Writer{logger: logger, level: slog.LevelInfo, stream: stream}
	for _, s := range secrets {
		if strings.TrimSpace(s) != "" {
			w.secrets = append(w.secrets, s)
		}
	}
	return w
}

// WithLevel sets the level used for forwarded lines.
func (w *Writer) WithLevel(level slog.Level) *Writer {
	w.level = level
	return w
}

// Write logs every complete line in p.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// no newline yet; keep the partial line for the next write
			w.buf.Reset()
			w.buf.WriteString(line)
			break
		}
		w.emit(line)
	}
	return len(p), nil
}

// Flush logs any buffered partial line.
func (w *Writer) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.emit(w.buf.String())
		w.buf.Reset()
	}
}

func (w *Writer) emit(line string) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" || w.logger == nil {
		return
	}
	w.logger.Log(context.Background(), w.level, "command output", "stream", w.stream, "line", w.mask(line))
}

func (w *Writer) mask(line string) string {
	for _, s := range w.secrets {
		line = strings.ReplaceAll(line, s, redacted)
	}
	return line
}
