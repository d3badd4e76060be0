package process

import (
	"bytes"
	"sync"
)

// maxLineLength bounds a buffered partial line; longer output is logged in
// chunks.
const maxLineLength = 4096

// lineWriter logs subprocess output one line at a time.
type lineWriter struct {
	logger Logger
	name   string
	stream string

	mu  sync.Mutex
	buf bytes.Buffer
}

func newLineWriter(logger Logger, name, stream string) *lineWriter {
	return &lineWriter{logger: logger, name: name, stream: stream}
}

// Write implements io.Writer. It never fails.
func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := w.buf.Next(i + 1)
		w.emit(line[:i])
	}
	for w.buf.Len() >= maxLineLength {
		w.emit(w.buf.Next(maxLineLength))
	}
	return len(p), nil
}

// Flush logs any trailing partial line.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.emit(w.buf.Next(w.buf.Len()))
	}
}

func (w *lineWriter) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(line) == 0 {
		return
	}
	w.logger.Debug("process output",
		"name", w.name,
		"stream", w.stream,
		"line", string(line),
	)
}
