package supervisor

import (
	"bytes"
	"sync"

	"go.uber.org/zap"
)

const maxLineBytes = 64 * 1024

// lineWriter logs subprocess output one line at a time.
type lineWriter struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	logger *zap.Logger
	stream string
}

func newLineWriter(logger *zap.Logger, stream string) *lineWriter {
	return &lineWriter{logger: logger, stream: stream}
}

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
		w.emit(line[:len(line)-1])
	}
	if w.buf.Len() > maxLineBytes {
		w.emit(w.buf.Next(w.buf.Len()))
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
	w.logger.Debug("backend output", zap.String("stream", w.stream), zap.ByteString("line", line))
}
