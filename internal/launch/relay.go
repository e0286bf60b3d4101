package launch

import (
	"bytes"
	"sync"

	"github.com/rs/zerolog"
)

// lineWriter relays a worker's stderr through the launcher log, one event
// per line, tagged with the worker's rank.
type lineWriter struct {
	logger zerolog.Logger
	rank   int

	mu  sync.Mutex
	buf bytes.Buffer
}

func newLineWriter(logger zerolog.Logger, rank int) *lineWriter {
	return &lineWriter{logger: logger, rank: rank}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// Partial line: keep for the next write.
			w.buf.WriteString(line)
			break
		}
		w.emit(line[:len(line)-1])
	}
	return len(p), nil
}

// Flush emits whatever partial line remains, for use after worker exit.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() == 0 {
		return
	}
	w.emit(w.buf.String())
	w.buf.Reset()
}

func (w *lineWriter) emit(line string) {
	if line == "" {
		return
	}
	w.logger.Warn().Int("rank", w.rank).Msg(line)
}
