package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"sync"
	"time"
)

// StdoutLogger writes one JSON object per line.
type StdoutLogger struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

func NewStdoutLogger() *StdoutLogger {
	return NewWriterLogger(os.Stdout)
}

func NewWriterLogger(w io.Writer) *StdoutLogger {
	return &StdoutLogger{out: w, now: time.Now}
}

func (l *StdoutLogger) log(level, msg string, fields map[string]any) {
	entry := map[string]any{
		"level": level,
		"msg":   msg,
		"time":  l.now().UTC().Format(time.RFC3339),
	}

	maps.Copy(entry, fields)
	for k, v := range entry {
		if err, ok := v.(error); ok {
			entry[k] = err.Error()
		}
	}

	b, err := json.Marshal(entry)
	if err != nil {
		b = []byte(fmt.Sprintf(`{"level":%q,"msg":%q,"log_error":%q}`, level, msg, err.Error()))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.out, string(b))
}

func (l *StdoutLogger) Info(msg string, fields map[string]any) {
	l.log("INFO", msg, fields)
}

func (l *StdoutLogger) Error(msg string, fields map[string]any) {
	l.log("ERROR", msg, fields)
}
