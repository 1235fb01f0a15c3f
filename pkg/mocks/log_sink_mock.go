package mocks

import (
	"sync"

	"github.com/fractal-assets/flowengine/pkg/models"
)

// LogRecord is one line captured by RecordingLog.
type LogRecord struct {
	Level   models.LogLevel
	Message string
	Err     error
}

// RecordingLog is a protocol.LogSink that keeps every line for assertions.
type RecordingLog struct {
	mu      sync.Mutex
	records []LogRecord
}

func (r *RecordingLog) Log(level models.LogLevel, message string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = append(r.records, LogRecord{Level: level, Message: message, Err: err})
}

func (r *RecordingLog) Records() []LogRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]LogRecord(nil), r.records...)
}
