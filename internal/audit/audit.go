package audit

import (
	"encoding/json"
	"fmt"
	"honeyguard/internal/types"
	"os"
	"sync"
)

// Logger appends decision records to a JSONL audit trail
type Logger struct {
	mu       sync.Mutex
	filePath string
}

// NewLogger creates a new audit logger. An empty path disables the trail.
func NewLogger(filePath string) *Logger {
	return &Logger{
		filePath: filePath,
	}
}

// LogDecision writes one record as a single JSON line
func (l *Logger) LogDecision(rec types.DecisionRecord) error {
	if l == nil || l.filePath == "" {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(rec); err != nil {
		return fmt.Errorf("failed to encode decision: %w", err)
	}
	return f.Sync()
}
