package debug

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// LogRecord is one entry in the debug session log.
type LogRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// DefaultLogCapacity caps the in-memory debug log.
const DefaultLogCapacity = 2000

// SetLogCapacity resizes the debug log ring, trimming oldest entries when the
// current log is already over the new cap. Non-positive values are ignored.
func (c *Controller) SetLogCapacity(n int) {
	if n <= 0 {
		return
	}
	c.logMu.Lock()
	defer c.logMu.Unlock()
	c.logCap = n
	if len(c.records) > c.logCap {
		c.records = c.records[len(c.records)-c.logCap:]
	}
}

func (c *Controller) addLog(level, format string, v ...interface{}) {
	c.logMu.Lock()
	defer c.logMu.Unlock()
	c.records = append(c.records, LogRecord{
		Timestamp: time.Now(),
		Level:     level,
		Message:   fmt.Sprintf(format, v...),
	})
	if len(c.records) > c.logCap {
		c.records = c.records[len(c.records)-c.logCap:]
	}
}

// Logs returns a copy of the debug log, optionally filtered by level.
func (c *Controller) Logs(level string) []LogRecord {
	c.logMu.Lock()
	defer c.logMu.Unlock()
	out := make([]LogRecord, 0, len(c.records))
	for _, rec := range c.records {
		if level == "" || rec.Level == level {
			out = append(out, rec)
		}
	}
	return out
}

// ClearLogs drops the debug log.
func (c *Controller) ClearLogs() {
	c.logMu.Lock()
	defer c.logMu.Unlock()
	c.records = nil
}

// ExportLogs writes the debug log to path as plain text.
func (c *Controller) ExportLogs(path string) error {
	records := c.Logs("")
	var b strings.Builder
	for _, rec := range records {
		fmt.Fprintf(&b, "%s [%s] %s\n",
			rec.Timestamp.Format("2006-01-02 15:04:05.000"), rec.Level, rec.Message)
	}
	return os.WriteFile(path, []byte(b.String()), 0644)
}

// ExportLogsJSON writes the debug log to path as JSON.
func (c *Controller) ExportLogsJSON(path string) error {
	records := c.Logs("")
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
