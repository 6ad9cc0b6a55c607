package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

type LogLevel string

const (
	LevelInfo  LogLevel = "INFO"
	LevelDebug LogLevel = "DEBUG"
	LevelError LogLevel = "ERROR"
)

type LogFields map[string]interface{}

type Logger interface {
	WithFields(fields LogFields) Logger

	Info(action, message string)
	Debug(action, message string)
	Error(action string, err error)
}

// jsonLogger writes one JSON object per line.
type jsonLogger struct {
	mu         *sync.Mutex // Shared by all derived loggers writing to out
	out        io.Writer
	service    string
	hostname   string
	baseFields LogFields
}

// logEntry is the wire shape of a log line. Known dispatch fields get their
// own keys so log queries stay cheap; everything else lands in "fields".
type logEntry struct {
	Timestamp string   `json:"timestamp"`
	Level     LogLevel `json:"level"`
	Service   string   `json:"service"`
	Action    string   `json:"action"`
	Message   string   `json:"message"`
	Hostname  string   `json:"hostname"`
	RequestID string   `json:"request_id,omitempty"`
	RideID    string   `json:"ride_id,omitempty"`
	DriverID  string   `json:"driver_id,omitempty"`
	Cell      string   `json:"cell,omitempty"`

	Error *errorEntry `json:"error,omitempty"`

	Fields LogFields `json:"fields,omitempty"`
}

type errorEntry struct {
	Msg   string `json:"msg"`
	Stack string `json:"stack"`
}

// NewLogger creates a structured JSON logger writing to stdout.
func NewLogger(serviceName string) Logger {
	return NewLoggerTo(serviceName, os.Stdout)
}

// NewLoggerTo creates a logger writing to an arbitrary destination. Tests
// pass a buffer here.
func NewLoggerTo(serviceName string, out io.Writer) Logger {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}

	return &jsonLogger{
		mu:         &sync.Mutex{},
		out:        out,
		service:    serviceName,
		hostname:   host,
		baseFields: make(LogFields),
	}
}

// WithFields returns a logger that carries the merged fields on every entry.
func (l *jsonLogger) WithFields(fields LogFields) Logger {
	merged := make(LogFields, len(l.baseFields)+len(fields))
	for k, v := range l.baseFields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}

	return &jsonLogger{
		mu:         l.mu,
		out:        l.out,
		service:    l.service,
		hostname:   l.hostname,
		baseFields: merged,
	}
}

func (l *jsonLogger) Info(action, message string) {
	l.log(LevelInfo, action, message, nil)
}

func (l *jsonLogger) Debug(action, message string) {
	l.log(LevelDebug, action, message, nil)
}

// Error logs an error with a trimmed stack trace.
func (l *jsonLogger) Error(action string, err error) {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)

	errData := &errorEntry{
		Msg:   err.Error(),
		Stack: cleanStack(string(buf[:n])),
	}
	l.log(LevelError, action, err.Error(), errData)
}

func (l *jsonLogger) log(level LogLevel, action, message string, errData *errorEntry) {
	entry := &logEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level,
		Service:   l.service,
		Action:    action,
		Message:   message,
		Hostname:  l.hostname,
		Error:     errData,
		Fields:    make(LogFields),
	}

	for k, v := range l.baseFields {
		s, isString := v.(string)
		switch {
		case k == "ride_id" && isString:
			entry.RideID = s
		case k == "driver_id" && isString:
			entry.DriverID = s
		case k == "request_id" && isString:
			entry.RequestID = s
		case k == "cell" && isString:
			entry.Cell = s
		default:
			entry.Fields[k] = v
		}
	}

	if len(entry.Fields) == 0 {
		entry.Fields = nil
	}

	line, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal log entry: %v\n", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.out, string(line))
}

// cleanStack drops runtime and testing frames from a stack trace.
func cleanStack(stack string) string {
	lines := strings.Split(stack, "\n")
	var cleaned []string

	if len(lines) > 0 {
		cleaned = append(cleaned, lines[0])
	}

	for i := 1; i+1 < len(lines); i += 2 {
		funcName := lines[i]
		filePath := strings.TrimSpace(lines[i+1])

		if strings.HasPrefix(funcName, "runtime.") ||
			strings.HasPrefix(funcName, "testing.") ||
			strings.Contains(funcName, "logger.(*jsonLogger)") {
			continue
		}

		cleaned = append(cleaned, funcName, "    "+filePath)
	}

	return strings.Join(cleaned, "\n")
}
