package logging

import (
	"fmt"
	"os"
	"time"
)

// EarlyLog writes to stderr before the structured logger exists, such as
// when the config cannot be read.
type EarlyLog struct {
	service string
}

func NewEarlyLog(service string) *EarlyLog {
	return &EarlyLog{service: service}
}

func (l *EarlyLog) write(level, msg string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "%s %s [%s] %s\n", time.Now().UTC().Format(time.RFC3339), level, l.service, fmt.Sprintf(msg, args...))
}

func (l *EarlyLog) Fatal(msg string, args ...interface{}) {
	l.write("FATAL", msg, args...)
	os.Exit(1)
}

func (l *EarlyLog) Warn(msg string, args ...interface{}) {
	l.write("WARN", msg, args...)
}
