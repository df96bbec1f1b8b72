package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger writes levelled, structured logs to a rotating file and stdout.
type Logger struct {
	*logrus.Logger
	file *lumberjack.Logger
}

func New(dir, level string) (*Logger, error) {
	if dir == "" {
		dir = "logs"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create logs folder failed: %v", err)
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	file := &lumberjack.Logger{
		Filename:   filepath.Join(dir, "farm-automation.log"),
		MaxSize:    10, // MB
		MaxBackups: 3,
		MaxAge:     7, // days
		Compress:   true,
	}

	base := logrus.New()
	base.SetLevel(lvl)
	base.SetOutput(io.MultiWriter(file, os.Stdout))
	base.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	return &Logger{Logger: base, file: file}, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	return &Logger{Logger: base}
}

// WithComponent scopes log lines to one component of the pipeline.
func (l *Logger) WithComponent(name string) *logrus.Entry {
	return l.Logger.WithField("component", name)
}

func (l *Logger) Close() {
	if l.file == nil {
		return
	}
	if err := l.file.Close(); err != nil {
		return
	}
}
