package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"horizon-research-engine/internal/config"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Fields is an alias so callers do not have to import logrus directly.
type Fields = logrus.Fields

type Logger struct {
	entry *logrus.Entry
}

func New(cfg config.LogConfig) (*Logger, error) {
	base := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	switch cfg.Format {
	case "text":
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	}

	var output io.Writer
	switch cfg.Output {
	case "file":
		if cfg.FilePath == "" {
			return nil, fmt.Errorf("log output is file but no file path configured")
		}
		output = &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		}
	case "stderr":
		output = os.Stderr
	default:
		output = os.Stdout
	}
	base.SetOutput(output)

	return &Logger{entry: logrus.NewEntry(base)}, nil
}

func (l *Logger) WithFields(fields Fields) *Logger {
	return &Logger{entry: l.entry.WithFields(fields)}
}

func (l *Logger) WithError(err error) *Logger {
	return &Logger{entry: l.entry.WithError(err)}
}

func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(pairsToFields(keysAndValues)).Debug(msg)
}

func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(pairsToFields(keysAndValues)).Info(msg)
}

func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(pairsToFields(keysAndValues)).Warn(msg)
}

func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(pairsToFields(keysAndValues)).Error(msg)
}

// LogService records one call into an external service with its duration and outcome.
func (l *Logger) LogService(service, operation string, duration time.Duration, details map[string]interface{}, err error) {
	entry := l.entry.WithFields(Fields{
		"service":     service,
		"operation":   operation,
		"duration_ms": duration.Milliseconds(),
	})
	if details != nil {
		entry = entry.WithFields(Fields(details))
	}
	if err != nil {
		entry.WithError(err).Error("Service Call Failed")
		return
	}
	entry.Debug("Service Call Completed")
}

// LogAgent records one agent operation (decision, decomposition, synthesis) for a research run.
func (l *Logger) LogAgent(researchID, agent, operation string, duration time.Duration, details map[string]interface{}, err error) {
	entry := l.entry.WithFields(Fields{
		"research_id": researchID,
		"agent":       agent,
		"operation":   operation,
		"duration_ms": duration.Milliseconds(),
	})
	if details != nil {
		entry = entry.WithFields(Fields(details))
	}
	if err != nil {
		entry.WithError(err).Error("Agent Operation Failed")
		return
	}
	entry.Info("Agent Operation Completed")
}

// LogResearch records a research lifecycle event.
func (l *Logger) LogResearch(researchID, event string, duration time.Duration, err error) {
	entry := l.entry.WithFields(Fields{
		"research_id": researchID,
		"event":       event,
		"duration_ms": duration.Milliseconds(),
	})
	if err != nil {
		entry.WithError(err).Error("Research Event")
		return
	}
	entry.Info("Research Event")
}

func pairsToFields(keysAndValues []interface{}) Fields {
	fields := Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", keysAndValues[i])
		}
		fields[key] = keysAndValues[i+1]
	}
	return fields
}
