package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var (
	base      = newBaseLogger()
	loggers   = make(map[string]*logrus.Entry)
	loggersMu sync.Mutex
	logFile   *os.File
)

func newBaseLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(output)
	logger.SetFormatter(&TextFormatter{})
	level, err := logrus.ParseLevel(os.Getenv("GROVE_MEMORY_LOG_LEVEL"))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

// NewLogger returns the logger for a specific component.
// Entries are cached per component; all of them share the process-wide
// configuration applied by Configure.
func NewLogger(component string) *logrus.Entry {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	if logger, exists := loggers[component]; exists {
		return logger
	}

	entry := base.WithField("component", component)
	loggers[component] = entry
	return entry
}

// Configure applies the logging section of the configuration.
// logDir is where the default file sink goes; an empty logDir disables it.
func Configure(cfg Config, logDir string) error {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	levelStr := "info"
	if env := os.Getenv("GROVE_MEMORY_LOG_LEVEL"); env != "" {
		levelStr = env
	} else if cfg.Level != "" {
		levelStr = cfg.Level
	}
	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	base.SetReportCaller(os.Getenv("GROVE_MEMORY_LOG_CALLER") == "true" || cfg.ReportCaller)

	stderrIsTerminal := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
	switch cfg.Format.Preset {
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{})
	case "simple":
		base.SetFormatter(&TextFormatter{Config: FormatConfig{
			DisableTimestamp: true,
			DisableComponent: true,
		}})
	default:
		base.SetFormatter(&TextFormatter{Config: cfg.Format, Color: stderrIsTerminal})
	}

	var writers []io.Writer

	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}

	var configErr error
	logFilePath := cfg.File.Path
	if logFilePath == "" && logDir != "" {
		logFilePath = filepath.Join(logDir, fmt.Sprintf("memory-%s.log", time.Now().Format("2006-01-02")))
	}
	if !cfg.File.Disabled && logFilePath != "" {
		if err := os.MkdirAll(filepath.Dir(logFilePath), 0755); err != nil {
			configErr = fmt.Errorf("create log directory: %w", err)
		} else if file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err != nil {
			configErr = fmt.Errorf("open log file: %w", err)
		} else {
			logFile = file
			writers = append(writers, file)
		}
	}

	stderrMode := cfg.Format.StructuredToStderr
	if stderrMode == "" {
		stderrMode = "auto"
	}
	switch stderrMode {
	case "always":
		writers = append(writers, os.Stderr)
	case "never":
	default:
		// auto: interactive terminals only see logs in debug mode
		if level >= logrus.DebugLevel || !stderrIsTerminal {
			writers = append(writers, os.Stderr)
		}
	}

	switch len(writers) {
	case 0:
		output.set(io.Discard)
	case 1:
		output.set(writers[0])
	default:
		output.set(io.MultiWriter(writers...))
	}
	base.SetOutput(output)

	return configErr
}

// LogFilePath returns the file currently receiving log output, if any.
func LogFilePath() string {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	if logFile == nil {
		return ""
	}
	return logFile.Name()
}

// SetLevel changes the level of every component logger.
func SetLevel(level logrus.Level) {
	base.SetLevel(level)
}
