package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	logger := NewLogger("test-component")
	require.NotNil(t, logger)
	assert.Equal(t, "test-component", logger.Data["component"])

	// Same component returns the cached entry
	assert.Same(t, logger, NewLogger("test-component"))
}

func TestLoggerOutput(t *testing.T) {
	var buf bytes.Buffer

	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&TextFormatter{Config: FormatConfig{}})

	entry := logger.WithField("component", "test")
	entry.Info("Test message")

	output := buf.String()
	assert.Contains(t, output, "[INFO]")
	assert.Contains(t, output, "[test]")
	assert.Contains(t, output, "Test message")
}

func TestSetOutputRedirectsComponentLoggers(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stderr) })

	NewLogger("sink-test").Warn("redirected")
	assert.Contains(t, buf.String(), "[WARN] [sink-test] redirected")
}

func TestTextFormatter(t *testing.T) {
	tests := []struct {
		name    string
		config  FormatConfig
		entry   *logrus.Entry
		want    []string
		notWant []string
	}{
		{
			name:   "default format",
			config: FormatConfig{},
			entry: &logrus.Entry{
				Level:   logrus.InfoLevel,
				Message: "test message",
				Data: logrus.Fields{
					"component":  "registry",
					"session_id": "s1",
				},
			},
			want: []string{"[INFO]", "[registry]", "test message", "session_id=s1"},
		},
		{
			name: "simple format",
			config: FormatConfig{
				DisableTimestamp: true,
				DisableComponent: true,
			},
			entry: &logrus.Entry{
				Level:   logrus.WarnLevel,
				Message: "warning message",
				Data: logrus.Fields{
					"component": "registry",
				},
			},
			want:    []string{"[WARN]", "warning message"},
			notWant: []string{"[registry]"},
		},
		{
			name:   "caller information with function name",
			config: FormatConfig{},
			entry: func() *logrus.Entry {
				logger := logrus.New()
				logger.SetReportCaller(true)
				return &logrus.Entry{
					Logger:  logger,
					Level:   logrus.InfoLevel,
					Message: "test message with caller",
					Data:    logrus.Fields{"component": "threads"},
					Caller: &runtime.Frame{
						File:     "/path/to/file.go",
						Line:     42,
						Function: "github.com/example/package.TestFunction",
					},
				}
			}(),
			want: []string{"[INFO]", "[threads]", "[file.go:42 package.TestFunction]"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			formatter := &TextFormatter{Config: tt.config}
			tt.entry.Time = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

			out, err := formatter.Format(tt.entry)
			require.NoError(t, err)
			for _, w := range tt.want {
				assert.Contains(t, string(out), w)
			}
			for _, nw := range tt.notWant {
				assert.NotContains(t, string(out), nw)
			}
		})
	}
}

func TestFormatterSortsFields(t *testing.T) {
	formatter := &TextFormatter{Config: FormatConfig{DisableTimestamp: true}}
	entry := &logrus.Entry{
		Level:   logrus.InfoLevel,
		Message: "m",
		Data:    logrus.Fields{"b": 2, "a": 1, "c": 3},
	}
	out, err := formatter.Format(entry)
	require.NoError(t, err)
	assert.True(t, strings.Index(string(out), "a=1") < strings.Index(string(out), "b=2"))
	assert.True(t, strings.Index(string(out), "b=2") < strings.Index(string(out), "c=3"))
}

func TestConfigureFileSink(t *testing.T) {
	t.Setenv("GROVE_MEMORY_LOG_LEVEL", "")
	dir := t.TempDir()
	path := filepath.Join(dir, "memory.log")

	require.NoError(t, Configure(Config{
		Level:  "debug",
		File:   FileSinkConfig{Path: path},
		Format: FormatConfig{StructuredToStderr: "never"},
	}, ""))
	t.Cleanup(func() {
		_ = Configure(Config{File: FileSinkConfig{Disabled: true}}, "")
	})

	NewLogger("sink-test").Debug("written to file")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
	assert.Equal(t, path, LogFilePath())
}
