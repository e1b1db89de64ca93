package config

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherReloadsOnChange(t *testing.T) {
	projectDir := isolate(t)
	configPath := filepath.Join(projectDir, ".gitmem", "config.yml")
	writeFile(t, configPath, "project: before\n")

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(projectDir, 20*time.Millisecond, logrus.NewEntry(logrus.New()), func(cfg *Config) {
		reloaded <- cfg
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	writeFile(t, configPath, "project: after\n")

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "after", cfg.Project)
	case <-time.After(5 * time.Second):
		t.Fatal("configuration was not reloaded")
	}
}
