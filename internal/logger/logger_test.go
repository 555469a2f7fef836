package logger_test

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NamanBalaji/fetcharr/internal/logger"
)

func TestComponentAddsField(t *testing.T) {
	var buf bytes.Buffer
	logger.SetLogger(zerolog.New(&buf))
	t.Cleanup(func() { logger.SetLogger(zerolog.Nop()) })

	l := logger.Component("scheduler")
	l.Info().Str("id", "https://x/test.file").Msg("queued")

	assert.Contains(t, buf.String(), `"component":"scheduler"`)
	assert.Contains(t, buf.String(), `"id":"https://x/test.file"`)
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger.SetLogger(zerolog.New(&buf).Level(zerolog.WarnLevel))
	t.Cleanup(func() { logger.SetLogger(zerolog.Nop()) })

	logger.Debugf("debug %d", 1)
	logger.Infof("info %d", 2)
	assert.Empty(t, buf.String())

	logger.Warnf("warn %d", 3)
	logger.Errorf("error %d", 4)
	assert.Contains(t, buf.String(), "warn 3")
	assert.Contains(t, buf.String(), "error 4")
}

func TestInitLoggingToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "fetcharr.log")

	err := logger.InitLogging(logger.Options{Level: "debug", Format: "json", Path: path})
	require.NoError(t, err)
	t.Cleanup(func() {
		logger.Close()
		logger.SetLogger(zerolog.Nop())
	})

	logger.Debugf("hello %s", "file")

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "hello file")
	assert.Contains(t, string(b), `"level":"debug"`)
}

func TestInitLoggingSwitchesFiles(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.log")
	second := filepath.Join(dir, "second.log")

	t.Cleanup(func() {
		logger.Close()
		logger.SetLogger(zerolog.Nop())
	})

	require.NoError(t, logger.InitLogging(logger.Options{Format: "json", Path: first}))
	logger.Infof("to first")

	require.NoError(t, logger.InitLogging(logger.Options{Format: "json", Path: second}))
	logger.Infof("to second")

	logger.Close()
	logger.Infof("after close")

	a, err := os.ReadFile(first)
	require.NoError(t, err)
	b, err := os.ReadFile(second)
	require.NoError(t, err)

	assert.Contains(t, string(a), "to first")
	assert.NotContains(t, string(a), "to second")
	assert.Contains(t, string(b), "to second")
	assert.NotContains(t, string(b), "after close")
}

func TestInitLoggingWhileLogging(t *testing.T) {
	dir := t.TempDir()

	t.Cleanup(func() {
		logger.Close()
		logger.SetLogger(zerolog.Nop())
	})

	var wg sync.WaitGroup

	stop := make(chan struct{})

	for range 4 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for {
				select {
				case <-stop:
					return
				default:
					logger.Infof("busy")
				}
			}
		}()
	}

	for i := range 20 {
		path := filepath.Join(dir, fmt.Sprintf("%d.log", i%2))
		require.NoError(t, logger.InitLogging(logger.Options{Format: "json", Path: path}))

		if i%5 == 0 {
			logger.Close()
		}
	}

	close(stop)
	wg.Wait()
}
