package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicecollect/internal/config"
	"voicecollect/internal/metrics"
	"voicecollect/internal/notify"
	"voicecollect/internal/prompts"
	"voicecollect/pkg/model"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "texts.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadPrompts(t *testing.T) {
	want := []model.Prompt{{ID: "a", Text: "Hello"}, {ID: "b", Text: "World"}}

	list, err := readPrompts(writeFile(t, `[{"id":"a","text":"Hello"},{"id":"b","text":"World"}]`))
	require.NoError(t, err)
	assert.Equal(t, want, list)

	list, err = readPrompts(writeFile(t, ` {"texts":[{"id":"a","text":"Hello"},{"id":"b","text":"World"}]}`))
	require.NoError(t, err)
	assert.Equal(t, want, list)
}

func TestReadPrompts_Invalid(t *testing.T) {
	_, err := readPrompts(writeFile(t, `{"prompts":[]}`))
	assert.Error(t, err)

	_, err = readPrompts(writeFile(t, `[{"id":`))
	assert.Error(t, err)

	_, err = readPrompts(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	var cfg config.Config
	cfg.Storage.Provider = "memory"
	cfg.Storage.Namespace = "voice-recordings"
	cfg.Storage.CollisionPolicy = "reject"
	cfg.Storage.RetryAttempts = 1
	cfg.Queue.Backend = "file"
	cfg.Queue.FilePath = filepath.Join(t.TempDir(), "texts.json")
	require.NoError(t, cfg.Validate())
	return &cfg
}

func TestDeps_MemoryWiring(t *testing.T) {
	cfg := memoryConfig(t)
	d := newDeps(cfg)
	defer d.Close()
	ctx := context.Background()

	queue, err := d.queue(ctx)
	require.NoError(t, err)
	assert.IsType(t, &prompts.FileQueue{}, queue)

	gateway, err := d.gateway(ctx, metrics.New())
	require.NoError(t, err)
	assert.Equal(t, "memory", gateway.ProviderName())
	assert.Equal(t, "voice-recordings", gateway.Namespace())

	assert.Nil(t, d.publisher())
	assert.IsType(t, notify.Nop{}, d.notifier())
}

func TestDeps_UnknownBackend(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Queue.Backend = "mongo"

	_, err := newDeps(cfg).queue(context.Background())
	assert.Error(t, err)
}
