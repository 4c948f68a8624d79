package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, used, err := Load(New(), filepath.Join(t.TempDir(), "none.yaml"))
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Empty(t, used)

	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	cfg, used, err = Load(New(), "")
	require.NoError(t, err)
	assert.Empty(t, used)
	assert.Equal(t, "ollama", cfg.Embedder.Type)
	assert.Equal(t, 1024, cfg.Chunker.Size)
	assert.Equal(t, 10, cfg.Chunker.Overlap)
	assert.Equal(t, "flat", cfg.Index.Type)
	assert.Equal(t, 32, cfg.Index.M)
	assert.Equal(t, 100, cfg.Report.BatchSize)
}

func TestSaveLoadAndEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "conf", "filesift.yaml")
	v := New()
	cfg, _, err := Load(v, "")
	require.NoError(t, err)
	cfg.Embedder.Type = "tfidf"
	cfg.Index.Type = "ivf"
	cfg.Index.NList = 16
	require.NoError(t, Save(path, cfg))

	t.Setenv("FILESIFT_CHUNKER_SIZE", "256")
	loaded, used, err := Load(New(), path)
	require.NoError(t, err)
	assert.Equal(t, path, used)
	assert.Equal(t, "tfidf", loaded.Embedder.Type)
	assert.Equal(t, "ivf", loaded.Index.Type)
	assert.Equal(t, 16, loaded.Index.NList)
	assert.Equal(t, 256, loaded.Chunker.Size)
}
