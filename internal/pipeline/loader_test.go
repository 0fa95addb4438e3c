package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLoaderRoundTrip(t *testing.T) {
	l, err := NewFileLoader(t.TempDir())
	require.NoError(t, err)

	plan := map[string]any{
		"title":    "Distributed Systems in Practice",
		"chapters": []any{"Consensus", "Replication"},
	}
	require.NoError(t, l.SaveArtifact("chapter_plan", plan))

	v, err := l.Load(context.Background(), "chapter_plan")
	require.NoError(t, err)
	assert.Equal(t, plan, v)
}

func TestFileLoaderMissingArtifact(t *testing.T) {
	l, err := NewFileLoader(t.TempDir())
	require.NoError(t, err)

	_, err = l.Load(context.Background(), "nope")
	require.ErrorContains(t, err, "artifact not found")
}

func TestFileLoaderCorruptArtifact(t *testing.T) {
	dir := t.TempDir()
	l, err := NewFileLoader(dir)
	require.NoError(t, err)

	path := filepath.Join(l.ArtifactsDir(), "broken.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err = l.Load(context.Background(), "broken")
	require.ErrorContains(t, err, "corrupt artifact")
}

func TestFileLoaderRejectsPathKeys(t *testing.T) {
	l, err := NewFileLoader(t.TempDir())
	require.NoError(t, err)

	_, err = l.Load(context.Background(), "../escape")
	require.ErrorContains(t, err, "invalid artifact key")

	err = l.SaveArtifact(`sub\dir`, "x")
	require.ErrorContains(t, err, "invalid artifact key")
}

func TestFileLoaderHonorsContext(t *testing.T) {
	l, err := NewFileLoader(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, l.SaveArtifact("plan", "x"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Load(ctx, "plan")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFileLoaderBacksContext(t *testing.T) {
	dir := t.TempDir()
	l, err := NewFileLoader(dir)
	require.NoError(t, err)
	require.NoError(t, l.SaveArtifact("glossary", map[string]any{"raft": "a consensus protocol"}))

	pc := NewContext(l)
	v, err := pc.Get(context.Background(), "glossary")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"raft": "a consensus protocol"}, v)
}
