package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileLoader loads JSON artifacts from an artifacts directory. The
// logical key maps directly to a file name: "chapter_plan" loads
// artifacts/chapter_plan.json. Keys with a path separator are rejected.
type FileLoader struct {
	artifactsDir string
}

// NewFileLoader creates a loader rooted at opsDir/artifacts, creating
// the directory if needed.
func NewFileLoader(opsDir string) (*FileLoader, error) {
	dir := filepath.Join(opsDir, "artifacts")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifacts directory: %w", err)
	}
	return &FileLoader{artifactsDir: dir}, nil
}

// ArtifactsDir returns the directory artifacts are read from.
func (l *FileLoader) ArtifactsDir() string {
	return l.artifactsDir
}

// Load implements Loader. A missing or corrupt artifact is an error;
// the cache propagates it to the caller without recording an entry.
func (l *FileLoader) Load(ctx context.Context, key string) (any, error) {
	if strings.ContainsAny(key, `/\`) {
		return nil, fmt.Errorf("invalid artifact key %q", key)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := filepath.Join(l.artifactsDir, key+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("artifact not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read artifact %s: %w", path, err)
	}

	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("corrupt artifact %s: %w", path, err)
	}
	return value, nil
}

// SaveArtifact writes a JSON artifact so later stages (or the next run)
// can load it by key.
func (l *FileLoader) SaveArtifact(key string, value any) error {
	if strings.ContainsAny(key, `/\`) {
		return fmt.Errorf("invalid artifact key %q", key)
	}
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal artifact %q: %w", key, err)
	}
	path := filepath.Join(l.artifactsDir, key+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write artifact %s: %w", path, err)
	}
	return nil
}
