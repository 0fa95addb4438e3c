package diff

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnifiedIdenticalContent(t *testing.T) {
	out := Unified("v001", "v002", "same\ncontent\n", "same\ncontent\n")
	assert.Empty(t, out)
}

func TestUnifiedSimpleChange(t *testing.T) {
	oldContent := "line one\nline two\nline three\n"
	newContent := "line one\nline 2\nline three\n"

	out := Unified("v001", "v002", oldContent, newContent)

	require.True(t, strings.HasPrefix(out, "--- v001\n+++ v002\n"), "header mismatch: %q", out)
	assert.Contains(t, out, "-line two\n")
	assert.Contains(t, out, "+line 2\n")
	assert.Contains(t, out, " line one\n")
	assert.Contains(t, out, " line three\n")
	assert.Contains(t, out, "@@ -1,3 +1,3 @@")
}

func TestUnifiedAddition(t *testing.T) {
	out := Unified("v001", "v002", "", "brand new chapter\n")

	assert.Contains(t, out, "@@ -0,0 +1 @@")
	assert.Contains(t, out, "+brand new chapter\n")
	assert.NotContains(t, out, "\n-")
}

func TestUnifiedIsIdempotent(t *testing.T) {
	oldContent := "a\nb\nc\n"
	newContent := "a\nB\nc\nd\n"

	first := Unified("v001", "v002", oldContent, newContent)
	second := Unified("v001", "v002", oldContent, newContent)
	assert.Equal(t, first, second, "cached and recomputed output must match")

	// A fresh engine (no cache) must produce the same text.
	fresh := NewEngine().Unified("v001", "v002", oldContent, newContent)
	assert.Equal(t, first, fresh)
}

func TestUnifiedContextTrimming(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 20; i++ {
		sb.WriteString("paragraph\n")
	}
	oldContent := sb.String() + "ending\n"
	newContent := sb.String() + "a different ending\n"

	out := Unified("v001", "v002", oldContent, newContent)

	// 20 unchanged lines must be trimmed to 3 context lines.
	assert.Equal(t, 3, strings.Count(out, " paragraph\n"))
	assert.Contains(t, out, "@@ -18,4 +18,4 @@")
}

func TestUnifiedSplitsDistantChangesIntoHunks(t *testing.T) {
	middle := strings.Repeat("same\n", 10)
	oldContent := "first\n" + middle + "last\n"
	newContent := "FIRST\n" + middle + "LAST\n"

	out := Unified("v001", "v002", oldContent, newContent)

	assert.Equal(t, 2, strings.Count(out, "@@ -"), "expected two hunks:\n%s", out)
	assert.Contains(t, out, "-first\n")
	assert.Contains(t, out, "+FIRST\n")
	assert.Contains(t, out, "-last\n")
	assert.Contains(t, out, "+LAST\n")
}

// TestUnifiedReconstructsNewContent applies the diff to the old content
// and checks that the result is the new content, i.e. the output honors
// unified-diff semantics.
func TestUnifiedReconstructsNewContent(t *testing.T) {
	oldContent := "alpha\nbeta\ngamma\ndelta\n"
	newContent := "alpha\nbeta2\ngamma\ndelta\nepsilon\n"

	out := Unified("v001", "v002", oldContent, newContent)

	var rebuilt []string
	for _, line := range strings.Split(out, "\n") {
		if line == "" || strings.HasPrefix(line, "---") ||
			strings.HasPrefix(line, "+++") || strings.HasPrefix(line, "@@") {
			continue
		}
		switch line[0] {
		case ' ', '+':
			rebuilt = append(rebuilt, line[1:])
		}
	}
	assert.Equal(t, newContent, strings.Join(rebuilt, "\n")+"\n")
}
