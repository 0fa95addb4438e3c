// Package diff computes unified diffs between two revisions of chapter
// content using the sergi/go-diff engine, with caching for repeated
// pairs. The version store uses it both for eager diff generation on
// save and for on-demand recomputation.
package diff

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// contextLines is the number of unchanged lines shown around each change.
const contextLines = 3

// Engine provides unified diff computation with result caching.
type Engine struct {
	dmp   *diffmatchpatch.DiffMatchPatch
	cache sync.Map // cacheKey -> rendered hunk body
}

// cacheKey identifies a content pair independent of labels.
type cacheKey struct {
	oldHash uint64
	newHash uint64
}

// NewEngine creates a diff engine tuned for prose content.
func NewEngine() *Engine {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0 // favor accuracy over speed
	return &Engine{dmp: dmp}
}

// DefaultEngine is a shared engine for general use.
var DefaultEngine = NewEngine()

// Unified returns the unified diff between oldContent and newContent,
// labeled with fromLabel and toLabel. Identical inputs yield an empty
// string. The hunk body is cached per content pair, so repeated calls
// return byte-identical output.
func (e *Engine) Unified(fromLabel, toLabel, oldContent, newContent string) string {
	if oldContent == newContent {
		return ""
	}

	key := cacheKey{fnv64(oldContent), fnv64(newContent)}
	if cached, ok := e.cache.Load(key); ok {
		return renderHeader(fromLabel, toLabel) + cached.(string)
	}

	body := e.computeBody(oldContent, newContent)
	e.cache.Store(key, body)

	return renderHeader(fromLabel, toLabel) + body
}

// Unified is a convenience wrapper around the default engine.
func Unified(fromLabel, toLabel, oldContent, newContent string) string {
	return DefaultEngine.Unified(fromLabel, toLabel, oldContent, newContent)
}

// ClearCache drops all cached hunk bodies.
func (e *Engine) ClearCache() {
	e.cache = sync.Map{}
}

func renderHeader(fromLabel, toLabel string) string {
	return fmt.Sprintf("--- %s\n+++ %s\n", fromLabel, toLabel)
}

// opcode describes one edit over the line slices:
// oldLines[i1:i2] corresponds to newLines[j1:j2].
type opcode struct {
	tag            byte // '=', '-', '+'
	i1, i2, j1, j2 int
}

// computeBody produces the hunk body (everything after the ---/+++ header).
func (e *Engine) computeBody(oldContent, newContent string) string {
	oldLines := splitLines(oldContent)
	newLines := splitLines(newContent)

	ops := e.lineOpcodes(oldContent, newContent)

	var sb strings.Builder
	for _, group := range groupOpcodes(ops, contextLines) {
		writeHunk(&sb, group, oldLines, newLines)
	}
	return sb.String()
}

// lineOpcodes runs a line-level diff and converts the result into
// index-based opcodes over the two line slices. The line-mode reduction
// avoids newline boundary artifacts when mapping back to whole lines.
func (e *Engine) lineOpcodes(oldContent, newContent string) []opcode {
	a, b, lineArray := e.dmp.DiffLinesToChars(oldContent, newContent)
	diffs := e.dmp.DiffMain(a, b, false)
	diffs = e.dmp.DiffCharsToLines(diffs, lineArray)

	var ops []opcode
	i, j := 0, 0
	for _, d := range diffs {
		n := countLines(d.Text)
		if n == 0 {
			continue
		}
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			ops = append(ops, opcode{'=', i, i + n, j, j + n})
			i += n
			j += n
		case diffmatchpatch.DiffDelete:
			ops = append(ops, opcode{'-', i, i + n, j, j})
			i += n
		case diffmatchpatch.DiffInsert:
			ops = append(ops, opcode{'+', i, i, j, j + n})
			j += n
		}
	}
	return ops
}

// groupOpcodes trims long runs of unchanged lines to the context size
// and splits the opcode list into hunk groups, mirroring the classic
// unified-diff grouping rule (split when an equal run exceeds twice the
// context).
func groupOpcodes(ops []opcode, ctx int) [][]opcode {
	if len(ops) == 0 {
		return nil
	}

	// Clamp the leading and trailing equal runs.
	trimmed := make([]opcode, len(ops))
	copy(trimmed, ops)
	if first := &trimmed[0]; first.tag == '=' {
		if first.i2-first.i1 > ctx {
			first.i1 = first.i2 - ctx
			first.j1 = first.j2 - ctx
		}
	}
	if last := &trimmed[len(trimmed)-1]; last.tag == '=' {
		if last.i2-last.i1 > ctx {
			last.i2 = last.i1 + ctx
			last.j2 = last.j1 + ctx
		}
	}

	var groups [][]opcode
	var current []opcode
	for _, op := range trimmed {
		if op.tag == '=' && op.i2-op.i1 > 2*ctx && len(current) > 0 {
			// Close the current group with trailing context and start
			// the next group with leading context from the same run.
			tail := op
			tail.i2 = tail.i1 + ctx
			tail.j2 = tail.j1 + ctx
			current = append(current, tail)
			groups = append(groups, current)

			head := op
			head.i1 = head.i2 - ctx
			head.j1 = head.j2 - ctx
			current = []opcode{head}
			continue
		}
		current = append(current, op)
	}

	// Drop a group that contains no changes (can happen when the input
	// was all-equal after trimming).
	hasChange := false
	for _, op := range current {
		if op.tag != '=' {
			hasChange = true
			break
		}
	}
	if hasChange {
		groups = append(groups, current)
	}
	return groups
}

// writeHunk renders one hunk group with its @@ header.
func writeHunk(sb *strings.Builder, group []opcode, oldLines, newLines []string) {
	i1, i2 := group[0].i1, group[len(group)-1].i2
	j1, j2 := group[0].j1, group[len(group)-1].j2

	sb.WriteString(fmt.Sprintf("@@ -%s +%s @@\n", formatRange(i1, i2), formatRange(j1, j2)))

	for _, op := range group {
		switch op.tag {
		case '=':
			for _, line := range oldLines[op.i1:op.i2] {
				sb.WriteByte(' ')
				sb.WriteString(line)
				sb.WriteByte('\n')
			}
		case '-':
			for _, line := range oldLines[op.i1:op.i2] {
				sb.WriteByte('-')
				sb.WriteString(line)
				sb.WriteByte('\n')
			}
		case '+':
			for _, line := range newLines[op.j1:op.j2] {
				sb.WriteByte('+')
				sb.WriteString(line)
				sb.WriteByte('\n')
			}
		}
	}
}

// formatRange renders one side of a hunk header in unified format.
func formatRange(start, stop int) string {
	length := stop - start
	if length == 1 {
		return fmt.Sprintf("%d", start+1)
	}
	if length == 0 {
		// Zero-length ranges point at the line before the insertion.
		return fmt.Sprintf("%d,0", start)
	}
	return fmt.Sprintf("%d,%d", start+1, length)
}

// splitLines splits content into lines without trailing newlines.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.Split(content, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// countLines counts the lines in a diff block the same way splitLines does.
func countLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}

// fnv64 computes an FNV-1a hash for cache keying.
func fnv64(s string) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	h := uint64(offset64)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime64
	}
	return h
}
