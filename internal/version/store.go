// Package version persists the revision history of chapters: one
// content file per saved version, an append-only metadata log, and
// cached unified diffs between versions. Writes for a single chapter
// are expected to be serialized by the caller; the store only guards
// its own bookkeeping.
package version

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"bookforge/internal/diff"
	"bookforge/internal/logging"
)

// Metadata is the immutable record written for each saved version.
// Records form a chain through ParentVersion; tags are the only field
// mutated after the fact (via TagVersion).
type Metadata struct {
	VersionID     string   `json:"version_id"`
	ChapterID     string   `json:"chapter_id"`
	Timestamp     string   `json:"timestamp"`
	Author        string   `json:"author"`
	Message       string   `json:"message"`
	ContentHash   string   `json:"content_hash"`
	ParentVersion string   `json:"parent_version,omitempty"`
	WordCount     int      `json:"word_count"`
	Tags          []string `json:"tags"`
}

// Store is the on-disk version store rooted at <ops>/versions.
type Store struct {
	root   string
	engine *diff.Engine

	mu    sync.Mutex
	index map[string][]Metadata // chapter id -> versions in save order
}

// NewStore opens (creating if necessary) the store under opsDir and
// rebuilds the in-memory index from the metadata log.
func NewStore(opsDir string) (*Store, error) {
	root := filepath.Join(opsDir, "versions")
	for _, dir := range []string{root, filepath.Join(root, "chapters"), filepath.Join(root, "diffs")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create version store directory: %w", err)
		}
	}

	s := &Store{
		root:   root,
		engine: diff.NewEngine(),
		index:  make(map[string][]Metadata),
	}
	if err := s.loadMetadata(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) metadataPath() string {
	return filepath.Join(s.root, "metadata.jsonl")
}

func (s *Store) chapterDir(chapterID string) string {
	return filepath.Join(s.root, "chapters", "chapter_"+chapterID)
}

func (s *Store) contentPath(m Metadata) string {
	return filepath.Join(s.chapterDir(m.ChapterID), fmt.Sprintf("%s_%s.md", m.VersionID, sanitize(m.Author)))
}

func (s *Store) diffPath(chapterID, from, to string) string {
	return filepath.Join(s.root, "diffs", fmt.Sprintf("chapter_%s_%s_%s.diff", chapterID, from, to))
}

// loadMetadata replays metadata.jsonl into the index. A missing log
// means an empty store; a malformed line is a real error, since the
// log is the source of truth for version numbering.
func (s *Store) loadMetadata() error {
	data, err := os.ReadFile(s.metadataPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read version metadata: %w", err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var m Metadata
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			return fmt.Errorf("corrupt version metadata record: %w", err)
		}
		s.index[m.ChapterID] = append(s.index[m.ChapterID], m)
	}

	for id := range s.index {
		sort.SliceStable(s.index[id], func(a, b int) bool {
			return versionNum(s.index[id][a].VersionID) < versionNum(s.index[id][b].VersionID)
		})
	}
	return nil
}

// SaveVersion persists content as the next version of the chapter and
// returns its version id ("v001", "v002", ...). The parent is the
// previously saved version; when one exists, the parent-to-new diff is
// computed eagerly and cached.
func (s *Store) SaveVersion(chapterID, content, author, message string, tags []string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.index[chapterID]
	versionID := fmt.Sprintf("v%03d", len(existing)+1)

	parent := ""
	if len(existing) > 0 {
		parent = existing[len(existing)-1].VersionID
	}

	if tags == nil {
		tags = []string{}
	}
	m := Metadata{
		VersionID:     versionID,
		ChapterID:     chapterID,
		Timestamp:     time.Now().Format(time.RFC3339),
		Author:        author,
		Message:       message,
		ContentHash:   contentHash(content),
		ParentVersion: parent,
		WordCount:     len(strings.Fields(content)),
		Tags:          tags,
	}

	if err := os.MkdirAll(s.chapterDir(chapterID), 0o755); err != nil {
		return "", fmt.Errorf("failed to create chapter directory: %w", err)
	}
	if err := os.WriteFile(s.contentPath(m), []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write version content: %w", err)
	}
	if err := s.appendMetadata(m); err != nil {
		return "", err
	}
	s.index[chapterID] = append(s.index[chapterID], m)

	logging.Versions("chapter %s: saved %s by %s (%d words)", chapterID, versionID, author, m.WordCount)

	if parent != "" {
		if _, err := s.computeDiffLocked(chapterID, parent, versionID); err != nil {
			// The diff cache is regenerable, so a failure here does not
			// invalidate the save.
			logging.Versions("chapter %s: eager diff %s..%s failed: %v", chapterID, parent, versionID, err)
		}
	}

	return versionID, nil
}

func (s *Store) appendMetadata(m Metadata) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal version metadata: %w", err)
	}
	f, err := os.OpenFile(s.metadataPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open version metadata: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append version metadata: %w", err)
	}
	return nil
}

// GetVersion returns the stored content for one version. The second
// return is false when the version does not exist; absence is an
// expected condition, not an error.
func (s *Store) GetVersion(chapterID, versionID string) (string, bool) {
	s.mu.Lock()
	m, ok := s.findLocked(chapterID, versionID)
	s.mu.Unlock()
	if !ok {
		return "", false
	}

	data, err := os.ReadFile(s.contentPath(m))
	if err != nil {
		logging.Versions("chapter %s: content for %s unreadable: %v", chapterID, versionID, err)
		return "", false
	}
	return string(data), true
}

// LatestVersion returns the most recent version id and content, or
// ok=false when the chapter has no versions.
func (s *Store) LatestVersion(chapterID string) (string, string, bool) {
	s.mu.Lock()
	versions := s.index[chapterID]
	if len(versions) == 0 {
		s.mu.Unlock()
		return "", "", false
	}
	latest := versions[len(versions)-1].VersionID
	s.mu.Unlock()

	content, ok := s.GetVersion(chapterID, latest)
	if !ok {
		return "", "", false
	}
	return latest, content, true
}

// Versions returns the chapter's metadata records in chronological
// order. The slice is a copy.
func (s *Store) Versions(chapterID string) []Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Metadata, len(s.index[chapterID]))
	copy(out, s.index[chapterID])
	return out
}

// AllVersions returns every chapter's history, keyed by chapter id.
func (s *Store) AllVersions() map[string][]Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]Metadata, len(s.index))
	for id, versions := range s.index {
		cp := make([]Metadata, len(versions))
		copy(cp, versions)
		out[id] = cp
	}
	return out
}

// GetDiff returns the unified diff between two versions of a chapter,
// served from the diff cache when present and recomputed otherwise.
// ok=false when either version does not exist.
func (s *Store) GetDiff(chapterID, from, to string) (string, bool) {
	s.mu.Lock()
	_, fromOK := s.findLocked(chapterID, from)
	_, toOK := s.findLocked(chapterID, to)
	s.mu.Unlock()
	if !fromOK || !toOK {
		return "", false
	}

	if data, err := os.ReadFile(s.diffPath(chapterID, from, to)); err == nil {
		return string(data), true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	text, err := s.computeDiffLocked(chapterID, from, to)
	if err != nil {
		logging.Versions("chapter %s: diff %s..%s failed: %v", chapterID, from, to, err)
		return "", false
	}
	return text, true
}

// computeDiffLocked renders and caches the diff for a version pair.
// Caller holds s.mu.
func (s *Store) computeDiffLocked(chapterID, from, to string) (string, error) {
	fromMeta, ok := s.findLocked(chapterID, from)
	if !ok {
		return "", fmt.Errorf("version %s not found for chapter %s", from, chapterID)
	}
	toMeta, ok := s.findLocked(chapterID, to)
	if !ok {
		return "", fmt.Errorf("version %s not found for chapter %s", to, chapterID)
	}

	oldData, err := os.ReadFile(s.contentPath(fromMeta))
	if err != nil {
		return "", fmt.Errorf("failed to read %s content: %w", from, err)
	}
	newData, err := os.ReadFile(s.contentPath(toMeta))
	if err != nil {
		return "", fmt.Errorf("failed to read %s content: %w", to, err)
	}

	fromLabel := fmt.Sprintf("chapter_%s/%s", chapterID, from)
	toLabel := fmt.Sprintf("chapter_%s/%s", chapterID, to)
	text := s.engine.Unified(fromLabel, toLabel, string(oldData), string(newData))

	if err := os.WriteFile(s.diffPath(chapterID, from, to), []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("failed to cache diff: %w", err)
	}
	return text, nil
}

// TagVersion adds a tag to a version's metadata. Adding a tag the
// version already carries is a no-op; the metadata log is rewritten
// atomically when the tag set changes.
func (s *Store) TagVersion(chapterID, versionID, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions := s.index[chapterID]
	idx := -1
	for i, m := range versions {
		if m.VersionID == versionID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("version %s not found for chapter %s", versionID, chapterID)
	}

	for _, existing := range versions[idx].Tags {
		if existing == tag {
			return nil
		}
	}
	versions[idx].Tags = append(versions[idx].Tags, tag)

	if err := s.rewriteMetadataLocked(); err != nil {
		return err
	}
	logging.Versions("chapter %s: tagged %s as %q", chapterID, versionID, tag)
	return nil
}

// rewriteMetadataLocked rewrites the full metadata log from the index,
// via a temp file and rename so a crash cannot truncate history.
// Caller holds s.mu.
func (s *Store) rewriteMetadataLocked() error {
	chapterIDs := make([]string, 0, len(s.index))
	for id := range s.index {
		chapterIDs = append(chapterIDs, id)
	}
	sort.Strings(chapterIDs)

	var sb strings.Builder
	for _, id := range chapterIDs {
		for _, m := range s.index[id] {
			data, err := json.Marshal(m)
			if err != nil {
				return fmt.Errorf("failed to marshal version metadata: %w", err)
			}
			sb.Write(data)
			sb.WriteByte('\n')
		}
	}

	tmp := s.metadataPath() + ".tmp"
	if err := os.WriteFile(tmp, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write version metadata: %w", err)
	}
	if err := os.Rename(tmp, s.metadataPath()); err != nil {
		return fmt.Errorf("failed to replace version metadata: %w", err)
	}
	return nil
}

// HistoryReport renders a markdown summary of one chapter's history.
func (s *Store) HistoryReport(chapterID string) string {
	versions := s.Versions(chapterID)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# Version History: chapter_%s\n\n", chapterID))

	if len(versions) == 0 {
		sb.WriteString("No versions recorded.\n")
		return sb.String()
	}

	sb.WriteString(fmt.Sprintf("**Total versions:** %d\n\n", len(versions)))
	sb.WriteString("| Version | Author | Timestamp | Words | Tags | Message |\n")
	sb.WriteString("|---------|--------|-----------|-------|------|--------|\n")
	for _, m := range versions {
		tags := "-"
		if len(m.Tags) > 0 {
			tags = strings.Join(m.Tags, ", ")
		}
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %d | %s | %s |\n",
			m.VersionID, m.Author, m.Timestamp, m.WordCount, tags, m.Message))
	}
	return sb.String()
}

func (s *Store) findLocked(chapterID, versionID string) (Metadata, bool) {
	for _, m := range s.index[chapterID] {
		if m.VersionID == versionID {
			return m, true
		}
	}
	return Metadata{}, false
}

// contentHash returns the first 16 hex characters of the content's
// SHA-256, enough to detect changed content across the history.
func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:16]
}

// versionNum parses the numeric part of a "vNNN" id for ordering.
func versionNum(versionID string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(versionID, "v"))
	if err != nil {
		return 0
	}
	return n
}

// sanitize makes an author label safe for use in a file name.
func sanitize(author string) string {
	var sb strings.Builder
	for _, r := range author {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	if sb.Len() == 0 {
		return "unknown"
	}
	return sb.String()
}
