package pipeline

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEvents(t *testing.T, path string) []Event {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev), "every line must be valid JSON")
		events = append(events, ev)
	}
	require.NoError(t, scanner.Err())
	return events
}

func TestRunLogStartEndPair(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs", "run.ndjson")
	l, err := NewRunLog(path)
	require.NoError(t, err)
	defer l.Close()

	start := l.LogStart("chapter_writer", []string{"chapter_plan.json"})
	time.Sleep(10 * time.Millisecond)
	l.LogEnd("chapter_writer", start, []string{"chapter_01.md"}, nil, nil)
	require.NoError(t, l.Close())

	events := readEvents(t, path)
	require.Len(t, events, 2)

	assert.Equal(t, "chapter_writer", events[0].AgentName)
	assert.Equal(t, "start", events[0].EventType)
	assert.Equal(t, []string{"chapter_plan.json"}, events[0].InputFiles)
	assert.NotNil(t, events[0].OutputFiles, "absent lists serialize as [], not null")

	assert.Equal(t, "end", events[1].EventType)
	assert.Equal(t, []string{"chapter_01.md"}, events[1].OutputFiles)
	assert.Greater(t, events[1].DurationSeconds, 0.0)

	ts, err := time.Parse(time.RFC3339Nano, events[1].Timestamp)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), ts, time.Minute)
}

func TestRunLogRecordsErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.ndjson")
	l, err := NewRunLog(path)
	require.NoError(t, err)

	start := l.LogStart("fact_checker", nil)
	l.LogEnd("fact_checker", start, nil, []string{"citation missing"}, []string{"error in fact_checker: model timeout"})
	require.NoError(t, l.Close())

	events := readEvents(t, path)
	require.Len(t, events, 2)
	assert.Equal(t, []string{"citation missing"}, events[1].Warnings)
	assert.Equal(t, []string{"error in fact_checker: model timeout"}, events[1].Errors)
}

func TestRunLogAppendOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.ndjson")

	l, err := NewRunLog(path)
	require.NoError(t, err)
	require.NoError(t, l.Append(Event{AgentName: "a", EventType: "start"}))
	require.NoError(t, l.Close())

	// Reopening must append, not truncate.
	l, err = NewRunLog(path)
	require.NoError(t, err)
	require.NoError(t, l.Append(Event{AgentName: "b", EventType: "start"}))
	require.NoError(t, l.Close())

	events := readEvents(t, path)
	require.Len(t, events, 2)
	assert.Equal(t, "a", events[0].AgentName)
	assert.Equal(t, "b", events[1].AgentName)
}

func TestRunLogConcurrentAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.ndjson")
	l, err := NewRunLog(path)
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := l.LogStart("writer", nil)
			l.LogEnd("writer", start, nil, nil, nil)
		}()
	}
	wg.Wait()
	require.NoError(t, l.Close())

	// Interleaved writers must still produce one valid JSON object per line.
	events := readEvents(t, path)
	assert.Len(t, events, 2*n)
}

func TestNilRunLogDiscards(t *testing.T) {
	var l *RunLog
	assert.NoError(t, l.Append(Event{AgentName: "x"}))
	start := l.LogStart("x", nil)
	l.LogEnd("x", start, nil, nil, nil)
	assert.NoError(t, l.Close())
	assert.Empty(t, l.Path())
}
