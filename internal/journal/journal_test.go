package journal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendThenReadAllReturnsPrefixInOrder(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(filepath.Join(dir, "events.jsonl"))
	require.NoError(t, err)
	defer j.Close()

	e1, err := NewEvent("task.start", "go")
	require.NoError(t, err)
	e2, err := NewEvent("build.done", map[string]string{"status": "ok"})
	require.NoError(t, err)

	require.NoError(t, j.Append(e1))
	require.NoError(t, j.Append(e2))

	got, err := j.ReadAll()
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "task.start", got[0].Topic)
	require.Equal(t, "build.done", got[1].Topic)

	var payload string
	require.NoError(t, json.Unmarshal(got[0].Payload, &payload))
	require.Equal(t, "go", payload)
}

func TestReadFromOffsetResumes(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(filepath.Join(dir, "events.jsonl"))
	require.NoError(t, err)
	defer j.Close()

	e1, _ := NewEvent("a", "1")
	e2, _ := NewEvent("b", "2")
	require.NoError(t, j.Append(e1))

	events, offset, err := j.ReadFrom(0)
	require.NoError(t, err)
	require.Len(t, events, 1)

	require.NoError(t, j.Append(e2))
	events, _, err = j.ReadFrom(offset)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "b", events[0].Topic)
}

func TestAppendRejectsOversizeRecord(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(filepath.Join(dir, "events.jsonl"))
	require.NoError(t, err)
	defer j.Close()

	big := make([]byte, maxRecordBytes+1)
	e, err := NewEvent("huge", string(big))
	require.NoError(t, err)
	require.Error(t, j.Append(e))
}

func TestCorruptLineSkippedButCountsTowardOffset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.jsonl")
	j, err := Open(path)
	require.NoError(t, err)

	e1, _ := NewEvent("a", "1")
	require.NoError(t, j.Append(e1))
	require.NoError(t, j.Close())

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	j2, err := Open(path)
	require.NoError(t, err)
	defer j2.Close()

	events, offset, err := j2.ReadFrom(0)
	require.NoError(t, err)
	require.Len(t, events, 1)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, info.Size(), offset)
}

func TestCurrentEventsMarkerRoundTrips(t *testing.T) {
	dir := t.TempDir()
	journalPath := filepath.Join(dir, ".ralph", "events-x.jsonl")
	require.NoError(t, WriteCurrentEventsMarker(dir, journalPath))

	got, err := ReadCurrentEventsMarker(dir)
	require.NoError(t, err)
	want, err := filepath.Abs(journalPath)
	require.NoError(t, err)
	require.Equal(t, want, got)
}
