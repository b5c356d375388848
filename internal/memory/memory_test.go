package memory

import (
	"strings"
	"testing"
	"time"
)

func TestAddThenListRoundTrips(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	entry, err := s.Add("decision", "use postgres for the ledger", []string{"db", "infra"}, time.Unix(1700000000, 0).UTC())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(entry.ID, "mem-1700000000-") {
		t.Fatalf("unexpected id shape: %s", entry.ID)
	}

	entries, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Body != "use postgres for the ledger" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestSearchIsCaseInsensitive(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	if _, err := s.Add("note", "Remember to check the Worktree cleanup path", nil, time.Now()); err != nil {
		t.Fatal(err)
	}

	found, err := s.Search("worktree")
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 1 {
		t.Fatalf("expected 1 match, got %d", len(found))
	}
}

func TestDeleteRemovesEntry(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	e, err := s.Add("note", "temporary", nil, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(e.ID); err != nil {
		t.Fatal(err)
	}
	entries, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty store, got %+v", entries)
	}
}

func TestFilterByTypeAndTags(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	if _, err := s.Add("decision", "body a", []string{"infra"}, time.Now()); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Add("note", "body b", []string{"docs"}, time.Now()); err != nil {
		t.Fatal(err)
	}

	decisions, err := s.Filter("decision", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(decisions) != 1 || decisions[0].Body != "body a" {
		t.Fatalf("unexpected filter result: %+v", decisions)
	}

	byTag, err := s.Filter("", []string{"docs"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byTag) != 1 || byTag[0].Body != "body b" {
		t.Fatalf("unexpected tag filter result: %+v", byTag)
	}
}

func TestListToleratesMissingFile(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	entries, err := s.List()
	if err != nil {
		t.Fatalf("expected missing file to be tolerated, got %v", err)
	}
	if entries != nil {
		t.Fatalf("expected nil entries, got %+v", entries)
	}
}
