package tasks

import (
	"testing"
	"time"
)

func TestAddThenOpenIncludesIt(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)

	id, err := l.Add("wire the budget tracker", time.Now())
	if err != nil {
		t.Fatal(err)
	}

	open, err := l.Open()
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 1 || open[0].ID != id {
		t.Fatalf("expected newly added task to be open, got %+v", open)
	}
}

func TestLatestStatusWins(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)

	id, err := l.Add("ship it", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if err := l.SetStatus(id, StatusBlocked, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := l.SetStatus(id, StatusDone, time.Now()); err != nil {
		t.Fatal(err)
	}

	latest, err := l.LatestByID()
	if err != nil {
		t.Fatal(err)
	}
	if len(latest) != 1 || latest[0].Status != StatusDone {
		t.Fatalf("expected latest status done, got %+v", latest)
	}

	open, err := l.Open()
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 0 {
		t.Fatalf("expected no open tasks once done, got %+v", open)
	}
}

func TestOpenToleratesMissingFile(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)
	open, err := l.Open()
	if err != nil {
		t.Fatalf("expected missing ledger to be tolerated, got %v", err)
	}
	if open != nil {
		t.Fatalf("expected nil, got %+v", open)
	}
}
