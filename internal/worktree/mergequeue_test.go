package worktree

import (
	"testing"
	"time"
)

func TestEnqueueDequeueFIFO(t *testing.T) {
	dir := t.TempDir()
	q := NewMergeQueue(dir)

	if err := q.Enqueue(MergeRequest{LoopID: "a", Branch: "a", EnqueuedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(MergeRequest{LoopID: "b", Branch: "b", EnqueuedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}

	first, ok, err := q.Dequeue()
	if err != nil || !ok {
		t.Fatalf("expected first dequeue to succeed: ok=%v err=%v", ok, err)
	}
	if first.LoopID != "a" {
		t.Fatalf("expected FIFO order, got %q first", first.LoopID)
	}

	second, ok, err := q.Dequeue()
	if err != nil || !ok || second.LoopID != "b" {
		t.Fatalf("expected b second, got %+v ok=%v err=%v", second, ok, err)
	}

	_, ok, err = q.Dequeue()
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected empty queue after draining")
	}
}

func TestDequeueEmptyQueueIsNotError(t *testing.T) {
	dir := t.TempDir()
	q := NewMergeQueue(dir)
	_, ok, err := q.Dequeue()
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected no entries in a fresh queue")
	}
}
