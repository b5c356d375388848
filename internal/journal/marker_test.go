package journal

import "testing"

func TestMarkerBufferSingleChunk(t *testing.T) {
	var b MarkerBuffer
	got := b.Feed(`some text <ralph:event topic="build.done">ok</ralph:event> trailing`)
	if len(got) != 1 {
		t.Fatalf("expected 1 marker, got %d", len(got))
	}
	if got[0].Topic != "build.done" || got[0].Payload != "ok" {
		t.Fatalf("unexpected match: %+v", got[0])
	}
}

func TestMarkerBufferSpansChunks(t *testing.T) {
	var b MarkerBuffer
	got := b.Feed(`prefix <ralph:event topic="build`)
	if len(got) != 0 {
		t.Fatalf("expected no matches yet, got %d", len(got))
	}
	got = b.Feed(`.done">ok</ralph:event> suffix`)
	if len(got) != 1 || got[0].Topic != "build.done" || got[0].Payload != "ok" {
		t.Fatalf("unexpected result after completing chunk: %+v", got)
	}
}

func TestFindCompletionPromise(t *testing.T) {
	if !FindCompletionPromise("blah DONE blah", "DONE") {
		t.Fatal("expected promise to be found")
	}
	if FindCompletionPromise("blah done blah", "DONE") {
		t.Fatal("match should be case-sensitive")
	}
}
