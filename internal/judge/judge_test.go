package judge

import "testing"

func TestParseVerdictPlainJSON(t *testing.T) {
	v := parseVerdict(`{"stuck": true, "confidence": 0.9, "reasoning": "repeating grep/read"}`)
	if !v.Stuck || v.Confidence != 0.9 {
		t.Fatalf("unexpected verdict: %+v", v)
	}
}

func TestParseVerdictMarkdownFence(t *testing.T) {
	v := parseVerdict("Here is my answer:\n```json\n{\"stuck\": false, \"confidence\": 0.2, \"reasoning\": \"fine\"}\n```\n")
	if v.Stuck {
		t.Fatalf("expected not stuck, got %+v", v)
	}
}

func TestParseVerdictUnparsableIsNotStuck(t *testing.T) {
	v := parseVerdict("not json at all")
	if v.Stuck {
		t.Fatal("unparsable response must never claim stuck")
	}
}

func TestNewWithoutAPIKeyIsDisabled(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, ok := New()
	if ok {
		t.Fatal("expected judge to be disabled without an API key")
	}
}
