package invoker

import (
	"strings"
	"testing"
)

func TestPromptRenderIncludesAllSections(t *testing.T) {
	p := Prompt{
		OrchestrationHeader: "header",
		HatInstructions:      "instructions",
		JournalExcerpt:       "excerpt",
		Scratchpad:           "pad",
		Memories:             "mem",
	}
	rendered := p.Render()
	for _, want := range []string{"header", "instructions", "excerpt", "pad", "mem"} {
		if !strings.Contains(rendered, want) {
			t.Fatalf("rendered prompt missing %q: %s", want, rendered)
		}
	}
}

func TestPromptRenderOmitsEmptyOptionalSections(t *testing.T) {
	p := Prompt{OrchestrationHeader: "header", HatInstructions: "instructions"}
	rendered := p.Render()
	if strings.Contains(rendered, "## Scratchpad") {
		t.Fatal("should not include scratchpad section when empty")
	}
}
