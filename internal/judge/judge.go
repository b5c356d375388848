// Package judge implements the loop-stuck AI judge (SPEC_FULL.md
// §4.5.a): a periodic, AI-assisted assessment of whether recent
// iterations look unproductive. Grounded verbatim in
// _examples/steveyegge-vc/internal/executor/agent.go's
// checkAILoopDetection. Never fires Aborting by itself — only surfaces
// loop.judge.stuck_suspected for the deterministic safeguards and human
// steering channel to act on.
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Verdict is the result of one assessment.
type Verdict struct {
	Stuck      bool
	Confidence float64
	Reasoning  string
}

// Judge wraps the Anthropic client used for loop-stuck assessment.
type Judge struct {
	client anthropic.Client
	model  string
}

// New constructs a Judge. Returns ok=false if no API key is configured
// or the judge is explicitly disabled, matching the teacher's
// environment-gated opt-in (agent.go: ANTHROPIC_API_KEY,
// VC_DISABLE_AI_LOOP_DETECTION).
func New() (*Judge, bool) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" || os.Getenv("RALPH_DISABLE_AI_LOOP_DETECTION") != "" {
		return nil, false
	}
	return &Judge{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  "claude-3-5-haiku-20241022",
	}, true
}

// Assess asks the model whether recentActivity (a flattened description
// of the last few iterations' topics/tool calls) looks like a stuck
// loop. A call failure or unparsable response is treated as "not stuck"
// — the judge must never itself abort a loop on its own error.
func (j *Judge) Assess(ctx context.Context, recentActivity []string) Verdict {
	if len(recentActivity) > 100 {
		recentActivity = recentActivity[len(recentActivity)-100:]
	}

	freq := make(map[string]int, len(recentActivity))
	for _, a := range recentActivity {
		freq[a]++
	}

	var summary strings.Builder
	fmt.Fprintf(&summary, "Recent loop activity (last %d entries):\n", len(recentActivity))
	fmt.Fprintf(&summary, "Sequence: %v\n\n", recentActivity)
	summary.WriteString("Frequency:\n")
	for k, v := range freq {
		fmt.Fprintf(&summary, "  %s: %d\n", k, v)
	}

	prompt := fmt.Sprintf(`You are analyzing an autonomous coding loop's recent activity to detect an unproductive loop.

%s

Is this loop stuck repeating itself without making progress? Respond with JSON:
{
  "stuck": true/false,
  "confidence": 0.0-1.0,
  "reasoning": "brief explanation"
}

Only say stuck=true if you are confident (>0.8) this is a stuck loop.`, summary.String())

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resp, err := j.client.Messages.New(checkCtx, anthropic.MessageNewParams{
		Model:     anthropic.Model(j.model),
		MaxTokens: 500,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return Verdict{}
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return Verdict{}
	}

	return parseVerdict(text.String())
}

func parseVerdict(raw string) Verdict {
	var result struct {
		Stuck      bool    `json:"stuck"`
		Confidence float64 `json:"confidence"`
		Reasoning  string  `json:"reasoning"`
	}
	body := raw
	if strings.Contains(raw, "```json") {
		start := strings.Index(raw, "```json") + len("```json")
		if end := strings.Index(raw[start:], "```"); end > 0 {
			body = raw[start : start+end]
		}
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(body)), &result); err != nil {
		return Verdict{}
	}
	return Verdict{Stuck: result.Stuck, Confidence: result.Confidence, Reasoning: result.Reasoning}
}
