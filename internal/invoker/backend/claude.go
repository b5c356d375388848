package backend

import (
	"context"
	"encoding/json"
	"os/exec"
)

// claudeBackend drives the Claude Code CLI, grounded in
// _examples/steveyegge-vc/internal/executor/agent.go's
// buildClaudeCodeCommand.
type claudeBackend struct{}

// NewClaude returns the Claude Code backend adapter.
func NewClaude() Backend { return claudeBackend{} }

func (claudeBackend) Name() string { return "claude" }

func (claudeBackend) BuildCommand(ctx context.Context, cfg Config, promptFile string) (*exec.Cmd, error) {
	bin := cfg.BinaryPath
	if bin == "" {
		bin = "claude"
	}
	args := []string{
		"--print",
		"--dangerously-skip-permissions",
		"--verbose",
		"--output-format", "stream-json",
	}
	args = append(args, cfg.ExtraArgs...)
	// Claude Code takes the prompt as a positional argument rather than a
	// file path; the invoker still writes promptFile for diagnostics/
	// session-recorder purposes even though this adapter reads it back
	// itself rather than passing the path through.
	if promptFile != "" {
		data, err := readPromptFile(promptFile)
		if err != nil {
			return nil, err
		}
		args = append(args, data)
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = cfg.WorkDir
	cmd.Env = cfg.Env
	return cmd, nil
}

func (claudeBackend) ParseStreamLine(line []byte) (AgentMessage, bool) {
	var envelope struct {
		Type    string `json:"type"`
		Message *struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"message,omitempty"`
	}
	if err := json.Unmarshal(line, &envelope); err != nil {
		return AgentMessage{}, false
	}
	if envelope.Message == nil {
		return AgentMessage{}, false
	}
	text := ""
	for _, c := range envelope.Message.Content {
		if c.Type == "text" {
			text += c.Text
		}
	}
	return AgentMessage{Role: envelope.Type, Text: text}, true
}

func (claudeBackend) MinVersion() string { return "v1.0.0" }

func (claudeBackend) VersionArgs() []string { return []string{"--version"} }
