package backend

import (
	"context"
	"encoding/json"
	"os/exec"
)

// ampBackend drives the Sourcegraph Amp CLI, grounded in
// _examples/steveyegge-vc/internal/executor/agent.go's buildAmpCommand
// and its AgentMessage/AssistantMessage stream-json schema.
type ampBackend struct{}

// NewAmp returns the Amp backend adapter.
func NewAmp() Backend { return ampBackend{} }

func (ampBackend) Name() string { return "amp" }

func (ampBackend) BuildCommand(ctx context.Context, cfg Config, promptFile string) (*exec.Cmd, error) {
	bin := cfg.BinaryPath
	if bin == "" {
		bin = "amp"
	}
	args := []string{"--dangerously-allow-all"}
	if promptFile != "" {
		data, err := readPromptFile(promptFile)
		if err != nil {
			return nil, err
		}
		args = append(args, "--execute", data)
	}
	args = append(args, "--stream-json")
	args = append(args, cfg.ExtraArgs...)

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = cfg.WorkDir
	cmd.Env = cfg.Env
	return cmd, nil
}

// ampMessageContent mirrors agent.go's MessageContent: an item in the
// assistant message content array (text or tool_use).
type ampMessageContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Name string `json:"name,omitempty"`
}

func (ampBackend) ParseStreamLine(line []byte) (AgentMessage, bool) {
	var envelope struct {
		Type    string `json:"type"`
		Message *struct {
			Role    string              `json:"role"`
			Content []ampMessageContent `json:"content"`
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
		switch c.Type {
		case "text":
			text += c.Text
		case "tool_use":
			text += "[tool:" + normalizeAmpToolName(c.Name) + "]"
		}
	}
	return AgentMessage{Role: envelope.Message.Role, Text: text}, true
}

// normalizeAmpToolName maps Amp's internal tool names to the vocabulary
// the rest of the invoker expects, grounded in agent.go's normalizeToolName.
func normalizeAmpToolName(ampToolName string) string {
	switch ampToolName {
	case "read_file":
		return "Read"
	case "edit_file":
		return "Edit"
	case "create_file":
		return "Write"
	case "run_terminal_command":
		return "Bash"
	default:
		return ampToolName
	}
}

func (ampBackend) MinVersion() string { return "v0.1.0" }

func (ampBackend) VersionArgs() []string { return []string{"--version"} }
