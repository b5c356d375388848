package backend

import (
	"bufio"
	"context"
	"os"
	"os/exec"
	"strings"
)

// openCodeBackend drives the OpenCode CLI. Supplemented from
// original_source/ralph-e2e/scenarios/opencode.rs, a third backend the
// teacher never implements — the teacher only hardcodes Claude Code and
// Amp (see agent.go). OpenCode's CLI emits plain text rather than
// stream-JSON, so ParseStreamLine always reports ok=false and the raw
// line is forwarded to the invoker's marker scanner untouched.
type openCodeBackend struct{}

// NewOpenCode returns the OpenCode backend adapter.
func NewOpenCode() Backend { return openCodeBackend{} }

func (openCodeBackend) Name() string { return "opencode" }

func (openCodeBackend) BuildCommand(ctx context.Context, cfg Config, promptFile string) (*exec.Cmd, error) {
	bin := cfg.BinaryPath
	if bin == "" {
		bin = "opencode"
	}
	args := []string{"run", "--non-interactive"}
	args = append(args, cfg.ExtraArgs...)
	if promptFile != "" {
		args = append(args, "--prompt-file", promptFile)
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = cfg.WorkDir
	cmd.Env = cfg.Env
	return cmd, nil
}

func (openCodeBackend) ParseStreamLine(line []byte) (AgentMessage, bool) {
	return AgentMessage{}, false
}

func (openCodeBackend) MinVersion() string { return "v0.1.0" }

func (openCodeBackend) VersionArgs() []string { return []string{"--version"} }

func readPromptFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	var sb strings.Builder
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		sb.WriteString(sc.Text())
		sb.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	return sb.String(), nil
}
