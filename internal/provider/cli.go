package provider

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultSystemPrompt enforces JSON-only output so worker responses
// parse reliably against a schema.
const DefaultSystemPrompt = "You are a developer assistant. Your ONLY output must be valid JSON matching the provided schema. No markdown, no code fences, no XML tags, no prose, no explanations. Output raw JSON only."

// CLIProvider invokes a model through a command-line tool (e.g. a
// vendor CLI that reads a prompt on flags/stdin and writes JSON to
// stdout). Create once, use many times; safe for concurrent use since
// each Invoke spawns its own subprocess.
type CLIProvider struct {
	BinaryPath   string
	Timeout      time.Duration
	SystemPrompt string
	name         string
}

// NewCLIProvider constructs a CLIProvider for a named model, invoking
// binaryPath for every request.
func NewCLIProvider(name, binaryPath string, timeout time.Duration) *CLIProvider {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &CLIProvider{
		BinaryPath:   binaryPath,
		Timeout:      timeout,
		SystemPrompt: DefaultSystemPrompt,
		name:         name,
	}
}

// Name returns the provider's model name.
func (p *CLIProvider) Name() string { return p.name }

// Invoke runs the CLI binary once, streaming req.Prompt and returning
// its stdout as RawOutput. Token counts are left zero; a real CLI's
// usage-reporting flag would populate them, translated in a thin
// wrapper above this type.
func (p *CLIProvider) Invoke(ctx context.Context, req Request) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	system := req.SystemPrompt
	if system == "" {
		system = p.SystemPrompt
	}

	args := []string{"--system-prompt", system}
	if req.Schema != "" {
		args = append(args, "--json-schema", req.Schema)
	}
	if req.ResumeID != "" {
		args = append(args, "--resume", req.ResumeID)
	}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}

	cmd := exec.CommandContext(ctx, p.BinaryPath, args...)
	cmd.Stdin = strings.NewReader(req.Prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return Response{}, fmt.Errorf("provider %s: invoke failed: %w: %s", p.name, err, stderr.String())
	}

	return Response{RawOutput: stdout.Bytes()}, nil
}
