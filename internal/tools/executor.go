// Package tools implements the concrete ToolExecutor a worker drives:
// file reads/writes and shell commands scoped to a working directory.
// This is the one part of the control plane with no sensible
// third-party substitute — file I/O and subprocess invocation are
// exactly what os and os/exec are for, matching the teacher's own
// invoker.go, which shells out to the Claude CLI with os/exec directly
// rather than reaching for a process-management library.
package tools

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/coreswarm/swarm/internal/models"
	"github.com/coreswarm/swarm/internal/plan"
)

// MutatingTools is the set of tool names that change state on disk or
// in a shell, as opposed to read_file/list_dir which only observe it.
// Plan mode intercepts calls to any of these instead of running them.
var MutatingTools = map[string]bool{
	"write_file": true,
	"edit_file":  true,
	"bash":       true,
}

// Executor runs tool calls against a real working directory. When Plan
// is non-nil and in plan mode, calls to a mutating tool are queued on
// the plan instead of executed, per §4.14's tool-call interception.
type Executor struct {
	WorkingDir  string
	BashTimeout time.Duration
	Plan        *plan.Manager
	PlanMode    func() bool // reports whether the active session is in plan mode
}

// New constructs an Executor rooted at workingDir. BashTimeout defaults
// to 2 minutes.
func New(workingDir string) *Executor {
	return &Executor{WorkingDir: workingDir, BashTimeout: 2 * time.Minute}
}

// Execute dispatches tool to its concrete implementation.
func (e *Executor) Execute(ctx context.Context, tool string, args map[string]any) (models.ToolResult, error) {
	if e.Plan != nil && e.PlanMode != nil && e.PlanMode() && MutatingTools[tool] {
		reason, _ := args["reason"].(string)
		change, err := e.Plan.Propose(tool, args, reason, "")
		if err != nil {
			return models.ToolResult{}, fmt.Errorf("tools: propose %s: %w", tool, err)
		}
		return models.ToolResult{Success: true, Output: fmt.Sprintf("queued as pending change %s", change.ID)}, nil
	}

	switch tool {
	case "read_file":
		return e.readFile(args)
	case "write_file":
		return e.writeFile(args)
	case "edit_file":
		return e.editFile(args)
	case "list_dir":
		return e.listDir(args)
	case "bash":
		return e.bash(ctx, args)
	default:
		return models.ToolResult{}, fmt.Errorf("tools: unknown tool %q", tool)
	}
}

func (e *Executor) resolve(rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("missing path")
	}
	abs := rel
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(e.WorkingDir, rel)
	}
	root, err := filepath.Abs(e.WorkingDir)
	if err != nil {
		return "", err
	}
	absClean, err := filepath.Abs(abs)
	if err != nil {
		return "", err
	}
	if absClean != root && !strings.HasPrefix(absClean, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes working directory", rel)
	}
	return absClean, nil
}

func (e *Executor) readFile(args map[string]any) (models.ToolResult, error) {
	path, _ := args["path"].(string)
	abs, err := e.resolve(path)
	if err != nil {
		return models.ToolResult{Success: false, Output: err.Error()}, nil
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return models.ToolResult{Success: false, Output: err.Error()}, nil
	}
	return models.ToolResult{Success: true, Output: string(data)}, nil
}

func (e *Executor) writeFile(args map[string]any) (models.ToolResult, error) {
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)
	abs, err := e.resolve(path)
	if err != nil {
		return models.ToolResult{Success: false, Output: err.Error()}, nil
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return models.ToolResult{Success: false, Output: err.Error()}, nil
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return models.ToolResult{Success: false, Output: err.Error()}, nil
	}
	return models.ToolResult{Success: true, Output: fmt.Sprintf("wrote %d bytes to %s", len(content), path)}, nil
}

func (e *Executor) editFile(args map[string]any) (models.ToolResult, error) {
	path, _ := args["path"].(string)
	oldText, _ := args["old_text"].(string)
	newText, _ := args["new_text"].(string)
	abs, err := e.resolve(path)
	if err != nil {
		return models.ToolResult{Success: false, Output: err.Error()}, nil
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return models.ToolResult{Success: false, Output: err.Error()}, nil
	}
	if !strings.Contains(string(data), oldText) {
		return models.ToolResult{Success: false, Output: "old_text not found in file"}, nil
	}
	updated := strings.Replace(string(data), oldText, newText, 1)
	if err := os.WriteFile(abs, []byte(updated), 0o644); err != nil {
		return models.ToolResult{Success: false, Output: err.Error()}, nil
	}
	return models.ToolResult{Success: true, Output: fmt.Sprintf("edited %s", path)}, nil
}

func (e *Executor) listDir(args map[string]any) (models.ToolResult, error) {
	path, _ := args["path"].(string)
	abs, err := e.resolve(path)
	if err != nil {
		return models.ToolResult{Success: false, Output: err.Error()}, nil
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return models.ToolResult{Success: false, Output: err.Error()}, nil
	}
	names := make([]string, 0, len(entries))
	for _, en := range entries {
		name := en.Name()
		if en.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return models.ToolResult{Success: true, Output: strings.Join(names, "\n")}, nil
}

func (e *Executor) bash(ctx context.Context, args map[string]any) (models.ToolResult, error) {
	command, _ := args["command"].(string)
	if command == "" {
		return models.ToolResult{Success: false, ExitCode: -1, Output: "missing command"}, nil
	}

	timeout := e.BashTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, "bash", "-c", command)
	cmd.Dir = e.WorkingDir

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return models.ToolResult{Success: false, ExitCode: -1, Output: err.Error()}, nil
		}
	}

	return models.ToolResult{Success: exitCode == 0, ExitCode: exitCode, Output: out.String()}, nil
}
