// Package worker drives a single subtask to completion: it iterates
// prompt → response → tool calls against a provider, feeding every tool
// call into the agent state machine, the budget tracker, the loop
// detector, and the approval scope, and stopping when the model signals
// it is done, a gate rejects the output, or a budget/cancellation limit
// fires. It is the per-subtask analogue of a single task execution in a
// sequential task runner, generalized to run many of these concurrently
// under a pool.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/coreswarm/swarm/internal/agentstate"
	"github.com/coreswarm/swarm/internal/approval"
	"github.com/coreswarm/swarm/internal/budget"
	"github.com/coreswarm/swarm/internal/corekit"
	"github.com/coreswarm/swarm/internal/loopdetect"
	"github.com/coreswarm/swarm/internal/models"
	"github.com/coreswarm/swarm/internal/provider"
	"github.com/coreswarm/swarm/internal/quality"
	"github.com/coreswarm/swarm/internal/verify"
)

// ToolExecutor runs a single tool call and returns its result. The
// worker never interprets tool semantics itself; it only routes the
// call through approval and records the outcome.
type ToolExecutor interface {
	Execute(ctx context.Context, tool string, args map[string]any) (models.ToolResult, error)
}

// Judge scores a completed attempt's output for the quality gate. A real
// implementation typically asks a model to grade the diff; tests supply
// a canned judge.
type Judge interface {
	Judge(ctx context.Context, subtask models.Subtask, transcript string) (quality.Judgment, error)
}

// ApprovalPrompter asks a human (or a policy stand-in) whether an
// approval-requiring tool call may proceed.
type ApprovalPrompter interface {
	RequestApproval(ctx context.Context, tool string, args map[string]any, reason string) (bool, error)
}

// Config bundles the collaborators a Worker needs. Everything here is
// constructed once per subtask attempt by the pool, never reused across
// attempts: state machines, budget trackers, and loop detectors carry
// per-attempt state.
type Config struct {
	Subtask  models.Subtask
	WorkerID string
	ModelID  string
	Provider provider.Provider
	Tools    ToolExecutor
	State    *agentstate.Machine
	Budget   *budget.Tracker
	Loop     *loopdetect.Detector
	Approval *approval.Scope
	Prompter ApprovalPrompter
	Verify   *verify.Gate
	Judge    Judge
	MaxTurns int // hard ceiling on provider round-trips; default 40
}

// Worker drives one subtask attempt end to end. Construct one per
// attempt with New; it is not reusable across attempts.
type Worker struct {
	cfg     Config
	timeout *corekit.Timeout
	token   *corekit.Token
	attempt models.Attempt
}

// New constructs a Worker for one attempt at cfg.Subtask, linking its
// cancellation to parentToken (typically the pool's or orchestrator's
// token) through timeout's own token.
func New(cfg Config, timeout *corekit.Timeout, parentToken *corekit.Token) *Worker {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 40
	}
	token := corekit.LinkedToken(parentToken, timeout.Token)
	return &Worker{
		cfg:     cfg,
		timeout: timeout,
		token:   token,
		attempt: models.Attempt{
			SubtaskID: cfg.Subtask.ID,
			WorkerID:  cfg.WorkerID,
			ModelID:   cfg.ModelID,
			StartTime: time.Now(),
		},
	}
}

// Result is what Run reports back to the pool.
type Result struct {
	Attempt    models.Attempt
	Transcript string
	Judgment   quality.Judgment
	Err        error
}

// Run drives the subtask to completion or to a terminal stop condition:
// budget exceeded, cancellation, a global doom loop, or the model
// declaring the subtask done. It never panics on a tool-execution
// failure; those are recorded as a failed tool result and fed back to
// the model like any other outcome.
func (w *Worker) Run(ctx context.Context) Result {
	var transcript string
	prompt := initialPrompt(w.cfg.Subtask)

	for turn := 0; turn < w.cfg.MaxTurns; turn++ {
		if w.token.IsCancellationRequested() {
			return w.fail(transcript, fmt.Errorf("%w: %s", corekit.ErrCancellation, w.token.CancellationReason()))
		}

		resp, err := w.cfg.Provider.Invoke(ctx, provider.Request{
			Model:  w.cfg.ModelID,
			Prompt: prompt,
		})
		w.timeout.ReportProgress()
		if err != nil {
			return w.fail(transcript, fmt.Errorf("provider invoke: %w", err))
		}
		w.attempt.TokensIn += resp.InputTokens
		w.attempt.TokensOut += resp.OutputTokens
		w.cfg.Budget.RecordTokens(resp.InputTokens, resp.OutputTokens)

		turnText, calls, done := parseTurn(resp.RawOutput)
		transcript += turnText

		if check := w.cfg.Budget.CheckBudget(); !check.CanContinue {
			return w.fail(transcript, fmt.Errorf("%w: %s", corekit.ErrBudget, check.Reason))
		}

		if len(calls) == 0 {
			if w.cfg.Loop != nil && w.cfg.Loop.ObserveTurn(false) {
				return w.fail(transcript, fmt.Errorf("summary loop: model repeated text-only turns without acting"))
			}
			if done {
				break
			}
			prompt = continuationPrompt("Continue the task; call a tool or report completion.")
			continue
		}
		if w.cfg.Loop != nil {
			w.cfg.Loop.ObserveTurn(true)
		}

		var toolOutputs string
		for _, call := range calls {
			out, stop := w.runTool(ctx, call)
			toolOutputs += out
			if stop != nil {
				return w.fail(transcript, stop)
			}
		}
		prompt = continuationPrompt(toolOutputs)

		if done {
			break
		}
	}

	w.attempt.EndTime = time.Now()
	result := Result{Attempt: w.attempt, Transcript: transcript}

	if w.cfg.Verify != nil {
		if vr := w.cfg.Verify.Check(); !vr.Satisfied && !vr.ForceAllow {
			w.attempt.Outcome = models.FailureOutcome("verification_incomplete")
			result.Attempt = w.attempt
			result.Err = fmt.Errorf("verification gate: %s", vr.Missing)
			return result
		}
	}

	if w.cfg.Judge != nil {
		judgment, err := w.cfg.Judge.Judge(ctx, w.cfg.Subtask, transcript)
		if err != nil {
			w.attempt.Outcome = models.FailureOutcome("judge_error")
			result.Attempt = w.attempt
			result.Err = err
			return result
		}
		result.Judgment = judgment
	}

	w.attempt.Outcome = models.OutcomeSuccess
	result.Attempt = w.attempt
	return result
}

// runTool resolves approval, executes the tool, and feeds the call into
// every collaborator that watches worker behavior. A non-nil returned
// error is terminal for the attempt (e.g. an approval that cannot be
// requested, or a local doom loop). A denied approval is not terminal:
// the tool is skipped and the denial is returned to the model. A failed
// tool execution is not terminal either; it is recorded and returned to
// the model as part of toolOutputs.
func (w *Worker) runTool(ctx context.Context, call models.ToolCall) (out string, stop error) {
	if w.cfg.Approval != nil {
		decision := w.cfg.Approval.Resolve(call.Tool, call.Args)
		if decision.RequiresApproval {
			if w.cfg.Prompter == nil {
				return "", fmt.Errorf("tool %s requires approval but no prompter is configured", call.Tool)
			}
			approved, err := w.cfg.Prompter.RequestApproval(ctx, call.Tool, call.Args, decision.Reason)
			if err != nil {
				return "", fmt.Errorf("approval request: %w", err)
			}
			if !approved {
				return fmt.Sprintf("tool %s denied by approval policy: %s\n", call.Tool, decision.Reason), nil
			}
		}
	}

	result, err := w.cfg.Tools.Execute(ctx, call.Tool, call.Args)
	if err != nil {
		result = models.ToolResult{Success: false, ExitCode: -1, Output: err.Error()}
	}
	call.Result = &result

	if w.cfg.State != nil {
		w.cfg.State.RecordToolCall(call.Tool, call.Args, &result)
	}
	if w.cfg.Budget != nil {
		w.cfg.Budget.RecordToolCall(call.Tool, call.Args)
	}
	if w.cfg.Loop != nil {
		if res := w.cfg.Loop.Observe(call); res.DoomLoop {
			return "", fmt.Errorf("local doom loop: %s", res.Remediation)
		}
	}
	if w.cfg.Verify != nil {
		if call.Tool == "write_file" || call.Tool == "edit_file" {
			w.cfg.Verify.RecordFileChange()
		}
		if call.Tool == "bash" {
			w.cfg.Verify.RecordBashExecution(argString(call.Args, "command"), result.Output, result.ExitCode)
		}
	}

	return fmt.Sprintf("tool %s -> %s\n", call.Tool, result.Output), nil
}

func (w *Worker) fail(transcript string, err error) Result {
	w.attempt.EndTime = time.Now()
	w.attempt.Outcome = models.FailureOutcome(classify(err))
	return Result{Attempt: w.attempt, Transcript: transcript, Err: err}
}

func argString(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func initialPrompt(s models.Subtask) string {
	return fmt.Sprintf("Subtask %s (%s): %s", s.ID, s.Type, s.Description)
}

func continuationPrompt(toolOutputs string) string {
	return toolOutputs
}
