// Copyright 2025 Pedagogic Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package stages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pedagogic/courseforge/backoff"
	"github.com/pedagogic/courseforge/core"
	"github.com/pedagogic/courseforge/ingestion"
	"github.com/pedagogic/courseforge/jobs"
	"github.com/pedagogic/courseforge/storage"
)

// Phase is one step of a job's pipeline. Run must be a pure function of
// the job payload and the prior outputs, so re-running it after a crash
// with the same inputs is safe. Expects names the variant the preceding
// phase must have produced; zero means the phase takes no prior output.
type Phase struct {
	Name    string
	Expects core.PhaseOutputKind
	Timeout time.Duration
	Run     func(ctx context.Context, job *core.Job, prior []*core.PhaseOutput) (*core.PhaseOutput, error)
}

// Runner executes the ordered phase pipeline registered for a job's
// type. Completed phases are persisted before the next phase starts, so
// a crashed run resumes after the highest recorded phase index and a
// phase re-executes at most once per crash. Cancellation is observed at
// phase boundaries only; an in-flight phase always finishes.
type Runner struct {
	registry       map[core.JobType][]Phase
	stageRuns      storage.StageRunRepository
	flags          storage.QueueRepository
	phaseTimeout   time.Duration
	retryAttempts  int
	retryBaseDelay time.Duration
	logger         *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithPhaseTimeout sets the default maximum execution time per phase.
// A Phase's own Timeout takes precedence. Default is 5 minutes.
func WithPhaseTimeout(timeout time.Duration) RunnerOption {
	return func(r *Runner) {
		r.phaseTimeout = timeout
	}
}

// WithPhaseRetry tunes the bounded retry applied to transient phase
// failures. Defaults are 3 attempts starting at 1s.
func WithPhaseRetry(attempts int, baseDelay time.Duration) RunnerOption {
	return func(r *Runner) {
		r.retryAttempts = attempts
		r.retryBaseDelay = baseDelay
	}
}

// WithRunnerLogger sets a custom logger.
// Default is slog.Default().
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger
	}
}

// NewRunner creates a stage runner. flags is consulted for cooperative
// cancellation between phases.
func NewRunner(stageRuns storage.StageRunRepository, flags storage.QueueRepository, opts ...RunnerOption) (*Runner, error) {
	if stageRuns == nil {
		return nil, ErrStageRunRepositoryRequired
	}
	if flags == nil {
		return nil, ErrQueueRepositoryRequired
	}

	r := &Runner{
		registry:       make(map[core.JobType][]Phase),
		stageRuns:      stageRuns,
		flags:          flags,
		phaseTimeout:   5 * time.Minute,
		retryAttempts:  3,
		retryBaseDelay: time.Second,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Register installs the ordered phase pipeline for a job type.
func (r *Runner) Register(jobType core.JobType, phases []Phase) error {
	if len(phases) == 0 {
		return ErrNoPhases
	}
	r.registry[jobType] = phases
	return nil
}

// Handler adapts the runner to the queue worker's delivery contract.
func (r *Runner) Handler() jobs.Handler {
	return func(ctx context.Context, job *core.Job, attempt int) error {
		return r.Execute(ctx, job)
	}
}

// Execute runs the job's phases in order, reusing outputs of phases
// already recorded by a previous attempt. Returns jobs.ErrJobCancelled
// when a cancellation flag is observed at a phase boundary.
func (r *Runner) Execute(ctx context.Context, job *core.Job) error {
	phases, ok := r.registry[job.Type]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownJobType, job.Type)
	}

	recorded, err := r.stageRuns.GetStageRuns(ctx, job.Id)
	if err != nil {
		return err
	}
	completed := make(map[int]*core.PhaseOutput, len(recorded))
	for _, run := range recorded {
		output := run.Output
		completed[run.PhaseIndex] = &output
	}

	outputs := make([]*core.PhaseOutput, 0, len(phases))
	for i, phase := range phases {
		cancelled, err := r.flags.CancelRequested(ctx, job.Id)
		if err != nil {
			return err
		}
		if cancelled {
			r.logger.Info("cancellation observed at phase boundary",
				"job", job.Id, "phase", phase.Name)
			return jobs.ErrJobCancelled
		}

		if output, ok := completed[i]; ok {
			r.logger.Debug("phase already recorded, reusing output",
				"job", job.Id, "phase", phase.Name, "index", i)
			outputs = append(outputs, output)
			continue
		}

		if phase.Expects != 0 {
			if len(outputs) == 0 {
				return fmt.Errorf("%w: phase %s expects %s, no prior output",
					core.ErrUnexpectedPhaseOutput, phase.Name, phase.Expects)
			}
			if err := outputs[len(outputs)-1].ExpectKind(phase.Expects); err != nil {
				return err
			}
		}

		output, err := r.runPhase(ctx, job, phase, outputs)
		if err != nil {
			return fmt.Errorf("phase %s: %w", phase.Name, err)
		}

		// Persist before advancing so a crash never loses a completed phase.
		run := &core.StageRun{
			JobId:       job.Id,
			PhaseIndex:  i,
			PhaseName:   phase.Name,
			Output:      *output,
			CompletedAt: time.Now().UTC(),
		}
		if err := r.stageRuns.AppendStageRun(ctx, run); err != nil {
			return err
		}
		outputs = append(outputs, output)

		r.logger.Info("phase completed",
			"job", job.Id, "phase", phase.Name, "index", i, "kind", output.Kind)
	}
	return nil
}

// runPhase executes one phase under its timeout, retrying transient
// failures a bounded number of times. Data-integrity errors are never
// retried.
func (r *Runner) runPhase(ctx context.Context, job *core.Job, phase Phase, prior []*core.PhaseOutput) (*core.PhaseOutput, error) {
	timeout := phase.Timeout
	if timeout <= 0 {
		timeout = r.phaseTimeout
	}

	var output *core.PhaseOutput
	err := backoff.Retry(ctx, func() error {
		phaseCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		out, runErr := phase.Run(phaseCtx, job, prior)
		if runErr != nil {
			if permanentError(runErr) {
				return backoff.MarkPermanent(runErr)
			}
			r.logger.Warn("phase attempt failed",
				"job", job.Id, "phase", phase.Name, "error", runErr)
			return runErr
		}
		output = out
		return nil
	}, r.retryAttempts, r.retryBaseDelay)
	if err != nil {
		return nil, err
	}
	return output, nil
}

// permanentError reports whether an error is a data-integrity failure
// that retrying cannot fix.
func permanentError(err error) bool {
	return errors.Is(err, core.ErrDimensionMismatch) ||
		errors.Is(err, core.ErrUnexpectedPhaseOutput) ||
		errors.Is(err, core.ErrEmptyText) ||
		errors.Is(err, core.ErrInvalidChunk) ||
		errors.Is(err, storage.ErrMissingParent) ||
		errors.Is(err, ingestion.ErrCountMismatch) ||
		errors.Is(err, ErrMissingDocument) ||
		errors.Is(err, ErrMissingTopic) ||
		errors.Is(err, ErrEmptyGeneration)
}
