// Package engine executes multi-step, multi-platform actions with dependency
// ordering, per-step timeouts and best-effort rollback.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davidmoltin/site-integrations/internal/async"
	"github.com/davidmoltin/site-integrations/internal/models"
	"github.com/davidmoltin/site-integrations/internal/platforms"
	"github.com/davidmoltin/site-integrations/pkg/logger"
	"github.com/davidmoltin/site-integrations/pkg/metrics"
)

const defaultStepTimeout = 30 * time.Second

// Confirmer asks a human to approve an action. It may block until a decision
// is made or ctx is done; an error counts as a rejection.
type Confirmer interface {
	Confirm(ctx context.Context, exec models.ActionExecution, action models.PlatformAction, actx models.ActionContext) (bool, error)
}

// ProgressReporter receives fire-and-forget execution notifications
type ProgressReporter interface {
	ShowProgress(ctx context.Context, exec models.ActionExecution) error
	ShowResult(ctx context.Context, exec models.ActionExecution, result models.ExecutionResult) error
}

// Options configures an Engine. Nil collaborators are skipped; without a
// Confirmer every action that requires confirmation is cancelled.
type Options struct {
	Confirmer          Confirmer
	Reporter           ProgressReporter
	Store              ExecutionStore
	DefaultStepTimeout time.Duration
}

type pendingExecution struct {
	cancel    context.CancelFunc
	cancelled bool
}

// Engine runs actions through templates or directly against platforms
type Engine struct {
	catalog            *Catalog
	ops                *OperationRegistry
	adapters           *platforms.Registry
	confirmer          Confirmer
	reporter           ProgressReporter
	store              ExecutionStore
	defaultStepTimeout time.Duration

	mu      sync.Mutex
	pending map[string]*pendingExecution
	active  map[string]struct{}

	metrics *metrics.Metrics
	logger  *logger.Logger
}

// NewEngine creates an action execution engine
func NewEngine(
	catalog *Catalog,
	ops *OperationRegistry,
	adapters *platforms.Registry,
	opts Options,
	m *metrics.Metrics,
	log *logger.Logger,
) *Engine {
	if opts.Store == nil {
		opts.Store = NewMemoryStore(0)
	}
	if opts.DefaultStepTimeout <= 0 {
		opts.DefaultStepTimeout = defaultStepTimeout
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}

	return &Engine{
		catalog:            catalog,
		ops:                ops,
		adapters:           adapters,
		confirmer:          opts.Confirmer,
		reporter:           opts.Reporter,
		store:              opts.Store,
		defaultStepTimeout: opts.DefaultStepTimeout,
		pending:            make(map[string]*pendingExecution),
		active:             make(map[string]struct{}),
		metrics:            m,
		logger:             log.WithComponent("engine"),
	}
}

// Templates returns the template catalog
func (e *Engine) Templates() []models.ActionTemplate {
	return e.catalog.List()
}

// ExecuteAction runs an action to a terminal state. Failures are reported in
// the result, never as an error. An id that is running or already recorded is
// rejected with a failed result and leaves the existing execution untouched.
func (e *Engine) ExecuteAction(ctx context.Context, action models.PlatformAction, actx models.ActionContext) *models.ExecutionResult {
	start := time.Now()

	exec := &models.ActionExecution{
		ActionID:   action.ID,
		ActionType: action.Type,
		UserID:     actx.UserID,
		Status:     models.ActionStatusPending,
		StartTime:  start.UTC(),
		Steps:      []models.ExecutionStepResult{},
		Errors:     []string{},
	}
	if exec.ActionID == "" {
		exec.ActionID = uuid.New().String()
	}

	if !e.claim(ctx, exec.ActionID) {
		e.logger.Warn("Rejected duplicate action id",
			logger.String("action_id", exec.ActionID),
			logger.String("action_type", action.Type),
		)
		return &models.ExecutionResult{
			ActionID:           exec.ActionID,
			Status:             models.ResultFailed,
			PerPlatformResults: map[models.Platform]models.PlatformResult{},
			Errors:             []string{ErrDuplicateAction.Error()},
		}
	}
	defer e.release(exec.ActionID)

	tmpl, templated := e.catalog.Get(action.Type)
	if templated {
		exec.TemplateID = tmpl.ID
		for _, step := range tmpl.Steps {
			exec.Steps = append(exec.Steps, models.ExecutionStepResult{
				StepID:   step.StepID,
				Platform: step.Platform,
				Status:   models.StepStatusPending,
			})
		}
	}

	log := e.logger.With(
		logger.String("action_id", exec.ActionID),
		logger.String("action_type", action.Type),
	)

	e.metrics.ActiveExecutions.Inc()
	defer e.metrics.ActiveExecutions.Dec()

	e.save(ctx, exec)

	if action.ConfirmationRequired {
		if err := e.confirm(ctx, exec, action, actx); err != nil {
			log.Info("Action cancelled before execution", logger.Err(err))
			exec.Errors = append(exec.Errors, err.Error())
			return e.finish(ctx, exec, models.ResultCancelled, map[models.Platform]models.PlatformResult{}, false, start)
		}
		exec.Status = models.ActionStatusConfirmed
	}

	exec.Status = models.ActionStatusExecuting
	e.save(ctx, exec)
	e.progress(exec)
	log.Info("Executing action", logger.Bool("templated", templated))

	if templated {
		status, results := e.executeTemplate(ctx, exec, tmpl, action, actx, log)
		return e.finish(ctx, exec, status, results, tmpl.HasRollback(), start)
	}

	status, results := e.executeDirect(ctx, exec, action, log)
	return e.finish(ctx, exec, status, results, false, start)
}

// claim reserves id for a single run. It fails while another run holds the id
// or when the store already has an execution under it.
func (e *Engine) claim(ctx context.Context, id string) bool {
	e.mu.Lock()
	if _, busy := e.active[id]; busy {
		e.mu.Unlock()
		return false
	}
	e.active[id] = struct{}{}
	e.mu.Unlock()

	if _, err := e.store.GetExecution(ctx, id); err == nil {
		e.release(id)
		return false
	}
	return true
}

func (e *Engine) release(id string) {
	e.mu.Lock()
	delete(e.active, id)
	e.mu.Unlock()
}

// confirm registers the execution as pending and asks the Confirmer. It
// returns nil only when the action was approved and not cancelled meanwhile.
func (e *Engine) confirm(ctx context.Context, exec *models.ActionExecution, action models.PlatformAction, actx models.ActionContext) error {
	if e.confirmer == nil {
		return fmt.Errorf("%w: no confirmer configured", ErrConfirmationRejected)
	}

	confirmCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	e.pending[exec.ActionID] = &pendingExecution{cancel: cancel}
	e.mu.Unlock()

	approved, err := e.confirmer.Confirm(confirmCtx, *exec, action, actx)

	e.mu.Lock()
	p := e.pending[exec.ActionID]
	delete(e.pending, exec.ActionID)
	cancelled := p != nil && p.cancelled
	e.mu.Unlock()

	switch {
	case cancelled:
		return fmt.Errorf("%w: cancelled while awaiting confirmation", ErrConfirmationRejected)
	case err != nil:
		return fmt.Errorf("%w: %v", ErrConfirmationRejected, err)
	case !approved:
		return ErrConfirmationRejected
	}
	return nil
}

// CancelExecution cancels an execution that is still awaiting confirmation.
// Once platform calls have started it returns ErrNotCancellable.
func (e *Engine) CancelExecution(ctx context.Context, actionID string) error {
	e.mu.Lock()
	p, ok := e.pending[actionID]
	ok = ok && !p.cancelled
	if ok {
		p.cancelled = true
		p.cancel()
	}
	e.mu.Unlock()

	if ok {
		e.logger.Info("Execution cancelled", logger.String("action_id", actionID))
		return nil
	}

	if _, err := e.store.GetExecution(ctx, actionID); err != nil {
		return err
	}
	return ErrNotCancellable
}

// GetExecution returns the audit record of an execution
func (e *Engine) GetExecution(ctx context.Context, actionID string) (*models.ActionExecution, error) {
	return e.store.GetExecution(ctx, actionID)
}

// ListExecutions returns recent executions, newest first
func (e *Engine) ListExecutions(ctx context.Context, limit int) ([]models.ActionExecution, error) {
	return e.store.ListExecutions(ctx, limit)
}

func (e *Engine) executeTemplate(
	ctx context.Context,
	exec *models.ActionExecution,
	tmpl models.ActionTemplate,
	action models.PlatformAction,
	actx models.ActionContext,
	log *logger.Logger,
) (models.ResultStatus, map[models.Platform]models.PlatformResult) {
	if missing := missingParameters(tmpl.RequiredParameters, action.Parameters); len(missing) > 0 {
		err := fmt.Errorf("%w: %s", ErrMissingParameter, strings.Join(missing, ", "))
		exec.Errors = append(exec.Errors, err.Error())
		log.Warn("Template parameters missing", logger.Err(err))
		exec.Status = models.ActionStatusFailed
		return models.ResultFailed, map[models.Platform]models.PlatformResult{}
	}

	sc := newScope(action.Parameters, actx)
	params := make([]map[string]interface{}, len(tmpl.Steps))
	var failure error

	for i, step := range tmpl.Steps {
		sr := &exec.Steps[i]

		if err := dependenciesMet(exec, step); err != nil {
			failure = err
			sr.Status = models.StepStatusFailed
			sr.Error = err.Error()
			log.Error("Template misconfigured", logger.String("step_id", step.StepID), logger.Err(err))
			break
		}

		params[i] = sc.interpolate(step.Parameters)

		now := time.Now().UTC()
		sr.Status = models.StepStatusExecuting
		sr.StartedAt = &now
		e.save(ctx, exec)
		e.progress(exec)

		out, err := e.runStep(ctx, step.Platform, step.Operation, params[i], e.stepTimeout(step))

		done := time.Now().UTC()
		sr.CompletedAt = &done
		if err != nil {
			failure = &StepError{StepID: step.StepID, Platform: step.Platform, Operation: step.Operation, Err: err}
			sr.Status = models.StepStatusFailed
			sr.Error = err.Error()
			log.Warn("Step failed",
				logger.String("step_id", step.StepID),
				logger.Bool("timeout", IsStepTimeout(err)),
				logger.Err(err),
			)
			break
		}

		sr.Status = models.StepStatusCompleted
		sr.Result = out
		sc.steps[step.StepID] = out
		e.save(ctx, exec)
		e.progress(exec)
	}

	if failure == nil {
		exec.Status = models.ActionStatusCompleted
		return models.ResultSuccess, platformResults(exec)
	}

	exec.Errors = append(exec.Errors, failure.Error())
	exec.Status = models.ActionStatusFailed

	if e.rollback(ctx, exec, tmpl, params, log) > 0 {
		exec.Status = models.ActionStatusRolledBack
		return models.ResultRolledBack, platformResults(exec)
	}
	return models.ResultFailed, platformResults(exec)
}

func dependenciesMet(exec *models.ActionExecution, step models.ExecutionStep) error {
	for _, dep := range step.DependsOn {
		d := exec.Step(dep)
		if d == nil || d.Status != models.StepStatusCompleted {
			return fmt.Errorf("%w: step %s requires %s", ErrDependencyNotSatisfied, step.StepID, dep)
		}
	}
	return nil
}

func (e *Engine) stepTimeout(step models.ExecutionStep) time.Duration {
	if step.Timeout > 0 {
		return step.Timeout
	}
	return e.defaultStepTimeout
}

// rollback undoes completed steps in reverse order and returns how many were
// rolled back. Failures are logged and recorded on the execution only.
func (e *Engine) rollback(
	ctx context.Context,
	exec *models.ActionExecution,
	tmpl models.ActionTemplate,
	params []map[string]interface{},
	log *logger.Logger,
) int {
	rolledBack := 0
	for i := len(tmpl.Steps) - 1; i >= 0; i-- {
		step := tmpl.Steps[i]
		sr := &exec.Steps[i]
		if sr.Status != models.StepStatusCompleted || step.RollbackOperation == "" {
			continue
		}

		rbParams := make(map[string]interface{}, len(params[i])+len(sr.Result))
		for k, v := range params[i] {
			rbParams[k] = v
		}
		for k, v := range sr.Result {
			rbParams[k] = v
		}

		_, err := e.runStep(ctx, step.Platform, step.RollbackOperation, rbParams, e.stepTimeout(step))
		status := "success"
		if err != nil {
			status = "failure"
			err = fmt.Errorf("%w: step %s: %v", ErrRollbackFailed, step.StepID, err)
			exec.Errors = append(exec.Errors, err.Error())
			log.Error("Rollback failed",
				logger.String("step_id", step.StepID),
				logger.String("operation", step.RollbackOperation),
				logger.Err(err),
			)
		} else {
			sr.Status = models.StepStatusRolledBack
			rolledBack++
			log.Info("Step rolled back",
				logger.String("step_id", step.StepID),
				logger.String("operation", step.RollbackOperation),
			)
		}
		e.metrics.ActionRollbacksTotal.WithLabelValues(string(step.Platform), step.RollbackOperation, status).Inc()
	}
	return rolledBack
}

// runStep executes one operation raced against its timeout
func (e *Engine) runStep(
	ctx context.Context,
	platform models.Platform,
	operation string,
	params map[string]interface{},
	timeout time.Duration,
) (models.JSONB, error) {
	start := time.Now()
	out, err := e.race(ctx, platform, operation, params, timeout)

	status := "success"
	if err != nil {
		status = "failure"
		if IsStepTimeout(err) {
			status = "timeout"
		}
	}
	e.metrics.ActionStepDuration.WithLabelValues(string(platform), operation, status).Observe(time.Since(start).Seconds())
	return out, err
}

func (e *Engine) race(
	ctx context.Context,
	platform models.Platform,
	operation string,
	params map[string]interface{},
	timeout time.Duration,
) (models.JSONB, error) {
	op, err := e.ops.Lookup(platform, operation)
	if err != nil {
		return nil, err
	}
	adapter, err := e.adapters.Get(platform)
	if err != nil {
		return nil, err
	}

	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		out models.JSONB
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("operation %s.%s panicked: %v", platform, operation, r)}
			}
		}()
		out, err := op(stepCtx, adapter, params)
		done <- outcome{out: out, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && errors.Is(stepCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w after %s: %v", ErrStepTimeout, timeout, o.err)
		}
		return o.out, o.err
	case <-stepCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w after %s", ErrStepTimeout, timeout)
	}
}

// platformResults folds step outcomes into one result per platform
func platformResults(exec *models.ActionExecution) map[models.Platform]models.PlatformResult {
	results := make(map[models.Platform]models.PlatformResult)
	for _, sr := range exec.Steps {
		if sr.Status == models.StepStatusPending {
			continue
		}
		pr, seen := results[sr.Platform]
		if !seen {
			pr = models.PlatformResult{Success: true, Data: models.JSONB{}}
		}
		switch sr.Status {
		case models.StepStatusFailed, models.StepStatusExecuting:
			pr.Success = false
			if pr.Error == "" {
				pr.Error = sr.Error
			}
		case models.StepStatusRolledBack:
			pr.Data[sr.StepID] = models.JSONB{"rolled_back": true, "result": sr.Result}
		default:
			pr.Data[sr.StepID] = sr.Result
		}
		results[sr.Platform] = pr
	}
	return results
}

func (e *Engine) finish(
	ctx context.Context,
	exec *models.ActionExecution,
	status models.ResultStatus,
	results map[models.Platform]models.PlatformResult,
	rollbackAvailable bool,
	start time.Time,
) *models.ExecutionResult {
	switch status {
	case models.ResultCancelled:
		exec.Status = models.ActionStatusCancelled
	case models.ResultSuccess, models.ResultPartial:
		exec.Status = models.ActionStatusCompleted
	case models.ResultRolledBack:
		exec.Status = models.ActionStatusRolledBack
	default:
		exec.Status = models.ActionStatusFailed
	}
	end := time.Now().UTC()
	exec.EndTime = &end
	e.save(ctx, exec)

	elapsed := time.Since(start)
	result := &models.ExecutionResult{
		ActionID:           exec.ActionID,
		Status:             status,
		PerPlatformResults: results,
		ExecutionTimeMs:    elapsed.Milliseconds(),
		RollbackAvailable:  rollbackAvailable,
		Errors:             append([]string(nil), exec.Errors...),
	}

	e.metrics.ActionExecutionsTotal.WithLabelValues(exec.ActionType, string(status)).Inc()
	e.metrics.ActionDuration.WithLabelValues(exec.ActionType).Observe(elapsed.Seconds())

	e.logger.Info("Action finished",
		logger.String("action_id", exec.ActionID),
		logger.String("action_type", exec.ActionType),
		logger.String("status", string(status)),
		logger.Int64("duration_ms", result.ExecutionTimeMs),
	)

	if e.reporter != nil {
		snapshot := *cloneExecution(exec)
		res := *result
		async.Go(e.logger, "show_result", func(ctx context.Context) error {
			return e.reporter.ShowResult(ctx, snapshot, res)
		})
	}
	return result
}

// save persists a snapshot; a store failure never fails the execution
func (e *Engine) save(ctx context.Context, exec *models.ActionExecution) {
	if err := e.store.SaveExecution(context.WithoutCancel(ctx), exec); err != nil {
		e.logger.Warn("Failed to save execution",
			logger.String("action_id", exec.ActionID),
			logger.Err(err),
		)
	}
}

func (e *Engine) progress(exec *models.ActionExecution) {
	if e.reporter == nil {
		return
	}
	snapshot := *cloneExecution(exec)
	async.Go(e.logger, "show_progress", func(ctx context.Context) error {
		return e.reporter.ShowProgress(ctx, snapshot)
	})
}
