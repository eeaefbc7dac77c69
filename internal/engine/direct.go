package engine

import (
	"context"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/davidmoltin/site-integrations/internal/models"
	"github.com/davidmoltin/site-integrations/pkg/logger"
)

type directOutcome struct {
	index int
	out   models.JSONB
	err   error
}

// executeDirect runs the action type as an operation on every named platform
// in parallel. Platforms are independent and nothing is rolled back.
func (e *Engine) executeDirect(
	ctx context.Context,
	exec *models.ActionExecution,
	action models.PlatformAction,
	log *logger.Logger,
) (models.ResultStatus, map[models.Platform]models.PlatformResult) {
	results := make(map[models.Platform]models.PlatformResult, len(action.Platforms))
	if len(action.Platforms) == 0 {
		exec.Errors = append(exec.Errors, "action names no platforms")
		return models.ResultFailed, results
	}

	started := time.Now().UTC()
	for _, platform := range action.Platforms {
		exec.Steps = append(exec.Steps, models.ExecutionStepResult{
			StepID:    string(platform),
			Platform:  platform,
			Status:    models.StepStatusExecuting,
			StartedAt: &started,
		})
	}
	e.save(ctx, exec)

	p := pool.NewWithResults[directOutcome]()
	for i, platform := range action.Platforms {
		p.Go(func() directOutcome {
			out, err := e.runStep(ctx, platform, action.Type, action.Parameters, e.defaultStepTimeout)
			return directOutcome{index: i, out: out, err: err}
		})
	}

	succeeded := 0
	for _, o := range p.Wait() {
		sr := &exec.Steps[o.index]
		done := time.Now().UTC()
		sr.CompletedAt = &done

		if o.err != nil {
			sr.Status = models.StepStatusFailed
			sr.Error = o.err.Error()
			exec.Errors = append(exec.Errors, string(sr.Platform)+": "+o.err.Error())
			results[sr.Platform] = models.PlatformResult{Success: false, Error: o.err.Error()}
			log.Warn("Platform execution failed",
				logger.String("platform", string(sr.Platform)),
				logger.Err(o.err),
			)
			continue
		}

		succeeded++
		sr.Status = models.StepStatusCompleted
		sr.Result = o.out
		results[sr.Platform] = models.PlatformResult{Success: true, Data: o.out}
	}

	switch {
	case succeeded == len(action.Platforms):
		return models.ResultSuccess, results
	case succeeded > 0:
		return models.ResultPartial, results
	default:
		return models.ResultFailed, results
	}
}
