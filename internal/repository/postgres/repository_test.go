package postgres_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidmoltin/site-integrations/internal/engine"
	"github.com/davidmoltin/site-integrations/internal/models"
	"github.com/davidmoltin/site-integrations/internal/repository/postgres"
	"github.com/davidmoltin/site-integrations/pkg/testutil"
)

func setup(t *testing.T) *testutil.TestDB {
	t.Helper()
	db := testutil.SetupTestDB(t)
	testutil.RunMigrations(t, db, postgres.Migrations, "migrations")
	return db
}

func TestExecutionRepository_SaveAndGet(t *testing.T) {
	db := setup(t)
	repo := postgres.NewExecutionRepository(db.DB)
	ctx := testutil.Context(t)
	fx := testutil.NewFixtureBuilder()

	exec := fx.Execution()
	require.NoError(t, repo.SaveExecution(ctx, exec))

	got, err := repo.GetExecution(ctx, exec.ActionID)
	require.NoError(t, err)
	assert.Equal(t, exec.ActionType, got.ActionType)
	assert.Equal(t, models.ActionStatusCompleted, got.Status)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, "doc-1", got.Steps[0].Result.String("document_id"))
	assert.WithinDuration(t, exec.StartTime, got.StartTime, time.Millisecond)
	require.NotNil(t, got.EndTime)
}

func TestExecutionRepository_SaveOverwrites(t *testing.T) {
	db := setup(t)
	repo := postgres.NewExecutionRepository(db.DB)
	ctx := testutil.Context(t)

	exec := testutil.NewFixtureBuilder().Execution(func(e *models.ActionExecution) {
		e.Status = models.ActionStatusExecuting
		e.EndTime = nil
	})
	require.NoError(t, repo.SaveExecution(ctx, exec))

	exec.Status = models.ActionStatusRolledBack
	exec.Errors = []string{"step notify_team failed"}
	require.NoError(t, repo.SaveExecution(ctx, exec))

	got, err := repo.GetExecution(ctx, exec.ActionID)
	require.NoError(t, err)
	assert.Equal(t, models.ActionStatusRolledBack, got.Status)
	assert.Equal(t, []string{"step notify_team failed"}, got.Errors)
	assert.Nil(t, got.EndTime)
}

func TestExecutionRepository_NotFound(t *testing.T) {
	db := setup(t)
	repo := postgres.NewExecutionRepository(db.DB)

	_, err := repo.GetExecution(testutil.Context(t), "missing")
	assert.ErrorIs(t, err, engine.ErrExecutionNotFound)
}

func TestExecutionRepository_ListNewestFirst(t *testing.T) {
	db := setup(t)
	repo := postgres.NewExecutionRepository(db.DB)
	ctx := testutil.Context(t)
	fx := testutil.NewFixtureBuilder()
	base := time.Now().UTC().Add(-time.Hour)

	for i, id := range []string{"a", "b", "c"} {
		offset := time.Duration(i) * time.Minute
		require.NoError(t, repo.SaveExecution(ctx, fx.Execution(func(e *models.ActionExecution) {
			e.ActionID = id
			e.StartTime = base.Add(offset)
		})))
	}

	list, err := repo.ListExecutions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c", list[0].ActionID)
	assert.Equal(t, "b", list[1].ActionID)
}

func TestAlertHistoryRepository(t *testing.T) {
	db := setup(t)
	repo := postgres.NewAlertHistoryRepository(db.DB)
	ctx := testutil.Context(t)
	fx := testutil.NewFixtureBuilder()
	now := time.Now().UTC()

	wa := fx.Alert()
	ws := fx.Alert(func(a *models.StatusAlert) {
		a.Platform = models.PlatformGoogleWorkspace
		a.Title = "google_workspace needs attention"
		a.Severity = models.SeverityMedium
	})

	require.NoError(t, repo.RecordAlert(ctx, models.AlertEvent{Kind: models.AlertRaised, Alert: *wa, OccurredAt: now.Add(-2 * time.Minute)}))
	require.NoError(t, repo.RecordAlert(ctx, models.AlertEvent{Kind: models.AlertRaised, Alert: *ws, OccurredAt: now.Add(-time.Minute)}))
	require.NoError(t, repo.RecordAlert(ctx, models.AlertEvent{Kind: models.AlertResolved, Alert: *wa, OccurredAt: now}))

	all, err := repo.ListHistory(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, models.AlertResolved, all[0].Kind)

	whatsapp, err := repo.ListHistory(ctx, models.PlatformWhatsApp, 10)
	require.NoError(t, err)
	require.Len(t, whatsapp, 2)
	for _, e := range whatsapp {
		assert.Equal(t, wa.ID, e.AlertID)
	}
}

func TestMigrations_RollBackAndReapply(t *testing.T) {
	db := setup(t)
	ctx := testutil.Context(t)

	testutil.MigrateDown(t, db, postgres.Migrations, "migrations")

	var exists bool
	require.NoError(t, db.DB.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'alert_history')`,
	).Scan(&exists))
	assert.False(t, exists)

	testutil.RunMigrations(t, db, postgres.Migrations, "migrations")
	require.NoError(t, postgres.NewAlertHistoryRepository(db.DB).RecordAlert(ctx, models.AlertEvent{
		Kind:       models.AlertRaised,
		Alert:      *testutil.NewFixtureBuilder().Alert(),
		OccurredAt: time.Now().UTC(),
	}))

	db.Truncate("alert_history")
	entries, err := postgres.NewAlertHistoryRepository(db.DB).ListHistory(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
