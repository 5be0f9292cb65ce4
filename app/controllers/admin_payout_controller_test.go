package controllers

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/TipQueue/app/models"
	"github.com/ManuelReschke/TipQueue/app/repository"
	"github.com/ManuelReschke/TipQueue/internal/pkg/database/dbtest"
	"github.com/ManuelReschke/TipQueue/internal/pkg/jobqueue"
	"github.com/ManuelReschke/TipQueue/internal/pkg/payouts"
	"github.com/ManuelReschke/TipQueue/internal/pkg/period"
)

type fakeRunner struct {
	res *payouts.RunResult
	err error
}

func (f *fakeRunner) ScheduleMonthlyPayouts(_ context.Context, year, month int) (*payouts.RunResult, error) {
	if f.err != nil {
		return f.res, f.err
	}
	return &payouts.RunResult{Period: period.MonthRangeUTC(year, month), FeePolicy: "block_flat", Created: 2}, nil
}

type fakeQueue struct {
	jobs       map[string]*jobqueue.Job
	enqueueErr error
	statsErr   error
}

func (f *fakeQueue) EnqueueSchedulePayouts(year, month int, reason string) (*jobqueue.Job, error) {
	if f.enqueueErr != nil {
		return nil, f.enqueueErr
	}
	job := &jobqueue.Job{
		ID:      "job-1",
		Type:    jobqueue.JobTypeSchedulePayouts,
		Status:  jobqueue.JobStatusPending,
		Payload: jobqueue.SchedulePayoutsJobPayload{Year: year, Month: month, Reason: reason}.ToMap(),
	}
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeQueue) GetJob(_ context.Context, jobID string) (*jobqueue.Job, error) {
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, redis.Nil
	}
	return job, nil
}

func (f *fakeQueue) GetJobStats(context.Context) (map[jobqueue.JobStatus]int64, error) {
	if f.statsErr != nil {
		return nil, f.statsErr
	}
	return map[jobqueue.JobStatus]int64{jobqueue.JobStatusCompleted: 3, jobqueue.JobStatusFailed: 1}, nil
}

func (f *fakeQueue) GetQueueSize(context.Context) (int64, error)      { return 2, nil }
func (f *fakeQueue) GetProcessingSize(context.Context) (int64, error) { return 1, nil }

func newAdminApp(t *testing.T, runner PayoutRunner, queue JobQueue) (*fiber.App, *repository.Repositories) {
	t.Helper()
	repos := repository.NewRepositories(dbtest.OpenTestDB(t))
	ac := NewAdminPayoutController(runner, queue, repos.Payout, 0)

	app := fiber.New()
	app.Get("/admin/payouts", ac.HandleList)
	app.Post("/admin/payouts/run", ac.HandleRun)
	app.Post("/admin/payouts/enqueue", ac.HandleEnqueue)
	app.Get("/admin/jobs/stats", ac.HandleJobStats)
	app.Get("/admin/jobs/:id", ac.HandleGetJob)
	return app, repos
}

func TestAdminPayouts_Run(t *testing.T) {
	app, _ := newAdminApp(t, &fakeRunner{}, &fakeQueue{jobs: map[string]*jobqueue.Job{}})

	status, resp := doJSON(t, app, "POST", "/admin/payouts/run", PayoutRunRequest{Year: 2025, Month: 3})
	require.Equal(t, fiber.StatusOK, status, resp)
	assert.Equal(t, float64(2), resp["created"])
	assert.Equal(t, "block_flat", resp["feePolicy"])

	status, resp = doJSON(t, app, "POST", "/admin/payouts/run", PayoutRunRequest{Year: 2025, Month: 13})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "validation_failed", resp["error"])
}

func TestAdminPayouts_RunErrors(t *testing.T) {
	app, _ := newAdminApp(t, &fakeRunner{err: fmt.Errorf("%w: 1999-01", payouts.ErrInvalidPeriod)}, &fakeQueue{})
	status, resp := doJSON(t, app, "POST", "/admin/payouts/run", PayoutRunRequest{Year: 2025, Month: 1})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "invalid_period", resp["error"])

	partial := &payouts.RunResult{Created: 1}
	app, _ = newAdminApp(t, &fakeRunner{res: partial, err: errors.New("listing creators: db down")}, &fakeQueue{})
	status, resp = doJSON(t, app, "POST", "/admin/payouts/run", PayoutRunRequest{Year: 2025, Month: 1})
	assert.Equal(t, fiber.StatusInternalServerError, status)
	assert.Equal(t, "payout_run_failed", resp["error"])
	assert.Equal(t, float64(1), resp["partial"].(map[string]interface{})["created"])
}

func TestAdminPayouts_EnqueueAndGetJob(t *testing.T) {
	queue := &fakeQueue{jobs: map[string]*jobqueue.Job{}}
	app, _ := newAdminApp(t, &fakeRunner{}, queue)

	status, resp := doJSON(t, app, "POST", "/admin/payouts/enqueue", PayoutRunRequest{Year: 2025, Month: 3})
	require.Equal(t, fiber.StatusAccepted, status, resp)
	assert.Equal(t, "job-1", resp["id"])

	status, resp = doJSON(t, app, "GET", "/admin/jobs/job-1", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, string(jobqueue.JobTypeSchedulePayouts), resp["type"])

	status, resp = doJSON(t, app, "GET", "/admin/jobs/missing", nil)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "job_not_found", resp["error"])
}

func TestAdminPayouts_EnqueueQueueDown(t *testing.T) {
	app, _ := newAdminApp(t, &fakeRunner{}, &fakeQueue{enqueueErr: errors.New("dial tcp: connection refused")})
	status, resp := doJSON(t, app, "POST", "/admin/payouts/enqueue", PayoutRunRequest{Year: 2025, Month: 3})
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	assert.Equal(t, "enqueue_failed", resp["error"])
}

func TestAdminPayouts_JobStats(t *testing.T) {
	app, _ := newAdminApp(t, &fakeRunner{}, &fakeQueue{})
	status, resp := doJSON(t, app, "GET", "/admin/jobs/stats", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(2), resp["queued"])
	assert.Equal(t, float64(1), resp["processing"])
	stats := resp["stats"].(map[string]interface{})
	assert.Equal(t, float64(3), stats[string(jobqueue.JobStatusCompleted)])

	app, _ = newAdminApp(t, &fakeRunner{}, &fakeQueue{statsErr: errors.New("redis down")})
	status, _ = doJSON(t, app, "GET", "/admin/jobs/stats", nil)
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
}

func TestAdminPayouts_List(t *testing.T) {
	app, repos := newAdminApp(t, &fakeRunner{}, &fakeQueue{})
	ctx := context.Background()

	march := period.MonthRangeUTC(2025, 3)
	for i, slug := range []string{"alice", "bob"} {
		require.NoError(t, repos.Payout.Create(ctx, &models.Payout{
			CreatorSlug: slug,
			PeriodStart: march.Start,
			PeriodEnd:   march.End,
			GrossCents:  int64(1000 * (i + 1)),
			PayoutCents: int64(1000 * (i + 1)),
			Currency:    "usd",
			Status:      models.PayoutStatusPending,
		}))
	}
	april := period.MonthRangeUTC(2025, 4)
	require.NoError(t, repos.Payout.Create(ctx, &models.Payout{CreatorSlug: "alice", PeriodStart: april.Start, PeriodEnd: april.End, PayoutCents: 50, Currency: "usd", Status: models.PayoutStatusPending}))

	status, resp := doJSON(t, app, "GET", "/admin/payouts?period=2025-03", nil)
	require.Equal(t, fiber.StatusOK, status, resp)
	assert.Equal(t, "2025-03", resp["period"])
	assert.Equal(t, float64(2), resp["count"])
	assert.Equal(t, float64(3000), resp["totalPayoutCents"])

	status, resp = doJSON(t, app, "GET", "/admin/payouts?period=2025-09", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(0), resp["count"])
	assert.Empty(t, resp["payouts"])

	status, resp = doJSON(t, app, "GET", "/admin/payouts?period=march", nil)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "invalid_period", resp["error"])
}
