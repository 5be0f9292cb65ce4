package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/TipQueue/app/models"
	"github.com/ManuelReschke/TipQueue/app/repository"
	"github.com/ManuelReschke/TipQueue/internal/pkg/jobqueue"
	"github.com/ManuelReschke/TipQueue/internal/pkg/payouts"
	"github.com/ManuelReschke/TipQueue/internal/pkg/period"
)

// PayoutRunner runs one monthly payout run synchronously.
type PayoutRunner interface {
	ScheduleMonthlyPayouts(ctx context.Context, year, month int) (*payouts.RunResult, error)
}

// JobQueue is the part of the background queue the admin surface uses.
type JobQueue interface {
	EnqueueSchedulePayouts(year, month int, reason string) (*jobqueue.Job, error)
	GetJob(ctx context.Context, jobID string) (*jobqueue.Job, error)
	GetJobStats(ctx context.Context) (map[jobqueue.JobStatus]int64, error)
	GetQueueSize(ctx context.Context) (int64, error)
	GetProcessingSize(ctx context.Context) (int64, error)
}

// ============================================================================
// ADMIN PAYOUT CONTROLLER
// ============================================================================

type AdminPayoutController struct {
	runner  PayoutRunner
	queue   JobQueue
	payouts repository.PayoutRepository
	timeout time.Duration
}

func NewAdminPayoutController(runner PayoutRunner, queue JobQueue, payoutRepo repository.PayoutRepository, timeout time.Duration) *AdminPayoutController {
	return &AdminPayoutController{runner: runner, queue: queue, payouts: payoutRepo, timeout: timeout}
}

// PayoutRunRequest selects the month to pay out.
type PayoutRunRequest struct {
	Year  int `json:"year" validate:"required,gte=2000,lte=9999"`
	Month int `json:"month" validate:"required,gte=1,lte=12"`
}

// HandleRun schedules payouts in the request. A run over many creators can
// outlast the request timeout; use HandleEnqueue for those.
func (ac *AdminPayoutController) HandleRun(c *fiber.Ctx) error {
	var req PayoutRunRequest
	if rerr := bindJSON(c, &req); rerr != nil {
		return rerr.respond(c)
	}

	res, err := ac.runner.ScheduleMonthlyPayouts(c.UserContext(), req.Year, req.Month)
	if err != nil {
		if errors.Is(err, payouts.ErrInvalidPeriod) {
			return errorJSON(c, fiber.StatusBadRequest, "invalid_period", err.Error())
		}
		log.Errorf("[Payouts] Admin run %04d-%02d aborted: %v", req.Year, req.Month, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "payout_run_failed",
			"message": err.Error(),
			"partial": res,
		})
	}
	return c.JSON(res)
}

// HandleEnqueue queues the same run as a background job.
func (ac *AdminPayoutController) HandleEnqueue(c *fiber.Ctx) error {
	var req PayoutRunRequest
	if rerr := bindJSON(c, &req); rerr != nil {
		return rerr.respond(c)
	}

	job, err := ac.queue.EnqueueSchedulePayouts(req.Year, req.Month, jobqueue.ReasonAdmin)
	if err != nil {
		if errors.Is(err, payouts.ErrInvalidPeriod) {
			return errorJSON(c, fiber.StatusBadRequest, "invalid_period", err.Error())
		}
		log.Errorf("[Payouts] Failed to enqueue run %04d-%02d: %v", req.Year, req.Month, err)
		return errorJSON(c, fiber.StatusServiceUnavailable, "enqueue_failed", "Job queue unavailable")
	}
	return c.Status(fiber.StatusAccepted).JSON(job)
}

// HandleList returns the payout rows of one month: ?period=YYYY-MM
func (ac *AdminPayoutController) HandleList(c *fiber.Ctx) error {
	p, err := period.ParseKey(c.Query("period"))
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_period", "period must be YYYY-MM")
	}

	ctx, cancel := requestContext(c, ac.timeout)
	defer cancel()

	rows, err := ac.payouts.ListByPeriod(ctx, p.Start, p.End)
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load payouts")
	}
	if rows == nil {
		rows = []models.Payout{}
	}

	var total int64
	for _, r := range rows {
		total += r.PayoutCents
	}
	return c.JSON(fiber.Map{"period": p.Key(), "payouts": rows, "count": len(rows), "totalPayoutCents": total})
}

// HandleJobStats reports queue depth and per-status counters.
func (ac *AdminPayoutController) HandleJobStats(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c, ac.timeout)
	defer cancel()

	stats, err := ac.queue.GetJobStats(ctx)
	if err != nil {
		return errorJSON(c, fiber.StatusServiceUnavailable, "queue_unavailable", "Job queue unavailable")
	}
	queued, err := ac.queue.GetQueueSize(ctx)
	if err != nil {
		return errorJSON(c, fiber.StatusServiceUnavailable, "queue_unavailable", "Job queue unavailable")
	}
	processing, err := ac.queue.GetProcessingSize(ctx)
	if err != nil {
		return errorJSON(c, fiber.StatusServiceUnavailable, "queue_unavailable", "Job queue unavailable")
	}

	byStatus := make(map[string]int64, len(stats))
	for status, n := range stats {
		byStatus[string(status)] = n
	}
	return c.JSON(fiber.Map{"queued": queued, "processing": processing, "stats": byStatus})
}

func (ac *AdminPayoutController) HandleGetJob(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c, ac.timeout)
	defer cancel()

	job, err := ac.queue.GetJob(ctx, c.Params("id"))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return errorJSON(c, fiber.StatusNotFound, "job_not_found", "Job not found or expired")
		}
		return errorJSON(c, fiber.StatusServiceUnavailable, "queue_unavailable", "Job queue unavailable")
	}
	return c.JSON(job)
}
