package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/TipQueue/internal/pkg/payouts"
)

// PayoutRunKeyPrefix keys the reservation that keeps one active job per
// month and mode.
const PayoutRunKeyPrefix = "payout_run:"

// PayoutScheduler runs one monthly payout run.
type PayoutScheduler interface {
	ScheduleMonthlyPayouts(ctx context.Context, year, month int) (*payouts.RunResult, error)
	SweepMonthlyPayouts(ctx context.Context, year, month int) (*payouts.RunResult, error)
}

// PayoutRunSummary is stored on a finished schedule_payouts job.
type PayoutRunSummary struct {
	Period        string   `json:"period"`
	Mode          string   `json:"mode"`
	Created       int      `json:"created"`
	Updated       int      `json:"updated"`
	Skipped       int      `json:"skipped"`
	Settled       int      `json:"settled"`
	Failed        []string `json:"failed"`
	Discrepancies int      `json:"discrepancies"`
}

var releaseReservation = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// SetPayoutScheduler wires the scheduler used by schedule_payouts jobs.
func (q *Queue) SetPayoutScheduler(s PayoutScheduler) {
	q.payoutsMu.Lock()
	defer q.payoutsMu.Unlock()
	q.payouts = s
}

func payoutRunKey(p SchedulePayoutsJobPayload) string {
	return fmt.Sprintf("%s%04d-%02d:%s", PayoutRunKeyPrefix, p.Year, p.Month, p.Mode())
}

// EnqueueSchedulePayouts queues a payout run for the given month. While a
// run for the same month and mode is still pending, processing or waiting
// for a retry, that job is returned instead of queueing another.
func (q *Queue) EnqueueSchedulePayouts(year, month int, reason string) (*Job, error) {
	if month < 1 || month > 12 || year <= 0 {
		return nil, fmt.Errorf("%w: %04d-%02d", payouts.ErrInvalidPeriod, year, month)
	}
	payload := SchedulePayoutsJobPayload{Year: year, Month: month, Reason: reason}
	ctx := context.Background()
	job := q.newJob(JobTypeSchedulePayouts, payload.ToMap())
	key := payoutRunKey(payload)

	reserved, err := q.client.SetNX(ctx, key, job.ID, JobTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to reserve payout run %s: %w", key, err)
	}
	if !reserved {
		existing, err := q.activeRun(ctx, key)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			log.Infof("[JobQueue] Payout run %04d-%02d (%s) already queued as job %s", year, month, payload.Mode(), existing.ID)
			return existing, nil
		}
		// The reservation points at a job that finished or expired.
		if err := q.client.Set(ctx, key, job.ID, JobTTL).Err(); err != nil {
			return nil, fmt.Errorf("failed to reserve payout run %s: %w", key, err)
		}
	}

	if err := q.push(ctx, job); err != nil {
		q.release(ctx, key, job.ID)
		return nil, err
	}
	return job, nil
}

func (q *Queue) activeRun(ctx context.Context, key string) (*Job, error) {
	id, err := q.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read payout run %s: %w", key, err)
	}
	job, err := q.GetJob(ctx, id)
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !job.IsActive() {
		return nil, nil
	}
	return job, nil
}

func (q *Queue) releasePayoutRun(ctx context.Context, job *Job) {
	payload, err := SchedulePayoutsJobPayloadFromMap(job.Payload)
	if err != nil {
		return
	}
	q.release(ctx, payoutRunKey(*payload), job.ID)
}

func (q *Queue) release(ctx context.Context, key, jobID string) {
	if err := releaseReservation.Run(ctx, q.client, []string{key}, jobID).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to release %s for job %s: %v", key, jobID, err)
	}
}

// processSchedulePayoutsJob runs the scheduler in the mode the payload asks
// for. Creators that failed make the job fail so it is retried; reruns only
// touch the same rows again.
func (q *Queue) processSchedulePayoutsJob(ctx context.Context, job *Job) error {
	q.payoutsMu.RLock()
	scheduler := q.payouts
	q.payoutsMu.RUnlock()
	if scheduler == nil {
		return fmt.Errorf("no payout scheduler configured")
	}

	payload, err := SchedulePayoutsJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid schedule_payouts payload: %w", err)
	}

	run := scheduler.ScheduleMonthlyPayouts
	if payload.Mode() == payouts.ModeSweep {
		run = scheduler.SweepMonthlyPayouts
	}
	res, err := run(ctx, payload.Year, payload.Month)
	if err != nil {
		return err
	}

	summary := PayoutRunSummary{
		Period:        fmt.Sprintf("%04d-%02d", payload.Year, payload.Month),
		Mode:          payload.Mode(),
		Created:       res.Created,
		Updated:       res.Updated,
		Skipped:       res.Skipped,
		Settled:       res.Settled,
		Failed:        res.FailedSlugs(),
		Discrepancies: len(res.Discrepancies),
	}
	if data, err := json.Marshal(summary); err == nil {
		job.Result = data
	}
	log.Infof("[JobQueue] Payout run %s (%s, %s): created=%d updated=%d skipped=%d settled=%d failed=%d discrepancies=%d",
		summary.Period, summary.Mode, payload.Reason, res.Created, res.Updated, res.Skipped, res.Settled, len(res.Failed), len(res.Discrepancies))

	if len(res.Failed) > 0 {
		return fmt.Errorf("payout run %s failed for %d creators: %s",
			summary.Period, len(res.Failed), strings.Join(res.FailedSlugs(), ", "))
	}
	return nil
}
