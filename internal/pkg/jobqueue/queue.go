package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/TipQueue/internal/pkg/cache"
)

const (
	// Redis keys
	JobKeyPrefix     = "job:"
	JobQueueKey      = "job_queue"
	JobProcessingKey = "job_processing"
	JobDelayedKey    = "job_delayed"
	JobStatsKey      = "job_stats"

	DefaultWorkers    = 2
	DefaultMaxRetries = 3
	JobTTL            = 24 * time.Hour

	// RetryBaseDelay is the wait before the first retry. Every further
	// attempt doubles it up to RetryMaxDelay.
	RetryBaseDelay = 2 * time.Minute
	RetryMaxDelay  = 30 * time.Minute

	// StuckAfter is how long a job may stay in processing before it is put
	// back. A payout run pages through every creator, so this is generous.
	StuckAfter = 30 * time.Minute

	maintenanceInterval = 30 * time.Second
	dequeueTimeout      = time.Second
)

// Queue runs background jobs on Redis. Pending ids wait in JobQueueKey,
// running ids sit in JobProcessingKey and retries wait in the JobDelayedKey
// sorted set, scored by their due time in unix milliseconds.
type Queue struct {
	client     *redis.Client
	payouts    PayoutScheduler
	payoutsMu  sync.RWMutex
	workers    int
	stuckAfter time.Duration
	now        func() time.Time
	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
}

// NewQueue creates a queue on the shared cache client.
func NewQueue(workers int) *Queue {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Queue{
		client:     cache.GetClient(),
		workers:    workers,
		stuckAfter: StuckAfter,
		now:        time.Now,
		stopCh:     make(chan struct{}),
	}
}

// Start launches the workers and the maintenance loop. It is a no-op when
// the queue is already running.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return
	}
	q.running = true
	q.stopCh = make(chan struct{})
	log.Infof("[JobQueue] Starting %d workers", q.workers)

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i, q.stopCh)
	}
	q.wg.Add(1)
	go q.maintenance(q.stopCh)
}

// Stop waits for running jobs to finish.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.running {
		return
	}
	log.Info("[JobQueue] Stopping workers...")
	close(q.stopCh)
	q.running = false
	q.wg.Wait()
	log.Info("[JobQueue] All workers stopped")
}

func (q *Queue) worker(id int, stopCh <-chan struct{}) {
	defer q.wg.Done()
	log.Infof("[JobQueue] Worker %d started", id)
	ctx := context.Background()

	for {
		select {
		case <-stopCh:
			log.Infof("[JobQueue] Worker %d stopping", id)
			return
		default:
		}

		job, err := q.dequeueJob(ctx)
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			log.Errorf("[JobQueue] Worker %d: error dequeuing job: %v", id, err)
			select {
			case <-stopCh:
			case <-time.After(time.Second):
			}
			continue
		}

		log.Infof("[JobQueue] Worker %d processing job %s (Type: %s)", id, job.ID, job.Type)
		q.processJob(ctx, job)
	}
}

// maintenance promotes due retries and recovers jobs left in processing by
// a crashed worker.
func (q *Queue) maintenance(stopCh <-chan struct{}) {
	defer q.wg.Done()
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()
	ctx := context.Background()

	for {
		select {
		case <-stopCh:
			log.Info("[JobQueue] Maintenance loop stopping")
			return
		case <-ticker.C:
			if n, err := q.promoteDueRetries(ctx); err != nil {
				log.Errorf("[JobQueue] Promoting retries failed: %v", err)
			} else if n > 0 {
				log.Infof("[JobQueue] Promoted %d retries", n)
			}
			if n, err := q.recoverStuck(ctx); err != nil {
				log.Errorf("[JobQueue] Recovering stuck jobs failed: %v", err)
			} else if n > 0 {
				log.Warnf("[JobQueue] Recovered %d stuck jobs", n)
			}
		}
	}
}

// promoteDueRetries moves retries whose backoff has elapsed back to the
// pending list. ZREM decides the winner when several instances race.
func (q *Queue) promoteDueRetries(ctx context.Context) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, JobDelayedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(q.now().UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}
	promoted := 0
	for _, id := range ids {
		removed, err := q.client.ZRem(ctx, JobDelayedKey, id).Result()
		if err != nil {
			return promoted, err
		}
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, JobQueueKey, id).Err(); err != nil {
			return promoted, err
		}
		promoted++
	}
	return promoted, nil
}

// recoverStuck requeues jobs that stayed in processing longer than
// stuckAfter and drops processing entries without job data.
func (q *Queue) recoverStuck(ctx context.Context) (int, error) {
	ids, err := q.client.LRange(ctx, JobProcessingKey, 0, -1).Result()
	if err != nil {
		return 0, err
	}
	now := q.now()
	recovered := 0
	for _, id := range ids {
		job, err := q.GetJob(ctx, id)
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				log.Errorf("[JobQueue] Recovery could not load job %s: %v", id, err)
			}
			_ = q.client.LRem(ctx, JobProcessingKey, 1, id).Err()
			continue
		}
		if job.Status != JobStatusProcessing {
			_ = q.client.LRem(ctx, JobProcessingKey, 1, id).Err()
			continue
		}
		if now.Sub(job.startedAt()) <= q.stuckAfter {
			continue
		}

		log.Warnf("[JobQueue] Recovering stuck job %s (type=%s), started %s ago", job.ID, job.Type, now.Sub(job.startedAt()).Round(time.Second))
		job.Status = JobStatusPending
		job.ErrorMsg = "recovered after worker loss"
		job.UpdatedAt = now
		q.updateJob(ctx, job)
		pipe := q.client.TxPipeline()
		pipe.LRem(ctx, JobProcessingKey, 1, id)
		pipe.RPush(ctx, JobQueueKey, id)
		if _, err := pipe.Exec(ctx); err != nil {
			return recovered, err
		}
		recovered++
	}
	return recovered, nil
}

// EnqueueJob stores a new job and appends it to the pending list.
func (q *Queue) EnqueueJob(jobType JobType, payload map[string]interface{}) (*Job, error) {
	job := q.newJob(jobType, payload)
	if err := q.push(context.Background(), job); err != nil {
		return nil, err
	}
	return job, nil
}

func (q *Queue) newJob(jobType JobType, payload map[string]interface{}) *Job {
	now := q.now()
	return &Job{
		ID:         uuid.New().String(),
		Type:       jobType,
		Status:     JobStatusPending,
		Payload:    payload,
		CreatedAt:  now,
		UpdatedAt:  now,
		MaxRetries: DefaultMaxRetries,
	}
}

func (q *Queue) push(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, JobKeyPrefix+job.ID, data, JobTTL)
	pipe.LPush(ctx, JobQueueKey, job.ID)
	pipe.HIncrBy(ctx, JobStatsKey, string(JobStatusPending), 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	log.Infof("[JobQueue] Enqueued job %s (Type: %s)", job.ID, job.Type)
	return nil
}

// dequeueJob blocks for up to a second. It returns redis.Nil when nothing
// was pending.
func (q *Queue) dequeueJob(ctx context.Context) (*Job, error) {
	id, err := q.client.BRPopLPush(ctx, JobQueueKey, JobProcessingKey, dequeueTimeout).Result()
	if err != nil {
		return nil, err
	}

	job, err := q.GetJob(ctx, id)
	if err != nil {
		q.client.LRem(ctx, JobProcessingKey, 1, id)
		return nil, fmt.Errorf("job %s could not be loaded: %w", id, err)
	}
	return job, nil
}

func (q *Queue) processJob(ctx context.Context, job *Job) {
	job.MarkAsProcessing()
	q.updateJob(ctx, job)

	var err error
	switch job.Type {
	case JobTypeSchedulePayouts:
		err = q.processSchedulePayoutsJob(ctx, job)
	default:
		err = fmt.Errorf("unknown job type: %s", job.Type)
	}

	switch {
	case err == nil:
		log.Infof("[JobQueue] Job %s completed", job.ID)
		job.MarkAsCompleted()
		q.updateJob(ctx, job)
		q.updateJobStats(ctx, JobStatusCompleted, 1)
		q.finish(ctx, job)
	default:
		log.Errorf("[JobQueue] Job %s failed: %v", job.ID, err)
		job.MarkAsFailed(err.Error())
		if job.IsRetryable() {
			delay := RetryDelay(job.RetryCount)
			log.Infof("[JobQueue] Retrying job %s in %s (attempt %d/%d)", job.ID, delay, job.RetryCount, job.MaxRetries)
			job.MarkAsRetrying()
			q.updateJob(ctx, job)
			q.scheduleRetry(ctx, job.ID, q.now().Add(delay))
		} else {
			log.Errorf("[JobQueue] Job %s permanently failed after %d attempts", job.ID, job.RetryCount)
			q.updateJob(ctx, job)
			q.updateJobStats(ctx, JobStatusFailed, 1)
			q.finish(ctx, job)
		}
	}
	q.removeFromProcessing(ctx, job.ID)
}

// RetryDelay is the backoff before the given retry attempt (1-based).
func RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := RetryBaseDelay
	for i := 1; i < attempt && d < RetryMaxDelay; i++ {
		d *= 2
	}
	if d > RetryMaxDelay {
		d = RetryMaxDelay
	}
	return d
}

func (q *Queue) scheduleRetry(ctx context.Context, jobID string, due time.Time) {
	err := q.client.ZAdd(ctx, JobDelayedKey, redis.Z{Score: float64(due.UnixMilli()), Member: jobID}).Err()
	if err != nil {
		log.Errorf("[JobQueue] Failed to schedule retry of job %s: %v", jobID, err)
	}
}

// finish runs type specific cleanup once a job will not run again.
func (q *Queue) finish(ctx context.Context, job *Job) {
	if job.Type == JobTypeSchedulePayouts {
		q.releasePayoutRun(ctx, job)
	}
}

func (q *Queue) updateJob(ctx context.Context, job *Job) {
	data, err := json.Marshal(job)
	if err != nil {
		log.Errorf("[JobQueue] Failed to marshal job %s: %v", job.ID, err)
		return
	}
	if err := q.client.Set(ctx, JobKeyPrefix+job.ID, data, JobTTL).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to update job %s: %v", job.ID, err)
	}
}

func (q *Queue) removeFromProcessing(ctx context.Context, jobID string) {
	if err := q.client.LRem(ctx, JobProcessingKey, 1, jobID).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to remove job %s from processing: %v", jobID, err)
	}
}

func (q *Queue) updateJobStats(ctx context.Context, status JobStatus, delta int64) {
	if err := q.client.HIncrBy(ctx, JobStatsKey, string(status), delta).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to update job stats: %v", err)
	}
}

// GetJob loads a job. Finished jobs stay readable until JobTTL expires;
// after that redis.Nil is returned.
func (q *Queue) GetJob(ctx context.Context, jobID string) (*Job, error) {
	data, err := q.client.Get(ctx, JobKeyPrefix+jobID).Result()
	if err != nil {
		return nil, err
	}

	var job Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", jobID, err)
	}
	return &job, nil
}

// GetJobStats returns the counters per job status.
func (q *Queue) GetJobStats(ctx context.Context) (map[JobStatus]int64, error) {
	stats, err := q.client.HGetAll(ctx, JobStatsKey).Result()
	if err != nil {
		return nil, err
	}

	result := make(map[JobStatus]int64, len(stats))
	for status, count := range stats {
		if n, err := strconv.ParseInt(count, 10, 64); err == nil {
			result[JobStatus(status)] = n
		}
	}
	return result, nil
}

// GetQueueSize returns the number of pending jobs.
func (q *Queue) GetQueueSize(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, JobQueueKey).Result()
}

// GetProcessingSize returns the number of running jobs.
func (q *Queue) GetProcessingSize(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, JobProcessingKey).Result()
}

// GetDelayedSize returns the number of jobs waiting for a retry.
func (q *Queue) GetDelayedSize(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, JobDelayedKey).Result()
}
