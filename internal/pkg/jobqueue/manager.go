package jobqueue

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/TipQueue/internal/pkg/period"
)

// ManagerOptions configure the global manager. They are read once, on the
// first call to GetManager.
type ManagerOptions struct {
	Workers int
	// SweepInterval is how often the previous month's payouts are
	// rescheduled. Zero disables the sweep.
	SweepInterval time.Duration
}

// Manager manages the global job queue and background tasks
type Manager struct {
	queue         *Queue
	sweepInterval time.Duration
	sweepTicker   *time.Ticker
	now           func() time.Time
	stopCh        chan struct{}
	wg            sync.WaitGroup
	mu            sync.Mutex
	running       bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
	options       = ManagerOptions{Workers: 2, SweepInterval: 6 * time.Hour}
)

// Configure sets the options used when the global manager is created.
func Configure(opts ManagerOptions) {
	options = opts
}

// GetManager returns the global job queue manager (singleton)
func GetManager() *Manager {
	managerOnce.Do(func() {
		globalManager = &Manager{
			queue:         NewQueue(options.Workers),
			sweepInterval: options.SweepInterval,
			now:           time.Now,
			stopCh:        make(chan struct{}),
		}
	})
	return globalManager
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	m.queue.Start()

	if m.sweepInterval > 0 {
		m.sweepTicker = time.NewTicker(m.sweepInterval)
		m.wg.Add(1)
		go m.payoutSweepWorker(m.stopCh, m.sweepTicker)
	}

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	if m.sweepTicker != nil {
		m.sweepTicker.Stop()
	}

	// Signal workers to stop
	close(m.stopCh)
	m.stopCh = nil
	m.running = false

	// Wait for background workers to finish
	m.wg.Wait()

	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// payoutSweepWorker periodically reschedules the previous month so payments
// that arrived late are picked up. The scheduler is idempotent.
func (m *Manager) payoutSweepWorker(stopCh <-chan struct{}, ticker *time.Ticker) {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started payout sweep worker (interval: %s)", m.sweepInterval)

	for {
		select {
		case <-stopCh:
			log.Info("[JobQueue Manager] Payout sweep worker stopping")
			return
		case <-ticker.C:
			if _, err := m.RunPayoutSweepOnce(); err != nil {
				log.Errorf("[JobQueue Manager] Payout sweep error: %v", err)
			}
		}
	}
}

// RunPayoutSweepOnce enqueues a payout run for the month before now.
func (m *Manager) RunPayoutSweepOnce() (*Job, error) {
	p := period.Previous(m.now())
	return m.queue.EnqueueSchedulePayouts(p.Year(), p.Month(), ReasonSweep)
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
