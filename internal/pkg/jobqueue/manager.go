package jobqueue

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/membercraft/creditledger/internal/pkg/env"
	"github.com/membercraft/creditledger/internal/pkg/ledger"
)

// Manager owns the job queue and the daily sweep ticker.
type Manager struct {
	queue       *Queue
	sweepTicker *time.Ticker
	stopCh      chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
	running     bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// InitManager wires the global manager to the ledger service (singleton).
func InitManager(service *ledger.Service) *Manager {
	managerOnce.Do(func() {
		workerCount := 2
		if raw := env.GetEnv("JOBQUEUE_WORKERS", ""); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				workerCount = n
			}
		}
		globalManager = &Manager{
			queue:  NewQueue(workerCount, service),
			stopCh: make(chan struct{}),
		}
	})
	return globalManager
}

// GetManager returns the global job queue manager
func GetManager() *Manager {
	if globalManager == nil {
		panic("Job queue manager not initialized. Call InitManager first.")
	}
	return globalManager
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue workers and the daily sweep schedule.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and sweep schedule")

	m.queue.Start()

	sweepInterval := 24 * time.Hour
	if raw := env.GetEnv("SWEEP_INTERVAL_HOURS", ""); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			sweepInterval = time.Duration(n) * time.Hour
		}
	}

	m.sweepTicker = time.NewTicker(sweepInterval)
	m.wg.Add(1)
	go m.sweepWorker()

	// One sweep at startup catches cycles that elapsed while the service
	// was down.
	m.EnqueueSweep()
}

// Stop stops the sweep schedule and the workers.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	close(m.stopCh)
	m.running = false
	if m.sweepTicker != nil {
		m.sweepTicker.Stop()
	}
	m.wg.Wait()
	m.queue.Stop()
	log.Info("[JobQueue Manager] Stopped")
}

// EnqueueSweep schedules one refill sweep run.
func (m *Manager) EnqueueSweep() {
	if _, err := m.queue.EnqueueJob(JobTypeRefillSweep, map[string]interface{}{}); err != nil {
		log.Errorf("[JobQueue Manager] Failed to enqueue sweep: %v", err)
	}
}

// EnqueueTierReconcile schedules a tier reconcile for one account.
func (m *Manager) EnqueueTierReconcile(accountID uint, trigger string) {
	payload := TierReconcileJobPayload{AccountID: accountID, Trigger: trigger}
	if _, err := m.queue.EnqueueJob(JobTypeTierReconcile, payload.ToMap()); err != nil {
		log.Errorf("[JobQueue Manager] Failed to enqueue tier reconcile for account %d: %v", accountID, err)
	}
}

func (m *Manager) sweepWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		case <-m.sweepTicker.C:
			m.EnqueueSweep()
		}
	}
}
