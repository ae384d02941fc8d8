// Package jobs runs the ledger's periodic sweeps: marking started bets live,
// rolling weekly bankrolls forward and archiving old ones.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Job is a unit of periodic background work.
type Job interface {
	Name() string
	Interval() time.Duration
	Run(ctx context.Context) error
}

// Manager owns the registered jobs and their tickers.
type Manager struct {
	jobs []Job
}

// NewManager creates an empty job manager.
func NewManager() *Manager {
	return &Manager{}
}

// Register adds a job to the manager. Must be called before Start.
func (m *Manager) Register(job Job) {
	m.jobs = append(m.jobs, job)
}

// Start runs every registered job on its own ticker until the context is
// cancelled, then waits for in-flight runs to finish.
func (m *Manager) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for _, job := range m.jobs {
		wg.Add(1)
		go func(j Job) {
			defer wg.Done()
			m.runLoop(ctx, j)
		}(job)
	}
	wg.Wait()
}

func (m *Manager) runLoop(ctx context.Context, j Job) {
	ticker := time.NewTicker(j.Interval())
	defer ticker.Stop()

	log.Info().Str("job", j.Name()).Dur("interval", j.Interval()).Msg("Job started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("job", j.Name()).Msg("Job stopped")
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				log.Error().Err(err).Str("job", j.Name()).Msg("Job run failed")
			}
		}
	}
}

// FuncJob adapts a plain function into a Job.
type FuncJob struct {
	JobName     string
	JobInterval time.Duration
	Fn          func(ctx context.Context) error
}

// Name implements Job.
func (f *FuncJob) Name() string { return f.JobName }

// Interval implements Job.
func (f *FuncJob) Interval() time.Duration { return f.JobInterval }

// Run implements Job.
func (f *FuncJob) Run(ctx context.Context) error { return f.Fn(ctx) }
