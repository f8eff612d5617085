package gas

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wagerpay/settlement_service/internal/domain/entities"
	"github.com/wagerpay/settlement_service/internal/infrastructure/config"
	"github.com/wagerpay/settlement_service/internal/infrastructure/repositories"
	"github.com/wagerpay/settlement_service/pkg/logger"
)

// MaintenanceScheduler runs the periodic jobs that keep the pipeline
// healthy: scheduled sweep passes and flagging settlements that have sat
// pending for too long.
type MaintenanceScheduler struct {
	cron        *cron.Cron
	sweepers    []*Sweeper
	settlements *repositories.SettlementRepository
	sweepCfg    config.SweepConfig
	setCfg      config.SettlementConfig
	logger      *logger.Logger
}

func NewMaintenanceScheduler(sweepers []*Sweeper, settlements *repositories.SettlementRepository, sweepCfg config.SweepConfig, setCfg config.SettlementConfig, log *logger.Logger) *MaintenanceScheduler {
	return &MaintenanceScheduler{
		cron:        cron.New(cron.WithSeconds()),
		sweepers:    sweepers,
		settlements: settlements,
		sweepCfg:    sweepCfg,
		setCfg:      setCfg,
		logger:      log,
	}
}

// Start registers the cron entries and begins running them.
func (m *MaintenanceScheduler) Start() error {
	if m.sweepCfg.Enabled {
		if _, err := m.cron.AddFunc(m.sweepCfg.Schedule, m.runSweep); err != nil {
			return err
		}
	}

	// Stuck scan runs every minute; cheap single UPDATE.
	if _, err := m.cron.AddFunc("0 * * * * *", m.markStuck); err != nil {
		return err
	}

	m.cron.Start()
	m.logger.Info("Maintenance scheduler started",
		"sweep_enabled", m.sweepCfg.Enabled, "sweep_schedule", m.sweepCfg.Schedule)
	return nil
}

// Shutdown stops the cron runner and waits for in-flight jobs.
func (m *MaintenanceScheduler) Shutdown(timeout time.Duration) error {
	ctx := m.cron.Stop()
	select {
	case <-ctx.Done():
		return nil
	case <-time.After(timeout):
		return context.DeadlineExceeded
	}
}

func (m *MaintenanceScheduler) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	for _, sweeper := range m.sweepers {
		outcomes, err := sweeper.SweepAll(ctx)
		if err != nil {
			m.logger.Error("Sweep pass failed", "error", err)
			continue
		}

		var swept, skipped, failed int
		for _, o := range outcomes {
			switch o.Status {
			case entities.SweepStatusSwept:
				swept++
			case entities.SweepStatusSkipped:
				skipped++
			default:
				failed++
			}
		}
		m.logger.Info("Sweep pass complete",
			"swept", swept, "skipped", skipped, "failed", failed)
	}
}

func (m *MaintenanceScheduler) markStuck() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Duration(m.setCfg.StuckAfter) * time.Second
	if cutoff <= 0 {
		return
	}

	flagged, err := m.settlements.MarkStuck(ctx, cutoff)
	if err != nil {
		m.logger.Error("Stuck settlement scan failed", "error", err)
		return
	}
	if flagged > 0 {
		m.logger.Warn("Flagged stuck settlements", "count", flagged)
	}
}
