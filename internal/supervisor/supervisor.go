package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/asyncbg/internal/metrics"
)

// Timing defaults
const (
	DefaultPollInterval         = time.Second
	DefaultShutdownPollInterval = 100 * time.Millisecond
	DefaultShutdownTimeout      = 5 * time.Second
)

// launchFailedExitCode is recorded for a slot whose process could not start.
const launchFailedExitCode = -1

// Config controls the fleet.
type Config struct {
	ConsumersCount int
	RestartDelay   time.Duration

	// MaxRestarts is the restart budget per slot; negative means unlimited
	MaxRestarts int

	PollInterval         time.Duration
	ShutdownPollInterval time.Duration
	ShutdownTimeout      time.Duration
}

// Slot is a stable position in the fleet. It holds at most one live process.
type Slot struct {
	Index        int
	Process      Process
	RestartCount int
	LastExitCode int

	// Exhausted slots spent their restart budget and are never relaunched
	Exhausted bool
}

// Supervisor launches and restarts consumer processes.
type Supervisor struct {
	cfg      Config
	launcher Launcher
	logger   *slog.Logger

	mu    sync.Mutex
	slots []*Slot
}

// New creates a Supervisor. Zero timing values take the package defaults.
func New(cfg Config, launcher Launcher, logger *slog.Logger) *Supervisor {
	if cfg.ConsumersCount < 1 {
		cfg.ConsumersCount = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ShutdownPollInterval <= 0 {
		cfg.ShutdownPollInterval = DefaultShutdownPollInterval
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}

	slots := make([]*Slot, cfg.ConsumersCount)
	for i := range slots {
		slots[i] = &Slot{Index: i + 1}
	}

	return &Supervisor{
		cfg:      cfg,
		launcher: launcher,
		logger:   logger.With("component", "supervisor"),
		slots:    slots,
	}
}

// Slots returns a snapshot of every slot.
func (s *Supervisor) Slots() []Slot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Slot, len(s.slots))
	for i, slot := range s.slots {
		out[i] = *slot
	}
	return out
}

// Run launches the fleet and keeps it alive until ctx is cancelled, then
// shuts every process down.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info("starting consumers",
		"consumers_count", s.cfg.ConsumersCount,
		"restart_delay_sec", s.cfg.RestartDelay.Seconds(),
		"max_restarts", s.cfg.MaxRestarts)

	for _, slot := range s.slots {
		s.launch(ctx, slot)
	}
	s.updateGauges()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Warn("shutdown requested, stopping consumers")
			s.shutdown()
			return nil
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

// launch starts a process into slot. A failed launch leaves the slot empty,
// which the next poll treats as an exit.
func (s *Supervisor) launch(ctx context.Context, slot *Slot) {
	p, err := s.launcher.Launch(ctx, slot.Index)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.logger.Error("failed to launch consumer", "index", slot.Index, "error", err)
		slot.Process = nil
		return
	}
	slot.Process = p
	s.logger.Info("started consumer process", "pid", p.PID(), "index", slot.Index)
}

// poll restarts every slot whose process has exited.
func (s *Supervisor) poll(ctx context.Context) {
	for _, slot := range s.slots {
		if ctx.Err() != nil {
			return
		}

		s.mu.Lock()
		if slot.Exhausted {
			s.mu.Unlock()
			continue
		}

		code := launchFailedExitCode
		pid := 0
		if slot.Process != nil {
			var exited bool
			code, exited = slot.Process.Exited()
			if !exited {
				s.mu.Unlock()
				continue
			}
			pid = slot.Process.PID()
		}

		slot.LastExitCode = code
		slot.RestartCount++
		slot.Process = nil
		restarts := slot.RestartCount

		s.logger.Warn("consumer process exited",
			"pid", pid,
			"index", slot.Index,
			"exit_code", code)

		if s.cfg.MaxRestarts >= 0 && restarts > s.cfg.MaxRestarts {
			slot.Exhausted = true
			s.mu.Unlock()
			s.logger.Error("consumer exceeded max restarts",
				"index", slot.Index,
				"max_restarts", s.cfg.MaxRestarts)
			s.updateGauges()
			continue
		}
		s.mu.Unlock()

		if !sleep(ctx, s.cfg.RestartDelay) {
			return
		}

		s.logger.Info("restarting consumer process", "index", slot.Index, "restart_count", restarts)
		metrics.ConsumerRestarts.Inc()
		s.launch(ctx, slot)
	}
	s.updateGauges()
}

// shutdown interrupts live processes, waits for them up to the shutdown
// timeout and kills whatever is left.
func (s *Supervisor) shutdown() {
	live := s.liveProcesses()
	for _, p := range live {
		if err := p.Interrupt(); err != nil {
			s.logger.Debug("failed to interrupt consumer", "pid", p.PID(), "error", err)
		}
	}

	deadline := time.Now().Add(s.cfg.ShutdownTimeout)
	for time.Now().Before(deadline) && len(live) > 0 {
		time.Sleep(s.cfg.ShutdownPollInterval)
		live = s.liveProcesses()
	}

	for _, p := range live {
		s.logger.Warn("killing consumer process after shutdown timeout", "pid", p.PID())
		if err := p.Kill(); err != nil {
			s.logger.Error("failed to kill consumer", "pid", p.PID(), "error", err)
		}
	}

	metrics.LiveConsumers.Set(0)
	s.logger.Info("all consumer processes terminated")
}

func (s *Supervisor) liveProcesses() []Process {
	s.mu.Lock()
	defer s.mu.Unlock()

	var live []Process
	for _, slot := range s.slots {
		if slot.Process == nil {
			continue
		}
		if _, exited := slot.Process.Exited(); !exited {
			live = append(live, slot.Process)
		}
	}
	return live
}

func (s *Supervisor) updateGauges() {
	s.mu.Lock()
	defer s.mu.Unlock()

	var live, exhausted int
	for _, slot := range s.slots {
		if slot.Exhausted {
			exhausted++
		}
		if slot.Process != nil {
			if _, exited := slot.Process.Exited(); !exited {
				live++
			}
		}
	}
	metrics.LiveConsumers.Set(float64(live))
	metrics.ExhaustedSlots.Set(float64(exhausted))
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
