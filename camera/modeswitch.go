package camera

import (
	"fmt"
	"time"

	"isp-orchestrator/metrics"

	"go.uber.org/zap"
)

// SwitchWorkingMode runs the working mode switch on the calling goroutine
func (m *Manager) SwitchWorkingMode(mode WorkingMode) error {
	return m.switchWorkingMode(mode)
}

// SwitchWorkingModeSync runs the switch on the command worker and blocks
// until it completes. There is no timeout.
func (m *Manager) SwitchWorkingModeSync(mode WorkingMode) error {
	cmd := newCommand(CmdSwitchWorkingMode, mode, true)
	m.switching.Add(1)
	defer m.switching.Add(-1)
	if err := m.cmdWorker.Submit(cmd); err != nil {
		return m.wrongState("switch working mode", m.State())
	}
	// The worker answers every sync command, including ones it discards on Stop.
	return <-cmd.done
}

// RequestWorkingMode queues a switch on the command worker and returns
// without waiting for it.
func (m *Manager) RequestWorkingMode(mode WorkingMode) error {
	if err := m.cmdWorker.Submit(newCommand(CmdSwitchWorkingMode, mode, false)); err != nil {
		return m.wrongState("request working mode", m.State())
	}
	return nil
}

// Switching reports whether a synchronous switch is in flight
func (m *Manager) Switching() bool {
	return m.switching.Load() > 0
}

// handleCommand executes one command on the command worker
func (m *Manager) handleCommand(cmd Command) error {
	switch cmd.Kind {
	case CmdSwitchWorkingMode:
		return m.switchWorkingMode(cmd.Mode)
	}
	return fmt.Errorf("%w: unknown command kind %d", ErrInvalidParam, cmd.Kind)
}

// switchWorkingMode changes the exposure topology of a streaming pipeline.
//
// Production and consumption are halted and hardware is paused while the
// topology changes. If the hardware rejects the new topology the analyzer
// is not re-prepared, but the pipeline is still resumed and the requested
// mode is committed; the hardware error is returned.
func (m *Manager) switchWorkingMode(mode WorkingMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if st := m.State(); st != StateStarted {
		return m.wrongState("switch working mode", st)
	}
	cur := m.WorkingMode()
	if mode == cur {
		m.logger.Debug("Working mode unchanged", zap.Stringer("mode", mode))
		return nil
	}
	topo, ok := topologyFor(mode)
	if !ok {
		return fmt.Errorf("%w: working mode %s", ErrInvalidParam, mode)
	}

	log := m.logger.With(zap.Stringer("from", cur), zap.Stringer("to", mode))
	log.Info("Switching working mode")
	m.emit(EventModeSwitchBegin, cur.String()+" -> "+mode.String())
	begin := time.Now()

	if err := m.analyzer.Stop(); err != nil {
		return fmt.Errorf("analyzer stop failed: %w", err)
	}
	if m.luma != nil {
		if err := m.luma.Stop(); err != nil {
			return fmt.Errorf("luma analyzer stop failed: %w", err)
		}
	}
	m.resultWorker.Stop()

	if err := m.hw.Pause(); err != nil {
		return fmt.Errorf("hardware pause failed: %w", err)
	}

	switchErr := m.hw.SwitchWorkingMode(topo)
	if switchErr != nil {
		log.Error("Hardware rejected working mode, resuming with previous analyzer setup", zap.Error(switchErr))
	} else {
		desc, err := m.hw.SensorDescriptor()
		if err != nil {
			return fmt.Errorf("failed to query sensor descriptor: %w", err)
		}
		m.infoMu.Lock()
		m.sensorDesc = desc
		m.infoMu.Unlock()

		if err := m.analyzer.Prepare(desc, topo); err != nil {
			return fmt.Errorf("analyzer prepare failed: %w", err)
		}
		initial, err := m.analyzer.InitialFullParams()
		if err != nil {
			return fmt.Errorf("failed to get initial params: %w", err)
		}
		m.applyResult(initial)
	}

	if err := m.hw.Resume(); err != nil {
		return fmt.Errorf("hardware resume failed: %w", err)
	}

	m.resultWorker.Start()
	if err := m.analyzer.Start(); err != nil {
		return fmt.Errorf("analyzer start failed: %w", err)
	}
	if m.luma != nil {
		if err := m.luma.Start(); err != nil {
			return fmt.Errorf("luma analyzer start failed: %w", err)
		}
	}

	m.mode.Store(int32(mode))
	held := time.Since(begin)

	if switchErr != nil {
		metrics.RecordModeSwitch(cur.String(), mode.String(), "degraded", held.Seconds())
		m.emit(EventModeSwitchDegraded, switchErr.Error())
		return fmt.Errorf("hardware switch to %s failed: %w", mode, switchErr)
	}
	metrics.RecordModeSwitch(cur.String(), mode.String(), "ok", held.Seconds())
	m.emit(EventModeSwitchDone, mode.String())
	log.Info("Working mode switched", zap.Duration("held", held))
	return nil
}
