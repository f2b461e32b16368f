package camera

import "go.uber.org/zap"

// OnResultReady queues an analyzer result for the result worker. Results
// arriving while the worker is stopped are dropped.
func (m *Manager) OnResultReady(r *FullParamsResult) {
	if r == nil {
		return
	}
	if !m.resultWorker.Push(r) {
		m.logger.Debug("Dropping result, apply worker not running", zap.Uint32("frame_id", r.FrameID))
	}
}

// OnResultFailed records an analyzer failure and publishes it as an event
func (m *Manager) OnResultFailed(msg string) {
	m.logger.Warn("Analyzer failed to produce a result", zap.String("reason", msg))
	m.emit(EventResultFailed, msg)
}

// OnLumaResultReady forwards the luma verdict to the analyzer
func (m *Manager) OnLumaResultReady(r LumaResult) {
	if !m.streaming() {
		return
	}
	if err := m.analyzer.PushLumaResult(r); err != nil {
		m.logger.Warn("Failed to push luma result", zap.Uint32("frame_id", r.FrameID), zap.Error(err))
	}
}

// OnLumaResultFailed records a luma analyzer failure and publishes it as an event
func (m *Manager) OnLumaResultFailed(msg string) {
	m.logger.Warn("Luma analyzer failed to produce a result", zap.String("reason", msg))
	m.emit(EventLumaResultFailed, msg)
}

// OnIspStats forwards ISP statistics to the analyzer
func (m *Manager) OnIspStats(s IspStats) {
	if !m.streaming() {
		return
	}
	if m.diag.LogStats {
		m.logger.Debug("ISP stats", zap.Uint32("frame_id", s.FrameID), zap.Int("size", len(s.Data)))
	}
	if err := m.analyzer.PushIspStats(s); err != nil {
		m.logger.Warn("Failed to push ISP stats", zap.Uint32("frame_id", s.FrameID), zap.Error(err))
	}
}

// OnIsppStats forwards post-processor statistics to the analyzer
func (m *Manager) OnIsppStats(s IsppStats) {
	if !m.streaming() {
		return
	}
	if m.diag.LogStats {
		m.logger.Debug("ISPP stats", zap.Uint32("frame_id", s.FrameID), zap.Int("size", len(s.Data)))
	}
	if err := m.analyzer.PushIsppStats(s); err != nil {
		m.logger.Warn("Failed to push ISPP stats", zap.Uint32("frame_id", s.FrameID), zap.Error(err))
	}
}

// OnLumaStats forwards luma statistics to the luma analyzer, if one is bound
func (m *Manager) OnLumaStats(s LumaStats) {
	if m.luma == nil || !m.streaming() {
		return
	}
	if err := m.luma.PushStats(s); err != nil {
		m.logger.Warn("Failed to push luma stats", zap.Uint32("frame_id", s.FrameID), zap.Error(err))
	}
}

// OnHwEvent forwards a hardware event to the analyzer while streaming
func (m *Manager) OnHwEvent(ev HwEvent) {
	if !m.streaming() {
		return
	}
	if err := m.analyzer.PushEvent(ev); err != nil {
		m.logger.Warn("Failed to push hardware event", zap.Uint32("sequence", ev.Sequence), zap.Error(err))
	}
}

// OnTxBuffer attaches the exposure that actually landed on the buffer's
// frame before handing it to the analyzer; the parameters computed for a
// frame reach the sensor several frames later.
func (m *Manager) OnTxBuffer(buf TxBuffer) {
	if !m.streaming() {
		return
	}
	exp, err := m.hw.EffectiveExposure(buf.Sequence)
	if err != nil {
		m.logger.Warn("No effective exposure for buffer", zap.Uint32("sequence", buf.Sequence), zap.Error(err))
	} else {
		buf.Exposure = exp
	}
	if err := m.analyzer.PushTxBuffer(buf); err != nil {
		m.logger.Warn("Failed to push tx buffer", zap.Uint32("sequence", buf.Sequence), zap.Error(err))
	}
}

// streaming reports whether stats should reach the analyzers
func (m *Manager) streaming() bool {
	return m.State() == StateStarted
}
