package camera

import (
	"isp-orchestrator/metrics"

	"go.uber.org/zap"
)

// deferredLight is a companion light update held back for a number of
// apply passes. Replacing the pointer cancels it.
type deferredLight struct {
	params    *CompanionLightParams
	countdown int
}

// applyResult pushes every present parameter set of r to hardware. A
// rejected set is logged and the remaining sets are still applied.
//
// It runs on the result worker, or on the calling goroutine while that
// worker is stopped, so the deferred light state needs no lock.
func (m *Manager) applyResult(r *FullParamsResult) {
	if r == nil {
		return
	}

	if r.Exposure != nil {
		m.checkApply(KindExposure, r.FrameID, m.hw.SetExposureParams(r.Exposure))
	}
	if r.Iris != nil {
		m.checkApply(KindIris, r.FrameID, m.hw.SetIrisParams(r.Iris))
	}
	if r.IspOther != nil {
		m.checkApply(KindIspOther, r.FrameID, m.hw.SetIspOtherParams(r.IspOther))
	}
	if r.IspMeas != nil {
		m.checkApply(KindIspMeas, r.FrameID, m.hw.SetIspMeasParams(r.IspMeas))
		if m.WorkingMode() != ModeNormal && m.tmo != nil {
			m.checkApply(KindHdrGlobalTmo, r.IspMeas.FrameID,
				m.tmo.SetHdrGlobalTmo(r.IspMeas.FrameID, r.IspMeas.HdrGlobalTmo))
		}
		m.lastIspMeas = r.IspMeas
	}
	if r.IsppOther != nil {
		m.checkApply(KindIsppOther, r.FrameID, m.hw.SetIsppOtherParams(r.IsppOther))
	}
	if r.IsppMeas != nil {
		m.checkApply(KindIsppMeas, r.FrameID, m.hw.SetIsppMeasParams(r.IsppMeas))
		m.lastIsppMeas = r.IsppMeas
	}
	if r.Focus != nil {
		m.checkApply(KindFocus, r.FrameID, m.hw.SetFocusParams(r.Focus))
	}
	if r.Flash != nil {
		m.checkApply(KindFlash, r.FrameID, m.hw.SetFlashParams(r.Flash))
	}

	m.tickDeferredLight(r.FrameID)
	if r.CompanionLight != nil {
		m.applyCompanionLight(r.FrameID, r.CompanionLight)
	}

	n := m.applied.Add(1)
	metrics.RecordResultApplied()
	if iv := m.diag.FrameLogInterval; iv > 0 && n%uint64(iv) == 0 {
		m.logger.Info("Applied analyzer results",
			zap.Uint64("count", n),
			zap.Uint32("frame_id", r.FrameID))
	}
}

// checkApply logs and counts a rejected parameter set
func (m *Manager) checkApply(kind ParamKind, frameID uint32, err error) {
	if err != nil {
		metrics.RecordApplyFailure(string(kind))
		m.logger.Error("Failed to apply parameters",
			zap.String("kind", string(kind)),
			zap.Uint32("frame_id", frameID),
			zap.Error(err))
		return
	}
	if m.diag.TraceApply {
		m.logger.Debug("Applied parameters",
			zap.String("kind", string(kind)),
			zap.Uint32("frame_id", frameID))
	}
}

// applyCompanionLight handles a fresh companion light update. Switching IR
// on while capturing gray is held back so the IR cut has moved before the
// illumination comes up; anything else goes out now and drops a pending
// deferred update.
func (m *Manager) applyCompanionLight(frameID uint32, p *CompanionLightParams) {
	if p.defersInGray() {
		if m.deferred != nil {
			metrics.RecordCompanionLight(metrics.LightCanceled)
		}
		passes := int(m.deferPasses.Load())
		m.deferred = &deferredLight{params: p, countdown: passes}
		m.deferredPending.Store(true)
		metrics.RecordCompanionLight(metrics.LightDeferred)
		m.logger.Debug("Deferring companion light update",
			zap.Uint32("frame_id", frameID),
			zap.Int("passes", passes))
		return
	}

	if m.deferred != nil {
		m.clearDeferredLight()
		metrics.RecordCompanionLight(metrics.LightCanceled)
	}
	m.checkApply(KindCompanionLight, frameID, m.hw.SetCompanionLightParams(p))
	metrics.RecordCompanionLight(metrics.LightApplied)
}

// tickDeferredLight counts down a pending update armed on an earlier pass
// and applies it when the count reaches zero.
func (m *Manager) tickDeferredLight(frameID uint32) {
	d := m.deferred
	if d == nil {
		return
	}
	d.countdown--
	if d.countdown > 0 {
		return
	}
	m.clearDeferredLight()
	m.checkApply(KindCompanionLight, frameID, m.hw.SetCompanionLightParams(d.params))
	metrics.RecordCompanionLight(metrics.LightReleased)
}

// clearDeferredLight drops any armed companion light update
func (m *Manager) clearDeferredLight() {
	m.deferred = nil
	m.deferredPending.Store(false)
}

// reapplyLastMeas re-sends the last measurement configuration with its
// frame sequence reset, for a restart after stop.
func (m *Manager) reapplyLastMeas() {
	if m.lastIspMeas == nil && m.lastIsppMeas == nil {
		return
	}
	r := &FullParamsResult{}
	if m.lastIspMeas != nil {
		isp := *m.lastIspMeas
		isp.FrameID = 0
		r.IspMeas = &isp
	}
	if m.lastIsppMeas != nil {
		ispp := *m.lastIsppMeas
		ispp.FrameID = 0
		r.IsppMeas = &ispp
	}
	m.applyResult(r)
}
