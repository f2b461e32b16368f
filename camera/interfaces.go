package camera

import "isp-orchestrator/calib"

// HwApply is the hardware access layer. It applies one parameter set at a
// time and owns the device lifecycle.
type HwApply interface {
	Init(sensor string) error
	DeInit() error
	Prepare(p PrepareParams) error
	Start() error
	Stop() error
	Pause() error
	Resume() error
	KeepExternalStateAtStop(keep bool)
	SensorDescriptor() (SensorDescriptor, error)

	SetExposureParams(p *ExposureParams) error
	SetIrisParams(p *IrisParams) error
	SetIspOtherParams(p *IspOtherParams) error
	SetIspMeasParams(p *IspMeasParams) error
	SetIsppOtherParams(p *IsppOtherParams) error
	SetIsppMeasParams(p *IsppMeasParams) error
	SetFocusParams(p *FocusParams) error
	SetCompanionLightParams(p *CompanionLightParams) error
	SetFlashParams(p *FlashParams) error

	SetOrientation(mirror, flip bool, skipFrames int) error
	SwitchWorkingMode(t Topology) error
	// EffectiveExposure returns the exposure that landed on the frame with
	// the given sequence.
	EffectiveExposure(sequence uint32) (*ExposureParams, error)

	SetModuleEnabled(mod ModuleID, enabled bool) error
	ModuleEnabled(mod ModuleID) (bool, error)
}

// GlobalToneMapper is an optional HwApply extension that toggles HDR global
// tone mapping per frame. The manager checks for it once at Init.
type GlobalToneMapper interface {
	SetHdrGlobalTmo(frameID uint32, enable bool) error
}

// ResultCallback receives the analyzer's asynchronous output
type ResultCallback interface {
	OnResultReady(result *FullParamsResult)
	OnResultFailed(msg string)
}

// LumaResultCallback receives the luma analyzer's asynchronous output
type LumaResultCallback interface {
	OnLumaResultReady(result LumaResult)
	OnLumaResultFailed(msg string)
}

// Analyzer computes full parameter sets from pushed statistics
type Analyzer interface {
	SetResultCallback(cb ResultCallback)
	SetHwInfo(info HwInfo)
	Init(sensor string, c *calib.Calibration) error
	DeInit() error
	Prepare(desc SensorDescriptor, t Topology) error
	Start() error
	Stop() error
	SetCalib(c *calib.Calibration) error

	PushIspStats(s IspStats) error
	PushIsppStats(s IsppStats) error
	PushLumaResult(r LumaResult) error
	PushEvent(ev HwEvent) error
	PushTxBuffer(buf TxBuffer) error

	// InitialFullParams returns the result computed by Prepare, applied
	// before streaming starts.
	InitialFullParams() (*FullParamsResult, error)
	SetOrientation(mirror, flip bool) error
}

// LumaAnalyzer detects scene luma changes used to schedule HDR processing
type LumaAnalyzer interface {
	SetResultCallback(cb LumaResultCallback)
	Init(c *calib.Calibration) error
	DeInit() error
	Prepare(t Topology) error
	Start() error
	Stop() error
	PushStats(s LumaStats) error
}
