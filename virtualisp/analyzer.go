package virtualisp

import (
	"fmt"
	"sync"
	"sync/atomic"

	"isp-orchestrator/calib"
	"isp-orchestrator/camera"

	"go.uber.org/zap"
)

const (
	targetLuma      = 118.0
	minGain         = 1.0
	maxGain         = 16.0
	integrationTime = 0.01
	hdrRatio        = 4.0
	statsQueueSize  = 8
	defaultLensPos  = 200
	irOffLumaFactor = 2.0
)

// Analyzer is a toy 3A engine: a proportional auto exposure on the mean
// luma of the ISP statistics plus a day/night switch for the companion
// light. It exists to exercise the control loop, not to tune images.
type Analyzer struct {
	logger *zap.Logger
	stats  *pump[camera.IspStats]

	mu          sync.Mutex
	cb          camera.ResultCallback
	hwInfo      camera.HwInfo
	calib       *calib.Calibration
	sensor      string
	desc        camera.SensorDescriptor
	topology    camera.Topology
	gain        float64
	irOn        bool
	initial     *camera.FullParamsResult
	orientation camera.Orientation
	initialized bool

	isppFrames  atomic.Uint64
	events      atomic.Uint64
	lumaResults atomic.Uint64
	txBuffers   atomic.Uint64
	lastTx      atomic.Pointer[camera.ExposureParams]
}

func NewAnalyzer(logger *zap.Logger) *Analyzer {
	a := &Analyzer{
		logger: logger.With(zap.String("component", "virtual_analyzer")),
		gain:   minGain,
	}
	a.stats = newPump("isp_stats", statsQueueSize, a.process, a.logger)
	return a
}

func (a *Analyzer) SetResultCallback(cb camera.ResultCallback) {
	a.mu.Lock()
	a.cb = cb
	a.mu.Unlock()
}

func (a *Analyzer) SetHwInfo(info camera.HwInfo) {
	a.mu.Lock()
	a.hwInfo = info
	a.mu.Unlock()
}

func (a *Analyzer) Init(sensor string, c *calib.Calibration) error {
	if c == nil {
		return fmt.Errorf("calibration required")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sensor = sensor
	a.calib = c
	a.initialized = true
	a.logger.Info("Virtual analyzer initialized", zap.String("calibration", c.Name))
	return nil
}

func (a *Analyzer) DeInit() error {
	a.stats.Stop()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.initialized = false
	a.initial = nil
	return nil
}

// Prepare adopts the sensor descriptor and topology and computes the
// result applied before streaming. Gain and IR state carry over.
func (a *Analyzer) Prepare(desc camera.SensorDescriptor, t camera.Topology) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.initialized {
		return fmt.Errorf("analyzer not initialized")
	}
	a.desc = desc
	a.topology = t
	a.initial = a.resultLocked(0, true)
	return nil
}

func (a *Analyzer) Start() error {
	a.mu.Lock()
	ready := a.initial != nil
	a.mu.Unlock()
	if !ready {
		return fmt.Errorf("analyzer not prepared")
	}
	a.stats.Start()
	return nil
}

func (a *Analyzer) Stop() error {
	a.stats.Stop()
	return nil
}

func (a *Analyzer) SetCalib(c *calib.Calibration) error {
	if c == nil {
		return fmt.Errorf("calibration required")
	}
	a.mu.Lock()
	a.calib = c
	a.mu.Unlock()
	return nil
}

func (a *Analyzer) PushIspStats(s camera.IspStats) error {
	return a.stats.Push(s)
}

func (a *Analyzer) PushIsppStats(s camera.IsppStats) error {
	a.isppFrames.Add(1)
	return nil
}

func (a *Analyzer) PushLumaResult(r camera.LumaResult) error {
	a.lumaResults.Add(1)
	return nil
}

func (a *Analyzer) PushEvent(ev camera.HwEvent) error {
	a.events.Add(1)
	return nil
}

func (a *Analyzer) PushTxBuffer(buf camera.TxBuffer) error {
	a.txBuffers.Add(1)
	if buf.Exposure != nil {
		a.lastTx.Store(buf.Exposure)
	}
	return nil
}

func (a *Analyzer) InitialFullParams() (*camera.FullParamsResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.initial == nil {
		return nil, fmt.Errorf("analyzer not prepared")
	}
	return a.initial, nil
}

func (a *Analyzer) SetOrientation(mirror, flip bool) error {
	a.mu.Lock()
	a.orientation = camera.Orientation{Mirror: mirror, Flip: flip}
	a.mu.Unlock()
	return nil
}

// process runs on the stats pump for every ISP statistics frame
func (a *Analyzer) process(s camera.IspStats) {
	a.mu.Lock()
	cb := a.cb
	if len(s.Data) == 0 {
		a.mu.Unlock()
		if cb != nil {
			cb.OnResultFailed(fmt.Sprintf("frame %d: empty statistics", s.FrameID))
		}
		return
	}

	luma := float64(s.Data[0])
	if luma < 1 {
		luma = 1
	}
	prevIR := a.irOn
	a.gain = min(max(a.gain*targetLuma/luma, minGain), maxGain)
	if a.hwInfo.HasIRCut {
		switch {
		case !a.irOn && a.gain >= maxGain && luma < targetLuma/irOffLumaFactor:
			a.irOn = true
		case a.irOn && a.gain <= minGain && luma > targetLuma*irOffLumaFactor:
			a.irOn = false
		}
	}
	r := a.resultLocked(s.FrameID, a.irOn != prevIR)
	a.mu.Unlock()

	if cb != nil {
		cb.OnResultReady(r)
	}
}

func (a *Analyzer) resultLocked(frameID uint32, withLight bool) *camera.FullParamsResult {
	n := framesFor(a.topology)
	frames := make([]camera.ExposureFrame, n)
	t := integrationTime
	for i := range frames {
		frames[i] = camera.ExposureFrame{IntegrationTime: t, AnalogGain: a.gain, DigitalGain: 1}
		t /= hdrRatio
	}

	r := &camera.FullParamsResult{
		FrameID:  frameID,
		Exposure: &camera.ExposureParams{FrameID: frameID, Frames: frames},
		IspMeas:  &camera.IspMeasParams{FrameID: frameID, HdrGlobalTmo: a.topology.IsHdr()},
		IsppMeas: &camera.IsppMeasParams{FrameID: frameID},
	}
	if a.hwInfo.HasLens {
		r.Focus = &camera.FocusParams{FrameID: frameID, LensPosition: defaultLensPos}
	}
	if a.hwInfo.HasFlash {
		r.Flash = &camera.FlashParams{FrameID: frameID}
	}
	if withLight && a.hwInfo.HasIRCut {
		r.CompanionLight = &camera.CompanionLightParams{
			IROn:     a.irOn,
			GrayMode: a.irOn && a.calib.CompanionLight.GrayOnIR,
		}
	}
	return r
}

// Gain returns the analog gain of the last computed exposure
func (a *Analyzer) Gain() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.gain
}

// IROn reports the analyzer's day/night decision
func (a *Analyzer) IROn() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.irOn
}

// Counters reports how many of each side input the analyzer received
func (a *Analyzer) Counters() (ispp, events, luma, tx uint64) {
	return a.isppFrames.Load(), a.events.Load(), a.lumaResults.Load(), a.txBuffers.Load()
}
