package virtualisp

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"isp-orchestrator/camera"

	"go.uber.org/zap"
)

var ErrNoExposure = errors.New("no exposure applied yet")

// exposureHistory bounds how many applied exposures are kept for
// EffectiveExposure lookups.
const exposureHistory = 64

type appliedExposure struct {
	from   uint32 // first frame sequence the exposure lands on
	params *camera.ExposureParams
}

// Hw is an in-process stand-in for the hardware access layer. It keeps the
// last parameters of every kind, models the sensor's exposure latency and
// drives a Sensor that produces statistics from the applied exposure.
type Hw struct {
	logger     *zap.Logger
	failSwitch bool

	mu           sync.Mutex
	sensorName   string
	initialized  bool
	prepared     camera.PrepareParams
	topology     camera.Topology
	streaming    bool
	paused       bool
	keepExternal bool
	counts       map[camera.ParamKind]uint64
	exposures    []appliedExposure
	light        camera.CompanionLightParams
	tmoEnabled   bool
	modules      map[camera.ModuleID]bool
	orientation  camera.Orientation
	scene        float64

	sensor *Sensor
}

// NewHw creates a virtual hardware layer producing a frame every interval.
// With failSwitch set every working mode switch is rejected.
func NewHw(interval time.Duration, failSwitch bool, logger *zap.Logger) *Hw {
	h := &Hw{
		logger:     logger.With(zap.String("component", "virtual_hw")),
		failSwitch: failSwitch,
		counts:     make(map[camera.ParamKind]uint64),
		modules:    make(map[camera.ModuleID]bool),
		scene:      1,
	}
	h.sensor = newSensor(interval, h, h.logger)
	return h
}

// SetFrameSink routes generated statistics and events, normally to the
// manager.
func (h *Hw) SetFrameSink(sink FrameSink) {
	h.sensor.setSink(sink)
}

// SetSceneLevel scales the simulated scene brightness; 1 is daylight
func (h *Hw) SetSceneLevel(level float64) {
	h.mu.Lock()
	h.scene = level
	h.mu.Unlock()
}

func (h *Hw) Init(sensor string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.initialized {
		return fmt.Errorf("hardware already initialized")
	}
	h.sensorName = sensor
	h.initialized = true
	h.logger.Info("Virtual hardware initialized", zap.String("sensor", sensor))
	return nil
}

func (h *Hw) DeInit() error {
	h.sensor.Stop()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.initialized = false
	h.streaming = false
	h.exposures = nil
	return nil
}

func (h *Hw) Prepare(p camera.PrepareParams) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.initialized {
		return fmt.Errorf("hardware not initialized")
	}
	if h.streaming {
		return fmt.Errorf("cannot prepare while streaming")
	}
	h.prepared = p
	h.topology = p.Topology
	h.logger.Info("Virtual hardware prepared",
		zap.Int("width", p.Width),
		zap.Int("height", p.Height),
		zap.Stringer("topology", p.Topology),
		zap.Int("time_delay", p.TimeDelay))
	return nil
}

func (h *Hw) Start() error {
	h.mu.Lock()
	if !h.initialized {
		h.mu.Unlock()
		return fmt.Errorf("hardware not initialized")
	}
	h.streaming = true
	h.paused = false
	h.mu.Unlock()
	return h.sensor.Start()
}

// Stop halts frame production. Unless told to keep external state, the
// IR illuminator and fill light are switched off.
func (h *Hw) Stop() error {
	h.sensor.Stop()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.streaming = false
	if !h.keepExternal {
		h.light = camera.CompanionLightParams{}
	}
	h.keepExternal = false
	return nil
}

func (h *Hw) Pause() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.streaming {
		return fmt.Errorf("cannot pause, not streaming")
	}
	h.paused = true
	h.sensor.setPaused(true)
	return nil
}

func (h *Hw) Resume() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.paused {
		return fmt.Errorf("cannot resume, not paused")
	}
	h.paused = false
	h.sensor.setPaused(false)
	return nil
}

func (h *Hw) KeepExternalStateAtStop(keep bool) {
	h.mu.Lock()
	h.keepExternal = keep
	h.mu.Unlock()
}

func (h *Hw) SensorDescriptor() (camera.SensorDescriptor, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.initialized {
		return camera.SensorDescriptor{}, fmt.Errorf("hardware not initialized")
	}
	fps := 1 / h.sensor.interval.Seconds()
	return camera.SensorDescriptor{
		Name:             h.sensorName,
		Width:            h.prepared.Width,
		Height:           h.prepared.Height,
		PixelClock:       int64(float64(2200*1125) * fps),
		LineLengthPixels: 2200,
		FrameLengthLines: 1125,
		FPS:              fps,
	}, nil
}

func (h *Hw) count(kind camera.ParamKind) {
	h.counts[kind]++
}

func (h *Hw) SetExposureParams(p *camera.ExposureParams) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if want := framesFor(h.topology); len(p.Frames) != want {
		return fmt.Errorf("exposure has %d frames, topology %s needs %d", len(p.Frames), h.topology, want)
	}
	h.exposures = append(h.exposures, appliedExposure{
		from:   p.FrameID + uint32(h.prepared.TimeDelay),
		params: p,
	})
	if len(h.exposures) > exposureHistory {
		h.exposures = h.exposures[len(h.exposures)-exposureHistory:]
	}
	h.count(camera.KindExposure)
	return nil
}

func (h *Hw) SetIrisParams(p *camera.IrisParams) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count(camera.KindIris)
	return nil
}

func (h *Hw) SetIspOtherParams(p *camera.IspOtherParams) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count(camera.KindIspOther)
	return nil
}

func (h *Hw) SetIspMeasParams(p *camera.IspMeasParams) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count(camera.KindIspMeas)
	return nil
}

func (h *Hw) SetIsppOtherParams(p *camera.IsppOtherParams) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count(camera.KindIsppOther)
	return nil
}

func (h *Hw) SetIsppMeasParams(p *camera.IsppMeasParams) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count(camera.KindIsppMeas)
	return nil
}

func (h *Hw) SetFocusParams(p *camera.FocusParams) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count(camera.KindFocus)
	return nil
}

func (h *Hw) SetFlashParams(p *camera.FlashParams) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count(camera.KindFlash)
	return nil
}

func (h *Hw) SetCompanionLightParams(p *camera.CompanionLightParams) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.light = *p
	h.count(camera.KindCompanionLight)
	h.logger.Debug("Companion light",
		zap.Bool("ir_on", p.IROn),
		zap.Bool("gray", p.GrayMode),
		zap.Bool("fill_light", p.FillLightOn))
	return nil
}

func (h *Hw) SetHdrGlobalTmo(frameID uint32, enable bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.topology.IsHdr() {
		return fmt.Errorf("global tone mapping needs an HDR topology")
	}
	h.tmoEnabled = enable
	h.count(camera.KindHdrGlobalTmo)
	return nil
}

func (h *Hw) SetOrientation(mirror, flip bool, skipFrames int) error {
	h.mu.Lock()
	h.orientation = camera.Orientation{Mirror: mirror, Flip: flip}
	h.mu.Unlock()
	if skipFrames > 0 {
		h.sensor.skip(skipFrames)
	}
	return nil
}

// SwitchWorkingMode changes the sensor topology. The sensor must be paused.
func (h *Hw) SwitchWorkingMode(t camera.Topology) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failSwitch {
		return fmt.Errorf("sensor rejected topology %s", t)
	}
	if h.streaming && !h.paused {
		return fmt.Errorf("cannot switch topology while streaming")
	}
	h.logger.Info("Sensor topology switched", zap.Stringer("from", h.topology), zap.Stringer("to", t))
	h.topology = t
	h.exposures = nil
	return nil
}

// EffectiveExposure returns the newest exposure whose latency has elapsed
// by frame sequence.
func (h *Hw) EffectiveExposure(sequence uint32) (*camera.ExposureParams, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.effectiveLocked(sequence)
}

func (h *Hw) effectiveLocked(sequence uint32) (*camera.ExposureParams, error) {
	for i := len(h.exposures) - 1; i >= 0; i-- {
		if h.exposures[i].from <= sequence {
			return h.exposures[i].params, nil
		}
	}
	return nil, fmt.Errorf("%w: sequence %d", ErrNoExposure, sequence)
}

func (h *Hw) SetModuleEnabled(mod camera.ModuleID, enabled bool) error {
	if mod == "" {
		return fmt.Errorf("empty module id")
	}
	h.mu.Lock()
	h.modules[mod] = enabled
	h.mu.Unlock()
	return nil
}

// ModuleEnabled reports a module's state; modules default to enabled
func (h *Hw) ModuleEnabled(mod camera.ModuleID) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	on, ok := h.modules[mod]
	if !ok {
		return true, nil
	}
	return on, nil
}

// Counts returns how many parameter sets of each kind were applied
func (h *Hw) Counts() map[camera.ParamKind]uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[camera.ParamKind]uint64, len(h.counts))
	for k, v := range h.counts {
		out[k] = v
	}
	return out
}

func (h *Hw) Topology() camera.Topology {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.topology
}

// CompanionLight returns the companion light state last applied
func (h *Hw) CompanionLight() camera.CompanionLightParams {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.light
}

// frameLuma simulates the mean luma the sensor measures for a frame from
// the scene level and the exposure that landed on it.
func (h *Hw) frameLuma(sequence uint32) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	exposure := 0.01
	if p, err := h.effectiveLocked(sequence); err == nil && len(p.Frames) > 0 {
		f := p.Frames[0]
		exposure = f.IntegrationTime * f.AnalogGain * max(f.DigitalGain, 1)
	}
	level := h.scene
	if h.light.IROn {
		level += irBoost
	}
	return min(level*exposure*lumaScale, 255)
}

func framesFor(t camera.Topology) int {
	switch t {
	case camera.TopologyHdr2:
		return 2
	case camera.TopologyHdr3:
		return 3
	}
	return 1
}
