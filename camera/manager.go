package camera

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"isp-orchestrator/calib"
	"isp-orchestrator/config"
	"isp-orchestrator/metrics"

	"go.uber.org/zap"
)

var allStates = []string{
	StateInvalid.String(),
	StateInited.String(),
	StatePrepared.String(),
	StateStarted.String(),
	StateStopped.String(),
}

// Manager drives the per-frame control loop: it routes hardware statistics
// to the analyzer, applies the analyzer's results to hardware and owns the
// pipeline lifecycle.
//
// Lifecycle calls are serialized by an internal mutex; callers are still
// expected to sequence them (stop before reconfigure). Statistics and result
// callbacks may arrive from any goroutine.
type Manager struct {
	diag   config.DiagnosticsConfig
	logger *zap.Logger

	mu sync.Mutex

	sensor   string
	analyzer Analyzer
	luma     LumaAnalyzer
	hw       HwApply
	tmo      GlobalToneMapper
	calib    *calib.Calibration
	hwInfo   HwInfo

	state     atomic.Int32
	mode      atomic.Int32
	switching atomic.Int32 // synchronous switches awaiting completion

	// read by Status without the lifecycle mutex
	infoMu      sync.RWMutex
	width       int
	height      int
	sensorDesc  SensorDescriptor
	orientation Orientation

	resultWorker *resultWorker
	cmdWorker    *commandWorker

	// owned by the apply algorithm
	deferred        *deferredLight
	lastIspMeas     *IspMeasParams
	lastIsppMeas    *IsppMeasParams
	deferPasses     atomic.Int32
	deferredPending atomic.Bool
	applied         atomic.Uint64

	sinksMu sync.RWMutex
	sinks   []EventSink
}

// NewManager creates a manager in the invalid state. Dependencies are bound
// with the Set methods before Init.
func NewManager(cfg *config.Config, logger *zap.Logger) *Manager {
	m := &Manager{
		diag:   cfg.Diagnostics,
		logger: logger.With(zap.String("component", "isp_manager")),
	}
	m.deferPasses.Store(calib.DefaultIRGrayDeferPasses)
	m.resultWorker = newResultWorker(m.applyResult, m.logger)
	m.cmdWorker = newCommandWorker(m.handleCommand, m.logger)
	metrics.SetPipelineState(StateInvalid.String(), allStates)
	return m
}

// SetSensorName binds the sensor entity name. It may be set only once.
func (m *Manager) SetSensorName(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if name == "" {
		return fmt.Errorf("%w: empty sensor name", ErrInvalidParam)
	}
	if m.sensor != "" {
		return fmt.Errorf("%w: sensor name", ErrAlreadyBound)
	}
	m.sensor = name
	return nil
}

// SetAnalyzer binds the analyzer and registers the manager as its result callback
func (m *Manager) SetAnalyzer(a Analyzer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.analyzer != nil {
		return fmt.Errorf("%w: analyzer", ErrAlreadyBound)
	}
	m.analyzer = a
	return nil
}

// SetLumaAnalyzer binds the optional luma analyzer
func (m *Manager) SetLumaAnalyzer(l LumaAnalyzer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.luma != nil {
		return fmt.Errorf("%w: luma analyzer", ErrAlreadyBound)
	}
	m.luma = l
	return nil
}

// SetHwApply binds the hardware access layer
func (m *Manager) SetHwApply(hw HwApply) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hw != nil {
		return fmt.Errorf("%w: hardware layer", ErrAlreadyBound)
	}
	m.hw = hw
	return nil
}

// SetCalibration binds the initial calibration. Use UpdateCalibDb to
// replace it while streaming.
func (m *Manager) SetCalibration(c *calib.Calibration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calib != nil {
		return fmt.Errorf("%w: calibration", ErrAlreadyBound)
	}
	m.calib = c
	return nil
}

// SetHwInfo records optional hardware presence, forwarded to the analyzer at Init
func (m *Manager) SetHwInfo(info HwInfo) {
	m.mu.Lock()
	m.hwInfo = info
	m.mu.Unlock()
}

// AddEventSink registers a consumer of lifecycle events
func (m *Manager) AddEventSink(s EventSink) {
	m.sinksMu.Lock()
	m.sinks = append(m.sinks, s)
	m.sinksMu.Unlock()
}

// State returns the current pipeline state
func (m *Manager) State() PipelineState {
	return PipelineState(m.state.Load())
}

// WorkingMode returns the committed working mode
func (m *Manager) WorkingMode() WorkingMode {
	return WorkingMode(m.mode.Load())
}

// setState stores s and updates the state gauge
func (m *Manager) setState(s PipelineState) {
	prev := PipelineState(m.state.Swap(int32(s)))
	metrics.SetPipelineState(s.String(), allStates)
	m.logger.Info("Pipeline state changed",
		zap.Stringer("from", prev),
		zap.Stringer("to", s))
	m.emit(EventStateChanged, prev.String()+" -> "+s.String())
}

// wrongState logs a rejected operation and returns ErrWrongState
func (m *Manager) wrongState(op string, st PipelineState) error {
	m.logger.Warn("Operation not allowed in current state",
		zap.String("op", op),
		zap.Stringer("state", st))
	return fmt.Errorf("%w: %s in state %s", ErrWrongState, op, st)
}

// Init checks the bound dependencies, initializes the analyzers and the
// hardware layer and starts the command worker. A failure is returned as
// is; nothing initialized before it is rolled back.
func (m *Manager) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if st := m.State(); st != StateInvalid {
		return m.wrongState("init", st)
	}

	var missing []string
	if m.sensor == "" {
		missing = append(missing, "sensor name")
	}
	if m.analyzer == nil {
		missing = append(missing, "analyzer")
	}
	if m.hw == nil {
		missing = append(missing, "hardware layer")
	}
	if m.calib == nil {
		missing = append(missing, "calibration")
	}
	if len(missing) > 0 {
		m.logger.Error("Cannot init, dependencies missing", zap.Strings("missing", missing))
		return fmt.Errorf("%w: %v", ErrNotBound, missing)
	}

	m.logger.Info("Initializing ISP manager",
		zap.String("sensor", m.sensor),
		zap.String("calibration", m.calib.Name),
		zap.Bool("has_flash", m.hwInfo.HasFlash),
		zap.Bool("has_ir_cut", m.hwInfo.HasIRCut),
		zap.Bool("has_lens", m.hwInfo.HasLens))

	m.analyzer.SetResultCallback(m)
	m.analyzer.SetHwInfo(m.hwInfo)
	if err := m.analyzer.Init(m.sensor, m.calib); err != nil {
		return fmt.Errorf("analyzer init failed: %w", err)
	}
	if m.luma != nil {
		m.luma.SetResultCallback(m)
		if err := m.luma.Init(m.calib); err != nil {
			return fmt.Errorf("luma analyzer init failed: %w", err)
		}
	}
	if err := m.hw.Init(m.sensor); err != nil {
		return fmt.Errorf("hardware init failed: %w", err)
	}

	m.tmo = nil
	if tmo, ok := m.hw.(GlobalToneMapper); ok {
		m.tmo = tmo
	}

	m.cmdWorker.Start()
	m.setState(StateInited)
	return nil
}

// Prepare configures hardware and analyzers for the given output size and
// working mode, then applies the analyzer's initial result.
func (m *Manager) Prepare(width, height int, mode WorkingMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if st := m.State(); st != StateInited {
		return m.wrongState("prepare", st)
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: size %dx%d", ErrInvalidParam, width, height)
	}

	topo, ok := topologyFor(mode)
	if !ok {
		m.logger.Error("Unsupported working mode, using normal topology", zap.Stringer("mode", mode))
		// The committed mode follows the topology so a later switch compares against normal.
		mode = ModeNormal
	}

	delay := m.calib.DelayFor(topo.IsHdr())
	m.logger.Info("Preparing pipeline",
		zap.Int("width", width),
		zap.Int("height", height),
		zap.Stringer("mode", mode),
		zap.Stringer("topology", topo),
		zap.Int("time_delay", delay.TimeDelay),
		zap.Int("gain_delay", delay.GainDelay))

	if err := m.hw.Prepare(PrepareParams{
		Width:     width,
		Height:    height,
		Topology:  topo,
		TimeDelay: delay.TimeDelay,
		GainDelay: delay.GainDelay,
		DcgDelay:  delay.DcgDelay,
	}); err != nil {
		return fmt.Errorf("hardware prepare failed: %w", err)
	}

	desc, err := m.hw.SensorDescriptor()
	if err != nil {
		return fmt.Errorf("failed to query sensor descriptor: %w", err)
	}

	def := m.calib.Sensor.Orientation
	if err := m.setMirrorFlipLocked(def.Mirror, def.Flip, 0); err != nil {
		m.logger.Warn("Failed to apply default orientation", zap.Error(err))
	}

	if m.luma != nil {
		if err := m.luma.Prepare(topo); err != nil {
			return fmt.Errorf("luma analyzer prepare failed: %w", err)
		}
	}
	if err := m.analyzer.Prepare(desc, topo); err != nil {
		return fmt.Errorf("analyzer prepare failed: %w", err)
	}
	initial, err := m.analyzer.InitialFullParams()
	if err != nil {
		return fmt.Errorf("failed to get initial params: %w", err)
	}

	m.infoMu.Lock()
	m.width, m.height = width, height
	m.sensorDesc = desc
	m.infoMu.Unlock()
	m.mode.Store(int32(mode))
	m.deferPasses.Store(int32(m.calib.DeferPasses()))

	m.applyResult(initial)
	m.setState(StatePrepared)
	return nil
}

// Start begins streaming. Restarting after Stop first re-applies the last
// measurement configuration with its frame sequence reset.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.State()
	if st != StatePrepared && st != StateStopped {
		return m.wrongState("start", st)
	}

	if st == StateStopped {
		m.reapplyLastMeas()
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
	if err := m.hw.Start(); err != nil {
		return fmt.Errorf("hardware start failed: %w", err)
	}

	m.setState(StateStarted)
	return nil
}

// Stop halts production, then consumption, then hardware. With
// keepExternalHwState the hardware layer leaves externally visible outputs
// such as the IR illuminator as they are.
func (m *Manager) Stop(keepExternalHwState bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.State()
	if st == StateStopped {
		return nil
	}
	if st != StateStarted {
		return m.wrongState("stop", st)
	}

	if err := m.analyzer.Stop(); err != nil {
		return fmt.Errorf("analyzer stop failed: %w", err)
	}
	if m.luma != nil {
		if err := m.luma.Stop(); err != nil {
			return fmt.Errorf("luma analyzer stop failed: %w", err)
		}
	}
	m.resultWorker.Stop()

	m.hw.KeepExternalStateAtStop(keepExternalHwState)
	if err := m.hw.Stop(); err != nil {
		return fmt.Errorf("hardware stop failed: %w", err)
	}

	m.clearDeferredLight()
	m.setState(StateStopped)
	return nil
}

// DeInit stops the command worker and tears down the analyzers and the
// hardware layer. Teardown continues past individual failures; the joined
// error is returned and the manager is left invalid either way.
func (m *Manager) DeInit() error {
	if st := m.State(); st == StateInvalid || st == StateStarted {
		return m.wrongState("deinit", st)
	}

	// A queued mode switch may be waiting for the lifecycle mutex.
	m.cmdWorker.Stop()

	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	if err := m.analyzer.DeInit(); err != nil {
		errs = append(errs, fmt.Errorf("analyzer deinit failed: %w", err))
	}
	if m.luma != nil {
		if err := m.luma.DeInit(); err != nil {
			errs = append(errs, fmt.Errorf("luma analyzer deinit failed: %w", err))
		}
	}
	if err := m.hw.DeInit(); err != nil {
		errs = append(errs, fmt.Errorf("hardware deinit failed: %w", err))
	}

	m.tmo = nil
	m.lastIspMeas = nil
	m.lastIsppMeas = nil
	m.clearDeferredLight()
	m.setState(StateInvalid)

	err := errors.Join(errs...)
	if err != nil {
		m.logger.Error("Teardown finished with errors", zap.Error(err))
	}
	return err
}

// UpdateCalibDb swaps the calibration while streaming and re-prepares the
// analyzer with it. The luma analyzer keeps its calibration.
func (m *Manager) UpdateCalibDb(c *calib.Calibration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if st := m.State(); st != StateStarted {
		return m.wrongState("update calibration", st)
	}
	if c == nil {
		return fmt.Errorf("%w: nil calibration", ErrInvalidParam)
	}

	m.logger.Info("Updating calibration", zap.String("calibration", c.Name))

	if err := m.analyzer.Stop(); err != nil {
		return fmt.Errorf("analyzer stop failed: %w", err)
	}
	m.resultWorker.Stop()

	m.calib = c
	m.deferPasses.Store(int32(c.DeferPasses()))

	if err := m.analyzer.SetCalib(c); err != nil {
		return fmt.Errorf("analyzer set calibration failed: %w", err)
	}
	topo, _ := topologyFor(m.WorkingMode())
	if err := m.analyzer.Prepare(m.descriptor(), topo); err != nil {
		return fmt.Errorf("analyzer prepare failed: %w", err)
	}
	initial, err := m.analyzer.InitialFullParams()
	if err != nil {
		return fmt.Errorf("failed to get initial params: %w", err)
	}
	m.applyResult(initial)

	m.resultWorker.Start()
	if err := m.analyzer.Start(); err != nil {
		return fmt.Errorf("analyzer start failed: %w", err)
	}

	m.emit(EventCalibUpdated, c.Name)
	return nil
}

// Calibration returns the calibration currently in use
func (m *Manager) Calibration() *calib.Calibration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calib
}

// SetMirrorFlip sets sensor orientation, skipping skipFrames output frames
// while it settles. The analyzer is told about the new orientation.
func (m *Manager) SetMirrorFlip(mirror, flip bool, skipFrames int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if st := m.State(); st == StateInvalid {
		return m.wrongState("set mirror/flip", st)
	}
	return m.setMirrorFlipLocked(mirror, flip, skipFrames)
}

// setMirrorFlipLocked applies orientation to hardware, then the analyzer; m.mu must be held
func (m *Manager) setMirrorFlipLocked(mirror, flip bool, skipFrames int) error {
	if err := m.hw.SetOrientation(mirror, flip, skipFrames); err != nil {
		return fmt.Errorf("hardware orientation failed: %w", err)
	}
	if err := m.analyzer.SetOrientation(mirror, flip); err != nil {
		return fmt.Errorf("analyzer orientation failed: %w", err)
	}
	m.infoMu.Lock()
	m.orientation = Orientation{Mirror: mirror, Flip: flip}
	m.infoMu.Unlock()
	m.logger.Info("Orientation set", zap.Bool("mirror", mirror), zap.Bool("flip", flip))
	return nil
}

// MirrorFlip returns the cached orientation
func (m *Manager) MirrorFlip() Orientation {
	m.infoMu.RLock()
	defer m.infoMu.RUnlock()
	return m.orientation
}

// SetModuleEnabled bypasses or enables an ISP block
func (m *Manager) SetModuleEnabled(mod ModuleID, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.State(); st == StateInvalid {
		return m.wrongState("set module", st)
	}
	return m.hw.SetModuleEnabled(mod, enabled)
}

// ModuleEnabled reports whether a hardware module is enabled
func (m *Manager) ModuleEnabled(mod ModuleID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.State(); st == StateInvalid {
		return false, m.wrongState("get module", st)
	}
	return m.hw.ModuleEnabled(mod)
}

// descriptor returns the cached sensor descriptor
func (m *Manager) descriptor() SensorDescriptor {
	m.infoMu.RLock()
	defer m.infoMu.RUnlock()
	return m.sensorDesc
}

// Status is a point-in-time view of the manager
type Status struct {
	State                string      `json:"state"`
	Mode                 string      `json:"mode"`
	Sensor               string      `json:"sensor"`
	Width                int         `json:"width"`
	Height               int         `json:"height"`
	Orientation          Orientation `json:"orientation"`
	Switching            bool        `json:"switching"`
	ResultsApplied       uint64      `json:"results_applied"`
	DeferredLightPending bool        `json:"deferred_light_pending"`
	ResultWorkerRunning  bool        `json:"result_worker_running"`
	CommandWorkerRunning bool        `json:"command_worker_running"`
}

// Status returns a snapshot of the pipeline for the status API
func (m *Manager) Status() Status {
	m.infoMu.RLock()
	defer m.infoMu.RUnlock()
	return Status{
		State:                m.State().String(),
		Mode:                 m.WorkingMode().String(),
		Sensor:               m.sensorDesc.Name,
		Width:                m.width,
		Height:               m.height,
		Orientation:          m.orientation,
		Switching:            m.Switching(),
		ResultsApplied:       m.applied.Load(),
		DeferredLightPending: m.deferredPending.Load(),
		ResultWorkerRunning:  m.resultWorker.Running(),
		CommandWorkerRunning: m.cmdWorker.Running(),
	}
}
