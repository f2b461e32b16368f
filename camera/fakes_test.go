package camera

import (
	"errors"
	"sync"
	"testing"
	"time"

	"isp-orchestrator/calib"
	"isp-orchestrator/config"

	"go.uber.org/zap/zaptest"
)

var errInjected = errors.New("injected failure")

// recorder collects calls across all fakes so tests can assert ordering
type recorder struct {
	mu     sync.Mutex
	calls  []string
	errs   map[string]error
	onCall func(name string)
}

func newRecorder() *recorder {
	return &recorder{errs: make(map[string]error)}
}

func (r *recorder) record(name string) error {
	r.mu.Lock()
	r.calls = append(r.calls, name)
	err := r.errs[name]
	hook := r.onCall
	r.mu.Unlock()
	if hook != nil {
		hook(name)
	}
	return err
}

func (r *recorder) fail(name string, err error) {
	r.mu.Lock()
	r.errs[name] = err
	r.mu.Unlock()
}

func (r *recorder) setHook(fn func(name string)) {
	r.mu.Lock()
	r.onCall = fn
	r.mu.Unlock()
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.calls = nil
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) count(name string) int {
	n := 0
	for _, c := range r.snapshot() {
		if c == name {
			n++
		}
	}
	return n
}

// filter returns the recorded calls that are in names, in order
func (r *recorder) filter(names ...string) []string {
	keep := make(map[string]bool, len(names))
	for _, n := range names {
		keep[n] = true
	}
	var out []string
	for _, c := range r.snapshot() {
		if keep[c] {
			out = append(out, c)
		}
	}
	return out
}

type tmoCall struct {
	frameID uint32
	enable  bool
}

type fakeHw struct {
	rec *recorder

	mu        sync.Mutex
	prepared  []PrepareParams
	keepExt   []bool
	exposures []*ExposureParams
	ispMeas   []*IspMeasParams
	isppMeas  []*IsppMeasParams
	lights    []*CompanionLightParams
	tmo       []tmoCall
	switched  []Topology
	modules   map[ModuleID]bool
	desc      SensorDescriptor
	effective map[uint32]*ExposureParams
}

func newFakeHw(rec *recorder) *fakeHw {
	return &fakeHw{
		rec:       rec,
		modules:   make(map[ModuleID]bool),
		desc:      SensorDescriptor{Name: "m00_b_test", Width: 1920, Height: 1080, FPS: 30},
		effective: make(map[uint32]*ExposureParams),
	}
}

func (h *fakeHw) Init(sensor string) error { return h.rec.record("hw.Init") }
func (h *fakeHw) DeInit() error            { return h.rec.record("hw.DeInit") }

func (h *fakeHw) Prepare(p PrepareParams) error {
	h.mu.Lock()
	h.prepared = append(h.prepared, p)
	h.mu.Unlock()
	return h.rec.record("hw.Prepare")
}

func (h *fakeHw) Start() error  { return h.rec.record("hw.Start") }
func (h *fakeHw) Stop() error   { return h.rec.record("hw.Stop") }
func (h *fakeHw) Pause() error  { return h.rec.record("hw.Pause") }
func (h *fakeHw) Resume() error { return h.rec.record("hw.Resume") }

func (h *fakeHw) KeepExternalStateAtStop(keep bool) {
	h.mu.Lock()
	h.keepExt = append(h.keepExt, keep)
	h.mu.Unlock()
	h.rec.record("hw.KeepExternalStateAtStop")
}

func (h *fakeHw) SensorDescriptor() (SensorDescriptor, error) {
	err := h.rec.record("hw.SensorDescriptor")
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.desc, err
}

func (h *fakeHw) SetExposureParams(p *ExposureParams) error {
	h.mu.Lock()
	h.exposures = append(h.exposures, p)
	h.mu.Unlock()
	return h.rec.record("hw.SetExposureParams")
}

func (h *fakeHw) SetIrisParams(p *IrisParams) error { return h.rec.record("hw.SetIrisParams") }
func (h *fakeHw) SetIspOtherParams(p *IspOtherParams) error {
	return h.rec.record("hw.SetIspOtherParams")
}

func (h *fakeHw) SetIspMeasParams(p *IspMeasParams) error {
	h.mu.Lock()
	h.ispMeas = append(h.ispMeas, p)
	h.mu.Unlock()
	return h.rec.record("hw.SetIspMeasParams")
}

func (h *fakeHw) SetIsppOtherParams(p *IsppOtherParams) error {
	return h.rec.record("hw.SetIsppOtherParams")
}

func (h *fakeHw) SetIsppMeasParams(p *IsppMeasParams) error {
	h.mu.Lock()
	h.isppMeas = append(h.isppMeas, p)
	h.mu.Unlock()
	return h.rec.record("hw.SetIsppMeasParams")
}

func (h *fakeHw) SetFocusParams(p *FocusParams) error { return h.rec.record("hw.SetFocusParams") }
func (h *fakeHw) SetFlashParams(p *FlashParams) error { return h.rec.record("hw.SetFlashParams") }

func (h *fakeHw) SetCompanionLightParams(p *CompanionLightParams) error {
	h.mu.Lock()
	h.lights = append(h.lights, p)
	h.mu.Unlock()
	return h.rec.record("hw.SetCompanionLightParams")
}

func (h *fakeHw) SetOrientation(mirror, flip bool, skipFrames int) error {
	return h.rec.record("hw.SetOrientation")
}

func (h *fakeHw) SwitchWorkingMode(t Topology) error {
	h.mu.Lock()
	h.switched = append(h.switched, t)
	h.mu.Unlock()
	return h.rec.record("hw.SwitchWorkingMode")
}

func (h *fakeHw) EffectiveExposure(sequence uint32) (*ExposureParams, error) {
	if err := h.rec.record("hw.EffectiveExposure"); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.effective[sequence], nil
}

func (h *fakeHw) SetModuleEnabled(mod ModuleID, enabled bool) error {
	h.mu.Lock()
	h.modules[mod] = enabled
	h.mu.Unlock()
	return h.rec.record("hw.SetModuleEnabled")
}

func (h *fakeHw) ModuleEnabled(mod ModuleID) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.modules[mod], nil
}

func (h *fakeHw) SetHdrGlobalTmo(frameID uint32, enable bool) error {
	h.mu.Lock()
	h.tmo = append(h.tmo, tmoCall{frameID: frameID, enable: enable})
	h.mu.Unlock()
	return h.rec.record("hw.SetHdrGlobalTmo")
}

// reset forgets every parameter set applied so far
func (h *fakeHw) reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.exposures = nil
	h.ispMeas = nil
	h.isppMeas = nil
	h.lights = nil
	h.tmo = nil
}

func (h *fakeHw) lightsApplied() []*CompanionLightParams {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*CompanionLightParams(nil), h.lights...)
}

func (h *fakeHw) exposuresApplied() []*ExposureParams {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*ExposureParams(nil), h.exposures...)
}

// plainHw hides the optional tone-mapping extension of the wrapped layer
type plainHw struct {
	HwApply
}

type fakeAnalyzer struct {
	rec *recorder

	mu          sync.Mutex
	cb          ResultCallback
	hwInfo      HwInfo
	calib       *calib.Calibration
	prepared    []Topology
	initial     *FullParamsResult
	ispStats    []IspStats
	isppStats   []IsppStats
	events      []HwEvent
	txBuffers   []TxBuffer
	lumaResults []LumaResult
	orientation []Orientation
}

func newFakeAnalyzer(rec *recorder) *fakeAnalyzer {
	return &fakeAnalyzer{
		rec: rec,
		initial: &FullParamsResult{
			FrameID:  0,
			Exposure: &ExposureParams{Frames: []ExposureFrame{{IntegrationTime: 0.01, AnalogGain: 1}}},
			IspMeas:  &IspMeasParams{FrameID: 0},
			IsppMeas: &IsppMeasParams{FrameID: 0},
		},
	}
}

func (a *fakeAnalyzer) SetResultCallback(cb ResultCallback) {
	a.mu.Lock()
	a.cb = cb
	a.mu.Unlock()
}

func (a *fakeAnalyzer) SetHwInfo(info HwInfo) {
	a.mu.Lock()
	a.hwInfo = info
	a.mu.Unlock()
}

func (a *fakeAnalyzer) Init(sensor string, c *calib.Calibration) error {
	a.mu.Lock()
	a.calib = c
	a.mu.Unlock()
	return a.rec.record("analyzer.Init")
}

func (a *fakeAnalyzer) DeInit() error { return a.rec.record("analyzer.DeInit") }

func (a *fakeAnalyzer) Prepare(desc SensorDescriptor, t Topology) error {
	a.mu.Lock()
	a.prepared = append(a.prepared, t)
	a.mu.Unlock()
	return a.rec.record("analyzer.Prepare")
}

func (a *fakeAnalyzer) Start() error { return a.rec.record("analyzer.Start") }
func (a *fakeAnalyzer) Stop() error  { return a.rec.record("analyzer.Stop") }

func (a *fakeAnalyzer) SetCalib(c *calib.Calibration) error {
	a.mu.Lock()
	a.calib = c
	a.mu.Unlock()
	return a.rec.record("analyzer.SetCalib")
}

func (a *fakeAnalyzer) PushIspStats(s IspStats) error {
	a.mu.Lock()
	a.ispStats = append(a.ispStats, s)
	a.mu.Unlock()
	return a.rec.record("analyzer.PushIspStats")
}

func (a *fakeAnalyzer) PushIsppStats(s IsppStats) error {
	a.mu.Lock()
	a.isppStats = append(a.isppStats, s)
	a.mu.Unlock()
	return a.rec.record("analyzer.PushIsppStats")
}

func (a *fakeAnalyzer) PushLumaResult(r LumaResult) error {
	a.mu.Lock()
	a.lumaResults = append(a.lumaResults, r)
	a.mu.Unlock()
	return a.rec.record("analyzer.PushLumaResult")
}

func (a *fakeAnalyzer) PushEvent(ev HwEvent) error {
	a.mu.Lock()
	a.events = append(a.events, ev)
	a.mu.Unlock()
	return a.rec.record("analyzer.PushEvent")
}

func (a *fakeAnalyzer) PushTxBuffer(buf TxBuffer) error {
	a.mu.Lock()
	a.txBuffers = append(a.txBuffers, buf)
	a.mu.Unlock()
	return a.rec.record("analyzer.PushTxBuffer")
}

func (a *fakeAnalyzer) InitialFullParams() (*FullParamsResult, error) {
	err := a.rec.record("analyzer.InitialFullParams")
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.initial, err
}

func (a *fakeAnalyzer) SetOrientation(mirror, flip bool) error {
	a.mu.Lock()
	a.orientation = append(a.orientation, Orientation{Mirror: mirror, Flip: flip})
	a.mu.Unlock()
	return a.rec.record("analyzer.SetOrientation")
}

type fakeLuma struct {
	rec   *recorder
	mu    sync.Mutex
	cb    LumaResultCallback
	stats []LumaStats
}

func (l *fakeLuma) SetResultCallback(cb LumaResultCallback) {
	l.mu.Lock()
	l.cb = cb
	l.mu.Unlock()
}

func (l *fakeLuma) Init(c *calib.Calibration) error { return l.rec.record("luma.Init") }
func (l *fakeLuma) DeInit() error                   { return l.rec.record("luma.DeInit") }
func (l *fakeLuma) Prepare(t Topology) error        { return l.rec.record("luma.Prepare") }
func (l *fakeLuma) Start() error                    { return l.rec.record("luma.Start") }
func (l *fakeLuma) Stop() error                     { return l.rec.record("luma.Stop") }

func (l *fakeLuma) PushStats(s LumaStats) error {
	l.mu.Lock()
	l.stats = append(l.stats, s)
	l.mu.Unlock()
	return l.rec.record("luma.PushStats")
}

// testRig bundles a manager with its fakes
type testRig struct {
	m        *Manager
	rec      *recorder
	hw       *fakeHw
	analyzer *fakeAnalyzer
	luma     *fakeLuma
}

func newRig(t *testing.T) *testRig {
	t.Helper()
	rec := newRecorder()
	r := &testRig{
		m:        NewManager(config.Default(), zaptest.NewLogger(t)),
		rec:      rec,
		hw:       newFakeHw(rec),
		analyzer: newFakeAnalyzer(rec),
		luma:     &fakeLuma{rec: rec},
	}
	t.Cleanup(func() {
		// Leave no goroutines behind regardless of where the test stopped.
		r.m.resultWorker.Stop()
		r.m.cmdWorker.Stop()
	})
	return r
}

// bind attaches all fakes to the manager
func (r *testRig) bind(t *testing.T) {
	t.Helper()
	r.bindWith(t, r.hw)
}

func (r *testRig) bindWith(t *testing.T, hw HwApply) {
	t.Helper()
	must(t, r.m.SetSensorName("m00_b_test"))
	must(t, r.m.SetAnalyzer(r.analyzer))
	must(t, r.m.SetLumaAnalyzer(r.luma))
	must(t, r.m.SetHwApply(hw))
	must(t, r.m.SetCalibration(calib.Default()))
}

// started brings the manager to the started state in the given mode
func (r *testRig) started(t *testing.T, mode WorkingMode) {
	t.Helper()
	r.bind(t)
	must(t, r.m.Init())
	must(t, r.m.Prepare(1920, 1080, mode))
	must(t, r.m.Start())
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// waitFor polls cond until it holds or the deadline passes
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func equalCalls(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
