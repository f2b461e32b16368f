package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"isp-orchestrator/calib"
	"isp-orchestrator/camera"
	"isp-orchestrator/config"

	"go.uber.org/zap/zaptest"
)

// fakeController records the calls the API makes
type fakeController struct {
	mu      sync.Mutex
	status  camera.Status
	err     error
	modes   []camera.WorkingMode
	keeps   []bool
	starts  int
	mirrors []camera.Orientation
	skips   []int
	calibs  []*calib.Calibration
}

func (f *fakeController) Status() camera.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeController) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return f.err
}

func (f *fakeController) Stop(keep bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keeps = append(f.keeps, keep)
	return f.err
}

func (f *fakeController) SwitchWorkingModeSync(mode camera.WorkingMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.modes = append(f.modes, mode)
	return f.err
}

func (f *fakeController) SetMirrorFlip(mirror, flip bool, skip int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mirrors = append(f.mirrors, camera.Orientation{Mirror: mirror, Flip: flip})
	f.skips = append(f.skips, skip)
	return f.err
}

func (f *fakeController) UpdateCalibDb(c *calib.Calibration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calibs = append(f.calibs, c)
	return f.err
}

func newTestServer(t *testing.T, ctl *fakeController) http.Handler {
	t.Helper()
	return NewServer(config.Default(), ctl, zaptest.NewLogger(t)).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// TestHealth tests the health endpoint
func TestHealth(t *testing.T) {
	ctl := &fakeController{status: camera.Status{State: "started"}}
	rec := do(t, newTestServer(t, ctl), http.MethodGet, "/health", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" || body["pipeline"] != "started" {
		t.Errorf("body = %v", body)
	}
}

func TestAPIStatus(t *testing.T) {
	ctl := &fakeController{status: camera.Status{State: "started", Mode: "hdr2", ResultsApplied: 42}}
	h := newTestServer(t, ctl)

	rec := do(t, h, http.MethodGet, "/api/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Pipeline     camera.Status `json:"pipeline"`
		EventClients int           `json:"event_clients"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Pipeline.Mode != "hdr2" || body.Pipeline.ResultsApplied != 42 {
		t.Errorf("pipeline = %+v", body.Pipeline)
	}

	if rec := do(t, h, http.MethodPost, "/api/status", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d", rec.Code)
	}
}

func TestAPIMode(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
		wantMode []camera.WorkingMode
	}{
		{"hdr2", `{"mode":"hdr2"}`, nil, http.StatusOK, []camera.WorkingMode{camera.ModeHdr2}},
		{"case insensitive", `{"mode":"HDR3"}`, nil, http.StatusOK, []camera.WorkingMode{camera.ModeHdr3}},
		{"unknown mode", `{"mode":"hdr9"}`, nil, http.StatusBadRequest, nil},
		{"bad body", `{`, nil, http.StatusBadRequest, nil},
		{"wrong state", `{"mode":"normal"}`, fmt.Errorf("switch: %w", camera.ErrWrongState), http.StatusConflict, []camera.WorkingMode{camera.ModeNormal}},
		{"hardware failure", `{"mode":"hdr2"}`, fmt.Errorf("sensor rejected"), http.StatusInternalServerError, []camera.WorkingMode{camera.ModeHdr2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctl := &fakeController{err: tt.err}
			rec := do(t, newTestServer(t, ctl), http.MethodPost, "/api/mode", tt.body)

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if len(ctl.modes) != len(tt.wantMode) {
				t.Fatalf("switches = %v, want %v", ctl.modes, tt.wantMode)
			}
			for i := range tt.wantMode {
				if ctl.modes[i] != tt.wantMode[i] {
					t.Errorf("switches = %v, want %v", ctl.modes, tt.wantMode)
				}
			}
		})
	}
}

func TestAPIStartStop(t *testing.T) {
	ctl := &fakeController{}
	h := newTestServer(t, ctl)

	if rec := do(t, h, http.MethodPost, "/api/start", ""); rec.Code != http.StatusOK {
		t.Errorf("start = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/stop?keep_external=1", ""); rec.Code != http.StatusOK {
		t.Errorf("stop = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/stop", ""); rec.Code != http.StatusOK {
		t.Errorf("stop = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/start", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET start = %d", rec.Code)
	}

	if ctl.starts != 1 {
		t.Errorf("starts = %d", ctl.starts)
	}
	if len(ctl.keeps) != 2 || !ctl.keeps[0] || ctl.keeps[1] {
		t.Errorf("keep flags = %v, want [true false]", ctl.keeps)
	}
}

func TestAPIOrientation(t *testing.T) {
	ctl := &fakeController{}
	h := newTestServer(t, ctl)

	rec := do(t, h, http.MethodPost, "/api/orientation", `{"mirror":true,"flip":false,"skip_frames":3}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(ctl.mirrors) != 1 || !ctl.mirrors[0].Mirror || ctl.mirrors[0].Flip || ctl.skips[0] != 3 {
		t.Errorf("orientation calls = %v skips %v", ctl.mirrors, ctl.skips)
	}

	if rec := do(t, h, http.MethodPost, "/api/orientation", `{"skip_frames":-1}`); rec.Code != http.StatusBadRequest {
		t.Errorf("negative skip = %d", rec.Code)
	}
}

func TestAPICalibrationReload(t *testing.T) {
	ctl := &fakeController{}
	h := newTestServer(t, ctl)

	rec := do(t, h, http.MethodPost, "/api/calibration/reload", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}
	if len(ctl.calibs) != 1 || ctl.calibs[0] == nil {
		t.Errorf("calibrations = %v", ctl.calibs)
	}
}

func TestAPICalibrationReloadMissingFile(t *testing.T) {
	cfg := config.Default()
	cfg.Calibration.Path = t.TempDir() + "/missing.yaml"
	ctl := &fakeController{}
	h := NewServer(cfg, ctl, zaptest.NewLogger(t)).Handler()

	rec := do(t, h, http.MethodPost, "/api/calibration/reload", "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d", rec.Code)
	}
	if len(ctl.calibs) != 0 {
		t.Error("calibration applied despite load failure")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	rec := do(t, newTestServer(t, &fakeController{}), http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	rec := do(t, newTestServer(t, &fakeController{}), http.MethodOptions, "/api/mode", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("allow origin = %q", got)
	}
}
