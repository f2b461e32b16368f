package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"isp-orchestrator/calib"
	"isp-orchestrator/camera"
	"isp-orchestrator/config"

	"go.uber.org/zap"
)

// Controller is the part of the camera manager the API drives
type Controller interface {
	Status() camera.Status
	Start() error
	Stop(keepExternalHwState bool) error
	SwitchWorkingModeSync(mode camera.WorkingMode) error
	SetMirrorFlip(mirror, flip bool, skipFrames int) error
	UpdateCalibDb(c *calib.Calibration) error
}

// Handlers manages HTTP request handlers
type Handlers struct {
	config  *config.Config
	logger  *zap.Logger
	manager Controller
	hub     *EventHub
	started time.Time
}

// NewHandlers creates a new handlers instance
func NewHandlers(cfg *config.Config, manager Controller, hub *EventHub, logger *zap.Logger) *Handlers {
	return &Handlers{
		config:  cfg,
		logger:  logger,
		manager: manager,
		hub:     hub,
		started: time.Now(),
	}
}

type modeRequest struct {
	Mode string `json:"mode"`
}

type orientationRequest struct {
	Mirror     bool `json:"mirror"`
	Flip       bool `json:"flip"`
	SkipFrames int  `json:"skip_frames"`
}

// HandleHealth returns health check information
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	st := h.manager.Status()
	h.writeJSONResponse(w, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(h.started).Round(time.Second).String(),
		"pipeline":  st.State,
	})
}

// HandleAPIStatus returns the pipeline status
func (h *Handlers) HandleAPIStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	status := map[string]interface{}{
		"pipeline": h.manager.Status(),
		"server": map[string]interface{}{
			"bind_ip":  h.config.Server.BindIP,
			"web_port": h.config.Server.WebPort,
		},
	}
	if h.hub != nil {
		status["event_clients"] = h.hub.ClientCount()
	}
	h.writeJSONResponse(w, status)
}

// HandleAPIMode switches the working mode and waits for the switch
func (h *Handlers) HandleAPIMode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req modeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	mode, err := camera.ParseWorkingMode(req.Mode)
	if err != nil {
		h.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.manager.SwitchWorkingModeSync(mode); err != nil {
		h.logger.Error("Working mode switch failed", zap.Stringer("mode", mode), zap.Error(err))
		h.writeErrorResponse(w, err.Error(), errorStatus(err))
		return
	}
	h.writeJSONResponse(w, map[string]interface{}{
		"action": "switch_mode",
		"status": h.manager.Status(),
	})
}

// HandleAPIStart starts or restarts streaming
func (h *Handlers) HandleAPIStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.manager.Start(); err != nil {
		h.logger.Error("Failed to start pipeline", zap.Error(err))
		h.writeErrorResponse(w, err.Error(), errorStatus(err))
		return
	}
	h.writeJSONResponse(w, map[string]interface{}{
		"action": "start",
		"status": h.manager.Status(),
	})
}

// HandleAPIStop stops streaming; keep_external=1 leaves external
// hardware state such as the IR illuminator untouched
func (h *Handlers) HandleAPIStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	keep := r.URL.Query().Get("keep_external") == "1"
	if err := h.manager.Stop(keep); err != nil {
		h.logger.Error("Failed to stop pipeline", zap.Error(err))
		h.writeErrorResponse(w, err.Error(), errorStatus(err))
		return
	}
	h.writeJSONResponse(w, map[string]interface{}{
		"action":        "stop",
		"keep_external": keep,
		"status":        h.manager.Status(),
	})
}

// HandleAPIOrientation sets mirror and flip
func (h *Handlers) HandleAPIOrientation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req orientationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.SkipFrames < 0 {
		h.writeErrorResponse(w, "skip_frames must not be negative", http.StatusBadRequest)
		return
	}
	if err := h.manager.SetMirrorFlip(req.Mirror, req.Flip, req.SkipFrames); err != nil {
		h.writeErrorResponse(w, err.Error(), errorStatus(err))
		return
	}
	h.writeJSONResponse(w, map[string]interface{}{
		"action":      "orientation",
		"orientation": h.manager.Status().Orientation,
	})
}

// HandleAPICalibrationReload re-reads the calibration file and hands it
// to the running pipeline
func (h *Handlers) HandleAPICalibrationReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	c := calib.Default()
	if path := h.config.Calibration.Path; path != "" {
		var err error
		if c, err = calib.Load(path); err != nil {
			h.logger.Error("Failed to load calibration", zap.String("path", path), zap.Error(err))
			h.writeErrorResponse(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
	}

	if err := h.manager.UpdateCalibDb(c); err != nil {
		h.writeErrorResponse(w, err.Error(), errorStatus(err))
		return
	}
	h.writeJSONResponse(w, map[string]interface{}{
		"action":      "calibration_reload",
		"calibration": c.Name,
	})
}

// errorStatus maps manager errors to HTTP status codes
func errorStatus(err error) int {
	switch {
	case errors.Is(err, camera.ErrWrongState), errors.Is(err, camera.ErrWorkerStopped):
		return http.StatusConflict
	case errors.Is(err, camera.ErrInvalidParam):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

// writeErrorResponse writes an error response
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":  message,
		"status": statusCode,
	})
}
