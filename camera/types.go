package camera

import (
	"fmt"
	"strings"
	"time"
)

// PipelineState is the manager lifecycle state
type PipelineState int32

const (
	StateInvalid PipelineState = iota
	StateInited
	StatePrepared
	StateStarted
	StateStopped
)

// String returns the lowercase state name
func (s PipelineState) String() string {
	switch s {
	case StateInvalid:
		return "invalid"
	case StateInited:
		return "inited"
	case StatePrepared:
		return "prepared"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// WorkingMode is the sensor exposure topology
type WorkingMode int32

const (
	ModeNormal WorkingMode = iota
	ModeHdr2
	ModeHdr3
)

// String returns the mode name accepted by ParseWorkingMode
func (m WorkingMode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeHdr2:
		return "hdr2"
	case ModeHdr3:
		return "hdr3"
	}
	return fmt.Sprintf("mode(%d)", int32(m))
}

// ParseWorkingMode accepts normal, hdr2 and hdr3 in any case
func ParseWorkingMode(s string) (WorkingMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "normal", "linear":
		return ModeNormal, nil
	case "hdr2":
		return ModeHdr2, nil
	case "hdr3":
		return ModeHdr3, nil
	}
	return ModeNormal, fmt.Errorf("%w: unknown working mode %q", ErrInvalidParam, s)
}

// Topology is the hardware exposure-topology code handed to HwApply
type Topology int

const (
	TopologyNormal Topology = 0x00
	TopologyHdr2   Topology = 0x10
	TopologyHdr3   Topology = 0x20
)

// IsHdr reports whether the topology reads out more than one exposure
func (t Topology) IsHdr() bool {
	return t != TopologyNormal
}

// String returns the topology name
func (t Topology) String() string {
	switch t {
	case TopologyNormal:
		return "normal"
	case TopologyHdr2:
		return "hdr2"
	case TopologyHdr3:
		return "hdr3"
	}
	return fmt.Sprintf("topology(%#x)", int(t))
}

// topologyFor maps a working mode to its hardware code. ok is false for an
// unrecognized mode, in which case the normal topology is returned.
func topologyFor(mode WorkingMode) (Topology, bool) {
	switch mode {
	case ModeNormal:
		return TopologyNormal, true
	case ModeHdr2:
		return TopologyHdr2, true
	case ModeHdr3:
		return TopologyHdr3, true
	}
	return TopologyNormal, false
}

// ParamKind names one sub-parameter-set of a FullParamsResult
type ParamKind string

const (
	KindExposure       ParamKind = "exposure"
	KindIris           ParamKind = "iris"
	KindIspOther       ParamKind = "isp_other"
	KindIspMeas        ParamKind = "isp_meas"
	KindIsppOther      ParamKind = "ispp_other"
	KindIsppMeas       ParamKind = "ispp_meas"
	KindFocus          ParamKind = "focus"
	KindFlash          ParamKind = "flash"
	KindCompanionLight ParamKind = "companion_light"
	KindHdrGlobalTmo   ParamKind = "hdr_global_tmo"
)

// ExposureFrame is the exposure of one readout of an HDR group
type ExposureFrame struct {
	IntegrationTime float64
	AnalogGain      float64
	DigitalGain     float64
}

// ExposureParams carries one exposure per HDR frame (one for linear)
type ExposureParams struct {
	FrameID uint32
	Frames  []ExposureFrame
}

type IrisParams struct {
	FrameID   uint32
	PIrisPos  int
	DCIrisPwm int
}

// IspMeasParams configures the ISP statistics engines
type IspMeasParams struct {
	FrameID      uint32
	HdrGlobalTmo bool
	Data         []byte
}

type IspOtherParams struct {
	FrameID uint32
	Data    []byte
}

// IsppMeasParams configures the post-processor statistics engines
type IsppMeasParams struct {
	FrameID uint32
	Data    []byte
}

type IsppOtherParams struct {
	FrameID uint32
	Data    []byte
}

type FocusParams struct {
	FrameID      uint32
	LensPosition int
	ZoomPosition int
}

type FlashParams struct {
	FrameID  uint32
	On       bool
	Strength float32
}

// CompanionLightParams drives the IR cut, IR illumination and fill light
type CompanionLightParams struct {
	IROn              bool
	GrayMode          bool
	FillLightOn       bool
	FillLightStrength float32
}

// defersInGray reports whether the update has to wait for gray capture to
// settle before the IR illumination is switched on.
func (p *CompanionLightParams) defersInGray() bool {
	return p.IROn && p.GrayMode
}

// FullParamsResult is the per-frame bundle produced by the analyzer. It is
// shared between the analyzer and the result worker and must not be
// mutated once handed to the manager. Nil fields are absent.
type FullParamsResult struct {
	FrameID        uint32
	Exposure       *ExposureParams
	Iris           *IrisParams
	IspMeas        *IspMeasParams
	IspOther       *IspOtherParams
	IsppMeas       *IsppMeasParams
	IsppOther      *IsppOtherParams
	Focus          *FocusParams
	CompanionLight *CompanionLightParams
	Flash          *FlashParams
}

// SensorDescriptor is the sensor output description queried from hardware
type SensorDescriptor struct {
	Name             string
	Width            int
	Height           int
	PixelClock       int64
	LineLengthPixels uint32
	FrameLengthLines uint32
	FPS              float64
}

// HwInfo lists optional hardware the analyzer has to know about
type HwInfo struct {
	HasFlash bool
	HasIRCut bool
	HasLens  bool
}

// PrepareParams is what HwApply needs to configure the pipeline
type PrepareParams struct {
	Width     int
	Height    int
	Topology  Topology
	TimeDelay int
	GainDelay int
	DcgDelay  int
}

// ModuleID names an ISP hardware block that can be bypassed
type ModuleID string

// Statistics and events delivered by the hardware layer.

type IspStats struct {
	FrameID   uint32
	Timestamp time.Time
	Data      []byte
}

type IsppStats struct {
	FrameID   uint32
	Timestamp time.Time
	Data      []byte
}

type LumaStats struct {
	FrameID uint32
	Luma    []float32
}

// LumaResult is the luma analyzer's verdict for one frame
type LumaResult struct {
	FrameID         uint32
	HdrProcessCount int
}

type HwEventType int

const (
	EventStartOfFrame HwEventType = iota
	EventEndOfFrame
	EventStreamOn
	EventStreamOff
)

type HwEvent struct {
	Type      HwEventType
	Sequence  uint32
	Timestamp time.Time
}

// TxBuffer is a raw frame notification. Exposure is filled in by the
// manager with the parameters that actually landed on that frame.
type TxBuffer struct {
	Sequence  uint32
	Timestamp time.Time
	Exposure  *ExposureParams
}

// Orientation is the cached mirror/flip state
type Orientation struct {
	Mirror bool `json:"mirror"`
	Flip   bool `json:"flip"`
}
