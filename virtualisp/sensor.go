package virtualisp

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"isp-orchestrator/camera"

	"go.uber.org/zap"
)

const (
	lumaScale = 4000.0
	irBoost   = 0.5
	lumaZones = 16
)

// FrameSink receives what the virtual sensor produces each frame. The
// camera manager implements it.
type FrameSink interface {
	OnHwEvent(ev camera.HwEvent)
	OnIspStats(s camera.IspStats)
	OnIsppStats(s camera.IsppStats)
	OnLumaStats(s camera.LumaStats)
	OnTxBuffer(buf camera.TxBuffer)
}

// Sensor generates frames on a ticker. Each frame yields start/end of
// frame events, ISP, ISPP and luma statistics and a raw buffer
// notification, in that order.
type Sensor struct {
	interval time.Duration
	hw       *Hw
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	sinkMu sync.RWMutex
	sink   FrameSink

	isRunning bool
	mu        sync.Mutex

	paused   atomic.Bool
	skipLeft atomic.Int32
	sequence atomic.Uint32
}

func newSensor(interval time.Duration, hw *Hw, logger *zap.Logger) *Sensor {
	if interval <= 0 {
		interval = 33 * time.Millisecond
	}
	return &Sensor{
		interval: interval,
		hw:       hw,
		logger:   logger.With(zap.String("component", "virtual_sensor")),
	}
}

func (s *Sensor) setSink(sink FrameSink) {
	s.sinkMu.Lock()
	s.sink = sink
	s.sinkMu.Unlock()
}

// Start begins frame generation
func (s *Sensor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("sensor already running")
	}

	s.logger.Info("Starting virtual sensor", zap.Duration("interval", s.interval))
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.isRunning = true
	s.paused.Store(false)
	s.wg.Add(1)
	go s.frameLoop(s.ctx)
	return nil
}

// Stop ends frame generation and waits for the frame in flight
func (s *Sensor) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("Virtual sensor stopped", zap.Uint32("frames", s.sequence.Load()))
}

func (s *Sensor) setPaused(p bool) {
	s.paused.Store(p)
}

// skip suppresses the outputs of the next n frames while the sensor settles
func (s *Sensor) skip(n int) {
	s.skipLeft.Store(int32(n))
}

func (s *Sensor) frameLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if s.paused.Load() {
				continue
			}
			s.emitFrame(s.sequence.Add(1), now)
		}
	}
}

func (s *Sensor) emitFrame(seq uint32, now time.Time) {
	s.sinkMu.RLock()
	sink := s.sink
	s.sinkMu.RUnlock()
	if sink == nil {
		return
	}

	sink.OnHwEvent(camera.HwEvent{Type: camera.EventStartOfFrame, Sequence: seq, Timestamp: now})
	if s.skipLeft.Load() > 0 {
		s.skipLeft.Add(-1)
		s.logger.Debug("Skipping frame", zap.Uint32("sequence", seq))
		return
	}

	luma := s.hw.frameLuma(seq)
	sink.OnIspStats(camera.IspStats{FrameID: seq, Timestamp: now, Data: []byte{byte(luma)}})
	sink.OnIsppStats(camera.IsppStats{FrameID: seq, Timestamp: now, Data: []byte{byte(luma)}})

	zones := make([]float32, lumaZones)
	for i := range zones {
		zones[i] = float32(luma)
	}
	sink.OnLumaStats(camera.LumaStats{FrameID: seq, Luma: zones})
	sink.OnTxBuffer(camera.TxBuffer{Sequence: seq, Timestamp: now})
	sink.OnHwEvent(camera.HwEvent{Type: camera.EventEndOfFrame, Sequence: seq, Timestamp: now})
}
