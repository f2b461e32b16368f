package virtualisp

import (
	"fmt"
	"math"
	"sync"

	"isp-orchestrator/calib"
	"isp-orchestrator/camera"

	"go.uber.org/zap"
)

// lumaChangeThreshold is the relative change of mean luma between frames
// that counts as a scene change.
const lumaChangeThreshold = 0.2

// Luma watches the per-zone luma of each frame and asks for full HDR
// processing when the scene changes; steady frames need only the long
// exposure.
type Luma struct {
	logger *zap.Logger
	stats  *pump[camera.LumaStats]

	mu       sync.Mutex
	cb       camera.LumaResultCallback
	calib    *calib.Calibration
	topology camera.Topology
	last     float64
}

func NewLuma(logger *zap.Logger) *Luma {
	l := &Luma{logger: logger.With(zap.String("component", "virtual_luma"))}
	l.stats = newPump("luma_stats", statsQueueSize, l.process, l.logger)
	return l
}

func (l *Luma) SetResultCallback(cb camera.LumaResultCallback) {
	l.mu.Lock()
	l.cb = cb
	l.mu.Unlock()
}

func (l *Luma) Init(c *calib.Calibration) error {
	if c == nil {
		return fmt.Errorf("calibration required")
	}
	l.mu.Lock()
	l.calib = c
	l.mu.Unlock()
	return nil
}

func (l *Luma) DeInit() error {
	l.stats.Stop()
	return nil
}

func (l *Luma) Prepare(t camera.Topology) error {
	l.mu.Lock()
	l.topology = t
	l.last = 0
	l.mu.Unlock()
	return nil
}

func (l *Luma) Start() error {
	l.stats.Start()
	return nil
}

func (l *Luma) Stop() error {
	l.stats.Stop()
	return nil
}

func (l *Luma) PushStats(s camera.LumaStats) error {
	return l.stats.Push(s)
}

func (l *Luma) process(s camera.LumaStats) {
	l.mu.Lock()
	cb := l.cb
	if len(s.Luma) == 0 {
		l.mu.Unlock()
		if cb != nil {
			cb.OnLumaResultFailed(fmt.Sprintf("frame %d: no luma zones", s.FrameID))
		}
		return
	}

	var sum float64
	for _, v := range s.Luma {
		sum += float64(v)
	}
	mean := sum / float64(len(s.Luma))

	count := 1
	if l.last == 0 || math.Abs(mean-l.last)/math.Max(l.last, 1) > lumaChangeThreshold {
		count = framesFor(l.topology)
	}
	l.last = mean
	l.mu.Unlock()

	if cb != nil {
		cb.OnLumaResultReady(camera.LumaResult{FrameID: s.FrameID, HdrProcessCount: count})
	}
}
