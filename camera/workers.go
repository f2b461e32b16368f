package camera

import (
	"sync"
	"sync/atomic"

	"isp-orchestrator/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// resultWorker drains analyzer results in production order and hands each
// one to the apply algorithm.
type resultWorker struct {
	queue   *BlockingQueue[*FullParamsResult]
	apply   func(*FullParamsResult)
	logger  *zap.Logger
	wg      sync.WaitGroup
	running atomic.Bool
}

// newResultWorker creates a stopped result worker
func newResultWorker(apply func(*FullParamsResult), logger *zap.Logger) *resultWorker {
	q := NewBlockingQueue[*FullParamsResult]()
	q.Close()
	return &resultWorker{
		queue:  q,
		apply:  apply,
		logger: logger.With(zap.String("component", "result_worker")),
	}
}

// Start launches the consumer goroutine. Starting a running worker is a no-op.
func (w *resultWorker) Start() {
	if !w.running.CompareAndSwap(false, true) {
		return
	}
	w.queue.Reopen()
	w.wg.Add(1)
	go w.loop()
	w.logger.Debug("Result worker started")
}

// Stop closes the queue and waits for the item in flight to finish
func (w *resultWorker) Stop() {
	if !w.running.CompareAndSwap(true, false) {
		return
	}
	dropped := w.queue.Close()
	w.wg.Wait()
	metrics.SetQueueDepth("result", 0)
	w.logger.Debug("Result worker stopped", zap.Int("dropped", len(dropped)))
}

// Push enqueues r; false means the worker is not running
func (w *resultWorker) Push(r *FullParamsResult) bool {
	if !w.queue.Push(r) {
		return false
	}
	metrics.SetQueueDepth("result", w.queue.Len())
	return true
}

// Running reports whether the consumer goroutine is active
func (w *resultWorker) Running() bool {
	return w.running.Load()
}

// loop applies results until the queue is closed
func (w *resultWorker) loop() {
	defer w.wg.Done()
	for {
		r, ok := w.queue.Pop()
		if !ok {
			return
		}
		metrics.SetQueueDepth("result", w.queue.Len())
		w.apply(r)
	}
}

// CommandKind tags a Command
type CommandKind int

const (
	CmdSwitchWorkingMode CommandKind = iota
)

// String returns the command name used in logs
func (k CommandKind) String() string {
	switch k {
	case CmdSwitchWorkingMode:
		return "switch_working_mode"
	}
	return "unknown"
}

// Command is a control request executed on the command worker. A non-nil
// done channel marks a synchronous submission; it receives exactly one value.
type Command struct {
	ID   string
	Kind CommandKind
	Mode WorkingMode
	done chan error
}

// newCommand creates a command with a fresh ID; blocking commands get a done channel
func newCommand(kind CommandKind, mode WorkingMode, blocking bool) Command {
	cmd := Command{
		ID:   uuid.New().String(),
		Kind: kind,
		Mode: mode,
	}
	if blocking {
		cmd.done = make(chan error, 1)
	}
	return cmd
}

// Sync reports whether a submitter is waiting on the command
func (c Command) Sync() bool {
	return c.done != nil
}

// commandWorker executes control commands one at a time in FIFO order
type commandWorker struct {
	queue   *BlockingQueue[Command]
	handle  func(Command) error
	logger  *zap.Logger
	wg      sync.WaitGroup
	running atomic.Bool
}

// newCommandWorker creates a stopped command worker
func newCommandWorker(handle func(Command) error, logger *zap.Logger) *commandWorker {
	q := NewBlockingQueue[Command]()
	q.Close()
	return &commandWorker{
		queue:  q,
		handle: handle,
		logger: logger.With(zap.String("component", "command_worker")),
	}
}

// Start launches the worker goroutine. Starting a running worker is a no-op.
func (w *commandWorker) Start() {
	if !w.running.CompareAndSwap(false, true) {
		return
	}
	w.queue.Reopen()
	w.wg.Add(1)
	go w.loop()
	w.logger.Debug("Command worker started")
}

// Stop discards queued commands, failing any synchronous submitter still
// waiting on one, and joins the worker.
func (w *commandWorker) Stop() {
	if !w.running.CompareAndSwap(true, false) {
		return
	}
	for _, cmd := range w.queue.Close() {
		if cmd.Sync() {
			cmd.done <- ErrWorkerStopped
		}
		w.logger.Warn("Discarding queued command",
			zap.String("command_id", cmd.ID),
			zap.Stringer("kind", cmd.Kind))
	}
	w.wg.Wait()
	w.logger.Debug("Command worker stopped")
}

// Submit enqueues cmd. It fails with ErrWorkerStopped when the worker is
// not running.
func (w *commandWorker) Submit(cmd Command) error {
	if !w.queue.Push(cmd) {
		return ErrWorkerStopped
	}
	return nil
}

// Running reports whether the worker goroutine is active
func (w *commandWorker) Running() bool {
	return w.running.Load()
}

// loop executes commands until the queue is closed and answers sync submitters
func (w *commandWorker) loop() {
	defer w.wg.Done()
	for {
		cmd, ok := w.queue.Pop()
		if !ok {
			return
		}
		w.logger.Debug("Executing command",
			zap.String("command_id", cmd.ID),
			zap.Stringer("kind", cmd.Kind),
			zap.Stringer("mode", cmd.Mode),
			zap.Bool("sync", cmd.Sync()))
		err := w.handle(cmd)
		if err != nil {
			w.logger.Error("Command failed", zap.String("command_id", cmd.ID), zap.Error(err))
		}
		if cmd.Sync() {
			cmd.done <- err
		}
	}
}
