package bridge

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flemzord/linebridge/internal/flow"
	"github.com/flemzord/linebridge/internal/proc"
)

// State is a phase of the bridge lifecycle. Transitions are strictly
// monotonic: Running → Draining → Terminating → Stopped.
type State int32

const (
	// StateRunning is normal operation: all tasks pumping.
	StateRunning State = iota
	// StateDraining has closed the queues; writers flush what is in flight.
	StateDraining
	// StateTerminating is unwinding the children: stdin closed, then
	// SIGTERM, then SIGKILL.
	StateTerminating
	// StateStopped means every child is reaped and every task released.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateTerminating:
		return "terminating"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Trigger names the cause of a shutdown. The first trigger wins; later ones
// are ignored.
type Trigger string

const (
	// TriggerOperator is an explicit exit request on the control console.
	TriggerOperator Trigger = "operator"
	// TriggerChildExit is an unexpected child exit observed while running.
	TriggerChildExit Trigger = "child_exit"
	// TriggerSignal is an OS termination signal to the bridge itself.
	TriggerSignal Trigger = "signal"
)

// reapTimeout bounds the wait for an exit status after SIGKILL. Kill is
// unconditional on this platform, so hitting it means the code is simply
// unknown, not that the child survived.
const reapTimeout = 5 * time.Second

// Coordinator drives the shutdown sequence exactly once, no matter how many
// triggers fire concurrently. It owns the teardown order: close queues, wait
// for in-flight writes, close child stdin, escalate SIGTERM then SIGKILL,
// reap exit codes, cancel the remaining tasks.
type Coordinator struct {
	queues   []*flow.Queue
	children []*proc.Child
	cancel   context.CancelFunc
	events   *Hub
	logger   *slog.Logger

	flushWait   time.Duration
	gracePeriod time.Duration

	state   atomic.Int32
	trigger atomic.Value // Trigger
	once    sync.Once
	done    chan struct{}

	mu        sync.Mutex
	exitCodes map[string]int
}

// NewCoordinator creates a coordinator over the bridge's queues and children.
// cancel stops the root task context once the children are down.
func NewCoordinator(queues []*flow.Queue, children []*proc.Child, cancel context.CancelFunc, flushWait, gracePeriod time.Duration, events *Hub, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		queues:      queues,
		children:    children,
		cancel:      cancel,
		events:      events,
		logger:      logger.With("component", "coordinator"),
		flushWait:   flushWait,
		gracePeriod: gracePeriod,
		done:        make(chan struct{}),
		exitCodes:   make(map[string]int),
	}
}

// State returns the current lifecycle phase.
func (co *Coordinator) State() State {
	return State(co.state.Load())
}

// Trigger returns the cause of the shutdown, or "" while running.
func (co *Coordinator) Trigger() Trigger {
	if t, ok := co.trigger.Load().(Trigger); ok {
		return t
	}
	return ""
}

// Done is closed once the coordinator reaches Stopped.
func (co *Coordinator) Done() <-chan struct{} {
	return co.done
}

// ExitCode returns the reaped exit code for the named child. Only meaningful
// once Done is closed.
func (co *Coordinator) ExitCode(name string) (int, bool) {
	co.mu.Lock()
	defer co.mu.Unlock()
	code, ok := co.exitCodes[name]
	return code, ok
}

// Shutdown runs the teardown sequence. The first caller executes it and the
// rest block until it completes; every caller returns with the coordinator
// Stopped.
func (co *Coordinator) Shutdown(trigger Trigger) {
	co.once.Do(func() {
		co.trigger.Store(trigger)
		co.run(trigger)
	})
	<-co.done
}

func (co *Coordinator) run(trigger Trigger) {
	co.logger.Info("shutdown initiated", "trigger", trigger)

	co.setState(StateDraining, trigger)
	for _, q := range co.queues {
		q.Close()
	}
	// Bounded pause for writers to flush whatever dequeued before the close.
	if co.flushWait > 0 {
		time.Sleep(co.flushWait)
	}

	co.setState(StateTerminating, trigger)
	for _, c := range co.children {
		if err := c.CloseInput(); err != nil {
			co.logger.Debug("closing child stdin", "child", c.Name(), "error", err)
		}
	}

	for _, c := range co.children {
		co.stopChild(c)
	}

	// Children are down; release readers still blocked on anything else
	// (idle sources, responder streams).
	co.cancel()

	co.setState(StateStopped, trigger)
	co.logger.Info("shutdown complete", "trigger", trigger)
	close(co.done)
}

// stopChild escalates until the child's exit status is reaped: stdin EOF was
// already sent, so first a grace wait, then SIGTERM, then SIGKILL.
func (co *Coordinator) stopChild(c *proc.Child) {
	if code, ok := c.WaitExit(co.gracePeriod); ok {
		co.recordExit(c.Name(), code)
		return
	}

	co.logger.Info("child still running after stdin close", "child", c.Name())
	c.Terminate()
	if code, ok := c.WaitExit(co.gracePeriod); ok {
		co.recordExit(c.Name(), code)
		return
	}

	co.logger.Warn("child ignored SIGTERM", "child", c.Name())
	c.Kill()
	if code, ok := c.WaitExit(reapTimeout); ok {
		co.recordExit(c.Name(), code)
		return
	}

	co.logger.Error("child unreaped after SIGKILL", "child", c.Name())
	co.recordExit(c.Name(), -1)
}

func (co *Coordinator) recordExit(name string, code int) {
	co.mu.Lock()
	co.exitCodes[name] = code
	co.mu.Unlock()
	co.logger.Info("child reaped", "child", name, "code", code)
}

func (co *Coordinator) setState(s State, trigger Trigger) {
	co.state.Store(int32(s))
	co.events.Publish(Event{
		Type:    EventState,
		State:   s.String(),
		Trigger: string(trigger),
	})
}
