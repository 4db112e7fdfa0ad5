// Package bridge wires child processes, message queues, and an optional
// responder into a running topology, and owns its ordered shutdown.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/linebridge/internal/core"
	"github.com/flemzord/linebridge/internal/flow"
	"github.com/flemzord/linebridge/internal/proc"
	"github.com/flemzord/linebridge/internal/responder"
	"github.com/flemzord/linebridge/pkg/message"
)

func init() {
	core.RegisterModule(&Bridge{})
}

// Bridge is the engine module. It spawns the configured children, runs the
// reader/writer tasks of the selected topology, and tears everything down
// through the shutdown coordinator.
type Bridge struct {
	config Config
	appCtx *core.AppContext
	logger *slog.Logger

	metrics *Metrics
	events  *Hub
	coord   *Coordinator

	children  []*proc.Child
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startedAt time.Time
}

// ModuleInfo implements core.Module.
func (b *Bridge) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "bridge",
		New: func() core.Module { return &Bridge{} },
	}
}

// Configure implements core.Configurable.
func (b *Bridge) Configure(node *yaml.Node) error {
	if err := node.Decode(&b.config); err != nil {
		return err
	}
	b.config.defaults()
	return b.config.parse()
}

// Provision implements core.Provisioner.
func (b *Bridge) Provision(ctx *core.AppContext) error {
	b.appCtx = ctx
	b.logger = ctx.Logger
	b.metrics = &Metrics{}
	b.events = NewHub()

	// Register services for cross-module discovery.
	ctx.RegisterService("bridge.control", b)
	ctx.RegisterService("bridge.metrics", b.metrics)
	ctx.RegisterService("bridge.events", b.events)

	return nil
}

// Validate implements core.Validator.
func (b *Bridge) Validate() error {
	return b.config.validate()
}

// Start implements core.Starter. It resolves the responder from the service
// registry when the topology needs one, spawns the children, and launches the
// pump tasks.
func (b *Bridge) Start() error {
	rootCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.startedAt = time.Now()

	for _, cfg := range b.config.Children {
		child, err := proc.Start(proc.Config{
			Name:    cfg.Name,
			Command: cfg.Command,
			Args:    cfg.Args,
		}, b.logger)
		if err != nil {
			cancel()
			b.stopStarted()
			return err
		}
		b.children = append(b.children, child)
	}

	var queues []*flow.Queue
	var err error
	switch b.config.Mode {
	case ModeLoopback:
		queues = b.startLoopback(rootCtx)
	case ModePipe:
		queues, err = b.startPipe(rootCtx)
	default:
		err = fmt.Errorf("bridge: unknown mode %q", b.config.Mode)
	}
	if err != nil {
		cancel()
		b.stopStarted()
		return err
	}

	b.coord = NewCoordinator(queues, b.children, cancel,
		b.config.flushWait, b.config.gracePeriod, b.events, b.logger)
	b.watchChildren()

	b.logger.Info("bridge started", "mode", b.config.Mode, "children", len(b.children))
	return nil
}

// startLoopback wires two children to each other: four tasks, two queues.
func (b *Bridge) startLoopback(ctx context.Context) []*flow.Queue {
	c1, c2 := b.children[0], b.children[1]

	forward := flow.NewQueue()  // c1 output → c2 input
	backward := flow.NewQueue() // c2 output → c1 input

	b.runReader(ctx, c1, b.config.Children[0].EndMarker, forward)
	b.runWriter(ctx, c2, forward)
	b.runReader(ctx, c2, b.config.Children[1].EndMarker, backward)
	b.runWriter(ctx, c1, backward)

	return []*flow.Queue{forward, backward}
}

// startPipe wires one child to the responder: the child's framed output is
// the prompt, the responder's accumulated reply goes back to its stdin.
func (b *Bridge) startPipe(ctx context.Context) ([]*flow.Queue, error) {
	child := b.children[0]

	svc, ok := b.appCtx.Service("responder")
	if !ok {
		return nil, errors.New("bridge: pipe mode requires a responder module")
	}
	resp, ok := svc.(responder.Responder)
	if !ok {
		return nil, errors.New("bridge: registered responder service has the wrong type")
	}

	var settings responder.Settings
	if svc, ok := b.appCtx.Service("responder.settings"); ok {
		if s, ok := svc.(responder.Settings); ok {
			settings = s
		}
	}

	prompts := flow.NewQueue()
	replies := flow.NewQueue()

	b.runReader(ctx, child, b.config.Children[0].EndMarker, prompts)
	b.runWriter(ctx, child, replies)

	transcript := responder.NewTranscript(settings.SystemPrompt, settings.HistoryTurns)
	adapter := responder.NewAdapter(resp, transcript, prompts, replies, b.logger)
	adapter.OnExchange(b.metrics.RecordExchange)
	b.runTask("responder", func() error { return adapter.Run(ctx) })

	return []*flow.Queue{prompts, replies}, nil
}

func (b *Bridge) runReader(ctx context.Context, child *proc.Child, marker string, out *flow.Queue) {
	stream := child.Name() + "/out"
	r := flow.NewFramedReader(stream, marker, out, b.logger)
	r.OnMessage(func(m message.Message) {
		b.metrics.RecordFramed(len(m.Text))
		b.events.Publish(Event{Type: EventMessage, Stream: stream, Bytes: len(m.Text)})
	})
	b.runTask("reader "+stream, func() error {
		defer child.CloseOutput()
		return r.Run(ctx, child.Stdout())
	})
}

func (b *Bridge) runWriter(ctx context.Context, child *proc.Child, in *flow.Queue) {
	stream := child.Name() + "/in"
	w := flow.NewQueuedWriter(stream, in, b.logger)
	w.OnMessage(func(m message.Message) {
		b.metrics.RecordDelivered(len(m.Text))
		b.events.Publish(Event{Type: EventMessage, Stream: stream, Bytes: len(m.Text)})
	})
	b.runTask("writer "+stream, func() error { return w.Run(ctx, child.Stdin()) })
}

// runTask tracks a pump goroutine. Task errors are logged, never fatal to
// the bridge: a dead stream surfaces through the child's exit event instead.
func (b *Bridge) runTask(name string, fn func() error) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := fn(); err != nil {
			b.logger.Error("task failed", "task", name, "error", err)
		}
	}()
}

// watchChildren observes each child's single exit event. An exit seen while
// still running is the unwind cue.
func (b *Bridge) watchChildren() {
	for _, child := range b.children {
		b.wg.Add(1)
		go func(c *proc.Child) {
			defer b.wg.Done()
			ev := <-c.Exited()
			b.events.Publish(Event{Type: EventChildExit, Child: ev.Name, Code: ev.Code})
			if b.coord.State() != StateRunning {
				return
			}
			b.logger.Warn("child exited unexpectedly", "child", ev.Name, "code", ev.Code)
			for _, line := range c.StderrTail() {
				b.logger.Warn("child stderr", "child", ev.Name, "line", line)
			}
			b.coord.Shutdown(TriggerChildExit)
		}(child)
	}
}

// stopStarted kills any children already spawned after a failed Start.
func (b *Bridge) stopStarted() {
	for _, c := range b.children {
		c.Kill()
		c.WaitExit(reapTimeout)
	}
}

// RequestShutdown triggers the teardown sequence without blocking. Used by
// the control console and any other module holding the bridge.control
// service.
func (b *Bridge) RequestShutdown(trigger Trigger) {
	if b.coord == nil {
		return
	}
	go b.coord.Shutdown(trigger)
}

// Done is closed once the bridge has fully stopped: children reaped, tasks
// released.
func (b *Bridge) Done() <-chan struct{} {
	if b.coord == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return b.coord.Done()
}

// Stop implements core.Stopper. It runs the shutdown sequence (or joins one
// already in flight) and waits for every task, bounded by ctx.
func (b *Bridge) Stop(ctx context.Context) error {
	if b.coord == nil {
		return nil
	}

	go b.coord.Shutdown(TriggerSignal)
	select {
	case <-b.coord.Done():
	case <-ctx.Done():
		return fmt.Errorf("bridge: shutdown incomplete: %w", ctx.Err())
	}

	tasksDone := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(tasksDone)
	}()
	select {
	case <-tasksDone:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("bridge: tasks still running: %w", ctx.Err())
	}
}

// Status returns a point-in-time view of the bridge for the console and the
// admin server.
func (b *Bridge) Status() Status {
	st := Status{
		Mode:    b.config.Mode,
		State:   StateRunning.String(),
		Metrics: b.metrics.Snapshot(),
	}
	if b.coord != nil {
		st.State = b.coord.State().String()
		st.Trigger = string(b.coord.Trigger())
	}
	if !b.startedAt.IsZero() {
		st.Uptime = time.Since(b.startedAt).Round(time.Millisecond).String()
	}
	for _, c := range b.children {
		cs := ChildStatus{Name: c.Name(), Alive: c.Alive()}
		if !cs.Alive {
			code := c.ExitCode()
			cs.ExitCode = &code
			cs.StderrTail = c.StderrTail()
		}
		st.Children = append(st.Children, cs)
	}
	return st
}

// Status is a serializable snapshot of the bridge.
type Status struct {
	Mode     string          `json:"mode"`
	State    string          `json:"state"`
	Trigger  string          `json:"trigger,omitempty"`
	Uptime   string          `json:"uptime,omitempty"`
	Children []ChildStatus   `json:"children"`
	Metrics  MetricsSnapshot `json:"metrics"`
}

// ChildStatus describes one child within a Status snapshot.
type ChildStatus struct {
	Name       string   `json:"name"`
	Alive      bool     `json:"alive"`
	ExitCode   *int     `json:"exit_code,omitempty"`
	StderrTail []string `json:"stderr_tail,omitempty"`
}

// Interface assertions.
var (
	_ core.Module       = (*Bridge)(nil)
	_ core.Configurable = (*Bridge)(nil)
	_ core.Provisioner  = (*Bridge)(nil)
	_ core.Validator    = (*Bridge)(nil)
	_ core.Starter      = (*Bridge)(nil)
	_ core.Stopper      = (*Bridge)(nil)
)
