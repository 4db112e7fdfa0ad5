// Package control implements the operator console: line commands read from
// the bridge's own stdin, kept strictly separate from the bridged streams.
package control

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/flemzord/linebridge/internal/bridge"
	"github.com/flemzord/linebridge/internal/core"
)

func init() {
	core.RegisterModule(&Console{})
}

// Controller is the surface the console needs from the bridge, resolved from
// the service registry.
type Controller interface {
	RequestShutdown(trigger bridge.Trigger)
	Status() bridge.Status
}

// Console reads operator commands line by line. "exit" starts the ordered
// shutdown, "status" prints a snapshot, anything else is acknowledged and
// ignored. Command lines never reach the children.
type Console struct {
	appCtx *core.AppContext
	logger *slog.Logger

	input  io.Reader
	output io.Writer
	ctrl   Controller
}

// ModuleInfo implements core.Module.
func (c *Console) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "control.console",
		New: func() core.Module { return &Console{} },
	}
}

// Provision implements core.Provisioner.
func (c *Console) Provision(ctx *core.AppContext) error {
	c.appCtx = ctx
	c.logger = ctx.Logger
	if c.input == nil {
		c.input = os.Stdin
	}
	if c.output == nil {
		c.output = os.Stdout
	}
	return nil
}

// Start implements core.Starter. It resolves the bridge control service and
// launches the read loop.
func (c *Console) Start() error {
	svc, ok := c.appCtx.Service("bridge.control")
	if !ok {
		return errors.New("control: bridge.control service not available")
	}
	ctrl, ok := svc.(Controller)
	if !ok {
		return errors.New("control: bridge.control service has the wrong type")
	}
	c.ctrl = ctrl

	go c.readLoop()
	return nil
}

func (c *Console) readLoop() {
	c.logger.Info("console ready", "commands", "exit, status")

	scanner := bufio.NewScanner(c.input)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "":
		case "exit":
			c.logger.Info("exit requested")
			c.ctrl.RequestShutdown(bridge.TriggerOperator)
		case "status":
			c.printStatus()
		default:
			c.logger.Warn("unknown console command", "line", line)
		}
	}
	// EOF or read error: the console goes quiet, the bridge keeps running.
	c.logger.Info("console input closed")
}

func (c *Console) printStatus() {
	data, err := json.MarshalIndent(c.ctrl.Status(), "", "  ")
	if err != nil {
		c.logger.Error("encoding status", "error", err)
		return
	}
	fmt.Fprintln(c.output, string(data))
}

// Interface assertions.
var (
	_ core.Module      = (*Console)(nil)
	_ core.Provisioner = (*Console)(nil)
	_ core.Starter     = (*Console)(nil)
)
