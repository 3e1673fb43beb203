// Package runctl drives readout modules through the conf/start/stop/scrap
// run-control cycle.
package runctl

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/looplab/fsm"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	StateInitial    = "initial"
	StateConfigured = "configured"
	StateRunning    = "running"
)

const (
	EventConf  = "conf"
	EventStart = "start"
	EventStop  = "stop"
	EventScrap = "scrap"
)

// Module is a component driven by the run-control commands.
type Module interface {
	Name() string
	Conf(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Scrap(ctx context.Context) error
}

// Controller owns the run-control state machine. Conf and start reach
// modules in registration order, stop and scrap in reverse order, so
// producers registered last start last and stop first.
type Controller struct {
	mu      sync.Mutex
	fsm     *fsm.FSM
	modules []Module
	logger  zerolog.Logger
	tracer  trace.Tracer
	failure error
}

// New returns a controller in StateInitial.
func New(logger zerolog.Logger, modules ...Module) *Controller {
	c := &Controller{
		modules: modules,
		logger:  logger.With().Str("component", "runctl").Logger(),
		tracer:  otel.Tracer("github.com/sebogh/readoutq/internal/runctl"),
	}
	c.fsm = fsm.NewFSM(
		StateInitial,
		fsm.Events{
			{Name: EventConf, Src: []string{StateInitial}, Dst: StateConfigured},
			{Name: EventStart, Src: []string{StateConfigured}, Dst: StateRunning},
			{Name: EventStop, Src: []string{StateRunning}, Dst: StateConfigured},
			{Name: EventScrap, Src: []string{StateConfigured}, Dst: StateInitial},
		},
		fsm.Callbacks{
			"before_event": func(ctx context.Context, e *fsm.Event) {
				if err := c.dispatch(ctx, e.Event); err != nil {
					c.failure = err
					if e.Event == EventConf || e.Event == EventStart {
						e.Cancel(err)
					}
				}
			},
			"enter_state": func(_ context.Context, e *fsm.Event) {
				c.logger.Info().Str("from", e.Src).Str("to", e.Dst).Msg("state changed")
			},
		},
	)
	return c
}

// Current returns the current state.
func (c *Controller) Current() string {
	return c.fsm.Current()
}

// Can reports whether event is allowed in the current state.
func (c *Controller) Can(event string) bool {
	return c.fsm.Can(event)
}

// Event applies a run-control command. If a module fails conf or start, the
// modules the command already reached are rolled back and the state is
// unchanged. Stop and scrap always reach their target state and report the
// first module failure.
func (c *Controller) Event(ctx context.Context, event string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, span := c.tracer.Start(ctx, "runctl."+event, trace.WithAttributes(
		attribute.String("runctl.from", c.fsm.Current()),
	))
	defer span.End()

	c.failure = nil
	err := c.fsm.Event(ctx, event)
	if c.failure != nil {
		err = c.failure
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%s: %w", event, err)
	}
	span.SetAttributes(attribute.String("runctl.to", c.fsm.Current()))
	return nil
}

func (c *Controller) dispatch(ctx context.Context, event string) error {
	switch event {
	case EventConf:
		return c.forward(ctx, event, Module.Conf, Module.Scrap)
	case EventStart:
		return c.forward(ctx, event, Module.Start, Module.Stop)
	case EventStop:
		return c.backward(ctx, event, Module.Stop)
	case EventScrap:
		return c.backward(ctx, event, Module.Scrap)
	}
	return nil
}

// forward applies do to every module in order. On failure the modules
// already done are undone in reverse order.
func (c *Controller) forward(ctx context.Context, event string, do, undo func(Module, context.Context) error) error {
	for i, m := range c.modules {
		trace.SpanFromContext(ctx).AddEvent(m.Name())
		if err := do(m, ctx); err != nil {
			c.logger.Error().Err(err).Str("module", m.Name()).Str("event", event).Msg("module failed, rolling back")
			for _, done := range slices.Backward(c.modules[:i]) {
				if uerr := undo(done, ctx); uerr != nil {
					c.logger.Warn().Err(uerr).Str("module", done.Name()).Msg("rollback failed")
				}
			}
			return fmt.Errorf("module %s: %w", m.Name(), err)
		}
		c.logger.Debug().Str("module", m.Name()).Str("event", event).Msg("done")
	}
	return nil
}

// backward applies do to every module in reverse order, carrying on past
// failures and reporting the first.
func (c *Controller) backward(ctx context.Context, event string, do func(Module, context.Context) error) error {
	var first error
	for _, m := range slices.Backward(c.modules) {
		trace.SpanFromContext(ctx).AddEvent(m.Name())
		if err := do(m, ctx); err != nil {
			c.logger.Error().Err(err).Str("module", m.Name()).Str("event", event).Msg("module failed")
			if first == nil {
				first = fmt.Errorf("module %s: %w", m.Name(), err)
			}
			continue
		}
		c.logger.Debug().Str("module", m.Name()).Str("event", event).Msg("done")
	}
	return first
}
