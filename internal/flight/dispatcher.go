// Package flight owns the single goal slot addressed to the flight executor.
package flight

import (
	"context"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/tiiuae/survey-guidance/internal/types"
)

var (
	ErrServiceUnavailable = errors.New("flight executor unavailable")
	ErrNoGoal             = errors.New("no goal outstanding")
)

// Executor is the external motion executor. Outcomes are reported
// asynchronously through Dispatcher.HandleStatus.
type Executor interface {
	Submit(ctx context.Context, id string, goal types.FlightGoal) error
	Cancel(id string) error
}

// GoalObserver is told about every goal handed to the executor and every
// terminal outcome.
type GoalObserver interface {
	GoalSent(id string, goal types.FlightGoal)
	GoalResolved(id string, outcome types.GoalOutcome)
}

type goalSlot struct {
	id      string
	goal    types.FlightGoal
	outcome types.GoalOutcome
	done    chan struct{}
}

// Dispatcher keeps at most one goal addressed to the executor. Every Send
// supersedes the previous goal.
type Dispatcher struct {
	executor  Executor
	observers []GoalObserver

	mu      sync.Mutex
	current *goalSlot
}

func NewDispatcher(executor Executor) *Dispatcher {
	return &Dispatcher{executor: executor}
}

// Observe registers o. It must be called before the first Send.
func (d *Dispatcher) Observe(o GoalObserver) {
	d.observers = append(d.observers, o)
}

// Send cancels any outstanding goal and submits goal without waiting for it
// to finish. A done ctx refuses the goal before anything is submitted.
func (d *Dispatcher) Send(ctx context.Context, goal types.FlightGoal) (string, error) {
	slot, err := d.send(ctx, goal)
	if slot == nil {
		return "", err
	}
	return slot.id, err
}

func (d *Dispatcher) send(ctx context.Context, goal types.FlightGoal) (*goalSlot, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.WithMessagef(err, "%s refused", goal.Motion)
	}

	slot := &goalSlot{
		id:      uuid.NewString(),
		goal:    goal,
		outcome: types.OutcomePending,
		done:    make(chan struct{}),
	}

	d.mu.Lock()
	prev := d.current
	d.current = slot
	d.mu.Unlock()

	if prev != nil {
		d.supersede(prev)
	}

	for _, o := range d.observers {
		o.GoalSent(slot.id, goal)
	}
	if err := d.executor.Submit(ctx, slot.id, goal); err != nil {
		d.resolve(slot, types.OutcomeRejected)
		return slot, errors.WithMessagef(err, "submit %s", goal.Motion)
	}

	return slot, nil
}

// SendAndAwait submits goal and blocks until the executor reports a terminal
// outcome or ctx is done.
func (d *Dispatcher) SendAndAwait(ctx context.Context, goal types.FlightGoal) (types.GoalOutcome, error) {
	slot, err := d.send(ctx, goal)
	if err != nil {
		return types.OutcomeRejected, err
	}

	select {
	case <-slot.done:
		return d.outcomeOf(slot), nil
	case <-ctx.Done():
		return d.outcomeOf(slot), errors.WithMessagef(ctx.Err(), "waiting for %s", goal.Motion)
	}
}

// Cancel asks the executor to stop the outstanding goal. It does nothing when
// no goal is outstanding.
func (d *Dispatcher) Cancel() error {
	d.mu.Lock()
	slot := d.current
	d.mu.Unlock()

	if slot == nil || d.outcomeOf(slot).Terminal() {
		return nil
	}

	if err := d.executor.Cancel(slot.id); err != nil {
		return errors.WithMessagef(err, "cancel %s", slot.id)
	}
	return nil
}

// Poll returns the latest known outcome of the current goal, or Lost when no
// goal was ever sent.
func (d *Dispatcher) Poll() types.GoalOutcome {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.current == nil {
		return types.OutcomeLost
	}
	return d.current.outcome
}

// currentGoal returns the id and goal of the slot.
func (d *Dispatcher) currentGoal() (string, types.FlightGoal, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.current == nil {
		return "", types.FlightGoal{}, ErrNoGoal
	}
	return d.current.id, d.current.goal, nil
}

// Outstanding is 1 while the current goal has not reached a terminal outcome.
func (d *Dispatcher) Outstanding() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.current == nil || d.current.outcome.Terminal() {
		return 0
	}
	return 1
}

// HandleStatus records an executor status report. Reports for superseded
// goals are dropped.
func (d *Dispatcher) HandleStatus(id string, outcome types.GoalOutcome) {
	d.mu.Lock()
	slot := d.current
	d.mu.Unlock()

	if slot == nil || slot.id != id {
		log.Printf("DISPATCH: Ignoring %v for stale goal %s", outcome, id)
		return
	}
	d.resolve(slot, outcome)
}

func (d *Dispatcher) supersede(slot *goalSlot) {
	if d.outcomeOf(slot).Terminal() {
		return
	}
	if err := d.executor.Cancel(slot.id); err != nil {
		log.Printf("DISPATCH: Cancel of superseded goal %s failed: %v", slot.id, err)
	}
	d.resolve(slot, types.OutcomePreempted)
}

func (d *Dispatcher) resolve(slot *goalSlot, outcome types.GoalOutcome) {
	d.mu.Lock()
	if slot.outcome.Terminal() {
		d.mu.Unlock()
		return
	}
	slot.outcome = outcome
	if !outcome.Terminal() {
		d.mu.Unlock()
		return
	}
	close(slot.done)
	d.mu.Unlock()

	for _, o := range d.observers {
		o.GoalResolved(slot.id, outcome)
	}
}

func (d *Dispatcher) outcomeOf(slot *goalSlot) types.GoalOutcome {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slot.outcome
}
