package flightlog

import (
	"context"
	"log"
	"sync"

	"github.com/tiiuae/survey-guidance/internal/types"
)

// skipped message types are too frequent to be worth a row each.
var skipped = map[string]bool{
	types.MessageVehiclePose:    true,
	types.MessageBatteryState:   true,
	types.MessageTargetOffset:   true,
	types.MessageMissionStatus:  true,
	types.MessageMarkerDetected: true,
}

type recorder struct {
	log   *Log
	inbox chan types.Message
}

// NewHandler records bus traffic into l on its own goroutine.
func NewHandler(l *Log) types.MessageHandler {
	return &recorder{l, make(chan types.Message, 64)}
}

func (r *recorder) Run(ctx context.Context, wg *sync.WaitGroup, post types.PostFn) {
	wg.Add(1)
	go r.runMessageLoop(ctx, wg)
}

func (r *recorder) Receive(message types.Message) {
	if skipped[message.MessageType] {
		return
	}
	select {
	case r.inbox <- message:
	default:
		log.Printf("FLIGHTLOG: Inbox full, dropping %s", message.MessageType)
	}
}

func (r *recorder) runMessageLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case msg := <-r.inbox:
					r.record(msg)
				default:
					return
				}
			}
		case msg := <-r.inbox:
			r.record(msg)
		}
	}
}

func (r *recorder) record(msg types.Message) {
	var err error
	switch m := msg.Message.(type) {
	case types.GoalSent:
		err = r.log.RecordGoal(m.GoalID, m.Goal, msg.Timestamp)
	case types.GoalResolved:
		err = r.log.ResolveGoal(m.GoalID, m.Outcome, msg.Timestamp)
	default:
		err = r.log.RecordEvent(msg)
	}
	if err != nil {
		log.Printf("FLIGHTLOG: %v", err)
	}
}
