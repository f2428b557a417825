package order

import (
	"fmt"

	"trading-node-go/model"
)

// InvalidStateTrigger is returned when an event is not legal from the
// order's current status. The event is neither applied nor silently
// dropped; callers log it at warning.
type InvalidStateTrigger struct {
	ClientOrderID model.ClientOrderID
	Current       model.OrderStatus
	Trigger       model.OrderStatus
	EventName     string
}

func (e *InvalidStateTrigger) Error() string {
	return fmt.Sprintf("invalid state trigger: %s -> %s (%s) for order %s",
		e.Current, e.Trigger, e.EventName, e.ClientOrderID)
}

type transition struct {
	from model.OrderStatus
	to   model.OrderStatus
}

// StateMachine validates order status transitions against the legal set.
// Terminal statuses (Denied, Rejected, Canceled, Expired, Filled) admit no
// further transitions.
type StateMachine struct {
	legal map[transition]struct{}
}

func NewStateMachine() *StateMachine {
	sm := &StateMachine{legal: make(map[transition]struct{})}

	add := func(from model.OrderStatus, tos ...model.OrderStatus) {
		for _, to := range tos {
			sm.legal[transition{from, to}] = struct{}{}
		}
	}

	add(model.OrderStatusInitialized,
		model.OrderStatusDenied, model.OrderStatusEmulated, model.OrderStatusReleased,
		model.OrderStatusSubmitted, model.OrderStatusRejected)
	add(model.OrderStatusEmulated,
		model.OrderStatusCanceled, model.OrderStatusExpired, model.OrderStatusReleased)
	add(model.OrderStatusReleased,
		model.OrderStatusSubmitted, model.OrderStatusDenied)
	add(model.OrderStatusSubmitted,
		model.OrderStatusAccepted, model.OrderStatusRejected, model.OrderStatusCanceled,
		model.OrderStatusExpired, model.OrderStatusPartiallyFilled, model.OrderStatusFilled,
		model.OrderStatusPendingCancel, model.OrderStatusPendingUpdate)
	add(model.OrderStatusAccepted,
		model.OrderStatusTriggered, model.OrderStatusPendingUpdate, model.OrderStatusPendingCancel,
		model.OrderStatusCanceled, model.OrderStatusExpired,
		model.OrderStatusPartiallyFilled, model.OrderStatusFilled)
	add(model.OrderStatusPendingUpdate,
		model.OrderStatusAccepted, model.OrderStatusCanceled, model.OrderStatusExpired,
		model.OrderStatusPartiallyFilled, model.OrderStatusFilled, model.OrderStatusRejected)
	add(model.OrderStatusPendingCancel,
		model.OrderStatusCanceled, model.OrderStatusAccepted,
		model.OrderStatusPartiallyFilled, model.OrderStatusFilled)
	add(model.OrderStatusPartiallyFilled,
		model.OrderStatusPartiallyFilled, model.OrderStatusFilled, model.OrderStatusCanceled,
		model.OrderStatusExpired, model.OrderStatusPendingUpdate, model.OrderStatusPendingCancel)
	add(model.OrderStatusTriggered,
		model.OrderStatusAccepted, model.OrderStatusPendingUpdate, model.OrderStatusPendingCancel,
		model.OrderStatusCanceled, model.OrderStatusExpired,
		model.OrderStatusPartiallyFilled, model.OrderStatusFilled)

	return sm
}

// CanTransition reports whether from -> to is in the legal set.
func (sm *StateMachine) CanTransition(from, to model.OrderStatus) bool {
	_, ok := sm.legal[transition{from, to}]
	return ok
}

// AllowedFrom returns every legal target status from the given status.
func (sm *StateMachine) AllowedFrom(from model.OrderStatus) []model.OrderStatus {
	var out []model.OrderStatus
	for s := model.OrderStatusInitialized; s <= model.OrderStatusFilled; s++ {
		if sm.CanTransition(from, s) {
			out = append(out, s)
		}
	}
	return out
}

var defaultStateMachine = NewStateMachine()
