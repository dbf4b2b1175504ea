package mail

import (
	"context"
	"log/slog"
	"time"

	"task-management-api/internal/event"
	"task-management-api/internal/model"
)

type DeliveryRecorder interface {
	RecordMailDelivery(kind string, err error)
}

// Dispatcher drains mail.requested events from the bus and hands them to a
// Sender, one at a time.
type Dispatcher struct {
	bus      event.Bus
	sender   Sender
	timeout  time.Duration
	recorder DeliveryRecorder
}

func NewDispatcher(bus event.Bus, sender Sender, timeout time.Duration, recorder DeliveryRecorder) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{bus: bus, sender: sender, timeout: timeout, recorder: recorder}
}

// Start subscribes before returning so no event published afterwards is
// missed. On cancellation already queued mail is still delivered, then the
// returned channel closes.
func (d *Dispatcher) Start(ctx context.Context) <-chan struct{} {
	events, unsubscribe := d.bus.Subscribe(event.TypeMailRequested)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer unsubscribe()

		for {
			select {
			case <-ctx.Done():
				d.drain(context.WithoutCancel(ctx), events)
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				d.handle(ctx, e)
			}
		}
	}()

	return done
}

func (d *Dispatcher) drain(ctx context.Context, events <-chan event.Event) {
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			d.handle(ctx, e)
		default:
			return
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, e event.Event) {
	if e.Type != event.TypeMailRequested {
		return
	}
	msg, ok := e.Payload.(model.EmailMessage)
	if !ok {
		slog.Error("mail event with unexpected payload", "event_id", e.ID)
		return
	}
	d.deliver(ctx, msg)
}

func (d *Dispatcher) deliver(ctx context.Context, msg model.EmailMessage) {
	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	err := d.sender.Send(sendCtx, msg)
	if d.recorder != nil {
		d.recorder.RecordMailDelivery(msg.Kind, err)
	}
	if err != nil {
		slog.Error("mail delivery failed", "kind", msg.Kind, "user_id", msg.UserID, "error", err)
	}
}
