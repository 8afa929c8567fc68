package sink

import (
	"context"
	"log"
	"time"

	"github.com/strefethen/upnp-control-go/internal/upnp"
)

// Change is one state variable update as seen by consumers.
type Change struct {
	DeviceUDN  string    `json:"device_udn"`
	DeviceName string    `json:"device_name"`
	ServiceID  string    `json:"service_id"`
	Variable   string    `json:"variable"`
	Value      any       `json:"value"`
	WireValue  string    `json:"wire_value"`
	ChangedAt  time.Time `json:"changed_at"`
}

// Sink consumes batches of changes. A batch comes from a single NOTIFY or poll.
type Sink interface {
	Publish(ctx context.Context, changes []Change) error
}

// ChangesFrom converts a changed state variable batch into Changes.
func ChangesFrom(device *upnp.Device, service *upnp.Service, changed []*upnp.StateVariable) []Change {
	out := make([]Change, 0, len(changed))
	for _, sv := range changed {
		out = append(out, Change{
			DeviceUDN:  device.UDN(),
			DeviceName: device.FriendlyName(),
			ServiceID:  service.ServiceID(),
			Variable:   sv.Name(),
			Value:      sv.Value(),
			WireValue:  sv.WireValue(),
			ChangedAt:  sv.UpdatedAt(),
		})
	}
	return out
}

// Fanout publishes to every sink. A failing sink is logged and does not stop the others.
type Fanout struct {
	sinks  []Sink
	logger *log.Logger
}

// NewFanout creates a fanout over the non-nil sinks.
func NewFanout(logger *log.Logger, sinks ...Sink) *Fanout {
	if logger == nil {
		logger = log.Default()
	}
	f := &Fanout{logger: logger}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Add appends a sink.
func (f *Fanout) Add(s Sink) {
	if s != nil {
		f.sinks = append(f.sinks, s)
	}
}

// Len returns the number of sinks.
func (f *Fanout) Len() int { return len(f.sinks) }

// Publish implements Sink. It always returns nil.
func (f *Fanout) Publish(ctx context.Context, changes []Change) error {
	if len(changes) == 0 {
		return nil
	}
	for _, s := range f.sinks {
		if err := s.Publish(ctx, changes); err != nil {
			f.logger.Printf("SINK: %T publish failed: %v", s, err)
		}
	}
	return nil
}

// Func adapts a function to Sink.
type Func func(ctx context.Context, changes []Change) error

// Publish implements Sink.
func (fn Func) Publish(ctx context.Context, changes []Change) error {
	return fn(ctx, changes)
}
