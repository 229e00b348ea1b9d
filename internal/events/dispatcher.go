package events

// Subscriber is the minimal surface the dispatcher needs from a
// subscribed stream: enough to deliver an Event and to be recognized for
// removal. *EventStream satisfies it directly.
type Subscriber interface {
	Submit(ev Event)
}

// Dispatcher is a per-worker channel → subscriber-list registry. It has
// no lock of its own: its owner serializes every call (internal/worker
// holds Worker.mu around each one); unsubscribe uses nullable slots so
// Publish can keep iterating safely even if a subscriber unsubscribes
// itself mid-delivery (e.g. from within Submit).
type Dispatcher struct {
	channels map[string][]Subscriber
}

// NewDispatcher returns an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{channels: make(map[string][]Subscriber)}
}

// Subscribe registers sub for channel, appending to the slot list or
// refilling an earlier vacated (nil) slot.
func (d *Dispatcher) Subscribe(channel string, sub Subscriber) {
	slots := d.channels[channel]
	for i, s := range slots {
		if s == nil {
			slots[i] = sub
			return
		}
	}
	d.channels[channel] = append(slots, sub)
}

// Publish delivers ev to every live subscriber of ev.Channel, in
// subscribe order, preserving publish order to each subscriber.
func (d *Dispatcher) Publish(ev Event) {
	for _, s := range d.channels[ev.Channel] {
		if s != nil {
			s.Submit(ev)
		}
	}
}

// Unsubscribe nulls every slot pointing at sub, across every channel —
// "remove_stream" in spec.md §4.9 — without disturbing indices that
// Publish may be mid-iteration over.
func (d *Dispatcher) Unsubscribe(sub Subscriber) {
	for _, slots := range d.channels {
		for i, s := range slots {
			if s == sub {
				slots[i] = nil
			}
		}
	}
}
