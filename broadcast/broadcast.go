package broadcast

import (
	"sync"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// observerBuffer bounds how many undelivered events an observer may hold
// before further events are dropped for it.
const observerBuffer = 16

// Event is a named payload pushed to every connected observer.
type Event struct {
	Name string
	Data []byte
}

// Broker fans events out to all currently subscribed observers. Delivery is
// fire and forget: an observer that is not keeping up misses events, and an
// observer that connects after a publish is not backfilled.
type Broker struct {
	mu   sync.Mutex
	subs map[chan Event]string
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[chan Event]string)}
}

// Subscribe registers a new observer and returns its event channel.
func (b *Broker) Subscribe() chan Event {
	ch := make(chan Event, observerBuffer)
	id := uuid.NewString()
	b.mu.Lock()
	b.subs[ch] = id
	b.mu.Unlock()
	log.WithField("observer", id).Info("observer connected")
	return ch
}

// Unsubscribe removes the observer. The channel is left open; in-flight
// events already buffered on it may still be drained by the caller.
func (b *Broker) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	id, ok := b.subs[ch]
	delete(b.subs, ch)
	b.mu.Unlock()
	if ok {
		log.WithField("observer", id).Info("observer disconnected")
	}
}

// Publish marshals the payload once and sends it to every observer without
// blocking.
func (b *Broker) Publish(event string, payload any) {
	data, err := sonic.ConfigStd.Marshal(payload)
	if err != nil {
		log.WithField("event", event).Errorf("marshal event payload: %v", err)
		return
	}
	ev := Event{Name: event, Data: data}
	b.mu.Lock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	b.mu.Unlock()
}
