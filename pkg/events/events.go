package events

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventDeployProgress  EventType = "deploy.progress"
	EventDeploySucceeded EventType = "deploy.succeeded"
	EventDeployFailed    EventType = "deploy.failed"
	EventInstanceStatus  EventType = "instance.status"
	EventInstanceDeleted EventType = "instance.deleted"
)

// Terminal reports whether the event ends an asynchronous operation
func (t EventType) Terminal() bool {
	return t == EventDeploySucceeded || t == EventDeployFailed || t == EventInstanceDeleted
}

// Event is a lifecycle or progress notification for one instance
type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Topic     string            `json:"topic"`
	Timestamp time.Time         `json:"timestamp"`
	Message   string            `json:"message"`
	Progress  int               `json:"progress"`
	Status    string            `json:"status,omitempty"`
	Terminal  bool              `json:"terminal"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

const (
	eventBufferSize      = 100
	subscriberBufferSize = 64

	// DefaultDeliveryTimeout bounds how long a full subscriber may stall delivery
	DefaultDeliveryTimeout = 5 * time.Second
)

// Subscription receives events for one topic ("" for every topic)
type Subscription struct {
	C <-chan *Event

	ch    chan *Event
	topic string

	// done wakes a delivery blocked on a full channel when the subscription ends
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex // guards closed and sends on ch
	closed    bool
}

// send delivers ev, waiting up to timeout for room. It returns false when the
// subscriber stayed full for the whole timeout.
func (s *Subscription) send(ev *Event, timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return true
	}
	select {
	case s.ch <- ev:
		return true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case s.ch <- ev:
		return true
	case <-s.done:
		return true
	case <-timer.C:
		return false
	}
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
}

// Topic returns the subscribed topic
func (s *Subscription) Topic() string {
	return s.topic
}

func (s *Subscription) matches(topic string) bool {
	return s.topic == "" || s.topic == topic
}

// Broker fans events out to every subscriber connected at publish time.
// It remembers the latest event per topic and hands it to new subscribers,
// so an observer that connects after a terminal event still learns the outcome.
type Broker struct {
	subscribers map[*Subscription]struct{}
	latest      map[string]*Event
	mu          sync.Mutex

	eventCh         chan *Event
	stopCh          chan struct{}
	stopOnce        sync.Once
	deliveryTimeout time.Duration
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers:     make(map[*Subscription]struct{}),
		latest:          make(map[string]*Event),
		eventCh:         make(chan *Event, eventBufferSize),
		stopCh:          make(chan struct{}),
		deliveryTimeout: DefaultDeliveryTimeout,
	}
}

// SetDeliveryTimeout changes how long a slow subscriber is waited for before eviction
func (b *Broker) SetDeliveryTimeout(d time.Duration) {
	b.mu.Lock()
	b.deliveryTimeout = d
	b.mu.Unlock()
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker and closes every subscription
func (b *Broker) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)

		b.mu.Lock()
		defer b.mu.Unlock()
		for sub := range b.subscribers {
			delete(b.subscribers, sub)
			sub.close()
		}
	})
}

// Subscribe registers an observer. The returned channel is primed with the
// latest known event for the topic (every topic's latest when topic is "").
func (b *Broker) Subscribe(topic string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *Event, subscriberBufferSize)
	sub := &Subscription{C: ch, ch: ch, topic: topic, done: make(chan struct{})}

	for _, ev := range b.snapshotLocked(topic) {
		ch <- ev
	}

	select {
	case <-b.stopCh:
		sub.close()
		return sub
	default:
	}

	b.subscribers[sub] = struct{}{}
	return sub
}

// Unsubscribe removes a subscription; safe to call after eviction
func (b *Broker) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	sub.close()
}

// Publish publishes an event to all subscribers
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Type.Terminal() {
		event.Terminal = true
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

// Latest returns the most recent event seen for a topic
func (b *Broker) Latest(topic string) (*Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ev, ok := b.latest[topic]
	return ev, ok
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

// broadcast hands event to every matching subscriber. The broker lock is only
// held while the recipients are picked, so a stalled subscriber never blocks
// Subscribe or Unsubscribe. Slow subscribers are waited for in parallel and
// evicted together once the delivery timeout passes.
func (b *Broker) broadcast(event *Event) {
	b.mu.Lock()
	select {
	case <-b.stopCh:
		b.mu.Unlock()
		return
	default:
	}

	b.latest[event.Topic] = event
	timeout := b.deliveryTimeout
	recipients := make([]*Subscription, 0, len(b.subscribers))
	for sub := range b.subscribers {
		if sub.matches(event.Topic) {
			recipients = append(recipients, sub)
		}
	}
	b.mu.Unlock()

	var (
		wg      sync.WaitGroup
		evictMu sync.Mutex
		evicted []*Subscription
	)
	for _, sub := range recipients {
		wg.Add(1)
		go func(sub *Subscription) {
			defer wg.Done()
			if !sub.send(event, timeout) {
				evictMu.Lock()
				evicted = append(evicted, sub)
				evictMu.Unlock()
			}
		}(sub)
	}
	wg.Wait()

	// the observer would miss events from here on; drop it so it reconnects
	for _, sub := range evicted {
		b.Unsubscribe(sub)
	}
}

func (b *Broker) snapshotLocked(topic string) []*Event {
	if topic != "" {
		if ev, ok := b.latest[topic]; ok {
			return []*Event{ev}
		}
		return nil
	}

	out := make([]*Event, 0, len(b.latest))
	for _, ev := range b.latest {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	if len(out) > subscriberBufferSize {
		out = out[len(out)-subscriberBufferSize:]
	}
	return out
}
