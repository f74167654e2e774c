// Package events provides the in-process event stream for task progress and
// lifecycle telemetry. Publishing never blocks: slow subscribers drop events.
package events

import (
	"log/slog"
	"sync"
	"time"
)

// EventType classifies stream events.
type EventType string

const (
	TypeTaskStatus       EventType = "task.status"
	TypeTaskProgress     EventType = "task.progress"
	TypeTaskWarning      EventType = "task.warning"
	TypeSubtaskCompleted EventType = "subtask.completed"
	TypeSubtaskFailed    EventType = "subtask.failed"
	TypeWaveStarted      EventType = "wave.started"
	TypeTeamState        EventType = "team.state"
)

// Event is one telemetry record.
type Event struct {
	Type      EventType      `json:"type"`
	TaskID    string         `json:"task_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// DefaultSubscriberBuffer is the channel capacity per subscriber.
const DefaultSubscriberBuffer = 256

// Publisher fans events out to subscribers.
type Publisher struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	buffer int
	logger *slog.Logger
}

// NewPublisher creates a publisher. buffer <= 0 selects the default.
func NewPublisher(buffer int) *Publisher {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Publisher{
		subs:   make(map[int]chan Event),
		buffer: buffer,
		logger: slog.With("component", "events"),
	}
}

// Subscribe returns a receive channel and a cancel function. Cancel closes
// the channel and detaches the subscriber.
func (p *Publisher) Subscribe() (<-chan Event, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextID
	p.nextID++
	ch := make(chan Event, p.buffer)
	p.subs[id] = ch

	cancel := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if sub, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish fans the event out. Events to full subscriber buffers are dropped.
func (p *Publisher) Publish(typ EventType, taskID string, payload map[string]any) {
	evt := Event{Type: typ, TaskID: taskID, Payload: payload, Timestamp: time.Now()}

	p.mu.Lock()
	defer p.mu.Unlock()
	for id, ch := range p.subs {
		select {
		case ch <- evt:
		default:
			p.logger.Debug("Dropping event for slow subscriber", "subscriber", id, "type", typ)
		}
	}
}

// SubscriberCount returns the number of attached subscribers.
func (p *Publisher) SubscriberCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}
