// Package bus implements in-process agent messaging with bounded per-agent
// inboxes. Delivery never blocks: a full inbox fails the delivery instead.
package bus

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultInboxCapacity bounds each agent inbox.
const DefaultInboxCapacity = 1000

// MessageType classifies bus messages.
type MessageType string

const (
	MessageTypeDirect    MessageType = "direct"
	MessageTypeBroadcast MessageType = "broadcast"
	MessageTypeStatus    MessageType = "status"
	MessageTypeShutdown  MessageType = "shutdown"
)

// Message is one unit of agent-to-agent communication.
type Message struct {
	ID        string         `json:"id"`
	Type      MessageType    `json:"type"`
	Sender    string         `json:"sender"`
	Recipient string         `json:"recipient,omitempty"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	SentAt    time.Time      `json:"sent_at"`
}

// DeliveryStatus is the outcome of one delivery attempt.
type DeliveryStatus string

const (
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// DeliveryResult reports a delivery attempt to one recipient.
type DeliveryResult struct {
	MessageID string         `json:"message_id"`
	Recipient string         `json:"recipient"`
	Status    DeliveryStatus `json:"status"`
	Error     string         `json:"error,omitempty"`
}

var (
	// ErrAgentNotFound is returned when the recipient was never registered.
	ErrAgentNotFound = errors.New("agent not found")
	// ErrAgentTerminated is returned when the recipient has been unregistered.
	ErrAgentTerminated = errors.New("agent terminated")
	// ErrInboxFull is returned when the recipient's inbox is at capacity.
	ErrInboxFull = errors.New("inbox full")
	// ErrAlreadyRegistered is returned when registering a live agent twice.
	ErrAlreadyRegistered = errors.New("agent already registered")
)

// Bus routes messages between registered agents of one team.
type Bus struct {
	mu         sync.Mutex
	inboxes    map[string]chan Message
	terminated map[string]struct{}
	capacity   int
	logger     *slog.Logger
}

// New creates a bus. capacity <= 0 selects DefaultInboxCapacity.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultInboxCapacity
	}
	return &Bus{
		inboxes:    make(map[string]chan Message),
		terminated: make(map[string]struct{}),
		capacity:   capacity,
		logger:     slog.With("component", "message_bus"),
	}
}

// Register creates an inbox for an agent. Re-registering a previously
// terminated agent clears the tombstone.
func (b *Bus) Register(agentID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.inboxes[agentID]; ok {
		return fmt.Errorf("register %s: %w", agentID, ErrAlreadyRegistered)
	}
	delete(b.terminated, agentID)
	b.inboxes[agentID] = make(chan Message, b.capacity)
	return nil
}

// Unregister removes the agent's inbox and marks it terminated. Any
// undrained messages are discarded. Idempotent.
func (b *Bus) Unregister(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.inboxes, agentID)
	b.terminated[agentID] = struct{}{}
}

// Registered reports whether the agent currently has a live inbox.
func (b *Bus) Registered(agentID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.inboxes[agentID]
	return ok
}

// Agents returns the IDs of all live agents.
func (b *Bus) Agents() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.inboxes))
	for id := range b.inboxes {
		ids = append(ids, id)
	}
	return ids
}

// Send delivers a direct message.
func (b *Bus) Send(senderID, recipientID, content string, metadata map[string]any) DeliveryResult {
	msg := b.newMessage(MessageTypeDirect, senderID, recipientID, content, metadata)
	return b.deliver(msg)
}

// Broadcast delivers a message to every live agent except the sender,
// returning one result per recipient.
func (b *Bus) Broadcast(senderID, content string, metadata map[string]any) []DeliveryResult {
	b.mu.Lock()
	recipients := make([]string, 0, len(b.inboxes))
	for id := range b.inboxes {
		if id != senderID {
			recipients = append(recipients, id)
		}
	}
	b.mu.Unlock()

	results := make([]DeliveryResult, 0, len(recipients))
	for _, id := range recipients {
		msg := b.newMessage(MessageTypeBroadcast, senderID, id, content, metadata)
		results = append(results, b.deliver(msg))
	}
	return results
}

// SendShutdownRequest delivers a typed shutdown message. The reason is
// carried in both the content and the metadata.
func (b *Bus) SendShutdownRequest(senderID, recipientID, reason string) DeliveryResult {
	msg := b.newMessage(MessageTypeShutdown, senderID, recipientID, reason, map[string]any{"reason": reason})
	return b.deliver(msg)
}

// Receive drains and returns all messages currently in the agent's inbox
// without blocking. An unknown agent gets nil.
func (b *Bus) Receive(agentID string) []Message {
	b.mu.Lock()
	inbox, ok := b.inboxes[agentID]
	b.mu.Unlock()
	if !ok {
		return nil
	}

	var msgs []Message
	for {
		select {
		case msg := <-inbox:
			msgs = append(msgs, msg)
		default:
			return msgs
		}
	}
}

func (b *Bus) newMessage(typ MessageType, sender, recipient, content string, metadata map[string]any) Message {
	return Message{
		ID:        uuid.NewString(),
		Type:      typ,
		Sender:    sender,
		Recipient: recipient,
		Content:   content,
		Metadata:  metadata,
		SentAt:    time.Now(),
	}
}

func (b *Bus) deliver(msg Message) DeliveryResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	res := DeliveryResult{MessageID: msg.ID, Recipient: msg.Recipient, Status: DeliveryFailed}
	if _, dead := b.terminated[msg.Recipient]; dead {
		res.Error = fmt.Sprintf("%s: %s", ErrAgentTerminated, msg.Recipient)
		return res
	}
	inbox, ok := b.inboxes[msg.Recipient]
	if !ok {
		res.Error = fmt.Sprintf("%s: %s", ErrAgentNotFound, msg.Recipient)
		return res
	}
	select {
	case inbox <- msg:
		res.Status = DeliveryDelivered
	default:
		b.logger.Warn("Inbox full, dropping message", "recipient", msg.Recipient, "type", msg.Type)
		res.Error = fmt.Sprintf("%s: %s", ErrInboxFull, msg.Recipient)
	}
	return res
}
