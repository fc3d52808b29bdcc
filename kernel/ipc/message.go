package ipc

import "github.com/gnl2024/os-tutorial/kernel"

const (
	// MaxPayload is the largest payload a message can carry.
	MaxPayload = 256

	// QueueCapacity is the number of message slots in a queue.
	QueueCapacity = 16

	// MaxQueuesPerProcess bounds the queues a single process may own.
	MaxQueuesPerProcess = 4

	// MaxProcesses bounds the number of processes that can hold IPC
	// state at the same time.
	MaxProcesses = 32
)

// MessageID identifies a message. IDs are assigned from a global counter
// that starts at 1 and is never reset.
type MessageID uint32

// QueueID identifies a queue. IDs start at 1 and are never reused.
type QueueID uint32

// Priority orders messages within a queue.
type Priority uint8

// The supported message priorities.
const (
	Low Priority = iota
	Normal
	High
	Urgent
)

// String implements fmt.Stringer for Priority.
func (p Priority) String() string {
	switch p {
	case Low:
		return "low"
	case Normal:
		return "normal"
	case High:
		return "high"
	case Urgent:
		return "urgent"
	default:
		return "invalid"
	}
}

// Valid returns true if p is one of the defined priorities.
func (p Priority) Valid() bool {
	return p <= Urgent
}

// Type tags the purpose of a message.
type Type uint8

// The message types understood by the kernel.
const (
	TypeData Type = iota + 1
	TypeControl
	TypeSignal
	TypeRequest
	TypeResponse
)

// String implements fmt.Stringer for Type.
func (t Type) String() string {
	switch t {
	case TypeData:
		return "data"
	case TypeControl:
		return "control"
	case TypeSignal:
		return "signal"
	case TypeRequest:
		return "request"
	case TypeResponse:
		return "response"
	default:
		return "unknown"
	}
}

// Status describes the delivery state of a message.
type Status uint8

// The supported message states.
const (
	StatusUnread Status = iota
	StatusRead
	StatusTimeout
)

// String implements fmt.Stringer for Status.
func (s Status) String() string {
	switch s {
	case StatusUnread:
		return "unread"
	case StatusRead:
		return "read"
	case StatusTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Message is a fixed-size message. Messages are copied by value into and
// out of queue slots.
type Message struct {
	ID        MessageID
	Sender    kernel.PID
	Receiver  kernel.PID
	Type      Type
	Priority  Priority
	Status    Status
	Timestamp uint64

	size int
	data [MaxPayload]byte
}

// Payload returns the message payload.
func (m *Message) Payload() []byte {
	return m.data[:m.size]
}

// Size returns the payload length in bytes.
func (m *Message) Size() int {
	return m.size
}

func (m *Message) setPayload(p []byte) {
	m.size = copy(m.data[:], p)
}
