// Package ipc implements the kernel message bus: per-process priority queues
// with non-blocking send, receive and broadcast operations.
package ipc

import (
	"time"

	"github.com/gnl2024/os-tutorial/kernel"
	"github.com/hashicorp/go-hclog"
)

var (
	// ErrNoProcessSlot is returned when MaxProcesses processes already
	// hold IPC state.
	ErrNoProcessSlot = &kernel.Error{Module: "ipc", Message: "no free IPC process slot"}

	// ErrQueueLimitExceeded is returned when a process already owns
	// MaxQueuesPerProcess queues.
	ErrQueueLimitExceeded = &kernel.Error{Module: "ipc", Message: "queue limit exceeded"}

	// ErrNoSuchProcess is returned for processes that are not alive or
	// hold no IPC state.
	ErrNoSuchProcess = &kernel.Error{Module: "ipc", Message: "no such process"}

	// ErrNoSuchQueue is returned for unknown queue IDs.
	ErrNoSuchQueue = &kernel.Error{Module: "ipc", Message: "no such queue"}

	// ErrNoSuchReceiver is returned when the receiver holds no IPC state.
	ErrNoSuchReceiver = &kernel.Error{Module: "ipc", Message: "no such receiver"}

	// ErrNoQueue is returned when the receiver owns no queue.
	ErrNoQueue = &kernel.Error{Module: "ipc", Message: "receiver has no queue"}

	// ErrQueueFull is returned when the receiver queue is at capacity.
	// The message is dropped.
	ErrQueueFull = &kernel.Error{Module: "ipc", Message: "queue full"}

	// ErrPayloadTooLarge is returned for payloads over MaxPayload bytes.
	ErrPayloadTooLarge = &kernel.Error{Module: "ipc", Message: "payload too large"}

	// ErrInvalidPriority is returned for undefined priority levels.
	ErrInvalidPriority = &kernel.Error{Module: "ipc", Message: "invalid priority"}

	// ErrEmpty is returned by a receive without timeout when no message
	// is queued.
	ErrEmpty = &kernel.Error{Module: "ipc", Message: "no message available"}

	// ErrTimeout is returned by a receive with a timeout when no message
	// is queued.
	ErrTimeout = &kernel.Error{Module: "ipc", Message: "receive timed out"}
)

// Clock returns the current kernel uptime in ticks.
type Clock func() uint64

// ProcessLookup reports whether a PID identifies a live process.
type ProcessLookup func(kernel.PID) bool

type procEntry struct {
	used     bool
	pid      kernel.PID
	queues   [MaxQueuesPerProcess]*queue
	priority Priority

	pending  int
	sent     uint64
	received uint64
}

func (e *procEntry) firstQueue() *queue {
	for _, q := range e.queues {
		if q != nil {
			return q
		}
	}

	return nil
}

func (e *procEntry) queueCount() int {
	var n int
	for _, q := range e.queues {
		if q != nil {
			n++
		}
	}

	return n
}

// Bus owns every IPC queue. It is not safe for concurrent use; the kernel
// only calls into it from run-to-completion trap handlers.
type Bus struct {
	entries [MaxProcesses]procEntry

	nextQueueID   QueueID
	nextMessageID MessageID

	queuesCreated uint64
	sent          uint64
	received      uint64
	dropped       uint64
	broadcasts    uint64
	payloadBytes  uint64
	peakDepth     int

	clock Clock
	alive ProcessLookup
	log   hclog.Logger
}

// NewBus creates an empty bus. Message timestamps are taken from clock. If
// alive is not nil, queues can only be created for live processes.
func NewBus(clock Clock, alive ProcessLookup, log hclog.Logger) *Bus {
	if clock == nil {
		clock = func() uint64 { return 0 }
	}

	if log == nil {
		log = hclog.NewNullLogger()
	}

	return &Bus{
		nextQueueID:   1,
		nextMessageID: 1,
		clock:         clock,
		alive:         alive,
		log:           log,
	}
}

func (b *Bus) entry(pid kernel.PID) *procEntry {
	for i := range b.entries {
		if e := &b.entries[i]; e.used && e.pid == pid {
			return e
		}
	}

	return nil
}

func (b *Bus) findQueue(id QueueID) (*procEntry, int) {
	for i := range b.entries {
		e := &b.entries[i]
		if !e.used {
			continue
		}

		for slot, q := range e.queues {
			if q != nil && q.id == id {
				return e, slot
			}
		}
	}

	return nil, -1
}

// CreateQueue creates a queue owned by pid and returns its ID. The IPC state
// for pid is created on first use. Capacities outside (0, QueueCapacity]
// are clamped to QueueCapacity.
func (b *Bus) CreateQueue(pid kernel.PID, capacity int) (QueueID, *kernel.Error) {
	if b.alive != nil && !b.alive(pid) {
		return 0, ErrNoSuchProcess
	}

	e := b.entry(pid)
	if e == nil {
		for i := range b.entries {
			if !b.entries[i].used {
				e = &b.entries[i]
				*e = procEntry{used: true, pid: pid, priority: Normal}
				break
			}
		}

		if e == nil {
			b.log.Warn("cannot register process", "pid", pid, "error", ErrNoProcessSlot)
			return 0, ErrNoProcessSlot
		}
	}

	for slot := range e.queues {
		if e.queues[slot] != nil {
			continue
		}

		q := newQueue(b.nextQueueID, pid, capacity)
		b.nextQueueID++
		b.queuesCreated++
		e.queues[slot] = q

		b.log.Info("queue created", "queue", q.id, "pid", pid, "capacity", q.capacity)
		return q.id, nil
	}

	b.log.Warn("cannot create queue", "pid", pid, "error", ErrQueueLimitExceeded)
	return 0, ErrQueueLimitExceeded
}

// DeleteQueue destroys a queue together with any message it still holds.
func (b *Bus) DeleteQueue(id QueueID) *kernel.Error {
	e, slot := b.findQueue(id)
	if e == nil {
		return ErrNoSuchQueue
	}

	e.pending -= e.queues[slot].size
	e.queues[slot] = nil

	b.log.Info("queue deleted", "queue", id, "pid", e.pid)
	return nil
}

// Send queues a message for receiver in the first queue it owns. If that
// queue is full the message is dropped and ErrQueueFull is returned.
func (b *Bus) Send(sender, receiver kernel.PID, typ Type, payload []byte, prio Priority) (MessageID, *kernel.Error) {
	if len(payload) > MaxPayload {
		return 0, ErrPayloadTooLarge
	}

	if !prio.Valid() {
		return 0, ErrInvalidPriority
	}

	dst := b.entry(receiver)
	if dst == nil {
		return 0, ErrNoSuchReceiver
	}

	q := dst.firstQueue()
	if q == nil {
		return 0, ErrNoQueue
	}

	if q.full() {
		q.dropped++
		b.dropped++
		b.log.Warn("queue full, message dropped", "from", sender, "to", receiver, "queue", q.id)
		return 0, ErrQueueFull
	}

	msg := Message{
		ID:        b.nextMessageID,
		Sender:    sender,
		Receiver:  receiver,
		Type:      typ,
		Priority:  prio,
		Status:    StatusUnread,
		Timestamp: b.clock(),
	}
	msg.setPayload(payload)
	q.insert(&msg)
	b.nextMessageID++

	if q.size > b.peakDepth {
		b.peakDepth = q.size
	}

	dst.pending++
	if src := b.entry(sender); src != nil {
		src.sent++
	}
	b.sent++
	b.payloadBytes += uint64(len(payload))

	b.log.Info("message sent",
		"id", msg.ID, "from", sender, "to", receiver,
		"type", typ, "priority", prio, "size", len(payload),
	)
	return msg.ID, nil
}

// Receive removes and returns the highest priority message queued for
// receiver across all of its queues. Ties go to the lowest queue slot and
// then to the message closest to the head.
//
// Receive never blocks. If no message is queued it returns ErrEmpty when
// timeout is zero; otherwise it returns ErrTimeout together with a message
// whose Status is StatusTimeout.
func (b *Bus) Receive(receiver kernel.PID, timeout time.Duration) (Message, *kernel.Error) {
	e := b.entry(receiver)
	if e == nil {
		return Message{}, ErrNoSuchReceiver
	}

	var (
		bestQueue *queue
		bestOff   = -1
	)
	for _, q := range e.queues {
		if q == nil {
			continue
		}

		off := q.best()
		if off == -1 {
			continue
		}

		if bestQueue == nil || q.at(off).Priority > bestQueue.at(bestOff).Priority {
			bestQueue, bestOff = q, off
		}
	}

	if bestQueue == nil {
		if timeout > 0 {
			return Message{Receiver: receiver, Status: StatusTimeout, Timestamp: b.clock()}, ErrTimeout
		}
		return Message{}, ErrEmpty
	}

	msg := bestQueue.remove(bestOff)
	msg.Status = StatusRead
	e.pending--
	e.received++
	b.received++

	b.log.Info("message received",
		"id", msg.ID, "from", msg.Sender, "by", receiver,
		"priority", msg.Priority, "queue", bestQueue.id,
	)
	return msg, nil
}

// Broadcast sends a Normal priority copy of the payload to every other
// process that holds IPC state. Delivery is attempted independently for
// each receiver; the number of successful deliveries is returned.
func (b *Bus) Broadcast(sender kernel.PID, typ Type, payload []byte) int {
	var delivered, targets int
	for i := range b.entries {
		e := &b.entries[i]
		if !e.used || e.pid == sender {
			continue
		}

		targets++
		if _, err := b.Send(sender, e.pid, typ, payload, Normal); err == nil {
			delivered++
		}
	}

	b.broadcasts++
	b.log.Info("broadcast sent", "from", sender, "delivered", delivered, "targets", targets)
	return delivered
}

// CleanupProcess deletes every queue owned by pid and releases its IPC
// state. It is registered as a process termination hook.
func (b *Bus) CleanupProcess(pid kernel.PID) {
	e := b.entry(pid)
	if e == nil {
		return
	}

	queues := e.queueCount()
	*e = procEntry{}

	b.log.Info("process cleaned up", "pid", pid, "queues", queues)
}

// SetProcessPriority records the IPC priority of pid.
func (b *Bus) SetProcessPriority(pid kernel.PID, prio Priority) *kernel.Error {
	if !prio.Valid() {
		return ErrInvalidPriority
	}

	e := b.entry(pid)
	if e == nil {
		return ErrNoSuchProcess
	}

	e.priority = prio
	return nil
}
