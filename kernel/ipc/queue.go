package ipc

import "github.com/gnl2024/os-tutorial/kernel"

// queue is a circular buffer of messages kept in priority order: higher
// priorities sit closer to the head and equal priorities keep their arrival
// order.
type queue struct {
	id       QueueID
	owner    kernel.PID
	capacity int

	slots            [QueueCapacity]Message
	head, tail, size int

	processed uint64
	dropped   uint64
	peak      int
}

func newQueue(id QueueID, owner kernel.PID, capacity int) *queue {
	if capacity <= 0 || capacity > QueueCapacity {
		capacity = QueueCapacity
	}

	return &queue{id: id, owner: owner, capacity: capacity}
}

func (q *queue) full() bool {
	return q.size == q.capacity
}

// at returns the slot that lies off entries away from the head.
func (q *queue) at(off int) *Message {
	return &q.slots[(q.head+off)%q.capacity]
}

// insert places msg right before the first queued message with a strictly
// lower priority and shifts the following messages one slot towards the
// tail. It returns false if the queue is full.
func (q *queue) insert(msg *Message) bool {
	if q.full() {
		return false
	}

	pos := q.size
	for off := 0; off < q.size; off++ {
		if q.at(off).Priority < msg.Priority {
			pos = off
			break
		}
	}

	for off := q.size; off > pos; off-- {
		*q.at(off) = *q.at(off - 1)
	}

	*q.at(pos) = *msg
	q.tail = (q.tail + 1) % q.capacity
	q.size++

	if q.size > q.peak {
		q.peak = q.size
	}

	return true
}

// best returns the offset of the first message with the highest priority or
// -1 if the queue is empty.
func (q *queue) best() int {
	best := -1
	for off := 0; off < q.size; off++ {
		if best == -1 || q.at(off).Priority > q.at(best).Priority {
			best = off
		}
	}

	return best
}

// remove takes the message at offset off out of the queue and closes the
// gap by shifting the following messages towards the head.
func (q *queue) remove(off int) Message {
	msg := *q.at(off)

	for ; off < q.size-1; off++ {
		*q.at(off) = *q.at(off + 1)
	}

	q.tail = (q.tail - 1 + q.capacity) % q.capacity
	q.size--
	q.processed++

	return msg
}
