package syscall

import (
	"encoding/binary"

	"github.com/gnl2024/os-tutorial/kernel/ipc"
)

// Layout of the records written to user memory. All fields are little
// endian.
const (
	// MessageSize is the size of an encoded message: a 28-byte header
	// followed by the fixed payload area.
	MessageSize = 28 + ipc.MaxPayload

	// StatsSize is the size of an encoded SystemStats record.
	StatsSize = 8 * 8
)

// EncodeMessage serializes msg into a MessageSize buffer:
//
//	0  id        u32
//	4  sender    u32
//	8  receiver  u32
//	12 type      u8
//	13 priority  u8
//	14 status    u8
//	15 reserved  u8
//	16 timestamp u64
//	24 size      u32
//	28 payload   [256]u8
func EncodeMessage(msg *ipc.Message) []byte {
	buf := make([]byte, MessageSize)
	binary.LittleEndian.PutUint32(buf[0:], uint32(msg.ID))
	binary.LittleEndian.PutUint32(buf[4:], uint32(msg.Sender))
	binary.LittleEndian.PutUint32(buf[8:], uint32(msg.Receiver))
	buf[12] = uint8(msg.Type)
	buf[13] = uint8(msg.Priority)
	buf[14] = uint8(msg.Status)
	binary.LittleEndian.PutUint64(buf[16:], msg.Timestamp)
	binary.LittleEndian.PutUint32(buf[24:], uint32(msg.Size()))
	copy(buf[28:], msg.Payload())
	return buf
}

// EncodeStats serializes the bus counters as eight u64 values: queues
// created, messages sent, received and dropped, broadcasts, average message
// size, active queues and uptime.
func EncodeStats(st ipc.SystemStats) []byte {
	buf := make([]byte, StatsSize)
	for i, v := range []uint64{
		st.QueuesCreated,
		st.MessagesSent,
		st.MessagesReceived,
		st.MessagesDropped,
		st.Broadcasts,
		st.AvgMessageSize,
		uint64(st.ActiveQueues),
		st.Uptime,
	} {
		binary.LittleEndian.PutUint64(buf[i*8:], v)
	}
	return buf
}
