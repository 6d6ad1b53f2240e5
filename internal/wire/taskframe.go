package wire

import "encoding/binary"

// TaskOutputHeaderLen is the size of the fixed preamble on a TASK_OUTPUT
// frame body: destination
// client id (16) + source server id (16) + task id (16) + status (4).
const TaskOutputHeaderLen = 16 + 16 + 16 + 4

// TaskOutputHeader is the preamble carried by every task output frame's
// body, immediately after the common 8-byte command+length wire header.
type TaskOutputHeader struct {
	DestClient [16]byte
	SrcServer  [16]byte
	TaskID     [16]byte
	Status     uint32
}

// Encode renders the header in its on-wire little-endian form.
func (h TaskOutputHeader) Encode() []byte {
	out := make([]byte, TaskOutputHeaderLen)
	copy(out[0:16], h.DestClient[:])
	copy(out[16:32], h.SrcServer[:])
	copy(out[32:48], h.TaskID[:])
	binary.LittleEndian.PutUint32(out[48:52], h.Status)
	return out
}

// DecodeTaskOutputHeader parses the preamble from a TASK_OUTPUT frame body,
// returning the header and the remaining payload bytes.
func DecodeTaskOutputHeader(body []byte) (TaskOutputHeader, []byte, error) {
	if len(body) < TaskOutputHeaderLen {
		return TaskOutputHeader{}, nil, ErrUnderrun
	}
	var h TaskOutputHeader
	copy(h.DestClient[:], body[0:16])
	copy(h.SrcServer[:], body[16:32])
	copy(h.TaskID[:], body[32:48])
	h.Status = binary.LittleEndian.Uint32(body[48:52])
	return h, body[TaskOutputHeaderLen:], nil
}
