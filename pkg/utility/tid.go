package utility

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// TraceID is a snowflake-style identifier: millisecond timestamp, machine id
// and a per-process sequence packed into 64 bits.
type TraceID = uint64

const (
	machineBits  = 8
	sequenceBits = 14

	maxSequence = 1<<sequenceBits - 1
	maxMachine  = 1<<machineBits - 1

	timestampShift = machineBits + sequenceBits
	machineShift   = sequenceBits
)

var (
	sequence  atomic.Uint64
	machineID = uint64(uuid.New().ID()) & maxMachine
	epoch     = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
)

func CreateTraceID() TraceID {
	timestamp := uint64(time.Now().UnixMilli() - epoch)
	seq := sequence.Add(1) & maxSequence

	if seq == 0 {
		// Sequence wrapped within the same millisecond
		time.Sleep(time.Millisecond)
		timestamp = uint64(time.Now().UnixMilli() - epoch)
	}

	return (timestamp << timestampShift) | (machineID << machineShift) | seq
}

func ParseTraceID(id TraceID) (timestamp time.Time, machine uint64, seq uint64) {
	seq = id & maxSequence
	machine = (id >> machineShift) & maxMachine
	timestamp = time.UnixMilli(epoch + int64(id>>timestampShift))
	return
}
