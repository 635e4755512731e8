package engine

import (
	"github.com/blkcp/blkcp/pkg/aio"
	"github.com/blkcp/blkcp/pkg/blockpool"
)

// slotState tracks where a queue slot is in its lifecycle.
type slotState uint8

const (
	// slotFree holds no buffer and no outstanding operation.
	slotFree slotState = iota
	// slotInProgress has an operation outstanding against its buffer.
	slotInProgress
	// slotReady holds a completed, unconsumed block. Input slots only;
	// output slots release their buffer as soon as the write settles.
	slotReady
)

func (s slotState) String() string {
	switch s {
	case slotFree:
		return "free"
	case slotInProgress:
		return "in-progress"
	case slotReady:
		return "ready"
	default:
		return "invalid"
	}
}

// slot is one fixed queue position capable of holding one in-flight
// operation. Slots are allocated once per queue at engine construction
// and never move; the handle at the same index serves the slot.
type slot struct {
	// seq is assigned when the slot is issued and orders writes on
	// sequential destinations. Input and output sequences are
	// independent counters.
	seq    uint64
	state  slotState
	block  *blockpool.Block
	off    int64 // target stream offset, 0 on non-seekable endpoints
	filled int   // bytes accumulated across continuation reads
	want   int   // length requested by the outstanding operation
	req    *aio.Request
}

// take moves the block out of the slot. The field is cleared in the same
// step the buffer changes hands, so a slot can never release a block it
// no longer owns.
func (s *slot) take() *blockpool.Block {
	b := s.block
	s.block = nil
	return b
}

// reset returns the slot to free. The buffer must already have been
// taken or released.
func (s *slot) reset() {
	s.state = slotFree
	s.filled = 0
	s.want = 0
	s.req = nil
}
