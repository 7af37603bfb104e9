package executor

import (
	"errors"

	"github.com/tetratelabs/wazero/experimental"
)

// errMemoryReservation is raised when a module's initial memory does not fit
// the budget. wazero cannot fail an initial allocation gracefully, so it
// surfaces as a panic that the execution context recovers.
var errMemoryReservation = errors.New("initial memory exceeds budget")

// governedAllocator backs every linear memory of one execution context and
// routes each growth request through the governor.
type governedAllocator struct {
	gov *Governor
}

func (a governedAllocator) Allocate(capBytes, maxBytes uint64) experimental.LinearMemory {
	return &governedMemory{gov: a.gov, max: maxBytes, capHint: capBytes}
}

type governedMemory struct {
	gov      *Governor
	buf      []byte
	max      uint64
	capHint  uint64
	reserved bool
}

// Reallocate returns nil to deny growth; wazero then reports -1 to memory.grow.
func (m *governedMemory) Reallocate(size uint64) []byte {
	if size > m.max {
		return nil
	}

	current := uint32(uint64(len(m.buf)) / PageSize)
	desired := uint32(size / PageSize)
	if !m.gov.MemoryGrowing(current, desired) {
		if !m.reserved {
			panic(errMemoryReservation)
		}
		return nil
	}
	m.reserved = true

	if uint64(cap(m.buf)) >= size {
		m.buf = m.buf[:size]
		return m.buf
	}

	grown := make([]byte, size, max(size, min(m.capHint, m.max)))
	copy(grown, m.buf)
	m.buf = grown
	return m.buf
}

func (m *governedMemory) Free() {
	m.gov.releaseMemory(uint32(uint64(len(m.buf)) / PageSize))
	m.buf = nil
}
