package ipc

import (
	"go.uber.org/zap"

	"mmapipc.dev/ipc/internal/layout"
)

// Role identifies which of the two endpoints this side of the connection
// has claimed.
type Role int

const (
	// RoleA is the first endpoint to attach to a fresh file.
	RoleA Role = iota
	// RoleB is the second endpoint to attach.
	RoleB
)

func (r Role) String() string {
	if r == RoleA {
		return "A"
	}
	return "B"
}

// claim performs role assignment (§4.3): initialize the layout on first
// attach, validate Magic, then claim whichever OP bit is free. It returns
// the claimed role and the base offsets of this endpoint's send and recv
// rings.
//
// The Sign read-modify-write below is deliberately not hardware-atomic
// against a third concurrent attacher -- see SPEC_FULL.md §4.3/§9. A
// production hardening would replace the load-then-store pair with a CAS
// loop on the Sign word; that is an unused, documented extension point
// (DESIGN.md), not implemented here, to stay faithful to the reference
// behavior this module is a port of.
func claim(m *layout.Mapping, payloadSize uint32, logger *zap.Logger) (role Role, sendBase, recvBase uint32, err error) {
	h := m.ReadGlobalHeader()

	switch {
	case h.Magic == 0:
		basePtrA := uint32(layout.GlobalHeaderSize)
		basePtrB := basePtrA + layout.RingHeaderSize + payloadSize + 1

		m.WriteGlobalHeader(layout.GlobalHeader{
			Magic:    layout.MagicValue,
			Version:  layout.FormatVersion,
			BasePtrA: basePtrA,
			BasePtrB: basePtrB,
		})
		m.InitRing(basePtrA, payloadSize+1)
		m.InitRing(basePtrB, payloadSize+1)

		h.BasePtrA, h.BasePtrB = basePtrA, basePtrB

	case h.Magic != layout.MagicValue:
		return 0, 0, 0, badMagicError(m.MagicBytes())
	}

	sign := m.Sign()
	switch {
	case sign&layout.SignOPA == 0:
		m.SetSign(sign | layout.SignOPA)
		return RoleA, h.BasePtrA, h.BasePtrB, nil

	case sign&layout.SignOPB == 0:
		logger.Warn("mmapipc: role A already claimed, attaching as role B")
		m.SetSign(sign | layout.SignOPB)
		return RoleB, h.BasePtrB, h.BasePtrA, nil

	default:
		logger.Warn("mmapipc: both roles already claimed, refusing attach")
		return 0, 0, 0, ErrInUse
	}
}

// release clears this endpoint's OP bit in Sign (§4.6). It is a
// read-modify-write with the same non-atomicity caveat as claim.
func release(m *layout.Mapping, role Role) {
	bit := layout.SignOPA
	if role == RoleB {
		bit = layout.SignOPB
	}
	m.SetSign(m.Sign() &^ bit)
}
