/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package idclass

import "errors"

const (
	classBits  = 8
	serialBits = 32 - classBits
	serialMask = uint32(1)<<serialBits - 1
)

// ID is the opaque 32-bit handle every OSAL primitive hands back to
// callers. The high byte carries the class tag, the low 24 bits carry
// the serial (slot index folded with a generation counter).
type ID uint32

const (
	// Undefined is the all-zero sentinel: a free slot, or "no such
	// object". It is never a valid active ID.
	Undefined ID = 0
	// Reserved is the all-ones sentinel: a slot mid-allocation. It is
	// never a valid active ID and never matches any real class tag,
	// since no real Class value occupies the top byte's all-ones
	// pattern.
	Reserved ID = 0xFFFFFFFF
)

// ErrInvalidID is returned whenever a caller-supplied ID fails class-tag
// or index-range validation: the stale-ID defense.
var ErrInvalidID = errors.New("invalid or stale id")

// Compose packs a class tag and a serial into an opaque ID.
func Compose(class Class, serial uint32) ID {
	return ID(uint32(class)<<serialBits | (serial & serialMask))
}

// ClassOf extracts the class tag from an ID without validating it.
func ClassOf(id ID) Class {
	return Class(uint32(id) >> serialBits)
}

// SerialOf extracts the serial from an ID.
func SerialOf(id ID) uint32 {
	return uint32(id) & serialMask
}

// ArrayIndex validates that id is not a sentinel and carries the
// expected class tag, then returns its slot index, folded as serial mod
// capForClass (so always in range for a positive capacity). This is the
// stale-ID defense: a caller that hands a TASK id to a QUEUE call is
// rejected before any lock is taken. An id from an earlier incarnation
// of the slot folds to a valid index; the caller's ActiveID compare is
// what rejects it.
func ArrayIndex(id ID, expect Class, capForClass int) (index int, err error) {
	if id == Undefined || id == Reserved {
		return 0, ErrInvalidID
	}
	if ClassOf(id) != expect {
		return 0, ErrInvalidID
	}
	if capForClass <= 0 {
		return 0, ErrInvalidID
	}
	idx := int(SerialOf(id) % uint32(capForClass))
	if idx < 0 || idx >= capForClass {
		return 0, ErrInvalidID
	}
	return idx, nil
}

// NextSerial advances the hidden per-slot generation counter and
// returns the serial for the slot's next incarnation. slotIndex is
// preserved as serial mod capForClass across every generation, which is
// what lets ArrayIndex always recover the slot from a live ID; the
// quotient (the generation) is what makes a stale ID from a prior
// incarnation distinguishable from the current one.
//
// prevGen is the generation counter carried by the slot from its last
// incarnation (zero for a slot that has never been allocated). The
// first-ever generation for a slot is 1, never 0, which guarantees the
// resulting serial is never zero and so never collides with the
// Undefined sentinel; no valid Class occupies Reserved's all-ones class
// byte, so Reserved is never produced either. On 24-bit generation
// overflow the counter wraps back to 1 rather than 0, preserving the
// same invariant indefinitely.
func NextSerial(slotIndex int, capForClass int, prevGen uint32) (serial uint32, nextGen uint32) {
	// maxGen is exclusive: (maxGen-1)*cap + (cap-1) <= serialMask, so the
	// composed serial can never spill past the serial field and corrupt
	// the slot index under Compose's mask.
	maxGen := (serialMask + 1) / uint32(capForClass)
	nextGen = prevGen + 1
	if nextGen == 0 || nextGen >= maxGen {
		nextGen = 1
	}
	serial = nextGen*uint32(capForClass) + uint32(slotIndex)
	return
}
