// Package replay defines persistent replay protection for consumed VAAs.
//
// Two strategies exist and are not interchangeable:
//
//   - The sequence-bitmap strategy keys roughly one bit of storage per
//     message. It is only sound for messages published at a finalized
//     consistency level, where the sequence number is a strictly
//     non-reused counter per (emitter chain, emitter address).
//
//   - The hash-keyed strategy keys a flag by the message's canonical
//     single hash, keccak256 of envelope plus payload. This is not the
//     signing digest, which is the double hash. It is sound at any consistency
//     level, including messages that may be re-observed with a different
//     sequence after a reorg.
//
// Callers must pick one strategy per message class and stay with it.
// Both are first-writer-wins and irreversible: there is no unset.
package replay

import (
	"context"
	"encoding/binary"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/crosslane/vaa-go/pkg/vaa"
)

// ErrAlreadyProcessed is returned when a consumption marker was already
// set. Callers must treat it as a permanent rejection of that message.
var ErrAlreadyProcessed = errors.New("message already processed")

// SequenceGuard records consumption by (emitter chain, emitter address,
// sequence) in a sparse bitmap. Implementations must provide an atomic
// check-and-set: of two racing callers on the same triple, exactly one
// succeeds and the other observes ErrAlreadyProcessed.
type SequenceGuard interface {
	// ReplayProtect marks the triple as consumed, failing with
	// ErrAlreadyProcessed if it already was.
	ReplayProtect(ctx context.Context, chain uint16, emitter vaa.Address, sequence uint64) error
}

// HashGuard records consumption by the message's canonical single hash,
// with the same atomic check-and-set contract as SequenceGuard.
type HashGuard interface {
	// ReplayProtectHash marks the hash as consumed, failing with
	// ErrAlreadyProcessed if it already was.
	ReplayProtectHash(ctx context.Context, hash common.Hash) error
}

// Guard combines both strategies over one backing store.
type Guard interface {
	SequenceGuard
	HashGuard

	// Close releases the underlying storage.
	Close() error
}

// slotBits is the number of sequence bits packed into one bitmap slot.
const slotBits = 256

// EmitterKey derives the bitmap namespace for an emitter:
// keccak256(emitterChainId || emitterAddress).
func EmitterKey(chain uint16, emitter vaa.Address) common.Hash {
	var buf [34]byte
	binary.BigEndian.PutUint16(buf[0:2], chain)
	copy(buf[2:], emitter[:])
	return common.BytesToHash(crypto.Keccak256(buf[:]))
}

// BitmapPosition maps a sequence number to its slot and bit within the
// emitter's bitmap.
func BitmapPosition(sequence uint64) (slot uint64, bit uint16) {
	return sequence / slotBits, uint16(sequence % slotBits)
}

// SlotLen is the byte length of one bitmap slot value.
const SlotLen = slotBits / 8

// SetBit sets the given bit in a slot value, reporting whether it was
// already set. Bit 0 is the lowest-order bit of the last byte.
func SetBit(slotValue []byte, bit uint16) (already bool) {
	byteIndex := SlotLen - 1 - int(bit/8)
	mask := byte(1) << (bit % 8)

	if slotValue[byteIndex]&mask != 0 {
		return true
	}
	slotValue[byteIndex] |= mask
	return false
}
