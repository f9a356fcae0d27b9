// Package codec provides offset-based reads over untrusted byte buffers.
//
// Every read takes a buffer and an offset and returns the decoded value
// together with the next offset. Two safety modes are offered:
//
//   - Unchecked reads never validate the next offset against the buffer
//     length. A sequence of unchecked reads must end with a CheckLength
//     call on the final offset; this amortizes the bounds check across
//     many reads on hot paths. Bytes past the end of the buffer read as
//     zero so that a short buffer is always caught by CheckLength rather
//     than by a panic.
//
//   - Checked reads validate each step and fail with OutOfBoundsError the
//     moment the next offset would exceed the buffer.
//
// Integers are big-endian. Byte reads return sub-slices of the input, not
// copies; callers must not mutate them.
package codec

import (
	"fmt"
	"math/bits"
)

// OutOfBoundsError indicates a checked read past the end of the buffer.
type OutOfBoundsError struct {
	Offset int
	Length int
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("offset %d out of bounds for buffer of length %d", e.Offset, e.Length)
}

// LengthMismatchError indicates that a sequence of unchecked reads did not
// consume the buffer exactly.
type LengthMismatchError struct {
	Actual   int
	Expected int
}

func (e *LengthMismatchError) Error() string {
	return fmt.Sprintf("length mismatch: consumed %d bytes, buffer has %d", e.Expected, e.Actual)
}

// InvalidBoolValueError indicates a boolean byte that was neither 0 nor 1.
type InvalidBoolValueError struct {
	Byte byte
}

func (e *InvalidBoolValueError) Error() string {
	return fmt.Sprintf("invalid bool value: 0x%02x", e.Byte)
}

// Unsigned constrains the fixed-width big-endian integer widths the cursor
// can read.
type Unsigned interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64
}

// widthOf returns the byte width of T.
func widthOf[T Unsigned]() int {
	return bits.Len64(uint64(^T(0))) / 8
}

// ReadUint decodes a big-endian integer at offset without bounds checking.
// Bytes beyond the buffer read as zero; finish the read sequence with
// CheckLength to detect truncation.
func ReadUint[T Unsigned](buf []byte, offset int) (T, int) {
	width := widthOf[T]()
	end := offset + width

	var v uint64
	for i := offset; i < end; i++ {
		v <<= 8
		if i >= 0 && i < len(buf) {
			v |= uint64(buf[i])
		}
	}

	return T(v), end
}

// ReadUintChecked decodes a big-endian integer at offset, failing with
// OutOfBoundsError if the read would pass the end of the buffer.
func ReadUintChecked[T Unsigned](buf []byte, offset int) (T, int, error) {
	end := offset + widthOf[T]()
	if offset < 0 || end > len(buf) {
		return 0, 0, &OutOfBoundsError{Offset: end, Length: len(buf)}
	}

	v, next := ReadUint[T](buf, offset)
	return v, next, nil
}

// ReadBytes returns a view of n bytes at offset without bounds checking.
// The view is clamped to the buffer; a short result is detected by the
// trailing CheckLength.
func ReadBytes(buf []byte, offset, n int) ([]byte, int) {
	end := offset + n

	lo := offset
	if lo < 0 {
		lo = 0
	}
	if lo > len(buf) {
		lo = len(buf)
	}
	hi := end
	if hi > len(buf) {
		hi = len(buf)
	}
	if hi < lo {
		hi = lo
	}

	return buf[lo:hi], end
}

// ReadBytesChecked returns a view of n bytes at offset, failing with
// OutOfBoundsError if the read would pass the end of the buffer.
func ReadBytesChecked(buf []byte, offset, n int) ([]byte, int, error) {
	end := offset + n
	if offset < 0 || n < 0 || end > len(buf) {
		return nil, 0, &OutOfBoundsError{Offset: end, Length: len(buf)}
	}

	return buf[offset:end], end, nil
}

// ReadBool decodes a single byte that must be exactly 0 or 1.
func ReadBool(buf []byte, offset int) (bool, int, error) {
	b, next, err := ReadUintChecked[uint8](buf, offset)
	if err != nil {
		return false, 0, err
	}
	if b > 1 {
		return false, 0, &InvalidBoolValueError{Byte: b}
	}

	return b == 1, next, nil
}

// SliceLenPrefixed reads a length prefix of prefixWidth bytes (1, 2 or 4)
// followed by that many bytes, returning a view over the buffer.
func SliceLenPrefixed(buf []byte, offset, prefixWidth int) ([]byte, int, error) {
	var n int
	var next int
	var err error

	switch prefixWidth {
	case 1:
		var v uint8
		v, next, err = ReadUintChecked[uint8](buf, offset)
		n = int(v)
	case 2:
		var v uint16
		v, next, err = ReadUintChecked[uint16](buf, offset)
		n = int(v)
	case 4:
		var v uint32
		v, next, err = ReadUintChecked[uint32](buf, offset)
		n = int(v)
	default:
		return nil, 0, fmt.Errorf("unsupported length prefix width: %d", prefixWidth)
	}
	if err != nil {
		return nil, 0, err
	}

	return ReadBytesChecked(buf, next, n)
}

// CheckLength verifies that a sequence of unchecked reads consumed the
// buffer exactly. It fails with LengthMismatchError otherwise.
func CheckLength(finalOffset, bufLen int) error {
	if finalOffset != bufLen {
		return &LengthMismatchError{Actual: bufLen, Expected: finalOffset}
	}
	return nil
}
