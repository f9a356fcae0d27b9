// Package vaa implements the wire format for signed cross-chain
// attestations (VAAs) and their two canonical digests.
package vaa

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/crosslane/vaa-go/pkg/codec"
)

const (
	// SupportedVAAVersion is the only wire version this codec accepts.
	SupportedVAAVersion = 0x01

	// headerLength is version + guardian set index + signature count.
	headerLength = 6

	// signatureLength is one guardian index byte plus a 65-byte signature.
	signatureLength = 66

	// envelopeLength is timestamp + nonce + emitter chain + emitter address
	// + sequence + consistency level.
	envelopeLength = 51

	// minVAALength is the shortest well-formed VAA: a header with zero
	// signatures followed by an envelope with an empty payload.
	minVAALength = headerLength + envelopeLength
)

// InvalidVersionError indicates an unsupported version byte.
type InvalidVersionError struct {
	Got uint8
}

func (e *InvalidVersionError) Error() string {
	return fmt.Sprintf("unsupported VAA version: %d", e.Got)
}

// Address is a 32-byte universal emitter address. Chain-native addresses
// shorter than 32 bytes are left-padded with zeros.
type Address [32]byte

// String returns the lower-case hex representation without a 0x prefix.
func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// Bytes returns the address as a byte slice.
func (a Address) Bytes() []byte {
	return a[:]
}

// MarshalJSON encodes the address as a hex string.
func (a Address) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf(`"%s"`, a.String())), nil
}

// UnmarshalJSON decodes a hex string, with or without surrounding quotes.
func (a *Address) UnmarshalJSON(data []byte) error {
	addr, err := StringToAddress(string(bytes.Trim(data, `"`)))
	if err != nil {
		return err
	}
	*a = addr
	return nil
}

// StringToAddress converts a hex string to an Address. Short inputs are
// left-padded; inputs longer than 32 bytes are rejected.
func StringToAddress(value string) (Address, error) {
	var address Address

	if len(value) > 1 && value[:2] == "0x" {
		value = value[2:]
	}
	if len(value) < 2 {
		return address, fmt.Errorf("value must be at least 1 byte")
	}

	res, err := hex.DecodeString(value)
	if err != nil {
		return address, err
	}

	return BytesToAddress(res)
}

// BytesToAddress converts raw bytes to an Address, left-padding inputs
// shorter than 32 bytes.
func BytesToAddress(b []byte) (Address, error) {
	var address Address
	if len(b) > 32 {
		return address, fmt.Errorf("value must be no more than 32 bytes")
	}

	copy(address[32-len(b):], b)
	return address, nil
}

// SignatureData is a compact secp256k1 signature: r (32) || s (32) ||
// recovery id (1).
type SignatureData [65]byte

// String returns the hex representation of the signature.
func (s SignatureData) String() string {
	return hex.EncodeToString(s[:])
}

// MarshalJSON encodes the signature as a hex string.
func (s SignatureData) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf(`"%s"`, s.String())), nil
}

// Signature is one guardian's signature over the signing digest.
type Signature struct {
	// Index is the position of the signing guardian within its set.
	Index uint8 `json:"index"`
	// Signature is the compact signature data.
	Signature SignatureData `json:"signature"`
}

// VAA is a decoded Verified Action Approval: a header naming the guardian
// set and carrying its signatures, an envelope identifying the emitter,
// and an opaque payload.
type VAA struct {
	Version          uint8
	GuardianSetIndex uint32
	Signatures       []*Signature

	Timestamp        uint32
	Nonce            uint32
	EmitterChain     uint16
	EmitterAddress   Address
	Sequence         uint64
	ConsistencyLevel uint8
	Payload          []byte
}

// Unmarshal decodes a VAA with per-read bounds checking. The payload is
// the unprefixed remainder of the buffer and may be empty.
func Unmarshal(data []byte) (*VAA, error) {
	if len(data) < minVAALength {
		return nil, &codec.OutOfBoundsError{Offset: minVAALength, Length: len(data)}
	}

	v := &VAA{}
	off := 0

	var err error
	v.Version, off, err = codec.ReadUintChecked[uint8](data, off)
	if err != nil {
		return nil, fmt.Errorf("failed to read version: %w", err)
	}
	if v.Version != SupportedVAAVersion {
		return nil, &InvalidVersionError{Got: v.Version}
	}

	v.GuardianSetIndex, off, err = codec.ReadUintChecked[uint32](data, off)
	if err != nil {
		return nil, fmt.Errorf("failed to read guardian set index: %w", err)
	}

	var sigCount uint8
	sigCount, off, err = codec.ReadUintChecked[uint8](data, off)
	if err != nil {
		return nil, fmt.Errorf("failed to read signature count: %w", err)
	}

	v.Signatures = make([]*Signature, 0, sigCount)
	for i := 0; i < int(sigCount); i++ {
		sig := &Signature{}

		sig.Index, off, err = codec.ReadUintChecked[uint8](data, off)
		if err != nil {
			return nil, fmt.Errorf("failed to read signature %d: %w", i, err)
		}

		var raw []byte
		raw, off, err = codec.ReadBytesChecked(data, off, 65)
		if err != nil {
			return nil, fmt.Errorf("failed to read signature %d: %w", i, err)
		}
		copy(sig.Signature[:], raw)

		v.Signatures = append(v.Signatures, sig)
	}

	off, err = unmarshalEnvelope(v, data, off)
	if err != nil {
		return nil, err
	}

	v.Payload = data[off:]
	return v, nil
}

// UnmarshalUnchecked decodes a VAA using unchecked reads and a single
// trailing bounds check. It additionally returns the offset at which the
// body (envelope plus payload) begins, so hot paths can hash the signed
// region straight out of the raw buffer. Version validation still applies.
func UnmarshalUnchecked(data []byte) (*VAA, int, error) {
	v := &VAA{}
	off := 0

	v.Version, off = codec.ReadUint[uint8](data, off)
	v.GuardianSetIndex, off = codec.ReadUint[uint32](data, off)

	var sigCount uint8
	sigCount, off = codec.ReadUint[uint8](data, off)

	v.Signatures = make([]*Signature, 0, sigCount)
	for i := 0; i < int(sigCount); i++ {
		sig := &Signature{}

		sig.Index, off = codec.ReadUint[uint8](data, off)

		var raw []byte
		raw, off = codec.ReadBytes(data, off, 65)
		copy(sig.Signature[:], raw)

		v.Signatures = append(v.Signatures, sig)
	}

	bodyOffset := off

	v.Timestamp, off = codec.ReadUint[uint32](data, off)
	v.Nonce, off = codec.ReadUint[uint32](data, off)
	v.EmitterChain, off = codec.ReadUint[uint16](data, off)

	var addr []byte
	addr, off = codec.ReadBytes(data, off, 32)
	copy(v.EmitterAddress[:], addr)

	v.Sequence, off = codec.ReadUint[uint64](data, off)
	v.ConsistencyLevel, off = codec.ReadUint[uint8](data, off)

	if off <= len(data) {
		v.Payload = data[off:]
		off = len(data)
	}
	if err := codec.CheckLength(off, len(data)); err != nil {
		return nil, 0, err
	}
	if v.Version != SupportedVAAVersion {
		return nil, 0, &InvalidVersionError{Got: v.Version}
	}

	return v, bodyOffset, nil
}

func unmarshalEnvelope(v *VAA, data []byte, off int) (int, error) {
	var err error

	v.Timestamp, off, err = codec.ReadUintChecked[uint32](data, off)
	if err != nil {
		return 0, fmt.Errorf("failed to read timestamp: %w", err)
	}

	v.Nonce, off, err = codec.ReadUintChecked[uint32](data, off)
	if err != nil {
		return 0, fmt.Errorf("failed to read nonce: %w", err)
	}

	v.EmitterChain, off, err = codec.ReadUintChecked[uint16](data, off)
	if err != nil {
		return 0, fmt.Errorf("failed to read emitter chain: %w", err)
	}

	var addr []byte
	addr, off, err = codec.ReadBytesChecked(data, off, 32)
	if err != nil {
		return 0, fmt.Errorf("failed to read emitter address: %w", err)
	}
	copy(v.EmitterAddress[:], addr)

	v.Sequence, off, err = codec.ReadUintChecked[uint64](data, off)
	if err != nil {
		return 0, fmt.Errorf("failed to read sequence: %w", err)
	}

	v.ConsistencyLevel, off, err = codec.ReadUintChecked[uint8](data, off)
	if err != nil {
		return 0, fmt.Errorf("failed to read consistency level: %w", err)
	}

	return off, nil
}

// Marshal encodes the VAA back to its wire representation. It is the
// exact inverse of Unmarshal.
func (v *VAA) Marshal() ([]byte, error) {
	if len(v.Signatures) > 255 {
		return nil, fmt.Errorf("too many signatures: %d", len(v.Signatures))
	}

	buf := new(bytes.Buffer)
	buf.WriteByte(v.Version)
	mustWrite(buf, v.GuardianSetIndex)
	buf.WriteByte(uint8(len(v.Signatures)))

	for _, sig := range v.Signatures {
		buf.WriteByte(sig.Index)
		buf.Write(sig.Signature[:])
	}

	buf.Write(v.serializeBody())
	return buf.Bytes(), nil
}

// serializeBody encodes the envelope followed by the payload. This is the
// byte region guardians sign over (after double hashing).
func (v *VAA) serializeBody() []byte {
	buf := new(bytes.Buffer)
	mustWrite(buf, v.Timestamp)
	mustWrite(buf, v.Nonce)
	mustWrite(buf, v.EmitterChain)
	buf.Write(v.EmitterAddress[:])
	mustWrite(buf, v.Sequence)
	buf.WriteByte(v.ConsistencyLevel)
	buf.Write(v.Payload)
	return buf.Bytes()
}

func mustWrite(buf *bytes.Buffer, v any) {
	if err := binary.Write(buf, binary.BigEndian, v); err != nil {
		panic(fmt.Sprintf("failed to write binary data: %v", err))
	}
}

// BodyHash computes the single hash of a serialized body:
// keccak256(envelope || payload). This is the canonical key for hash-keyed
// replay protection.
func BodyHash(body []byte) common.Hash {
	return common.BytesToHash(crypto.Keccak256(body))
}

// SigningHash computes the double hash of a serialized body:
// keccak256(keccak256(envelope || payload)). This is the digest guardians
// actually sign. The single and double hashes are not interchangeable.
func SigningHash(body []byte) common.Hash {
	single := BodyHash(body)
	return common.BytesToHash(crypto.Keccak256(single.Bytes()))
}

// BodyDigest returns the single hash of this VAA's body.
func (v *VAA) BodyDigest() common.Hash {
	return BodyHash(v.serializeBody())
}

// SigningDigest returns the double hash of this VAA's body, the digest the
// guardian signatures are recovered against.
func (v *VAA) SigningDigest() common.Hash {
	return SigningHash(v.serializeBody())
}

// HexDigest returns the hex representation of the signing digest.
func (v *VAA) HexDigest() string {
	return hex.EncodeToString(v.SigningDigest().Bytes())
}

// MessageID returns the canonical "<chain>/<emitter>/<sequence>" identity
// of this VAA, used for logging and storage keys.
func (v *VAA) MessageID() string {
	return fmt.Sprintf("%d/%s/%d", v.EmitterChain, v.EmitterAddress, v.Sequence)
}

// AddSignature signs the VAA with the given key and appends the signature
// attributed to the given guardian index. Intended for tests and tooling.
func (v *VAA) AddSignature(key *ecdsa.PrivateKey, index uint8) {
	digest := v.SigningDigest()
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		panic(err)
	}

	sigData := SignatureData{}
	copy(sigData[:], sig)

	v.Signatures = append(v.Signatures, &Signature{
		Index:     index,
		Signature: sigData,
	})
}

// MarshalJSON encodes the VAA for diagnostics.
func (v *VAA) MarshalJSON() ([]byte, error) {
	type alias VAA
	return json.Marshal((*alias)(v))
}
