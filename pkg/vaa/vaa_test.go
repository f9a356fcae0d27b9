package vaa

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosslane/vaa-go/pkg/codec"
)

func getVaa() VAA {
	payload := []byte{97, 97, 97, 97, 97, 97}
	governanceEmitter := Address{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 4}

	return VAA{
		Version:          uint8(1),
		GuardianSetIndex: uint32(1),
		Signatures:       []*Signature{},
		Timestamp:        0,
		Nonce:            uint32(1),
		Sequence:         uint64(1),
		ConsistencyLevel: uint8(32),
		EmitterChain:     1,
		EmitterAddress:   governanceEmitter,
		Payload:          payload,
	}
}

func TestMinVAALength(t *testing.T) {
	assert.Equal(t, 57, minVAALength)
}

func TestSerializeBody(t *testing.T) {
	v := getVaa()
	expected := []byte{0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x1, 0x0, 0x1, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x4, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x1, 0x20, 0x61, 0x61, 0x61, 0x61, 0x61, 0x61}
	assert.Equal(t, expected, v.serializeBody())
}

func TestSigningDigest(t *testing.T) {
	v := getVaa()
	expected := common.HexToHash("4fae136bb1fd782fe1b5180ba735cdc83bcece3f9b7fd0e5e35300a61c8acd8f")
	assert.Equal(t, expected, v.SigningDigest())
}

func TestHexDigest(t *testing.T) {
	v := getVaa()
	expected := "4fae136bb1fd782fe1b5180ba735cdc83bcece3f9b7fd0e5e35300a61c8acd8f"
	assert.Equal(t, expected, v.HexDigest())
}

func TestSingleAndDoubleHashDiffer(t *testing.T) {
	v := getVaa()

	single := v.BodyDigest()
	double := v.SigningDigest()

	assert.NotEqual(t, single, double)
	assert.Equal(t, common.BytesToHash(crypto.Keccak256(single.Bytes())), double)
}

func TestMessageID(t *testing.T) {
	v := getVaa()
	expected := "1/0000000000000000000000000000000000000000000000000000000000000004/1"
	assert.Equal(t, expected, v.MessageID())
}

func TestMarshal(t *testing.T) {
	expectedBytes := []byte{0x1, 0x0, 0x0, 0x0, 0x1, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x1, 0x0, 0x1, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x4, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x1, 0x20, 0x61, 0x61, 0x61, 0x61, 0x61, 0x61}
	v := getVaa()
	marshaled, err := v.Marshal()
	require.NoError(t, err)
	assert.Equal(t, expectedBytes, marshaled)
}

func TestUnmarshal(t *testing.T) {
	vaaBytes := []byte{0x1, 0x0, 0x0, 0x0, 0x1, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x1, 0x0, 0x1, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x4, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x1, 0x20, 0x61, 0x61, 0x61, 0x61, 0x61, 0x61}
	expected := getVaa()

	got, err := Unmarshal(vaaBytes)
	require.NoError(t, err)
	assert.Equal(t, &expected, got)
}

func TestUnmarshalNoPayload(t *testing.T) {
	vaaBytes := []byte{0x1, 0x0, 0x0, 0x0, 0x1, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x1, 0x0, 0x1, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x4, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x1, 0x20}

	got, err := Unmarshal(vaaBytes)
	require.NoError(t, err)
	assert.Empty(t, got.Payload)
}

func TestRoundTrip(t *testing.T) {
	v := getVaa()

	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	require.NoError(t, err)
	v.AddSignature(key, 0)

	data, err := v.Marshal()
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, &v, got)

	// decode(encode(x)) reproduces the original bytes exactly.
	data2, err := got.Marshal()
	require.NoError(t, err)
	assert.Equal(t, data, data2)
}

func TestUnmarshalTooShort(t *testing.T) {
	_, err := Unmarshal([]byte{})
	require.Error(t, err)

	var oobErr *codec.OutOfBoundsError
	require.ErrorAs(t, err, &oobErr)

	_, err = Unmarshal(make([]byte, minVAALength-1))
	require.Error(t, err)
}

func TestUnmarshalTruncatedSignatures(t *testing.T) {
	v := getVaa()
	key, _ := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	v.AddSignature(key, 0)

	data, err := v.Marshal()
	require.NoError(t, err)

	// Claim one more signature than the buffer carries.
	data[5] = 2
	_, err = Unmarshal(data)
	require.Error(t, err)
}

func TestUnmarshalInvalidVersion(t *testing.T) {
	v := getVaa()
	data, err := v.Marshal()
	require.NoError(t, err)

	data[0] = 2
	_, err = Unmarshal(data)
	require.Error(t, err)

	var versionErr *InvalidVersionError
	require.ErrorAs(t, err, &versionErr)
	assert.Equal(t, uint8(2), versionErr.Got)

	_, _, err = UnmarshalUnchecked(data)
	require.ErrorAs(t, err, &versionErr)
}

func TestUnmarshalUncheckedMatchesChecked(t *testing.T) {
	v := getVaa()
	key, _ := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	v.AddSignature(key, 0)
	v.AddSignature(key, 1)

	data, err := v.Marshal()
	require.NoError(t, err)

	checked, err := Unmarshal(data)
	require.NoError(t, err)

	unchecked, bodyOffset, err := UnmarshalUnchecked(data)
	require.NoError(t, err)
	assert.Equal(t, checked, unchecked)

	// The body offset addresses the signed region of the raw buffer.
	assert.Equal(t, headerLength+2*signatureLength, bodyOffset)
	assert.Equal(t, checked.SigningDigest(), SigningHash(data[bodyOffset:]))
	assert.Equal(t, checked.BodyDigest(), BodyHash(data[bodyOffset:]))
}

func TestUnmarshalUncheckedTruncated(t *testing.T) {
	v := getVaa()
	data, err := v.Marshal()
	require.NoError(t, err)

	// Claiming signatures that are not present must be caught by the
	// single trailing bound check, not by a panic.
	data[5] = 3
	_, _, err = UnmarshalUnchecked(data)
	require.Error(t, err)

	var lengthErr *codec.LengthMismatchError
	require.ErrorAs(t, err, &lengthErr)

	// A bare prefix fails the same way.
	_, _, err = UnmarshalUnchecked(data[:10])
	require.Error(t, err)
}

func TestUnmarshalBigPayload(t *testing.T) {
	v := getVaa()

	payload := make([]byte, 2000)
	for i := range payload {
		payload[i] = byte(i % 255)
	}
	v.Payload = payload

	data, err := v.Marshal()
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, v, *got)
}

func FuzzRoundTripPayload(f *testing.F) {
	f.Add([]byte{})
	f.Add([]byte{0xde, 0xad, 0xbe, 0xef})
	f.Fuzz(func(t *testing.T, payload []byte) {
		v := getVaa()
		v.Payload = payload

		data, err := v.Marshal()
		require.NoError(t, err)

		got, err := Unmarshal(data)
		require.NoError(t, err)
		assert.Equal(t, payload, append([]byte{}, got.Payload...))

		data2, err := got.Marshal()
		require.NoError(t, err)
		assert.Equal(t, data, data2)
	})
}

func TestAddSignature(t *testing.T) {
	v := getVaa()
	assert.Equal(t, []*Signature{}, v.Signatures)

	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	require.NoError(t, err)

	v.AddSignature(key, 3)
	require.Len(t, v.Signatures, 1)
	assert.Equal(t, uint8(3), v.Signatures[0].Index)

	// The signature must recover to the signing key's address.
	pubKey, err := crypto.SigToPub(v.SigningDigest().Bytes(), v.Signatures[0].Signature[:])
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), crypto.PubkeyToAddress(*pubKey))
}

func TestStringToAddress(t *testing.T) {
	tests := []struct {
		label     string
		rawAddr   string
		addr      Address
		errString string
	}{
		{label: "simple",
			rawAddr: "0000000000000000000000000000000000000000000000000000000000000004",
			addr:    Address{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 4}},
		{label: "zero-padding",
			rawAddr: "04",
			addr:    Address{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 4}},
		{label: "trim-0x",
			rawAddr: "0x04",
			addr:    Address{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 4}},
		{label: "20byte eth-style address",
			rawAddr: "0x0290FB167208Af455bB137780163b7B7a9a10C16",
			addr:    Address{0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x2, 0x90, 0xfb, 0x16, 0x72, 0x8, 0xaf, 0x45, 0x5b, 0xb1, 0x37, 0x78, 0x1, 0x63, 0xb7, 0xb7, 0xa9, 0xa1, 0xc, 0x16}},
		{label: "too long",
			rawAddr:   "0x0000000000000000000000000000000000000000000000000000000000000000000004",
			errString: "value must be no more than 32 bytes"},
		{label: "too short",
			rawAddr:   "4",
			errString: "value must be at least 1 byte"},
		{label: "empty string",
			rawAddr:   "",
			errString: "value must be at least 1 byte"},
	}

	for _, tc := range tests {
		t.Run(tc.label, func(t *testing.T) {
			addr, err := StringToAddress(tc.rawAddr)
			if tc.errString == "" {
				require.NoError(t, err)
				assert.Equal(t, tc.addr, addr)
			} else {
				require.Error(t, err)
				assert.Equal(t, tc.errString, err.Error())
			}
		})
	}
}

func TestBytesToAddress(t *testing.T) {
	addrStr := "0000000000000000000000003ee18b2214aff97000d974cf647e7c347e8fa585"
	expected, err := StringToAddress(addrStr)
	require.NoError(t, err)

	addrBytes, err := hex.DecodeString(addrStr)
	require.NoError(t, err)

	addr, err := BytesToAddress(addrBytes)
	require.NoError(t, err)
	assert.Equal(t, expected, addr)

	// Short inputs are left-padded with zeros.
	short, err := BytesToAddress(addrBytes[4:])
	require.NoError(t, err)
	assert.Equal(t, expected, short)

	// More than 32 bytes is rejected.
	_, err = BytesToAddress(append([]byte{0, 0}, addrBytes...))
	require.Error(t, err)
}

func TestAddressJSONRoundTrip(t *testing.T) {
	addr, err := StringToAddress("0x0290fb167208af455bb137780163b7b7a9a10c16")
	require.NoError(t, err)

	b, err := json.Marshal(addr)
	require.NoError(t, err)

	var got Address
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, addr, got)
}

func TestSignatureDataString(t *testing.T) {
	sigData := SignatureData{}
	sigData[31] = 4
	sigData[63] = 4

	expected := "0000000000000000000000000000000000000000000000000000000000000004000000000000000000000000000000000000000000000000000000000000000400"
	assert.Equal(t, expected, sigData.String())
}
