// Package verify implements quorum verification of VAA signatures against
// versioned guardian sets, including the one-shot rotation fallback.
package verify

import (
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/crosslane/vaa-go/pkg/guardian"
	"github.com/crosslane/vaa-go/pkg/vaa"
)

// ErrVerificationFailed is returned for every verification failure. It is
// deliberately opaque: revealing which signature failed, or why, would
// hand an attacker a fine-grained oracle.
var ErrVerificationFailed = errors.New("VAA verification failed")

// Variant names the entry point that produced a verification result.
type Variant string

const (
	// VariantClaimedIndex verifies against the guardian set index the VAA
	// itself claims, with the rotation fallback.
	VariantClaimedIndex Variant = "claimed-index"

	// VariantBareHash verifies a bare digest against some historically
	// valid guardian set, walking back from the current one.
	VariantBareHash Variant = "bare-hash"
)

// Result describes a successful verification.
type Result struct {
	// VAA is the decoded message. Nil for bare-hash verification.
	VAA *vaa.VAA

	// GuardianSetIndex is the index of the set that satisfied quorum.
	GuardianSetIndex uint32

	// Variant is the entry point that produced this result.
	Variant Variant

	// UsedFallback is set when the claimed set was expired and quorum was
	// satisfied by the current set instead.
	UsedFallback bool
}

// Verifier checks VAA signature quorums against a guardian set registry.
type Verifier struct {
	registry guardian.Registry
	logger   *zap.Logger
	now      func() uint64
}

// NewVerifier creates a Verifier backed by the given registry.
func NewVerifier(registry guardian.Registry, logger *zap.Logger) *Verifier {
	return &Verifier{
		registry: registry,
		logger:   logger,
		now:      func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// VerifySignatures checks that the supplied signatures, in the order
// supplied, are valid signatures over digest by the guardians at their
// claimed indexes. Guardian indexes must be strictly ascending; this
// doubles as duplicate detection and must not be bypassed by reordering.
// There is no partial credit: one bad signature rejects the whole batch.
// Quorum is checked separately by the callers.
func VerifySignatures(digest common.Hash, sigs []*vaa.Signature, keys []common.Address) bool {
	last := -1
	for _, sig := range sigs {
		idx := int(sig.Index)

		if idx <= last {
			return false
		}
		if idx >= len(keys) {
			return false
		}

		pubKey, err := crypto.SigToPub(digest.Bytes(), sig.Signature[:])
		if err != nil {
			return false
		}
		if crypto.PubkeyToAddress(*pubKey) != keys[idx] {
			return false
		}

		last = idx
	}

	return true
}

// verifyQuorum runs the quorum pre-check before any signature recovery,
// then validates the batch.
func verifyQuorum(digest common.Hash, sigs []*vaa.Signature, set *guardian.Set) bool {
	if len(sigs) < guardian.Quorum(len(set.Keys)) {
		return false
	}
	return VerifySignatures(digest, sigs, set.Keys)
}

// VerifyVAA verifies a decoded VAA against the guardian set index it
// claims. If that set has expired, the verification is retried exactly
// once against the registry's current set: a rotation typically swaps a
// single guardian key, so the same signatures often still satisfy the new
// set. The fallback is never chained further.
func (ver *Verifier) VerifyVAA(v *vaa.VAA) (*Result, error) {
	return ver.verifyDigest(v, v.SigningDigest())
}

// DecodeAndVerify decodes raw bytes and verifies the result. Decoding uses
// the unchecked fast path and hashes the signed body region straight out
// of the input buffer. Parse errors surface as-is; verification failures
// are opaque.
func (ver *Verifier) DecodeAndVerify(data []byte) (*Result, error) {
	v, bodyOffset, err := vaa.UnmarshalUnchecked(data)
	if err != nil {
		return nil, err
	}

	return ver.verifyDigest(v, vaa.SigningHash(data[bodyOffset:]))
}

func (ver *Verifier) verifyDigest(v *vaa.VAA, digest common.Hash) (*Result, error) {
	set, err := ver.registry.GetGuardianSet(v.GuardianSetIndex)
	if err != nil {
		ver.logger.Debug("guardian set lookup failed",
			zap.Uint32("guardianSetIndex", v.GuardianSetIndex),
			zap.Error(err),
		)
		return nil, ErrVerificationFailed
	}

	if !set.Expired(ver.now()) {
		if !verifyQuorum(digest, v.Signatures, set) {
			return nil, ErrVerificationFailed
		}
		return &Result{
			VAA:              v,
			GuardianSetIndex: set.Index,
			Variant:          VariantClaimedIndex,
		}, nil
	}

	// Claimed set expired: retry once against the current set.
	currentIndex, err := ver.registry.GetCurrentGuardianSetIndex()
	if err != nil {
		return nil, ErrVerificationFailed
	}

	current, err := ver.registry.GetGuardianSet(currentIndex)
	if err != nil {
		return nil, ErrVerificationFailed
	}

	if !verifyQuorum(digest, v.Signatures, current) {
		return nil, ErrVerificationFailed
	}

	ver.logger.Debug("verified against current guardian set after claimed set expired",
		zap.Uint32("claimedIndex", v.GuardianSetIndex),
		zap.Uint32("currentIndex", currentIndex),
	)

	return &Result{
		VAA:              v,
		GuardianSetIndex: currentIndex,
		Variant:          VariantClaimedIndex,
		UsedFallback:     true,
	}, nil
}

// VerifyHash verifies a bare digest, with no claimed set index, against
// some historically valid guardian set. It starts at the current set and
// walks backward one index at a time, as long as each visited set is
// itself unexpired, stopping at the first success, at index 0, or at the
// first expired set.
func (ver *Verifier) VerifyHash(digest common.Hash, sigs []*vaa.Signature) (*Result, error) {
	index, err := ver.registry.GetCurrentGuardianSetIndex()
	if err != nil {
		return nil, ErrVerificationFailed
	}

	now := ver.now()
	for {
		set, err := ver.registry.GetGuardianSet(index)
		if err != nil {
			return nil, ErrVerificationFailed
		}
		if set.Expired(now) {
			return nil, ErrVerificationFailed
		}

		if verifyQuorum(digest, sigs, set) {
			return &Result{
				GuardianSetIndex: index,
				Variant:          VariantBareHash,
			}, nil
		}

		if index == 0 {
			return nil, ErrVerificationFailed
		}
		index--
	}
}
