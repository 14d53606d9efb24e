// Package signature encodes and verifies the off-chain authorizations that
// gate bonding registration: a packed message signed by the trusted
// backend signer with an Ethereum personal-message (EIP-191) signature.
package signature

import (
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// SelectorRegister prefixes every registration message.
var SelectorRegister = [4]byte{0x85, 0x80, 0x97, 0x4c}

// Length of an r||s||v signature.
const Length = 65

// Default validity window of an authorization.
const (
	DefaultMaxAge       = 5 * time.Minute
	DefaultMaxClockSkew = 60 * time.Second
)

var (
	ErrInvalidSignature     = errors.New("Invalid signature!")
	ErrExpiredAuthorization = errors.New("Expired authorization!")
)

// PackRegister builds selector || name || user || uint256(timestamp), the
// abi.encodePacked layout of the registration message.
func PackRegister(name string, user common.Address, timestamp uint64) []byte {
	out := make([]byte, 0, 4+len(name)+common.AddressLength+32)
	out = append(out, SelectorRegister[:]...)
	out = append(out, name...)
	out = append(out, user.Bytes()...)
	var word [32]byte
	binary.BigEndian.PutUint64(word[24:], timestamp)
	return append(out, word[:]...)
}

// Hash returns the EIP-191 personal-message digest of msg.
func Hash(msg []byte) common.Hash {
	return common.BytesToHash(accounts.TextHash(msg))
}

// Sign produces an r||s||v signature over the personal-message hash of msg,
// with v in {27, 28} as wallets emit it.
func Sign(msg []byte, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(msg), key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// RecoverAddress returns the address that signed msg. v may be 0/1 or 27/28.
func RecoverAddress(msg, sig []byte) (common.Address, error) {
	if len(sig) != Length {
		return common.Address{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidSignature, Length, len(sig))
	}

	normalized := make([]byte, Length)
	copy(normalized, sig)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}
	if normalized[crypto.RecoveryIDOffset] > 1 {
		return common.Address{}, fmt.Errorf("%w: bad recovery id", ErrInvalidSignature)
	}

	pub, err := crypto.SigToPub(accounts.TextHash(msg), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// DecodeHex parses a 0x-prefixed hex signature.
func DecodeHex(s string) ([]byte, error) {
	sig, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return sig, nil
}

// Verifier checks signatures against a trusted signer and a validity window.
// The zero value uses the default window and the wall clock.
type Verifier struct {
	MaxAge       time.Duration
	MaxClockSkew time.Duration
	Now          func() time.Time
}

// NewVerifier returns a Verifier with the given maximum age (0 = default).
func NewVerifier(maxAge time.Duration) *Verifier {
	return &Verifier{MaxAge: maxAge}
}

// Verify checks that sig over msg was produced by signer and that timestamp
// (unix seconds) is neither older than MaxAge nor further than MaxClockSkew
// in the future. Replays inside the window are accepted.
func (v *Verifier) Verify(msg, sig []byte, signer common.Address, timestamp uint64) error {
	recovered, err := RecoverAddress(msg, sig)
	if err != nil {
		return err
	}
	if recovered != signer {
		return ErrInvalidSignature
	}
	return v.CheckWindow(timestamp)
}

// CheckWindow applies only the time bound of Verify.
func (v *Verifier) CheckWindow(timestamp uint64) error {
	now := v.now()
	if timestamp > math.MaxInt64 {
		return ErrExpiredAuthorization
	}
	issued := time.Unix(int64(timestamp), 0)

	if now.Sub(issued) > v.maxAge() {
		return fmt.Errorf("%w: issued %s ago", ErrExpiredAuthorization, now.Sub(issued).Truncate(time.Second))
	}
	if issued.Sub(now) > v.maxSkew() {
		return fmt.Errorf("%w: issued in the future", ErrExpiredAuthorization)
	}
	return nil
}

func (v *Verifier) now() time.Time {
	if v == nil || v.Now == nil {
		return time.Now()
	}
	return v.Now()
}

func (v *Verifier) maxAge() time.Duration {
	if v == nil || v.MaxAge <= 0 {
		return DefaultMaxAge
	}
	return v.MaxAge
}

func (v *Verifier) maxSkew() time.Duration {
	if v == nil || v.MaxClockSkew <= 0 {
		return DefaultMaxClockSkew
	}
	return v.MaxClockSkew
}
