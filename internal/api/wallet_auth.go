package api

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bondings/bondings/internal/signature"
	"github.com/ethereum/go-ethereum/common"
)

// AuthMessagePrefix starts every inline auth message: "bondings-auth:<unix>".
const AuthMessagePrefix = "bondings-auth:"

// Inline wallet auth headers.
const (
	HeaderWalletAddress   = "X-Wallet-Address"
	HeaderWalletSignature = "X-Wallet-Signature"
	HeaderWalletMessage   = "X-Wallet-Message"
)

var (
	errMissingAuth = errors.New("missing wallet auth headers")
	errAuthExpired = errors.New("auth message timestamp expired or invalid")
)

// WalletAuth verifies stateless per-request wallet signatures. The client
// signs AuthMessagePrefix plus the current unix time with personal_sign.
type WalletAuth struct {
	Window time.Duration
	Skew   time.Duration
	Now    func() time.Time
}

// NewWalletAuth returns a verifier accepting messages up to window old.
func NewWalletAuth(window time.Duration) *WalletAuth {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &WalletAuth{Window: window, Skew: time.Minute, Now: time.Now}
}

// AuthMessage returns the message a client signs at t.
func AuthMessage(t time.Time) string {
	return AuthMessagePrefix + strconv.FormatInt(t.Unix(), 10)
}

// VerifyInlineAuth checks the message window and that sig recovers to
// walletAddr, returning the verified address.
func (a *WalletAuth) VerifyInlineAuth(walletAddr, sig, message string) (common.Address, error) {
	if walletAddr == "" || sig == "" || message == "" {
		return common.Address{}, errMissingAuth
	}
	if !common.IsHexAddress(walletAddr) {
		return common.Address{}, fmt.Errorf("invalid wallet address format")
	}

	raw, ok := strings.CutPrefix(message, AuthMessagePrefix)
	if !ok {
		return common.Address{}, fmt.Errorf("auth message must start with %q", AuthMessagePrefix)
	}
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return common.Address{}, errAuthExpired
	}
	now := a.Now().Unix()
	if now-ts > int64(a.Window/time.Second) || ts-now > int64(a.Skew/time.Second) {
		return common.Address{}, errAuthExpired
	}

	sigBytes, err := signature.DecodeHex(sig)
	if err != nil {
		return common.Address{}, err
	}
	recovered, err := signature.RecoverAddress([]byte(message), sigBytes)
	if err != nil {
		return common.Address{}, err
	}
	if recovered != common.HexToAddress(walletAddr) {
		return common.Address{}, fmt.Errorf("signature does not match claimed address")
	}
	return recovered, nil
}
