package ledger

import (
	"errors"

	"github.com/bondings/bondings/internal/policy"
	"github.com/bondings/bondings/internal/signature"
)

// Sentinel errors. The messages match the on-chain revert reasons so
// clients can keep matching on them.
var (
	ErrInvalidSignature     = signature.ErrInvalidSignature
	ErrExpiredAuthorization = signature.ErrExpiredAuthorization
	ErrNotAuthorized        = policy.ErrNotAuthorized
	ErrInvalidPolicy        = policy.ErrInvalidPolicy

	ErrNameAlreadyExists  = errors.New("Name already exists!")
	ErrSlippageExceeded   = errors.New("Slippage exceeded!")
	ErrExceedMintLimit    = errors.New("Exceed mint limit!")
	ErrExceedHoldLimit    = errors.New("Exceed hold limit!")
	ErrExceedMaxSupply    = errors.New("Exceed max supply!")
	ErrInsufficientShare  = errors.New("Insufficient share!")
	ErrTransferNotAllowed = errors.New("Transfer not allowed!")
	ErrAlreadyStage3      = errors.New("Bondings already in stage 3!")
	ErrNotStage3          = errors.New("Bondings not in stage 3!")
	ErrAlreadyRetrieved   = errors.New("Bondings already retrieved!")
	ErrBondingNotFound    = errors.New("Bondings not found!")
	ErrZeroAmount         = errors.New("Amount must be positive!")
	ErrInvalidRecipient   = errors.New("Invalid recipient!")
	ErrInvalidName        = errors.New("Invalid name!")
	ErrPaymentFailed      = errors.New("Payment failed!")
	ErrCustodyShortfall   = errors.New("Insufficient custody funds!")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrInvalidSignature, "invalid_signature"},
	{ErrExpiredAuthorization, "expired_authorization"},
	{ErrNotAuthorized, "not_authorized"},
	{ErrInvalidPolicy, "invalid_policy"},
	{ErrNameAlreadyExists, "name_already_exists"},
	{ErrSlippageExceeded, "slippage_exceeded"},
	{ErrExceedMintLimit, "exceed_mint_limit"},
	{ErrExceedHoldLimit, "exceed_hold_limit"},
	{ErrExceedMaxSupply, "exceed_max_supply"},
	{ErrInsufficientShare, "insufficient_share"},
	{ErrTransferNotAllowed, "transfer_not_allowed"},
	{ErrAlreadyStage3, "already_stage_3"},
	{ErrNotStage3, "not_stage_3"},
	{ErrAlreadyRetrieved, "already_retrieved"},
	{ErrBondingNotFound, "bonding_not_found"},
	{ErrZeroAmount, "zero_amount"},
	{ErrInvalidRecipient, "invalid_recipient"},
	{ErrInvalidName, "invalid_name"},
	{ErrPaymentFailed, "payment_failed"},
	{ErrCustodyShortfall, "custody_shortfall"},
}

// Code returns a stable machine-readable reason for err, or "internal"
// when err does not wrap a ledger sentinel.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "internal"
}
