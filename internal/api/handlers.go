package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"

	"github.com/bondings/bondings/internal/ledger"
	"github.com/bondings/bondings/internal/logging"
	"github.com/bondings/bondings/internal/signature"
	"github.com/ethereum/go-ethereum/common"
)

// LaunchRequest is the body of POST /v1/bondings
type LaunchRequest struct {
	Name      string `json:"name"`
	Symbol    string `json:"symbol,omitempty"`
	Timestamp uint64 `json:"timestamp"`
	Signature string `json:"signature"`
}

// LaunchResponse is returned by POST /v1/bondings
type LaunchResponse struct {
	ID     ledger.BondingID `json:"id"`
	Name   string           `json:"name"`
	Symbol string           `json:"symbol"`
}

// TradeRequest is the body of buy and sell calls. Limit is the maximum
// payment for buys and the minimum payout for sells; omit it for no bound.
type TradeRequest struct {
	Amount uint64   `json:"amount"`
	Limit  *big.Int `json:"limit,omitempty"`
}

// TransferRequest is the body of POST /v1/bondings/{name}/transfer
type TransferRequest struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// TransferResponse reports balances after a transfer.
type TransferResponse struct {
	Name      string         `json:"name"`
	From      common.Address `json:"from"`
	To        common.Address `json:"to"`
	Amount    uint64         `json:"amount"`
	FromShare uint64         `json:"from_share"`
	ToShare   uint64         `json:"to_share"`
}

// ShareResponse is returned by GET /v1/bondings/{name}/shares/{address}
type ShareResponse struct {
	Name       string         `json:"name"`
	Account    common.Address `json:"account"`
	Share      uint64         `json:"share"`
	TotalShare uint64         `json:"total_share"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// handleListBondings handles GET /v1/bondings
func (s *Server) handleListBondings(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"bondings": s.ledger.Snapshots(),
	})
}

// handleGetBonding handles GET /v1/bondings/{name}
func (s *Server) handleGetBonding(w http.ResponseWriter, r *http.Request) {
	b, err := s.ledger.Bonding(r.PathValue("name"))
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, b)
}

// handleUserShare handles GET /v1/bondings/{name}/shares/{address}
func (s *Server) handleUserShare(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	raw := r.PathValue("address")
	if !common.IsHexAddress(raw) {
		s.writeError(w, http.StatusBadRequest, "invalid address", "invalid_address")
		return
	}
	account := common.HexToAddress(raw)

	share, err := s.ledger.UserShare(name, account)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	total, err := s.ledger.GetBondingsTotalShare(name)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ShareResponse{
		Name:       name,
		Account:    account,
		Share:      share,
		TotalShare: total,
	})
}

// handleQuote handles GET /v1/bondings/{name}/quote?side=buy|sell&amount=N
func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	amount, err := strconv.ParseUint(r.URL.Query().Get("amount"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "amount must be a non-negative integer", "invalid_request")
		return
	}

	var q *ledger.Quote
	switch side := r.URL.Query().Get("side"); ledger.Side(side) {
	case ledger.SideBuy, "":
		q, err = s.ledger.QuoteBuy(name, amount)
	case ledger.SideSell:
		q, err = s.ledger.QuoteSell(name, amount)
	default:
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown side %q", side), "invalid_request")
		return
	}
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, q)
}

// handleLaunch handles POST /v1/bondings
func (s *Server) handleLaunch(w http.ResponseWriter, r *http.Request) {
	var req LaunchRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body", "invalid_request")
		return
	}
	sig, err := signature.DecodeHex(req.Signature)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}

	id, err := s.ledger.LaunchBondings(r.Context(), callerFrom(r.Context()), ledger.LaunchRequest{
		Name:      req.Name,
		Symbol:    req.Symbol,
		Timestamp: req.Timestamp,
		Signature: sig,
	})
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}

	b, err := s.ledger.BondingByID(id)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, LaunchResponse{ID: id, Name: b.Name, Symbol: b.Symbol})
}

// handleBuy handles POST /v1/bondings/{name}/buy
func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body", "invalid_request")
		return
	}
	rc, err := s.ledger.BuyBondings(r.Context(), callerFrom(r.Context()), r.PathValue("name"), req.Amount, req.Limit)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rc)
}

// handleSell handles POST /v1/bondings/{name}/sell
func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body", "invalid_request")
		return
	}
	rc, err := s.ledger.SellBondings(r.Context(), callerFrom(r.Context()), r.PathValue("name"), req.Amount, req.Limit)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rc)
}

// handleTransfer handles POST /v1/bondings/{name}/transfer
func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body", "invalid_request")
		return
	}
	if !common.IsHexAddress(req.To) {
		s.writeLedgerError(w, ledger.ErrInvalidRecipient)
		return
	}

	name := r.PathValue("name")
	from := callerFrom(r.Context())
	to := common.HexToAddress(req.To)
	fromShare, toShare, err := s.ledger.TransferBondings(r.Context(), from, name, to, req.Amount)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, TransferResponse{
		Name:      name,
		From:      from,
		To:        to,
		Amount:    req.Amount,
		FromShare: fromShare,
		ToShare:   toShare,
	})
}

// handleRetrieve handles POST /v1/bondings/{name}/retrieve
func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	st, err := s.ledger.RetrieveAndDeploy(r.Context(), callerFrom(r.Context()), r.PathValue("name"))
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

// handleHealthz handles GET /healthz
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "healthy",
		"bondings": len(s.ledger.Names()),
	})
}

// readJSON decodes a request body, rejecting unknown fields. An empty body
// decodes to the zero value.
func (s *Server) readJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// writeJSON writes JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("response encode failed", logging.Err(err), logging.Component("api"))
	}
}

// writeError writes an error response
func (s *Server) writeError(w http.ResponseWriter, status int, message, code string) {
	s.writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// writeLedgerError maps a ledger error to its status code. Unrecognized
// errors are logged and reported without detail.
func (s *Server) writeLedgerError(w http.ResponseWriter, err error) {
	code := ledger.Code(err)
	status := statusFor(code)
	if status == http.StatusInternalServerError {
		logging.Error("request failed", logging.Err(err), logging.Component("api"))
		s.writeError(w, status, "internal error", code)
		return
	}
	s.writeError(w, status, err.Error(), code)
}

func statusFor(code string) int {
	switch code {
	case "bonding_not_found":
		return http.StatusNotFound
	case "not_authorized", "invalid_signature", "expired_authorization":
		return http.StatusForbidden
	case "name_already_exists", "already_stage_3", "not_stage_3", "already_retrieved",
		"transfer_not_allowed", "custody_shortfall":
		return http.StatusConflict
	case "internal":
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}
