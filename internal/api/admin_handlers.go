package api

import (
	"net/http"

	"github.com/bondings/bondings/internal/policy"
	"github.com/ethereum/go-ethereum/common"
)

// PolicyUpdateRequest is the body of POST /v1/admin/policy. Fields left out
// are unchanged. Admin, when set, hands over the admin role after the other
// fields are applied.
type PolicyUpdateRequest struct {
	policy.Patch
	Admin *common.Address `json:"admin,omitempty"`
}

// OperatorRequest is the body of POST /v1/admin/operators
type OperatorRequest struct {
	Operator string `json:"operator"`
	Enabled  bool   `json:"enabled"`
}

// handleGetPolicy handles GET /v1/admin/policy
func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.policy.Get())
}

// handleUpdatePolicy handles POST /v1/admin/policy
func (s *Server) handleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	var req PolicyUpdateRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body", "invalid_request")
		return
	}
	if req.Patch.Empty() && req.Admin == nil {
		s.writeError(w, http.StatusBadRequest, "no fields to update", "invalid_request")
		return
	}

	caller := callerFrom(r.Context())
	if !req.Patch.Empty() {
		if err := s.policy.Apply(caller, req.Patch); err != nil {
			s.writeLedgerError(w, err)
			return
		}
	}
	if req.Admin != nil {
		if err := s.policy.TransferAdmin(caller, *req.Admin); err != nil {
			s.writeLedgerError(w, err)
			return
		}
	}
	s.writeJSON(w, http.StatusOK, s.policy.Get())
}

// handleSetOperator handles POST /v1/admin/operators
func (s *Server) handleSetOperator(w http.ResponseWriter, r *http.Request) {
	var req OperatorRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body", "invalid_request")
		return
	}
	if !common.IsHexAddress(req.Operator) {
		s.writeError(w, http.StatusBadRequest, "invalid operator address", "invalid_address")
		return
	}

	if err := s.policy.SetOperator(callerFrom(r.Context()), common.HexToAddress(req.Operator), req.Enabled); err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"operators": s.policy.Get().Operators,
	})
}
