package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/swivlabs/swiv-engine/internal/domain"
)

// ProtocolService defines the admin operations the protocol handler requires
// from the service layer.
type ProtocolService interface {
	Initialize(ctx context.Context, admin, treasury common.Address, feeBps uint64) (domain.ProtocolConfig, error)
	Update(ctx context.Context, actor common.Address, upd domain.ConfigUpdate) error
	SetPaused(ctx context.Context, actor common.Address, paused bool) error
	TransferAdmin(ctx context.Context, actor, newAdmin common.Address) error
	Get(ctx context.Context) (domain.ProtocolConfig, error)
}

// ProtocolHandler serves protocol-config HTTP endpoints.
type ProtocolHandler struct {
	protocol ProtocolService
	logger   *slog.Logger
}

// NewProtocolHandler creates a ProtocolHandler with the given service.
func NewProtocolHandler(protocol ProtocolService, logger *slog.Logger) *ProtocolHandler {
	return &ProtocolHandler{
		protocol: protocol,
		logger:   logger,
	}
}

// GetConfig returns the current protocol config.
// GET /api/protocol
func (h *ProtocolHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.protocol.Get(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

type initializeRequest struct {
	Admin    string `json:"admin"`
	Treasury string `json:"treasury"`
	FeeBps   uint64 `json:"fee_bps"`
}

// Initialize creates the protocol config singleton.
// POST /api/protocol/initialize
func (h *ProtocolHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	var req initializeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	admin, err := parseAddress(req.Admin)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	treasury, err := parseAddress(req.Treasury)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg, err := h.protocol.Initialize(r.Context(), admin, treasury, req.FeeBps)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

type updateConfigRequest struct {
	Actor            string  `json:"actor"`
	Treasury         *string `json:"treasury,omitempty"`
	FeeBps           *uint64 `json:"fee_bps,omitempty"`
	RefundPenaltyBps *uint64 `json:"refund_penalty_bps,omitempty"`
	BatchSettleWait  *int64  `json:"batch_settle_wait,omitempty"`
}

// UpdateConfig applies the optional fields of the request. Admin-gated by
// the service.
// PATCH /api/protocol
func (h *ProtocolHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req updateConfigRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	actor, err := parseAddress(req.Actor)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	upd := domain.ConfigUpdate{
		FeeBps:           req.FeeBps,
		RefundPenaltyBps: req.RefundPenaltyBps,
		BatchSettleWait:  req.BatchSettleWait,
	}
	if req.Treasury != nil {
		treasury, err := parseAddress(*req.Treasury)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		upd.Treasury = &treasury
	}

	if err := h.protocol.Update(r.Context(), actor, upd); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

type pauseRequest struct {
	Actor  string `json:"actor"`
	Paused bool   `json:"paused"`
}

// SetPaused flips the circuit breaker.
// POST /api/protocol/pause
func (h *ProtocolHandler) SetPaused(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	actor, err := parseAddress(req.Actor)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.protocol.SetPaused(r.Context(), actor, req.Paused); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": req.Paused})
}

type transferAdminRequest struct {
	Actor    string `json:"actor"`
	NewAdmin string `json:"new_admin"`
}

// TransferAdmin hands the admin role to a new address.
// POST /api/protocol/admin
func (h *ProtocolHandler) TransferAdmin(w http.ResponseWriter, r *http.Request) {
	var req transferAdminRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	actor, err := parseAddress(req.Actor)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	newAdmin, err := parseAddress(req.NewAdmin)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.protocol.TransferAdmin(r.Context(), actor, newAdmin); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"admin": newAdmin.Hex()})
}
