package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/swivlabs/swiv-engine/internal/domain"
	"github.com/swivlabs/swiv-engine/internal/settlement"
)

// BetService defines the bet lifecycle operations on the primary ledger.
type BetService interface {
	PlaceBet(ctx context.Context, actor common.Address, poolID common.Hash, requestID string, amount uint64, commitment common.Hash) (domain.Bet, error)
	RevealBet(ctx context.Context, actor common.Address, betID common.Hash, prediction uint64, salt [32]byte) error
	GetBet(ctx context.Context, id common.Hash) (domain.Bet, error)
}

// DelegatedBetService is the overwrite-and-reveal path available only while
// a bet lives in the delegated environment.
type DelegatedBetService interface {
	RevealBet(ctx context.Context, actor common.Address, betID common.Hash, prediction uint64, salt [32]byte) error
	UpdateBet(ctx context.Context, actor common.Address, betID common.Hash, newPrediction uint64) error
	GetBet(ctx context.Context, id common.Hash) (domain.Bet, error)
}

// BetSettlementService defines the per-bet settlement operations.
type BetSettlementService interface {
	CalculateOutcome(ctx context.Context, betID common.Hash) (settlement.CalcResult, error)
	ClaimReward(ctx context.Context, actor common.Address, betID common.Hash) (uint64, error)
	RefundBet(ctx context.Context, actor common.Address, betID common.Hash) (uint64, error)
	EmergencyRefund(ctx context.Context, actor common.Address, betID common.Hash) (uint64, error)
}

// BetDelegationService defines the per-bet handoff operations.
type BetDelegationService interface {
	DelegateBet(ctx context.Context, actor common.Address, betID common.Hash) error
	UndelegateBet(ctx context.Context, actor common.Address, betID common.Hash) error
	WaitForBet(ctx context.Context, env domain.Environment, betID common.Hash, interval time.Duration) error
}

// BetHandler serves bet-related HTTP endpoints. The delegated-side bet
// service is optional; when absent, delegated-path operations report the
// record as unavailable.
type BetHandler struct {
	bets       BetService
	delegated  DelegatedBetService
	settlement BetSettlementService
	delegation BetDelegationService
	logger     *slog.Logger
}

// NewBetHandler creates a BetHandler with the given services.
func NewBetHandler(bets BetService, delegated DelegatedBetService, settle BetSettlementService, deleg BetDelegationService, logger *slog.Logger) *BetHandler {
	return &BetHandler{
		bets:       bets,
		delegated:  delegated,
		settlement: settle,
		delegation: deleg,
		logger:     logger,
	}
}

type placeBetRequest struct {
	Actor      string `json:"actor"`
	PoolID     string `json:"pool_id"`
	RequestID  string `json:"request_id"`
	Amount     uint64 `json:"amount"`
	Commitment string `json:"commitment"`
}

// PlaceBet locks a stake against a hidden prediction.
// POST /api/bets
func (h *BetHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	var req placeBetRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	actor, err := parseAddress(req.Actor)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	poolID, err := parseHash(req.PoolID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	commitment, err := parseHash(req.Commitment)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Amount == 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	bet, err := h.bets.PlaceBet(r.Context(), actor, poolID, req.RequestID, req.Amount, commitment)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bet)
}

// GetBet returns a single bet, checking the primary ledger first and the
// delegated environment second.
// GET /api/bets/{id}
func (h *BetHandler) GetBet(w http.ResponseWriter, r *http.Request) {
	id, err := parseHash(pathParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	bet, err := h.bets.GetBet(r.Context(), id)
	if err != nil && h.delegated != nil {
		bet, err = h.delegated.GetBet(r.Context(), id)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bet)
}

type revealBetRequest struct {
	Actor      string `json:"actor"`
	Prediction uint64 `json:"prediction"`
	Salt       string `json:"salt"`
}

// RevealBet discloses the prediction behind a commitment. The reveal runs
// against whichever environment currently owns the record.
// POST /api/bets/{id}/reveal
func (h *BetHandler) RevealBet(w http.ResponseWriter, r *http.Request) {
	id, err := parseHash(pathParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req revealBetRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	actor, err := parseAddress(req.Actor)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	salt, err := parseSalt(req.Salt)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = h.bets.RevealBet(r.Context(), actor, id, req.Prediction, salt)
	if h.delegated != nil && isOwnershipMiss(err) {
		err = h.delegated.RevealBet(r.Context(), actor, id, req.Prediction, salt)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"bet": id.Hex(), "status": "revealed"})
}

type updateBetRequest struct {
	Actor      string `json:"actor"`
	Prediction uint64 `json:"prediction"`
}

// UpdateBet overwrites the prediction of a delegated bet and reveals it in
// one step.
// POST /api/bets/{id}/update
func (h *BetHandler) UpdateBet(w http.ResponseWriter, r *http.Request) {
	if h.delegated == nil {
		writeError(w, http.StatusServiceUnavailable, "delegated environment not configured")
		return
	}
	id, err := parseHash(pathParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req updateBetRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	actor, err := parseAddress(req.Actor)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.delegated.UpdateBet(r.Context(), actor, id, req.Prediction); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"bet": id.Hex(), "status": "updated"})
}

// DelegateBet hands the bet to the delegated environment and waits briefly
// for it to materialize there.
// POST /api/bets/{id}/delegate
func (h *BetHandler) DelegateBet(w http.ResponseWriter, r *http.Request) {
	h.betHandoff(w, r, h.delegation.DelegateBet, domain.EnvDelegated, "delegated")
}

// UndelegateBet hands the bet back to the primary ledger.
// POST /api/bets/{id}/undelegate
func (h *BetHandler) UndelegateBet(w http.ResponseWriter, r *http.Request) {
	h.betHandoff(w, r, h.delegation.UndelegateBet, domain.EnvPrimary, "undelegated")
}

func (h *BetHandler) betHandoff(w http.ResponseWriter, r *http.Request, op func(context.Context, common.Address, common.Hash) error, target domain.Environment, outcome string) {
	id, err := parseHash(pathParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req actorRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	actor, err := parseAddress(req.Actor)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := op(r.Context(), actor, id); err != nil {
		writeDomainError(w, err)
		return
	}

	// The receiving side observes the handoff asynchronously; bound the
	// wait so the response reflects a usable record.
	waitCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := h.delegation.WaitForBet(waitCtx, target, id, 0); err != nil {
		h.logger.WarnContext(r.Context(), "handler: handoff visibility wait",
			slog.String("bet", id.Hex()),
			slog.String("error", err.Error()),
		)
	}
	writeJSON(w, http.StatusOK, map[string]string{"bet": id.Hex(), "status": outcome})
}

// CalculateOutcome computes one bet's weight, outside any batch.
// POST /api/bets/{id}/calculate
func (h *BetHandler) CalculateOutcome(w http.ResponseWriter, r *http.Request) {
	id, err := parseHash(pathParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.settlement.CalculateOutcome(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, calcResultResponse{
		BetID:  res.BetID.Hex(),
		Weight: res.Weight.Dec(),
		Class:  string(res.Class),
	})
}

// ClaimReward pays out a calculated bet.
// POST /api/bets/{id}/claim
func (h *BetHandler) ClaimReward(w http.ResponseWriter, r *http.Request) {
	h.betPayout(w, r, h.settlement.ClaimReward, "claimed")
}

// RefundBet refunds an unrevealed bet after expiry, minus the penalty.
// POST /api/bets/{id}/refund
func (h *BetHandler) RefundBet(w http.ResponseWriter, r *http.Request) {
	h.betPayout(w, r, h.settlement.RefundBet, "refunded")
}

// EmergencyRefund reclaims the full stake from an abandoned pool.
// POST /api/bets/{id}/emergency-refund
func (h *BetHandler) EmergencyRefund(w http.ResponseWriter, r *http.Request) {
	h.betPayout(w, r, h.settlement.EmergencyRefund, "refunded")
}

func (h *BetHandler) betPayout(w http.ResponseWriter, r *http.Request, op func(context.Context, common.Address, common.Hash) (uint64, error), outcome string) {
	id, err := parseHash(pathParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req actorRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	actor, err := parseAddress(req.Actor)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	amount, err := op(r.Context(), actor, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"bet":    id.Hex(),
		"status": outcome,
		"amount": amount,
	})
}

// isOwnershipMiss reports whether the primary-side call failed because the
// record currently lives in the delegated environment.
func isOwnershipMiss(err error) bool {
	return err != nil && (errors.Is(err, domain.ErrOwnershipConflict) || errors.Is(err, domain.ErrNotFound))
}
