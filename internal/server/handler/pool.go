package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/swivlabs/swiv-engine/internal/delegation"
	"github.com/swivlabs/swiv-engine/internal/domain"
	"github.com/swivlabs/swiv-engine/internal/engine"
	"github.com/swivlabs/swiv-engine/internal/settlement"
)

// LifecycleService defines the pool/bet lifecycle operations the pool
// handler requires from the engine layer.
type LifecycleService interface {
	CreatePool(ctx context.Context, actor common.Address, p engine.CreatePoolParams) (domain.Pool, error)
	ResolvePool(ctx context.Context, actor common.Address, poolID common.Hash, outcome uint64) error
	GetPool(ctx context.Context, id common.Hash) (domain.Pool, error)
	ListPools(ctx context.Context) ([]domain.Pool, error)
	ListBets(ctx context.Context, poolID common.Hash) ([]domain.Bet, error)
}

// PoolSettlementService defines the pool-scoped settlement operations.
type PoolSettlementService interface {
	BatchCalculateOutcome(ctx context.Context, poolID common.Hash, betIDs []common.Hash) ([]settlement.CalcResult, error)
	FinalizeWeights(ctx context.Context, actor common.Address, poolID common.Hash) error
}

// PoolDelegationService defines the pool-scoped handoff operations.
type PoolDelegationService interface {
	DelegatePool(ctx context.Context, actor common.Address, poolID common.Hash) error
	UndelegatePool(ctx context.Context, actor common.Address, poolID common.Hash) error
	BatchUndelegateBets(ctx context.Context, actor common.Address, poolID common.Hash, betIDs []common.Hash) ([]delegation.BatchResult, error)
}

// PoolHandler serves pool-related HTTP endpoints.
type PoolHandler struct {
	engine     LifecycleService
	settlement PoolSettlementService
	delegation PoolDelegationService
	logger     *slog.Logger
}

// NewPoolHandler creates a PoolHandler with the given services.
func NewPoolHandler(eng LifecycleService, settle PoolSettlementService, deleg PoolDelegationService, logger *slog.Logger) *PoolHandler {
	return &PoolHandler{
		engine:     eng,
		settlement: settle,
		delegation: deleg,
		logger:     logger,
	}
}

type createPoolRequest struct {
	Actor            string `json:"actor"`
	Name             string `json:"name"`
	Metadata         string `json:"metadata"`
	AssetMint        string `json:"asset_mint"`
	StartTime        int64  `json:"start_time"`
	EndTime          int64  `json:"end_time"`
	AccuracyBuffer   uint64 `json:"accuracy_buffer"`
	BatchSafetyDelay int64  `json:"batch_safety_delay"`
}

// poolResponse augments the stored record with its derived lifecycle state.
type poolResponse struct {
	domain.Pool
	Status domain.PoolStatus `json:"status"`
}

func toPoolResponse(p domain.Pool) poolResponse {
	return poolResponse{Pool: p, Status: p.Status(time.Now().Unix())}
}

// CreatePool allocates a new prediction pool.
// POST /api/pools
func (h *PoolHandler) CreatePool(w http.ResponseWriter, r *http.Request) {
	var req createPoolRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	actor, err := parseAddress(req.Actor)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "missing pool name")
		return
	}
	var mint common.Address
	if req.AssetMint != "" {
		if mint, err = parseAddress(req.AssetMint); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	pool, err := h.engine.CreatePool(r.Context(), actor, engine.CreatePoolParams{
		Name:             req.Name,
		Metadata:         req.Metadata,
		AssetMint:        mint,
		StartTime:        req.StartTime,
		EndTime:          req.EndTime,
		AccuracyBuffer:   req.AccuracyBuffer,
		BatchSafetyDelay: req.BatchSafetyDelay,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPoolResponse(pool))
}

// ListPools returns every pool on this environment's ledger.
// GET /api/pools
func (h *PoolHandler) ListPools(w http.ResponseWriter, r *http.Request) {
	pools, err := h.engine.ListPools(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list pools failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list pools")
		return
	}

	out := make([]poolResponse, 0, len(pools))
	for _, p := range pools {
		out = append(out, toPoolResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"pools": out, "total": len(out)})
}

// GetPool returns a single pool by its identity.
// GET /api/pools/{id}
func (h *PoolHandler) GetPool(w http.ResponseWriter, r *http.Request) {
	id, err := parseHash(pathParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	pool, err := h.engine.GetPool(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPoolResponse(pool))
}

// ListPoolBets returns the pool's bet book.
// GET /api/pools/{id}/bets
func (h *PoolHandler) ListPoolBets(w http.ResponseWriter, r *http.Request) {
	id, err := parseHash(pathParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	bets, err := h.engine.ListBets(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bets": bets, "total": len(bets)})
}

type resolvePoolRequest struct {
	Actor   string `json:"actor"`
	Outcome uint64 `json:"outcome"`
}

// ResolvePool records the pool's outcome.
// POST /api/pools/{id}/resolve
func (h *PoolHandler) ResolvePool(w http.ResponseWriter, r *http.Request) {
	id, err := parseHash(pathParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req resolvePoolRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	actor, err := parseAddress(req.Actor)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.engine.ResolvePool(r.Context(), actor, id, req.Outcome); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pool": id.Hex(), "outcome": req.Outcome})
}

type actorRequest struct {
	Actor string `json:"actor"`
}

// FinalizeWeights locks the pool's total weight and extracts the fee.
// POST /api/pools/{id}/finalize
func (h *PoolHandler) FinalizeWeights(w http.ResponseWriter, r *http.Request) {
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

	if err := h.settlement.FinalizeWeights(r.Context(), actor, id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"pool": id.Hex(), "status": "finalized"})
}

type settlePoolRequest struct {
	BetIDs []string `json:"bet_ids"`
}

// calcResultResponse is the JSON shape of one per-record settlement outcome.
type calcResultResponse struct {
	BetID  string `json:"bet_id"`
	Weight string `json:"weight,omitempty"`
	Class  string `json:"class,omitempty"`
	Error  string `json:"error,omitempty"`
}

// SettlePool batch-calculates weights for a set of bets in the pool.
// POST /api/pools/{id}/settle
func (h *PoolHandler) SettlePool(w http.ResponseWriter, r *http.Request) {
	id, err := parseHash(pathParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req settlePoolRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	betIDs, err := parseHashes(req.BetIDs)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	results, err := h.settlement.BatchCalculateOutcome(r.Context(), id, betIDs)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	out := make([]calcResultResponse, 0, len(results))
	for _, res := range results {
		item := calcResultResponse{BetID: res.BetID.Hex()}
		if res.Err != nil {
			item.Error = res.Err.Error()
		} else {
			item.Weight = res.Weight.Dec()
			item.Class = string(res.Class)
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

// DelegatePool hands the pool to the delegated environment.
// POST /api/pools/{id}/delegate
func (h *PoolHandler) DelegatePool(w http.ResponseWriter, r *http.Request) {
	h.poolHandoff(w, r, h.delegation.DelegatePool, "delegated")
}

// UndelegatePool hands the pool back to the primary ledger.
// POST /api/pools/{id}/undelegate
func (h *PoolHandler) UndelegatePool(w http.ResponseWriter, r *http.Request) {
	h.poolHandoff(w, r, h.delegation.UndelegatePool, "undelegated")
}

func (h *PoolHandler) poolHandoff(w http.ResponseWriter, r *http.Request, op func(context.Context, common.Address, common.Hash) error, outcome string) {
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
	writeJSON(w, http.StatusOK, map[string]string{"pool": id.Hex(), "status": outcome})
}

type batchUndelegateRequest struct {
	Actor  string   `json:"actor"`
	BetIDs []string `json:"bet_ids"`
}

// BatchUndelegateBets is the admin's multi-record undelegation over one
// pool's bets.
// POST /api/pools/{id}/undelegate-bets
func (h *PoolHandler) BatchUndelegateBets(w http.ResponseWriter, r *http.Request) {
	id, err := parseHash(pathParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req batchUndelegateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	actor, err := parseAddress(req.Actor)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	betIDs, err := parseHashes(req.BetIDs)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	results, err := h.delegation.BatchUndelegateBets(r.Context(), actor, id, betIDs)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	out := make([]map[string]string, 0, len(results))
	for _, res := range results {
		item := map[string]string{"bet_id": res.BetID.Hex()}
		if res.Err != nil {
			item["error"] = res.Err.Error()
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

// parseHashes parses a list of 0x-prefixed identities.
func parseHashes(in []string) ([]common.Hash, error) {
	out := make([]common.Hash, 0, len(in))
	for _, s := range in {
		h, err := parseHash(s)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}
