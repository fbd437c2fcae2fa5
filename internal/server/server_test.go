package server

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swivlabs/swiv-engine/internal/auth"
	"github.com/swivlabs/swiv-engine/internal/commit"
	"github.com/swivlabs/swiv-engine/internal/custody"
	"github.com/swivlabs/swiv-engine/internal/delegation"
	"github.com/swivlabs/swiv-engine/internal/domain"
	"github.com/swivlabs/swiv-engine/internal/engine"
	"github.com/swivlabs/swiv-engine/internal/protocol"
	"github.com/swivlabs/swiv-engine/internal/server/handler"
	"github.com/swivlabs/swiv-engine/internal/settlement"
	"github.com/swivlabs/swiv-engine/internal/store/memory"
)

var (
	adminAddr = common.HexToAddress("0xAd00000000000000000000000000000000000001")
	aliceAddr = common.HexToAddress("0xA11ce00000000000000000000000000000000003")
)

const (
	poolStart = int64(1_000)
	poolEnd   = int64(2_000)
)

// fixture stands up the full API over in-memory stores so requests exercise
// the real handler, middleware, and service layers end to end.
type fixture struct {
	t   *testing.T
	now int64
	h   http.Handler
}

func newFixture(t *testing.T, apiKey string) *fixture {
	t.Helper()
	f := &fixture{t: t, now: poolStart}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := func() time.Time { return time.Unix(f.now, 0) }

	base := memory.NewLedger()
	ephem := memory.NewLedger()
	proto := memory.NewProtocolStore()
	require.NoError(t, proto.Init(context.Background(), domain.ProtocolConfig{
		Admin:            adminAddr,
		Treasury:         common.HexToAddress("0x7e"),
		FeeBps:           250,
		RefundPenaltyBps: domain.DefaultRefundPenaltyBps,
		BatchSettleWait:  domain.DefaultBatchSettleWait,
		EmergencyTimeout: domain.DefaultEmergencyTimeout,
	}))

	vault := custody.NewLedger()
	vault.Mint(aliceAddr, 1_000_000_000)

	bus := memory.NewBus()
	sessions := auth.StaticProvider{Token: "test"}

	primary := engine.NewService(
		domain.EnvPrimary, base.Pools(), base.Bets(), proto, vault, bus, logger,
	).WithClock(clock)
	delegated := engine.NewService(
		domain.EnvDelegated, ephem.Pools(), ephem.Bets(), proto, vault, bus, logger,
	).WithSessions(sessions).WithClock(clock)
	ctrl := delegation.NewController(
		delegation.Env{Pools: base.Pools(), Bets: base.Bets()},
		delegation.Env{Pools: ephem.Pools(), Bets: ephem.Bets()},
		base.Grants(), proto, memory.NewLockManager(), sessions, bus, logger,
	).WithClock(clock)
	settle := settlement.NewService(
		domain.EnvPrimary, base.Pools(), base.Bets(), proto, vault, bus, logger,
	).WithClock(clock)
	protoSvc := protocol.NewService(proto, bus, logger).WithClock(clock)

	handlers := Handlers{
		Health:   handler.NewHealthHandler(logger),
		Protocol: handler.NewProtocolHandler(protoSvc, logger),
		Pools:    handler.NewPoolHandler(primary, settle, ctrl, logger),
		Bets:     handler.NewBetHandler(primary, delegated, settle, ctrl, logger),
	}
	srv := NewServer(Config{Port: 0, APIKey: apiKey}, handlers, nil, logger)
	f.h = srv.httpServer.Handler
	return f
}

func (f *fixture) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(f.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}

func TestGetProtocolConfig(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(http.MethodGet, "/api/protocol", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(250), decode(t, rec)["FeeBps"])
}

func TestPoolBetLifecycle(t *testing.T) {
	f := newFixture(t, "")

	// Create a pool.
	rec := f.do(http.MethodPost, "/api/pools", map[string]any{
		"actor":           adminAddr.Hex(),
		"name":            "api-pool",
		"start_time":      poolStart,
		"end_time":        poolEnd,
		"accuracy_buffer": 100,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	poolID := decode(t, rec)["ID"].(string)

	rec = f.do(http.MethodGet, "/api/pools/"+poolID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "api-pool", decode(t, rec)["Name"])

	// Place a hash-committed bet.
	var salt [32]byte
	copy(salt[:], "lifecycle-salt")
	rec = f.do(http.MethodPost, "/api/bets", map[string]any{
		"actor":      aliceAddr.Hex(),
		"pool_id":    poolID,
		"request_id": "r1",
		"amount":     5_000_000,
		"commitment": commit.Commit(1_500, salt).Hex(),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	betID := decode(t, rec)["ID"].(string)

	// A wrong salt must not reveal.
	var wrong [32]byte
	rec = f.do(http.MethodPost, "/api/bets/"+betID+"/reveal", map[string]any{
		"actor":      aliceAddr.Hex(),
		"prediction": 1_500,
		"salt":       hex.EncodeToString(wrong[:]),
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.do(http.MethodPost, "/api/bets/"+betID+"/reveal", map[string]any{
		"actor":      aliceAddr.Hex(),
		"prediction": 1_500,
		"salt":       hex.EncodeToString(salt[:]),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(http.MethodGet, "/api/pools/"+poolID+"/bets", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["total"])

	// Resolution is rejected while the window is still open.
	rec = f.do(http.MethodPost, "/api/pools/"+poolID+"/resolve", map[string]any{
		"actor":   adminAddr.Hex(),
		"outcome": 1_500,
	})
	assert.Equal(t, http.StatusTooEarly, rec.Code)

	f.now = poolEnd
	rec = f.do(http.MethodPost, "/api/pools/"+poolID+"/resolve", map[string]any{
		"actor":   adminAddr.Hex(),
		"outcome": 1_500,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Batch calculation waits out the safety delay.
	f.now = poolEnd + domain.DefaultBatchSettleWait
	rec = f.do(http.MethodPost, "/api/pools/"+poolID+"/settle", map[string]any{
		"bet_ids": []string{betID},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	results := decode(t, rec)["results"].([]any)
	require.Len(t, results, 1)
	assert.Equal(t, "exact", results[0].(map[string]any)["class"])

	rec = f.do(http.MethodPost, "/api/pools/"+poolID+"/finalize", map[string]any{
		"actor": adminAddr.Hex(),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// The sole bettor claims the whole pot: 5,000,000 minus the 2.5% fee.
	rec = f.do(http.MethodPost, "/api/bets/"+betID+"/claim", map[string]any{
		"actor": aliceAddr.Hex(),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(4_875_000), decode(t, rec)["amount"])
}

func TestGetUnknownBet(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(http.MethodGet, "/api/bets/"+common.HexToHash("0x99").Hex(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuthMiddleware(t *testing.T) {
	f := newFixture(t, "secret")

	rec := f.do(http.MethodGet, "/api/protocol", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodGet, "/api/protocol", nil, "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodGet, "/api/protocol", nil, "Authorization", "Bearer secret")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodGet, "/api/protocol", nil, "X-API-Key", "secret")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(http.MethodOptions, "/api/pools", nil, "Origin", "http://localhost:3000")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
