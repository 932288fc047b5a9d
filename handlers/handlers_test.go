package handlers

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"mirror-ledger/api"
	"mirror-ledger/engine"
)

var (
	hOwner    = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	hOperator = common.HexToAddress("0x00000000000000000000000000000000000000ab")
	hVault    = common.HexToAddress("0x00000000000000000000000000000000000000ac")
	hRouter   = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	hLeader   = common.HexToAddress("0x0000000000000000000000000000000000000001")
	hFollower = common.HexToAddress("0x0000000000000000000000000000000000000011")
)

func newTestRouter(t *testing.T) (*gin.Engine, *engine.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	venue := api.NewMockVenue(common.HexToAddress("0x00000000000000000000000000000000000000ae"))
	eng := engine.New(venue, venue, api.NewManualClock(100), nil, engine.Params{
		CooldownBlocks: 5,
		FeeVault:       hVault,
		Owner:          hOwner,
		Operator:       hOperator,
		Router:         hRouter,
	})

	h := NewHandler(eng, nil, hOwner)
	r := gin.New()
	r.GET("/api/status", h.GetStatus)
	r.GET("/api/leaders", h.GetLeaders)
	r.GET("/api/leaders/:id", h.GetLeader)
	r.POST("/api/admin/leaders", h.DesignateLeader)
	r.POST("/api/admin/halt", h.SetHalted)
	r.POST("/api/admin/operator", h.SetOperator)
	return r, eng
}

func TestStatusForMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{engine.ErrInvalidArgument, http.StatusBadRequest},
		{engine.ErrNotFound, http.StatusNotFound},
		{engine.ErrUnauthorized, http.StatusForbidden},
		{engine.ErrCapacityExceeded, http.StatusConflict},
		{engine.ErrStateConflict, http.StatusConflict},
		{engine.ErrHalted, http.StatusConflict},
		{engine.ErrThrottled, http.StatusTooManyRequests},
		{engine.ErrCollaborator, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestDesignateLeaderEndpoint(t *testing.T) {
	r, eng := newTestRouter(t)

	body := `{"leader": "` + hLeader.Hex() + `", "max_followers_cap": 10}`
	req := httptest.NewRequest(http.MethodPost, "/api/admin/leaders", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body)
	}
	var resp struct {
		LeaderID uint64 `json:"leader_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.LeaderID != 1 {
		t.Errorf("leader_id = %d, want 1", resp.LeaderID)
	}

	if _, err := eng.Leader(1); err != nil {
		t.Errorf("Leader: %v", err)
	}

	// Re-designating the same address conflicts.
	req = httptest.NewRequest(http.MethodPost, "/api/admin/leaders", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate status = %d, want 409", w.Code)
	}
}

func TestGetLeaderEndpoint(t *testing.T) {
	r, eng := newTestRouter(t)

	if _, err := eng.DesignateLeader(context.Background(), hOperator, hLeader, 10); err != nil {
		t.Fatalf("DesignateLeader: %v", err)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/leaders/1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/leaders/999", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("missing leader status = %d, want 404", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/leaders/abc", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", w.Code)
	}
}

func TestOperatorRotationEndpoint(t *testing.T) {
	r, eng := newTestRouter(t)
	next := common.HexToAddress("0x00000000000000000000000000000000000000bb")

	req := httptest.NewRequest(http.MethodPost, "/api/admin/operator",
		strings.NewReader(`{"operator": "`+next.Hex()+`"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body)
	}
	if eng.Operator() != next {
		t.Fatalf("operator = %s, want %s", eng.Operator().Hex(), next.Hex())
	}

	// Operator-gated endpoints keep working after the rotation.
	req = httptest.NewRequest(http.MethodPost, "/api/admin/leaders",
		strings.NewReader(`{"leader": "`+hLeader.Hex()+`", "max_followers_cap": 10}`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("designate after rotation status = %d, want 201: %s", w.Code, w.Body)
	}

	// A malformed operator address is rejected as a bad request.
	req = httptest.NewRequest(http.MethodPost, "/api/admin/operator",
		strings.NewReader(`{"operator": "not-an-address"}`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad operator status = %d, want 400", w.Code)
	}
}

func TestHaltEndpoint(t *testing.T) {
	r, eng := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/halt", strings.NewReader(`{"halted": true}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body)
	}
	if !eng.Halted() {
		t.Error("engine should be halted")
	}

	// Enrolling against a halted engine surfaces 409 through the error
	// mapping.
	if _, err := eng.Enroll(context.Background(), hFollower, hLeader, big.NewInt(1), 0); err == nil {
		t.Error("expected halt error")
	}
}
