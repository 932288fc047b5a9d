package handlers

import (
	"errors"
	"math/big"
	"net/http"
	"strconv"

	"mirror-ledger/engine"
	"mirror-ledger/middleware"
	"mirror-ledger/models"
	"mirror-ledger/storage"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

// Handler handles HTTP requests against the engine and the trade
// journal. Operator-gated handlers read the engine's current operator
// on each call so rotations take effect immediately.
type Handler struct {
	eng     *engine.Engine
	journal storage.TradeJournal
	owner   common.Address
}

// NewHandler creates a new handler. journal may be nil when persistence
// is disabled.
func NewHandler(eng *engine.Engine, journal storage.TradeJournal, owner common.Address) *Handler {
	return &Handler{
		eng:     eng,
		journal: journal,
		owner:   owner,
	}
}

// statusFor maps engine error kinds onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, engine.ErrCapacityExceeded),
		errors.Is(err, engine.ErrStateConflict),
		errors.Is(err, engine.ErrHalted):
		return http.StatusConflict
	case errors.Is(err, engine.ErrThrottled):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func abortEngineError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func parseAddress(c *gin.Context, name, raw string) (common.Address, bool) {
	if !middleware.IsValidEthAddress(raw) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name + " address"})
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func parseAmount(c *gin.Context, name, raw string) (*big.Int, bool) {
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok || v.Sign() < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name + " amount"})
		return nil, false
	}
	return v, true
}

func parseID(c *gin.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

// GetLeaders returns all registered leader profiles.
func (h *Handler) GetLeaders(c *gin.Context) {
	ids := h.eng.LeaderIDs()
	leaders, err := h.eng.Leaders(ids)
	if err != nil {
		abortEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"leaders": leaders, "count": len(leaders)})
}

// GetLeader returns a single leader profile by id.
func (h *Handler) GetLeader(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	leader, err := h.eng.Leader(id)
	if err != nil {
		abortEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, leader)
}

// GetLeaderByAddress resolves a leader profile by its on-chain address.
func (h *Handler) GetLeaderByAddress(c *gin.Context) {
	addr, ok := parseAddress(c, "leader", c.Param("address"))
	if !ok {
		return
	}
	leader, err := h.eng.LeaderByAddress(addr)
	if err != nil {
		abortEngineError(c, err)
		return
	}
	canTrade, _ := h.eng.CanExecuteTrail(c.Request.Context(), addr)
	c.JSON(http.StatusOK, gin.H{"leader": leader, "can_execute": canTrade})
}

// GetSession returns a mirror session with its remaining allocation.
func (h *Handler) GetSession(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	session, err := h.eng.Session(id)
	if err != nil {
		abortEngineError(c, err)
		return
	}
	remaining, err := h.eng.RemainingAllocation(id)
	if err != nil {
		abortEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session, "remaining_alloc": remaining.String()})
}

// GetFollower aggregates a follower's sessions, replicas and trail history.
func (h *Handler) GetFollower(c *gin.Context) {
	addr, ok := parseAddress(c, "follower", c.Param("address"))
	if !ok {
		return
	}

	sessions, err := h.eng.Sessions(h.eng.FollowerSessionIDs(addr))
	if err != nil {
		abortEngineError(c, err)
		return
	}
	trails, err := h.eng.Trails(h.eng.FollowerTrailIDs(addr))
	if err != nil {
		abortEngineError(c, err)
		return
	}

	replicas := make([]*models.ReplicaPosition, 0)
	for _, id := range h.eng.FollowerReplicaIDs(addr) {
		r, err := h.eng.Replica(id)
		if err != nil {
			abortEngineError(c, err)
			return
		}
		replicas = append(replicas, r)
	}

	c.JSON(http.StatusOK, gin.H{
		"address":       addr,
		"sessions":      sessions,
		"replicas":      replicas,
		"open_replicas": h.eng.OpenReplicaCount(addr),
		"trails":        trails,
	})
}

// GetTrail returns a single trail record.
func (h *Handler) GetTrail(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	trail, err := h.eng.Trail(id)
	if err != nil {
		abortEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, trail)
}

// GetLeaderTrails returns the journaled trail history for a leader.
// Falls back to the in-memory ledger when no journal is configured.
func (h *Handler) GetLeaderTrails(c *gin.Context) {
	addr, ok := parseAddress(c, "leader", c.Param("address"))
	if !ok {
		return
	}

	limit := 100
	if v := c.Query("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil && l > 0 {
			limit = l
		}
	}

	if h.journal != nil {
		trails, err := h.journal.ListLeaderTrails(c.Request.Context(), addr, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load trails"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"trails": trails, "count": len(trails)})
		return
	}

	ids := h.eng.LeaderTrailIDs(addr)
	if len(ids) > limit {
		ids = ids[len(ids)-limit:]
	}
	trails, err := h.eng.Trails(ids)
	if err != nil {
		abortEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trails": trails, "count": len(trails)})
}

// GetRouterUpdates returns the recorded exchange endpoint history.
func (h *Handler) GetRouterUpdates(c *gin.Context) {
	updates := h.eng.RouterUpdates()
	c.JSON(http.StatusOK, gin.H{
		"router":  h.eng.Router(),
		"updates": updates,
		"count":   len(updates),
	})
}

// GetStatus reports engine status and counters.
func (h *Handler) GetStatus(c *gin.Context) {
	m := h.eng.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"halted":   h.eng.Halted(),
		"operator": h.eng.Operator(),
		"router":   h.eng.Router(),
		"metrics":  m,
	})
}

// EstimateMinOut quotes a swap and applies the session slippage bound.
func (h *Handler) EstimateMinOut(c *gin.Context) {
	sessionID, ok := parseID(c, "id")
	if !ok {
		return
	}
	tokenIn, ok := parseAddress(c, "token_in", c.Query("token_in"))
	if !ok {
		return
	}
	tokenOut, ok := parseAddress(c, "token_out", c.Query("token_out"))
	if !ok {
		return
	}
	amountIn, ok := parseAmount(c, "amount_in", c.Query("amount_in"))
	if !ok {
		return
	}

	minOut, err := h.eng.EstimateMinOut(c.Request.Context(), sessionID, amountIn, tokenIn, tokenOut)
	if err != nil {
		abortEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"min_out": minOut.String()})
}

type designateRequest struct {
	Leader          string `json:"leader" binding:"required"`
	MaxFollowersCap uint32 `json:"max_followers_cap" binding:"required"`
}

// DesignateLeader registers a new leader. Operator only.
func (h *Handler) DesignateLeader(c *gin.Context) {
	var req designateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	leader, ok := parseAddress(c, "leader", req.Leader)
	if !ok {
		return
	}

	id, err := h.eng.DesignateLeader(c.Request.Context(), h.eng.Operator(), leader, req.MaxFollowersCap)
	if err != nil {
		abortEngineError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"leader_id": id})
}

// RevokeLeader deactivates a leader. Operator only.
func (h *Handler) RevokeLeader(c *gin.Context) {
	leader, ok := parseAddress(c, "leader", c.Param("address"))
	if !ok {
		return
	}
	if err := h.eng.RevokeLeader(c.Request.Context(), h.eng.Operator(), leader); err != nil {
		abortEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": leader})
}

type haltRequest struct {
	Halted *bool `json:"halted" binding:"required"`
}

// SetHalted toggles the engine halt switch. Operator only.
func (h *Handler) SetHalted(c *gin.Context) {
	var req haltRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Halted == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.eng.SetHalted(c.Request.Context(), h.eng.Operator(), *req.Halted); err != nil {
		abortEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"halted": *req.Halted})
}

type operatorRequest struct {
	Operator string `json:"operator" binding:"required"`
}

// SetOperator reassigns the operator role. Owner only.
func (h *Handler) SetOperator(c *gin.Context) {
	var req operatorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	operator, ok := parseAddress(c, "operator", req.Operator)
	if !ok {
		return
	}
	if err := h.eng.SetOperator(c.Request.Context(), h.owner, operator); err != nil {
		abortEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"operator": operator})
}

type routerRequest struct {
	Router string `json:"router" binding:"required"`
}

// SetExchangeEndpoint swaps the exchange router address. Operator only.
func (h *Handler) SetExchangeEndpoint(c *gin.Context) {
	var req routerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	router, ok := parseAddress(c, "router", req.Router)
	if !ok {
		return
	}
	if err := h.eng.SetExchangeEndpoint(c.Request.Context(), h.eng.Operator(), router); err != nil {
		abortEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"router": router})
}

type withdrawRequest struct {
	Token  string `json:"token" binding:"required"`
	To     string `json:"to" binding:"required"`
	Amount string `json:"amount" binding:"required"`
}

// WithdrawFees moves accumulated fees out of the vault. Owner only.
func (h *Handler) WithdrawFees(c *gin.Context) {
	var req withdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	token, ok := parseAddress(c, "token", req.Token)
	if !ok {
		return
	}
	to, ok := parseAddress(c, "to", req.To)
	if !ok {
		return
	}
	amount, ok := parseAmount(c, "amount", req.Amount)
	if !ok {
		return
	}

	if err := h.eng.WithdrawFees(c.Request.Context(), h.owner, token, to, amount); err != nil {
		abortEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawn": amount.String(), "to": to})
}

// HealthCheck reports service liveness.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
