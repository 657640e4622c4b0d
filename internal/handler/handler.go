package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/libaice/orderbooktrade-yellow-app/internal/auditlog"
	"github.com/libaice/orderbooktrade-yellow-app/internal/channel"
	"github.com/libaice/orderbooktrade-yellow-app/internal/domain"
	"github.com/libaice/orderbooktrade-yellow-app/internal/middleware"
	"github.com/libaice/orderbooktrade-yellow-app/internal/proof"
	"github.com/libaice/orderbooktrade-yellow-app/internal/session"
	"github.com/libaice/orderbooktrade-yellow-app/internal/wire"
)

// Handler holds the HTTP handler dependencies.
type Handler struct {
	hub      *session.Hub
	channels *channel.Manager
	audit    *auditlog.Log
	proofs   *proof.Assembler
}

// NewHandler creates a new Handler.
func NewHandler(hub *session.Hub, channels *channel.Manager, audit *auditlog.Log, proofs *proof.Assembler) *Handler {
	return &Handler{
		hub:      hub,
		channels: channels,
		audit:    audit,
		proofs:   proofs,
	}
}

// RegisterRoutes sets up the Gin routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)

	v1 := r.Group("/v1")
	{
		v1.POST("/market", h.CreateMarket)
		v1.GET("/markets", h.ListMarkets)
		v1.POST("/market/:id/participant", h.RegisterParticipant)
		v1.GET("/market/:id/orderBook/L2", h.GetL2OrderBook)
		v1.GET("/market/:id/balances", h.GetBalances)

		v1.POST("/channel", h.OpenChannel)
		v1.GET("/channels", h.ListChannels)
		v1.GET("/channel/:id", h.GetChannel)
		v1.POST("/channel/:id/activate", h.ActivateChannel)
		v1.POST("/channel/:id/close", h.CloseChannel)
		v1.POST("/channel/:id/closed", h.ConfirmClosed)
		v1.POST("/channel/:id/force-exit", h.ForceExit)

		v1.POST("/channel/:id/order", h.PlaceOrder)
		v1.DELETE("/channel/:id/order/:orderId", h.CancelOrder)

		v1.POST("/channel/:id/checkpoint", h.ProposeCheckpoint)
		v1.POST("/channel/:id/checkpoint/:proposalId/cosign", h.CoSignCheckpoint)
		v1.DELETE("/channel/:id/checkpoint/:proposalId", h.RejectCheckpoint)
		v1.POST("/channel/:id/state", h.ApplyStateUpdate)

		v1.GET("/channel/:id/proof", h.GetProof)
		v1.GET("/channel/:id/audit", h.GetAudit)
	}
}

// statusFor maps sentinel errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrChannelNotFound),
		errors.Is(err, domain.ErrMarketNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrSignatureInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrStaleSequence),
		errors.Is(err, domain.ErrChannelForked),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrChannelExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrTimeout):
		return http.StatusRequestTimeout
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrUnknownParticipant),
		errors.Is(err, domain.ErrNoAcceptedState):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

// Health returns a health check response.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "orderbooktrade",
	})
}

// CreateMarketRequest is the request body for creating a market.
type CreateMarketRequest struct {
	ID string `json:"id" binding:"required"`
}

// CreateMarket handles POST /v1/market.
func (h *Handler) CreateMarket(c *gin.Context) {
	var req CreateMarketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := h.hub.CreateMarket(req.ID); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": req.ID})
}

// ListMarkets handles GET /v1/markets.
func (h *Handler) ListMarkets(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"markets": h.hub.Markets()})
}

// RegisterParticipantRequest seeds a participant balance.
type RegisterParticipantRequest struct {
	Participant string           `json:"participantAddress" binding:"required"`
	Cash        int64            `json:"cash" binding:"gte=0"`
	Shares      map[string]int64 `json:"shares"`
}

// RegisterParticipant handles POST /v1/market/:id/participant.
func (h *Handler) RegisterParticipant(c *gin.Context) {
	var req RegisterParticipantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	shares := make(map[domain.Outcome]int64, len(req.Shares))
	for k, v := range req.Shares {
		o := domain.Outcome(k)
		if o != domain.OutcomeYes && o != domain.OutcomeNo {
			c.JSON(http.StatusBadRequest, gin.H{"error": "shares keys must be 'yes' or 'no'"})
			return
		}
		if v < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "share balances must be non-negative"})
			return
		}
		shares[o] = v
	}
	if err := h.hub.RegisterParticipant(c.Param("id"), req.Participant, req.Cash, shares); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":             "ok",
		"participantAddress": req.Participant,
	})
}

// GetL2OrderBook handles GET /v1/market/:id/orderBook/L2.
func (h *Handler) GetL2OrderBook(c *gin.Context) {
	m, err := h.hub.Market(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	outcome := domain.Outcome(c.DefaultQuery("outcome", string(domain.OutcomeYes)))
	if outcome != domain.OutcomeYes && outcome != domain.OutcomeNo {
		c.JSON(http.StatusBadRequest, gin.H{"error": "outcome must be 'yes' or 'no'"})
		return
	}
	depth, err := strconv.Atoi(c.DefaultQuery("depth", "10"))
	if err != nil || depth <= 0 {
		depth = 10
	}

	m.Lock()
	summary := h.hub.Engine().Summary(m, outcome, depth)
	m.Unlock()
	c.JSON(http.StatusOK, summary)
}

// GetBalances handles GET /v1/market/:id/balances.
func (h *Handler) GetBalances(c *gin.Context) {
	m, err := h.hub.Market(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	participant := c.Query("participant")
	if participant == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "participant is required"})
		return
	}

	m.Lock()
	bal := m.BalanceOf(participant)
	m.Unlock()
	if bal == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "participant not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"participantAddress": participant,
		"cash":               bal.Cash,
		"shares":             bal.Shares,
	})
}

// OpenChannelRequest is the request body for opening a channel.
type OpenChannelRequest struct {
	ChannelID   string                 `json:"channelId" binding:"required"`
	Participant string                 `json:"participantAddress" binding:"required"`
	Operator    string                 `json:"operatorAddress" binding:"required"`
	MarketID    string                 `json:"marketId" binding:"required"`
	Outcome     string                 `json:"outcome" binding:"required"`
	Deposit     domain.ChannelBalances `json:"deposit"`
}

// OpenChannel handles POST /v1/channel.
func (h *Handler) OpenChannel(c *gin.Context) {
	var req OpenChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ch, err := h.hub.OpenChannel(req.ChannelID, req.Participant, req.Operator, req.MarketID, domain.Outcome(req.Outcome), req.Deposit)
	if err != nil {
		fail(c, err)
		return
	}
	h.syncChannelGauges()
	c.JSON(http.StatusCreated, ch)
}

// ListChannels handles GET /v1/channels.
func (h *Handler) ListChannels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"channels": h.channels.List()})
}

// GetChannel handles GET /v1/channel/:id.
func (h *Handler) GetChannel(c *gin.Context) {
	ch, err := h.channels.Get(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

func (h *Handler) transition(c *gin.Context, fn func(string) error) {
	id := c.Param("id")
	if err := fn(id); err != nil {
		fail(c, err)
		return
	}
	h.syncChannelGauges()
	ch, err := h.channels.Get(id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

// ActivateChannel handles POST /v1/channel/:id/activate.
func (h *Handler) ActivateChannel(c *gin.Context) {
	h.transition(c, h.channels.Activate)
}

// CloseChannel handles POST /v1/channel/:id/close.
func (h *Handler) CloseChannel(c *gin.Context) {
	h.transition(c, h.channels.RequestClose)
}

// ConfirmClosed handles POST /v1/channel/:id/closed.
func (h *Handler) ConfirmClosed(c *gin.Context) {
	h.transition(c, h.channels.ConfirmClosed)
}

// ForceExit handles POST /v1/channel/:id/force-exit. It moves the
// channel to disputed and returns the assembled dispute proof.
func (h *Handler) ForceExit(c *gin.Context) {
	id := c.Param("id")
	if err := h.channels.RequestForceExit(id); err != nil {
		fail(c, err)
		return
	}
	h.syncChannelGauges()
	p, err := h.proofs.Assemble(id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// PlaceOrder handles POST /v1/channel/:id/order. The body is a signed
// order intent; orders without a limit price execute as market orders.
func (h *Handler) PlaceOrder(c *gin.Context) {
	s, err := h.hub.Session(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	var msg wire.OrderIntentMsg
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := wire.Validate(&msg); err != nil {
		fail(c, err)
		return
	}
	side := domain.Side(msg.Side)
	kind := domain.OrderKindLimit
	if msg.LimitPrice == 0 {
		kind = domain.OrderKindMarket
	}

	res, err := s.Place(c.Request.Context(), side, kind, msg.Intent())
	if err != nil {
		fail(c, err)
		return
	}
	middleware.OrdersTotal.WithLabelValues("place", msg.MarketID).Inc()
	middleware.FillsTotal.WithLabelValues(msg.MarketID).Add(float64(len(res.Fills)))
	c.JSON(http.StatusCreated, gin.H{
		"order": res.Order,
		"fills": res.Fills,
	})
}

// CancelOrder handles DELETE /v1/channel/:id/order/:orderId. Cancel is
// idempotent: cancelling an unknown or already-filled order succeeds
// with a null order.
func (h *Handler) CancelOrder(c *gin.Context) {
	s, err := h.hub.Session(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	order, err := s.Cancel(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		fail(c, err)
		return
	}
	middleware.OrdersTotal.WithLabelValues("cancel", s.MarketID()).Inc()
	c.JSON(http.StatusOK, gin.H{"order": order})
}

// ProposeCheckpoint handles POST /v1/channel/:id/checkpoint.
func (h *Handler) ProposeCheckpoint(c *gin.Context) {
	s, err := h.hub.Session(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	p, err := s.ProposeCheckpoint(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"proposalId":        p.ID,
		"update":            p.Update,
		"operatorSignature": p.OperatorSignature,
		"expiresAt":         p.Deadline.Unix(),
	})
}

// CoSignRequest carries the participant's checkpoint signature.
type CoSignRequest struct {
	ParticipantSignature string `json:"participantSignature" binding:"required"`
}

// CoSignCheckpoint handles POST /v1/channel/:id/checkpoint/:proposalId/cosign.
func (h *Handler) CoSignCheckpoint(c *gin.Context) {
	s, err := h.hub.Session(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	var req CoSignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ch, err := s.CoSign(c.Request.Context(), c.Param("proposalId"), req.ParticipantSignature)
	if err != nil {
		fail(c, err)
		return
	}
	middleware.StateUpdatesTotal.Inc()
	c.JSON(http.StatusOK, ch)
}

// RejectCheckpoint handles DELETE /v1/channel/:id/checkpoint/:proposalId.
func (h *Handler) RejectCheckpoint(c *gin.Context) {
	s, err := h.hub.Session(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	if err := s.Reject(c.Request.Context(), c.Param("proposalId")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "rejected"})
}

// ApplyStateUpdate handles POST /v1/channel/:id/state. It accepts an
// externally dual-signed state update, for example one produced while
// this node was offline.
func (h *Handler) ApplyStateUpdate(c *gin.Context) {
	var msg wire.StateUpdateMsg
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := wire.Validate(&msg); err != nil {
		fail(c, err)
		return
	}
	id := c.Param("id")
	if msg.ChannelID != id {
		c.JSON(http.StatusBadRequest, gin.H{"error": "channelId does not match path"})
		return
	}
	if err := h.channels.ApplyStateUpdate(id, msg.Signed()); err != nil {
		fail(c, err)
		return
	}
	middleware.StateUpdatesTotal.Inc()
	ch, err := h.channels.Get(id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

// GetProof handles GET /v1/channel/:id/proof. It assembles the dispute
// proof without changing the channel status.
func (h *Handler) GetProof(c *gin.Context) {
	p, err := h.proofs.Assemble(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	data, err := proof.Export(p)
	if err != nil {
		fail(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}

// GetAudit handles GET /v1/channel/:id/audit.
func (h *Handler) GetAudit(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.channels.Get(id); err != nil {
		fail(c, err)
		return
	}

	var entries []domain.AuditEntry
	if sinceStr := c.Query("since"); sinceStr != "" {
		since, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since format, use RFC3339"})
			return
		}
		entries = h.audit.Since(id, since)
	} else {
		entries = h.audit.Export(id)
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	c.JSON(http.StatusOK, gin.H{
		"channelId": id,
		"entries":   entries,
	})
}

func (h *Handler) syncChannelGauges() {
	counts := make(map[domain.ChannelStatus]int)
	for _, ch := range h.channels.List() {
		counts[ch.Status]++
	}
	for _, st := range []domain.ChannelStatus{
		domain.ChannelOpening, domain.ChannelActive, domain.ChannelClosing,
		domain.ChannelDisputed, domain.ChannelClosed,
	} {
		middleware.ChannelsOpen.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
}
