// Package api exposes the rate resolution engine over HTTP.
package api

import (
	"context"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"freightaudit/internal/catalog"
	"freightaudit/internal/condition"
	"freightaudit/internal/lane"
	"freightaudit/internal/logger"
	"freightaudit/internal/ratecard"
	"freightaudit/internal/rating"
	"freightaudit/internal/reconcile"
	"freightaudit/pkg/errors"
)

// Engine is the part of reconcile.Service the handlers use.
type Engine interface {
	Current() *reconcile.Run
	Rotate(reason string) *reconcile.Run
	Runner() *reconcile.Runner
	Reconcile(ctx context.Context, in reconcile.Input) (*reconcile.Report, error)
	Bundle(ctx context.Context, agreementID string) (ratecard.Bundle, error)
}

type Handler struct {
	engine     Engine
	matcher    *lane.Matcher
	conditions *condition.Evaluator
	logger     logger.Logger
}

func NewHandler(engine Engine, matcher *lane.Matcher, conditions *condition.Evaluator, log logger.Logger) *Handler {
	return &Handler{engine: engine, matcher: matcher, conditions: conditions, logger: log}
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	v1 := r.Group("/api/v1")
	{
		v1.POST("/resolve", h.Resolve)
		v1.POST("/reconcile", h.Reconcile)
		v1.POST("/match", h.Match)
		v1.POST("/conditions/parse", h.ParseCondition)
		v1.GET("/agreements/:id/lanes", h.ListLanes)
		v1.POST("/runs/rotate", h.RotateRun)
	}
}

func (h *Handler) HandleError(c *gin.Context, err error) {
	h.logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
}

func (h *Handler) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
}

// bundle loads the agreement's catalogs and maps load failures onto API
// errors.
func (h *Handler) bundle(ctx context.Context, agreementID string) (ratecard.Bundle, error) {
	b, err := h.engine.Bundle(ctx, agreementID)
	if err == nil {
		return b, nil
	}
	if catalog.IsNotFound(err) {
		return b, errors.ErrNotFound.
			WithDetail("message", "agreement "+agreementID+" not found").
			WithDetail("agreement_id", agreementID)
	}
	return b, errors.ErrCatalogUnavailable.WithCause(err).WithDetail("agreement_id", agreementID)
}

type ResolveRequest struct {
	Shipment ratecard.Shipment `json:"shipment"`
	Lines    []rating.Line     `json:"lines" binding:"required,min=1"`
}

type ResolveResponse struct {
	RunID       string              `json:"run_id"`
	Resolutions []rating.Resolution `json:"resolutions"`
	Summary     reconcile.Summary   `json:"summary"`
}

// Resolve godoc
// @Summary      Resolve the cost lines of one shipment
// @Tags         resolution
// @Accept       json
// @Produce      json
// @Param        request  body      ResolveRequest  true  "Shipment and billed cost lines"
// @Success      200      {object}  ResolveResponse
// @Failure      400      {object}  map[string]interface{}
// @Router       /resolve [post]
func (h *Handler) Resolve(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	if strings.TrimSpace(req.Shipment.ID) == "" {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithDetail("field", "shipment.id")))
		return
	}
	for i := range req.Lines {
		if req.Lines[i].ShipmentID == "" {
			req.Lines[i].ShipmentID = req.Shipment.ID
		}
	}

	run := h.engine.Current()
	out := h.engine.Runner().ResolveShipment(c.Request.Context(), run, &req.Shipment, req.Lines)
	c.JSON(http.StatusOK, ResolveResponse{
		RunID:       run.ID,
		Resolutions: out,
		Summary:     reconcile.Summarize(out),
	})
}

// Reconcile godoc
// @Summary      Resolve a batch of shipments
// @Tags         resolution
// @Accept       json
// @Produce      json
// @Param        request  body      reconcile.Input  true  "Shipments and cost lines"
// @Success      200      {object}  reconcile.Report
// @Router       /reconcile [post]
func (h *Handler) Reconcile(c *gin.Context) {
	var in reconcile.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		h.badRequest(c, err)
		return
	}
	report, err := h.engine.Reconcile(c.Request.Context(), in)
	if err != nil {
		h.HandleError(c, errors.ErrTimeout.WithCause(err))
		return
	}
	c.JSON(http.StatusOK, report)
}

type MatchRequest struct {
	Shipment ratecard.Shipment `json:"shipment"`
}

// Match godoc
// @Summary      Match a shipment against its agreement's lanes
// @Tags         lanes
// @Accept       json
// @Produce      json
// @Param        request  body      MatchRequest  true  "Shipment"
// @Success      200      {object}  lane.Result
// @Failure      404      {object}  map[string]interface{}
// @Failure      503      {object}  map[string]interface{}
// @Router       /match [post]
func (h *Handler) Match(c *gin.Context) {
	var req MatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	agreementID := strings.TrimSpace(req.Shipment.AgreementID)
	if agreementID == "" {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithDetail("field", "shipment.agreement_id")))
		return
	}

	b, err := h.bundle(c.Request.Context(), agreementID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if b.RateCard == nil {
		h.HandleError(c, errors.ErrNotFound.WithDetail("message", "agreement "+agreementID+" has no rate card"))
		return
	}
	c.JSON(http.StatusOK, h.matcher.Match(c.Request.Context(), b.RateCard, &req.Shipment))
}

type ParseConditionRequest struct {
	Text string `json:"text" binding:"required"`
	// Shipment, when given, is evaluated against the parsed condition.
	Shipment *ratecard.Shipment `json:"shipment,omitempty"`
}

type ParseConditionResponse struct {
	Predicate condition.Predicate `json:"predicate"`
	Verdict   *condition.Verdict  `json:"verdict,omitempty"`
}

// ParseCondition godoc
// @Summary      Parse an Applies If condition
// @Tags         conditions
// @Accept       json
// @Produce      json
// @Param        request  body      ParseConditionRequest  true  "Condition text"
// @Success      200      {object}  ParseConditionResponse
// @Failure      400      {object}  map[string]interface{}
// @Router       /conditions/parse [post]
func (h *Handler) ParseCondition(c *gin.Context) {
	var req ParseConditionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	pred, err := h.conditions.Parse(req.Text)
	if err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(
			errors.ErrValidation.WithCause(err).WithDetail("text", req.Text)))
		return
	}

	resp := ParseConditionResponse{Predicate: pred}
	if req.Shipment != nil {
		v := h.conditions.Evaluate(c.Request.Context(), pred, req.Shipment)
		resp.Verdict = &v
	}
	c.JSON(http.StatusOK, resp)
}

type LaneView struct {
	Number      string            `json:"number"`
	Constraints map[string]string `json:"constraints"`
	ValidFrom   string            `json:"valid_from,omitempty"`
	ValidTo     string            `json:"valid_to,omitempty"`
	Costs       []string          `json:"costs"`
}

type LanesResponse struct {
	AgreementID string            `json:"agreement_id"`
	Carrier     string            `json:"carrier,omitempty"`
	Columns     []ratecard.Column `json:"columns"`
	Lanes       []LaneView        `json:"lanes"`
}

// ListLanes godoc
// @Summary      List the lanes of an agreement's rate card
// @Tags         lanes
// @Produce      json
// @Param        id   path      string  true  "Agreement ID"
// @Success      200  {object}  LanesResponse
// @Failure      404  {object}  map[string]interface{}
// @Router       /agreements/{id}/lanes [get]
func (h *Handler) ListLanes(c *gin.Context) {
	id := c.Param("id")
	b, err := h.bundle(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if b.RateCard == nil {
		h.HandleError(c, errors.ErrNotFound.WithDetail("message", "agreement "+id+" has no rate card"))
		return
	}

	resp := LanesResponse{
		AgreementID: id,
		Carrier:     b.RateCard.Carrier,
		Columns:     b.RateCard.Columns,
		Lanes:       make([]LaneView, 0, len(b.RateCard.Lanes)),
	}
	for _, l := range b.RateCard.Lanes {
		view := LaneView{Number: l.Number, Constraints: l.Constraints, Costs: make([]string, 0, len(l.Prices))}
		if l.ValidFrom != nil {
			view.ValidFrom = l.ValidFrom.Format("2006-01-02")
		}
		if l.ValidTo != nil {
			view.ValidTo = l.ValidTo.Format("2006-01-02")
		}
		for name, p := range l.Prices {
			if p.Populated() {
				view.Costs = append(view.Costs, name)
			}
		}
		sort.Strings(view.Costs)
		resp.Lanes = append(resp.Lanes, view)
	}
	c.JSON(http.StatusOK, resp)
}

// RotateRun godoc
// @Summary      Drop cached catalogs and start a new run
// @Tags         runs
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /runs/rotate [post]
func (h *Handler) RotateRun(c *gin.Context) {
	prev := h.engine.Current()
	next := h.engine.Rotate("api")
	c.JSON(http.StatusOK, gin.H{"previous_run_id": prev.ID, "run_id": next.ID})
}
