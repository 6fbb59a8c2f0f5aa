package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/sensorhub/alert-engine/internal/alerting"
	"github.com/sensorhub/alert-engine/internal/datastore/entities"
	"github.com/sensorhub/alert-engine/internal/datastore/repository"
	"github.com/sensorhub/alert-engine/internal/errors"
	"github.com/sensorhub/alert-engine/internal/logger"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Controller handles the tenant alert endpoints.
type Controller struct {
	alerts AlertService
	log    logger.Logger
}

type acknowledgeRequest struct {
	By string `json:"by"`
}

type resolveRequest struct {
	Reason string `json:"reason"`
}

func (c *Controller) initRoutes(g *echo.Group) {
	g.GET("/alerts/schema", c.GetAlertSchema)

	tenant := g.Group("/tenants/:tenant/alerts")
	tenant.GET("", c.ListAlerts)
	tenant.GET("/:id", c.GetAlert)
	tenant.POST("/:id/acknowledge", c.AcknowledgeAlert)
	tenant.POST("/:id/resolve", c.ResolveAlert)
}

// GetAlertSchema returns operators, channels and severities for rule editors.
func (c *Controller) GetAlertSchema(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, alerting.GetSchema())
}

// ListAlerts returns a tenant's alert instances, newest first.
func (c *Controller) ListAlerts(ctx echo.Context) error {
	filter := repository.AlertInstanceFilter{
		TenantID: ctx.Param("tenant"),
		DeviceID: ctx.QueryParam("device_id"),
		Limit:    defaultListLimit,
	}

	if status := ctx.QueryParam("status"); status != "" {
		switch status {
		case entities.StatusActive, entities.StatusAcknowledged, entities.StatusResolved:
			filter.Status = status
		default:
			return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid status"})
		}
	}
	if ruleIDParam := ctx.QueryParam("rule_id"); ruleIDParam != "" {
		v, err := strconv.ParseUint(ruleIDParam, 10, 64)
		if err != nil {
			return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid rule_id"})
		}
		filter.RuleID = uint(v)
	}
	if limitParam := ctx.QueryParam("limit"); limitParam != "" {
		v, err := strconv.Atoi(limitParam)
		if err == nil && v > 0 {
			filter.Limit = min(v, maxListLimit)
		}
	}
	if offsetParam := ctx.QueryParam("offset"); offsetParam != "" {
		v, err := strconv.Atoi(offsetParam)
		if err == nil && v >= 0 {
			filter.Offset = v
		}
	}

	items, total, err := c.alerts.List(ctx.Request().Context(), filter)
	if err != nil {
		return c.handleError(ctx, err, "Failed to list alerts")
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"alerts": items,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// GetAlert returns a single alert instance.
func (c *Controller) GetAlert(ctx echo.Context) error {
	inst, err := c.alerts.Get(ctx.Request().Context(), ctx.Param("tenant"), ctx.Param("id"))
	if err != nil {
		return c.handleError(ctx, err, "Failed to get alert")
	}
	return ctx.JSON(http.StatusOK, inst)
}

// AcknowledgeAlert marks an active alert as acknowledged.
func (c *Controller) AcknowledgeAlert(ctx echo.Context) error {
	var req acknowledgeRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	req.By = strings.TrimSpace(req.By)
	if req.By == "" {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Field 'by' is required"})
	}

	inst, err := c.alerts.Acknowledge(ctx.Request().Context(), ctx.Param("tenant"), ctx.Param("id"), req.By)
	if err != nil {
		return c.handleError(ctx, err, "Failed to acknowledge alert")
	}
	return ctx.JSON(http.StatusOK, inst)
}

// ResolveAlert resolves an open alert. The reason is optional.
func (c *Controller) ResolveAlert(ctx echo.Context) error {
	var req resolveRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	inst, err := c.alerts.Resolve(ctx.Request().Context(), ctx.Param("tenant"), ctx.Param("id"), strings.TrimSpace(req.Reason))
	if err != nil {
		return c.handleError(ctx, err, "Failed to resolve alert")
	}
	return ctx.JSON(http.StatusOK, inst)
}

// handleError maps service errors to status codes. Unexpected errors are
// logged and returned as 500 with a generic message.
func (c *Controller) handleError(ctx echo.Context, err error, message string) error {
	switch {
	case errors.Is(err, repository.ErrAlertInstanceNotFound):
		return ctx.JSON(http.StatusNotFound, map[string]string{"error": "Alert not found"})
	case errors.Is(err, alerting.ErrInvalidTransition):
		return ctx.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		c.log.Error(strings.ToLower(message),
			logger.String("tenant_id", ctx.Param("tenant")),
			logger.String("alert_id", ctx.Param("id")),
			logger.Error(err))
		return ctx.JSON(http.StatusInternalServerError, map[string]string{"error": message})
	}
}
