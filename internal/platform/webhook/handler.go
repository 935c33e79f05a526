package webhook

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/pharmos/compliance/internal/platform/auth"
	"github.com/pharmos/compliance/pkg/pagination"
)

type Handler struct {
	dispatcher *Dispatcher
	store      Store
}

func NewHandler(dispatcher *Dispatcher, store Store) *Handler {
	return &Handler{dispatcher: dispatcher, store: store}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/webhooks", auth.RequireRole("admin", "compliance-officer"))
	g.POST("", h.Subscribe)
	g.GET("", h.ListSubscriptions)
	g.GET("/:id", h.GetSubscription)
	g.DELETE("/:id", h.Unsubscribe)
	g.POST("/:id/deactivate", h.Deactivate)
	g.POST("/:id/reactivate", h.Reactivate)
	g.GET("/:id/deliveries", h.ListDeliveries)
	g.GET("/:id/missed", h.ListMissed)
}

type subscribeRequest struct {
	URL        string   `json:"url"`
	Secret     string   `json:"secret,omitempty"`
	EventTypes []string `json:"event_types"`
}

// subscriptionView hides the shared secret from list/get responses.
type subscriptionView struct {
	ID                  string   `json:"id"`
	URL                 string   `json:"url"`
	EventTypes          []string `json:"event_types"`
	Status              string   `json:"status"`
	ConsecutiveFailures int      `json:"consecutive_failures"`
	CreatedAt           string   `json:"created_at"`
}

func viewOf(sub *Subscription) subscriptionView {
	return subscriptionView{
		ID:                  sub.ID,
		URL:                 sub.URL,
		EventTypes:          sub.EventTypes,
		Status:              sub.Status,
		ConsecutiveFailures: sub.ConsecutiveFailures,
		CreatedAt:           sub.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func (h *Handler) Subscribe(c echo.Context) error {
	var req subscribeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sub, err := h.dispatcher.Subscribe(c.Request().Context(), req.URL, req.Secret, req.EventTypes)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	// The secret is returned exactly once, at creation.
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"id":          sub.ID,
		"url":         sub.URL,
		"secret":      sub.Secret,
		"event_types": sub.EventTypes,
		"status":      sub.Status,
	})
}

func (h *Handler) ListSubscriptions(c echo.Context) error {
	p := pagination.FromContext(c)
	subs, total, err := h.store.ListSubscriptions(c.Request().Context(), p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	views := make([]subscriptionView, 0, len(subs))
	for _, sub := range subs {
		views = append(views, viewOf(sub))
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(views, total, p.Limit, p.Offset))
}

func (h *Handler) GetSubscription(c echo.Context) error {
	sub, err := h.store.GetSubscription(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, viewOf(sub))
}

func (h *Handler) Unsubscribe(c echo.Context) error {
	if err := h.store.DeleteSubscription(c.Request().Context(), c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Deactivate(c echo.Context) error {
	if err := h.dispatcher.Deactivate(c.Request().Context(), c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Reactivate(c echo.Context) error {
	if err := h.dispatcher.Reactivate(c.Request().Context(), c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListDeliveries(c echo.Context) error {
	p := pagination.FromContext(c)
	deliveries, total, err := h.store.ListDeliveries(c.Request().Context(), c.Param("id"), p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(deliveries, total, p.Limit, p.Offset))
}

// ListMissed returns events whose delivery was exhausted so subscribers can
// catch up after an outage on their side.
func (h *Handler) ListMissed(c echo.Context) error {
	p := pagination.FromContext(c)
	missed, total, err := h.store.ListMissed(c.Request().Context(), c.Param("id"), p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(missed, total, p.Limit, p.Offset))
}
