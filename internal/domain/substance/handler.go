package substance

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/pharmos/compliance/internal/platform/auth"
	"github.com/pharmos/compliance/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole("admin", "compliance-officer", "qp", "order-system"))
	read.GET("/substances", h.List)
	read.GET("/substances/:code", h.Get)
	read.GET("/substances/:code/classification", h.EffectiveClassification)
	read.GET("/substances/:code/history", h.History)

	write := api.Group("", auth.RequireRole("admin", "compliance-officer"))
	write.POST("/substances", h.Create)
	write.PUT("/substances/:code", h.Update)
}

func (h *Handler) Create(c echo.Context) error {
	var sub ControlledSubstance
	if err := c.Bind(&sub); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Create(c.Request().Context(), &sub); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, sub)
}

func (h *Handler) Get(c echo.Context) error {
	sub, err := h.svc.Get(c.Request().Context(), c.Param("code"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, sub)
}

func (h *Handler) List(c echo.Context) error {
	p := pagination.FromContext(c)
	subs, total, err := h.svc.List(c.Request().Context(), p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(subs, total, p.Limit, p.Offset))
}

type updateRequest struct {
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

func (h *Handler) Update(c echo.Context) error {
	var req updateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sub, err := h.svc.Update(c.Request().Context(), c.Param("code"), req.Name, req.Active)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, sub)
}

// EffectiveClassification answers "what was this substance classified as at
// time t", defaulting to now.
func (h *Handler) EffectiveClassification(c echo.Context) error {
	asOf := time.Now().UTC()
	if v := c.QueryParam("as_of"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			parsed, err = time.Parse(time.RFC3339, v)
		}
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "as_of must be YYYY-MM-DD or RFC3339")
		}
		asOf = parsed
	}
	cls, err := h.svc.EffectiveClassification(c.Request().Context(), c.Param("code"), asOf)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"substance_code":            c.Param("code"),
		"as_of":                     asOf,
		"opium_list_classification": cls.OpiumList,
		"precursor_category":        cls.PrecursorCategory,
	})
}

func (h *Handler) History(c echo.Context) error {
	history, err := h.svc.History(c.Request().Context(), c.Param("code"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, history)
}
