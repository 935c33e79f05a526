package reclassification

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/pharmos/compliance/internal/domain/substance"
	"github.com/pharmos/compliance/internal/platform/auth"
	"github.com/pharmos/compliance/internal/platform/occ"
	"github.com/pharmos/compliance/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole("admin", "compliance-officer", "qp"))
	read.GET("/reclassifications", h.List)
	read.GET("/reclassifications/:id", h.Get)
	read.GET("/reclassifications/:id/impacts", h.Impacts)

	write := api.Group("", auth.RequireRole("admin", "compliance-officer"))
	write.POST("/reclassifications", h.Create)
	write.POST("/reclassifications/:id/analyze", h.Analyze)
	write.POST("/reclassifications/:id/process", h.Process)
	write.POST("/reclassifications/impacts/:id/requalify", h.ReQualify)
}

func writeError(c echo.Context, err error) error {
	if conflict, ok := occ.AsConflict(err); ok {
		return c.JSON(http.StatusConflict, conflict)
	}
	switch {
	case errors.Is(err, occ.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNotPending), errors.Is(err, ErrAlreadyQualified):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "malformed id")
	}
	return id, nil
}

func ifMatchVersion(c echo.Context) (occ.Version, error) {
	etag := c.Request().Header.Get("If-Match")
	if etag == "" {
		return 0, echo.NewHTTPError(http.StatusPreconditionRequired, "If-Match header is required")
	}
	v, err := occ.ParseETag(etag)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "malformed If-Match header")
	}
	return v, nil
}

type createRequest struct {
	SubstanceCode     string    `json:"substance_code"`
	OpiumList         string    `json:"opium_list_classification"`
	PrecursorCategory string    `json:"precursor_category"`
	EffectiveDate     time.Time `json:"effective_date"`
	RegulatoryRef     string    `json:"regulatory_ref"`
}

func (h *Handler) Create(c echo.Context) error {
	var body createRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	actor := auth.UserFromContext(c.Request().Context())
	rec, err := h.svc.Create(c.Request().Context(), actor, body.SubstanceCode,
		substance.Classification{OpiumList: body.OpiumList, PrecursorCategory: body.PrecursorCategory},
		body.EffectiveDate, body.RegulatoryRef)
	if err != nil {
		if errors.Is(err, substance.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return writeError(c, err)
	}
	c.Response().Header().Set("ETag", occ.FormatETag(rec.Version))
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	rec, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	c.Response().Header().Set("ETag", occ.FormatETag(rec.Version))
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) List(c echo.Context) error {
	p := pagination.FromContext(c)
	recs, total, err := h.svc.List(c.Request().Context(), p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(recs, total, p.Limit, p.Offset))
}

func (h *Handler) Impacts(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	impacts, err := h.svc.Impacts(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, impacts)
}

func (h *Handler) Analyze(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	summary, err := h.svc.AnalyzeImpact(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, summary)
}

func (h *Handler) Process(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	actor := auth.UserFromContext(c.Request().Context())
	rec, err := h.svc.Process(c.Request().Context(), actor, id)
	if err != nil {
		return writeError(c, err)
	}
	c.Response().Header().Set("ETag", occ.FormatETag(rec.Version))
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) ReQualify(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	expected, err := ifMatchVersion(c)
	if err != nil {
		return err
	}
	actor := auth.UserFromContext(c.Request().Context())
	impact, err := h.svc.MarkReQualified(c.Request().Context(), actor, id, expected)
	if err != nil {
		return writeError(c, err)
	}
	c.Response().Header().Set("ETag", occ.FormatETag(impact.Version))
	return c.JSON(http.StatusOK, impact)
}
