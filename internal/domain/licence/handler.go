package licence

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

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
	read := api.Group("", auth.RequireRole("admin", "compliance-officer", "qp", "order-system"))
	read.GET("/licences", h.List)
	read.GET("/licences/:id", h.Get)
	read.GET("/licences/:id/mappings", h.ListMappings)
	read.GET("/licence-types", h.ListTypes)

	write := api.Group("", auth.RequireRole("admin", "compliance-officer"))
	write.POST("/licences", h.Create)
	write.PUT("/licences/:id", h.Update)
	write.POST("/licences/:id/suspend", h.Suspend)
	write.POST("/licences/:id/reinstate", h.Reinstate)
	write.POST("/licences/:id/revoke", h.Revoke)
	write.POST("/licences/:id/mappings", h.AddMapping)
	write.DELETE("/licences/:id/mappings/:mapping_id", h.RemoveMapping)
	write.POST("/licence-types", h.CreateType)
}

// ifMatchVersion extracts the version the caller read from the If-Match
// header. Guarded writes refuse requests without one.
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

// writeError maps guard failures onto HTTP statuses; conflicts carry the
// full structured payload so callers can merge and retry.
func writeError(c echo.Context, err error) error {
	if conflict, ok := occ.AsConflict(err); ok {
		return c.JSON(http.StatusConflict, conflict)
	}
	if errors.Is(err, occ.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}

func actorOf(c echo.Context) string {
	return auth.UserFromContext(c.Request().Context())
}

func pathID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) Create(c echo.Context) error {
	var l Licence
	if err := c.Bind(&l); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Create(c.Request().Context(), actorOf(c), &l); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	c.Response().Header().Set("ETag", occ.FormatETag(l.Version))
	return c.JSON(http.StatusCreated, l)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	l, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	c.Response().Header().Set("ETag", occ.FormatETag(l.Version))
	return c.JSON(http.StatusOK, l)
}

func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()

	if holder := c.QueryParam("holder_id"); holder != "" {
		kind := c.QueryParam("holder_kind")
		if kind == "" {
			kind = HolderCustomer
		}
		licences, err := h.svc.ListByHolder(ctx, kind, holder)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, licences)
	}
	if code := c.QueryParam("substance"); code != "" {
		licences, err := h.svc.ListBySubstance(ctx, code)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, licences)
	}

	p := pagination.FromContext(c)
	licences, total, err := h.svc.List(ctx, p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(licences, total, p.Limit, p.Offset))
}

func (h *Handler) Update(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	expected, err := ifMatchVersion(c)
	if err != nil {
		return err
	}
	var body Licence
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	l, version, err := h.svc.Update(c.Request().Context(), actorOf(c), id, expected, func(cur *Licence) error {
		cur.Number = body.Number
		cur.Authority = body.Authority
		cur.IssueDate = body.IssueDate
		cur.ExpiryDate = body.ExpiryDate
		cur.GracePeriodEnd = body.GracePeriodEnd
		cur.Activities = body.Activities
		return nil
	})
	if err != nil {
		return writeError(c, err)
	}
	c.Response().Header().Set("ETag", occ.FormatETag(version))
	return c.JSON(http.StatusOK, l)
}

func (h *Handler) statusAction(c echo.Context, action func(ctx echo.Context, id uuid.UUID, expected occ.Version) (*Licence, occ.Version, error)) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	expected, err := ifMatchVersion(c)
	if err != nil {
		return err
	}
	l, version, err := action(c, id, expected)
	if err != nil {
		return writeError(c, err)
	}
	c.Response().Header().Set("ETag", occ.FormatETag(version))
	return c.JSON(http.StatusOK, l)
}

func (h *Handler) Suspend(c echo.Context) error {
	return h.statusAction(c, func(c echo.Context, id uuid.UUID, expected occ.Version) (*Licence, occ.Version, error) {
		return h.svc.Suspend(c.Request().Context(), actorOf(c), id, expected)
	})
}

func (h *Handler) Reinstate(c echo.Context) error {
	return h.statusAction(c, func(c echo.Context, id uuid.UUID, expected occ.Version) (*Licence, occ.Version, error) {
		return h.svc.Reinstate(c.Request().Context(), actorOf(c), id, expected)
	})
}

func (h *Handler) Revoke(c echo.Context) error {
	return h.statusAction(c, func(c echo.Context, id uuid.UUID, expected occ.Version) (*Licence, occ.Version, error) {
		return h.svc.Revoke(c.Request().Context(), actorOf(c), id, expected)
	})
}

func (h *Handler) AddMapping(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var m SubstanceMapping
	if err := c.Bind(&m); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	m.LicenceID = id
	if err := h.svc.AddMapping(c.Request().Context(), actorOf(c), &m); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) RemoveMapping(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	mappingID, err := pathID(c, "mapping_id")
	if err != nil {
		return err
	}
	if err := h.svc.RemoveMapping(c.Request().Context(), actorOf(c), id, mappingID); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListMappings(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	mappings, err := h.svc.Mappings(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, mappings)
}

func (h *Handler) CreateType(c echo.Context) error {
	var t LicenceType
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateType(c.Request().Context(), &t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) ListTypes(c echo.Context) error {
	types, err := h.svc.ListTypes(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, types)
}
