package customer

import (
	"errors"
	"net/http"

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
	read.GET("/customers", h.List)
	read.GET("/customers/:data_area/:account", h.Get)

	write := api.Group("", auth.RequireRole("admin", "compliance-officer"))
	write.POST("/customers", h.Create)
	write.PUT("/customers/:data_area/:account", h.Update)
	write.POST("/customers/:data_area/:account/suspend", h.Suspend)
	write.POST("/customers/:data_area/:account/unsuspend", h.Unsuspend)
}

func writeError(c echo.Context, err error) error {
	if conflict, ok := occ.AsConflict(err); ok {
		return c.JSON(http.StatusConflict, conflict)
	}
	if errors.Is(err, occ.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
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

func (h *Handler) Create(c echo.Context) error {
	var cust Customer
	if err := c.Bind(&cust); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Create(c.Request().Context(), auth.UserFromContext(c.Request().Context()), &cust); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	c.Response().Header().Set("ETag", occ.FormatETag(cust.Version))
	return c.JSON(http.StatusCreated, cust)
}

func (h *Handler) Get(c echo.Context) error {
	cust, err := h.svc.Get(c.Request().Context(), c.Param("data_area"), c.Param("account"))
	if err != nil {
		return writeError(c, err)
	}
	c.Response().Header().Set("ETag", occ.FormatETag(cust.Version))
	return c.JSON(http.StatusOK, cust)
}

func (h *Handler) List(c echo.Context) error {
	p := pagination.FromContext(c)
	customers, total, err := h.svc.List(c.Request().Context(), p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(customers, total, p.Limit, p.Offset))
}

func (h *Handler) Update(c echo.Context) error {
	expected, err := ifMatchVersion(c)
	if err != nil {
		return err
	}
	var body Customer
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	actor := auth.UserFromContext(c.Request().Context())
	cust, version, err := h.svc.Update(c.Request().Context(), actor,
		c.Param("data_area"), c.Param("account"), expected, func(cur *Customer) error {
			cur.Name = body.Name
			cur.BusinessCategory = body.BusinessCategory
			cur.ApprovalStatus = body.ApprovalStatus
			cur.Suspended = body.Suspended
			cur.GDPQualification = body.GDPQualification
			cur.ReVerificationDue = body.ReVerificationDue
			return nil
		})
	if err != nil {
		return writeError(c, err)
	}
	c.Response().Header().Set("ETag", occ.FormatETag(version))
	return c.JSON(http.StatusOK, cust)
}

func (h *Handler) Suspend(c echo.Context) error {
	expected, err := ifMatchVersion(c)
	if err != nil {
		return err
	}
	actor := auth.UserFromContext(c.Request().Context())
	cust, version, err := h.svc.Suspend(c.Request().Context(), actor, c.Param("data_area"), c.Param("account"), expected)
	if err != nil {
		return writeError(c, err)
	}
	c.Response().Header().Set("ETag", occ.FormatETag(version))
	return c.JSON(http.StatusOK, cust)
}

func (h *Handler) Unsuspend(c echo.Context) error {
	expected, err := ifMatchVersion(c)
	if err != nil {
		return err
	}
	actor := auth.UserFromContext(c.Request().Context())
	cust, version, err := h.svc.Unsuspend(c.Request().Context(), actor, c.Param("data_area"), c.Param("account"), expected)
	if err != nil {
		return writeError(c, err)
	}
	c.Response().Header().Set("ETag", occ.FormatETag(version))
	return c.JSON(http.StatusOK, cust)
}
