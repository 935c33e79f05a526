package transaction

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
	validate := api.Group("", auth.RequireRole("admin", "compliance-officer", "qp", "order-system"))
	validate.POST("/transactions/validate", h.Validate)
	validate.GET("/transactions", h.List)
	validate.GET("/transactions/:id", h.Get)

	// The service enforces the approver role set; the route only requires
	// an authenticated caller with some compliance role.
	override := api.Group("", auth.RequireRole("admin", "compliance-officer", "qp"))
	override.POST("/transactions/:id/approve", h.Approve)
	override.POST("/transactions/:id/reject", h.Reject)
}

func (h *Handler) Validate(c echo.Context) error {
	var req Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.CallerSystem == "" {
		req.CallerSystem = auth.UserFromContext(c.Request().Context())
	}

	t, err := h.svc.Validate(c.Request().Context(), &req)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return echo.NewHTTPError(http.StatusBadRequest, verr.Error())
		}
		if errors.Is(err, ErrTimeout) {
			return echo.NewHTTPError(http.StatusGatewayTimeout, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	c.Response().Header().Set("ETag", occ.FormatETag(t.Version))
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	t, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, occ.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	c.Response().Header().Set("ETag", occ.FormatETag(t.Version))
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) List(c echo.Context) error {
	p := pagination.FromContext(c)
	ctx := c.Request().Context()

	var err error
	var transactions []*Transaction
	var total int
	if customerID := c.QueryParam("customer_id"); customerID != "" {
		transactions, total, err = h.svc.ListByCustomer(ctx, customerID, p.Limit, p.Offset)
	} else {
		transactions, total, err = h.svc.List(ctx, p.Limit, p.Offset)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(transactions, total, p.Limit, p.Offset))
}

type overrideBody struct {
	ReasonCode    string `json:"reason_code"`
	Justification string `json:"justification"`
	AuthorityRef  string `json:"authority_ref,omitempty"`
}

func (h *Handler) overrideRequest(c echo.Context) (uuid.UUID, OverrideRequest, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, OverrideRequest{}, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body overrideBody
	if err := c.Bind(&body); err != nil {
		return uuid.Nil, OverrideRequest{}, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	return id, OverrideRequest{
		ApproverID:    auth.UserFromContext(ctx),
		ApproverRoles: auth.RolesFromContext(ctx),
		ReasonCode:    body.ReasonCode,
		Justification: body.Justification,
		AuthorityRef:  body.AuthorityRef,
	}, nil
}

func (h *Handler) decide(c echo.Context, decide func(echo.Context, uuid.UUID, OverrideRequest) (*Transaction, error)) error {
	id, req, err := h.overrideRequest(c)
	if err != nil {
		return err
	}
	t, err := decide(c, id, req)
	if err != nil {
		return overrideError(c, err)
	}
	c.Response().Header().Set("ETag", occ.FormatETag(t.Version))
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) Approve(c echo.Context) error {
	return h.decide(c, func(c echo.Context, id uuid.UUID, req OverrideRequest) (*Transaction, error) {
		return h.svc.Approve(c.Request().Context(), id, req)
	})
}

func (h *Handler) Reject(c echo.Context) error {
	return h.decide(c, func(c echo.Context, id uuid.UUID, req OverrideRequest) (*Transaction, error) {
		return h.svc.Reject(c.Request().Context(), id, req)
	})
}

func overrideError(c echo.Context, err error) error {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, verr.Error())
	case errors.Is(err, ErrUnauthorized):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrInvalidState):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, occ.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		if conflict, ok := occ.AsConflict(err); ok {
			return c.JSON(http.StatusConflict, conflict)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
