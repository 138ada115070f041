package pharmacist

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/rxflow/rxflow/internal/apperr"
	"github.com/rxflow/rxflow/internal/domain/order"
	"github.com/rxflow/rxflow/internal/platform/auth"
	"github.com/rxflow/rxflow/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/pharmacist", auth.RequireRole(auth.RolePharmacist))
	g.GET("/orders", h.List)
	g.PUT("/orders/:id/approve", h.Approve)
	g.PUT("/orders/:id/reject", h.Reject)
	g.PUT("/orders/:id/edit", h.Edit)
}

func httpError(err error) error {
	return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
}

func orderID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid order id")
	}
	return id, nil
}

func reviewerID(c echo.Context) uuid.UUID {
	id, _ := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	return id
}

type listResponse struct {
	Orders      []*order.Order `json:"orders"`
	TotalCount  int            `json:"total_count"`
	TotalPages  int            `json:"total_pages"`
	CurrentPage int            `json:"current_page"`
}

func (h *Handler) List(c echo.Context) error {
	params := ListParams{
		Medication: c.QueryParam("medication"),
		Urgency:    c.QueryParam("urgency"),
		Patient:    c.QueryParam("patient"),
		SortBy:     c.QueryParam("sort"),
		SortOrder:  c.QueryParam("order"),
	}
	if v := c.QueryParam("created_from"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "created_from must be RFC 3339")
		}
		params.CreatedFrom = &ts
	}
	if v := c.QueryParam("created_to"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "created_to must be RFC 3339")
		}
		params.CreatedTo = &ts
	}

	page := pagination.FromContext(c)
	orders, total, err := h.svc.List(c.Request().Context(), params, page.Limit(), page.Offset())
	if err != nil {
		return httpError(err)
	}
	if orders == nil {
		orders = []*order.Order{}
	}
	return c.JSON(http.StatusOK, listResponse{
		Orders:      orders,
		TotalCount:  total,
		TotalPages:  page.TotalPages(total),
		CurrentPage: page.Page,
	})
}

type approveRequest struct {
	Cost    decimal.Decimal          `json:"cost"`
	Notes   *string                  `json:"notes,omitempty"`
	Details *order.MedicationDetails `json:"details,omitempty"`
}

func (h *Handler) Approve(c echo.Context) error {
	id, err := orderID(c)
	if err != nil {
		return err
	}
	var req approveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	o, err := h.svc.Approve(c.Request().Context(), id, reviewerID(c), req.Cost, req.Notes, req.Details)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}

type rejectRequest struct {
	Reason string  `json:"reason"`
	Notes  *string `json:"notes,omitempty"`
}

func (h *Handler) Reject(c echo.Context) error {
	id, err := orderID(c)
	if err != nil {
		return err
	}
	var req rejectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	o, err := h.svc.Reject(c.Request().Context(), id, reviewerID(c), req.Reason, req.Notes)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}

type editRequest struct {
	Details order.MedicationDetails `json:"details"`
	Notes   *string                 `json:"notes,omitempty"`
}

func (h *Handler) Edit(c echo.Context) error {
	id, err := orderID(c)
	if err != nil {
		return err
	}
	var req editRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	o, err := h.svc.Edit(c.Request().Context(), id, reviewerID(c), req.Details, req.Notes)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}
