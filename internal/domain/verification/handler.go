package verification

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/rxflow/rxflow/internal/apperr"
	"github.com/rxflow/rxflow/internal/domain/order"
	"github.com/rxflow/rxflow/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.PUT("/orders/:id/ocr-review", h.Review, auth.RequireRole(auth.RolePatient, auth.RolePharmacist))
}

type reviewRequest struct {
	Action  string                   `json:"action"`
	Details *order.MedicationDetails `json:"details,omitempty"`
	Notes   *string                  `json:"notes,omitempty"`
}

// Review handles both outcomes of the verification gate: action "confirm"
// with corrected details, or action "skip".
func (h *Handler) Review(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid order id")
	}

	var req reviewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	verifiedBy, _ := uuid.Parse(auth.UserIDFromContext(ctx))

	var o *order.Order
	switch req.Action {
	case "confirm":
		if req.Details == nil {
			return echo.NewHTTPError(http.StatusBadRequest, "details are required to confirm")
		}
		o, err = h.svc.Confirm(ctx, id, *req.Details, verifiedBy, req.Notes)
	case "skip":
		o, err = h.svc.Skip(ctx, id, verifiedBy, req.Notes)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "action must be confirm or skip")
	}
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, o)
}
