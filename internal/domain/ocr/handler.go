package ocr

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/rxflow/rxflow/internal/apperr"
	"github.com/rxflow/rxflow/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RolePatient, auth.RolePharmacist))
	g.POST("/orders/:id/process-ocr", h.Process)
	g.GET("/orders/:id/ocr-status", h.Status)
	g.PUT("/orders/:id/manual-text", h.ManualText, auth.RequireRole(auth.RolePharmacist))
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

// Process triggers extraction. 202 when a job was started, 200 with the
// stored result when the job already completed.
func (h *Handler) Process(c echo.Context) error {
	id, err := orderID(c)
	if err != nil {
		return err
	}
	res, err := h.svc.StartExtraction(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if res.AlreadyCompleted {
		return c.JSON(http.StatusOK, res.OCR)
	}
	return c.JSON(http.StatusAccepted, res.OCR)
}

func (h *Handler) Status(c echo.Context) error {
	id, err := orderID(c)
	if err != nil {
		return err
	}
	ocr, err := h.svc.GetStatus(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ocr)
}

type manualTextRequest struct {
	Text string `json:"text"`
}

func (h *Handler) ManualText(c echo.Context) error {
	id, err := orderID(c)
	if err != nil {
		return err
	}
	var req manualTextRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	o, err := h.svc.EnterManualText(ctx, id, req.Text, auth.UserIDFromContext(ctx))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}
