package order

import (
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/rxflow/rxflow/internal/apperr"
	"github.com/rxflow/rxflow/internal/platform/auth"
	"github.com/rxflow/rxflow/internal/platform/imagestore"
)

type Handler struct {
	svc    *Service
	images imagestore.Store
}

func NewHandler(svc *Service, images imagestore.Store) *Handler {
	return &Handler{svc: svc, images: images}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	orders := api.Group("", auth.RequireRole(auth.RolePatient, auth.RolePharmacist))
	orders.POST("/orders", h.Create)
	orders.GET("/orders/:id", h.Get)
	orders.POST("/orders/:id/prescription-image", h.UploadImage)
	orders.GET("/orders/:id/images", h.ListImages)
	orders.POST("/images", h.UploadStandalone)
	orders.GET("/images/:id", h.DownloadImage)

	api.GET("/orders/:id/audit", h.Audit, auth.RequireRole(auth.RolePharmacist))
	api.DELETE("/images/:id", h.DeleteImage, auth.RequireRole(auth.RolePharmacist))

	// Collaborator callbacks from the payment and delivery providers.
	internal := api.Group("/internal", auth.RequireRole(auth.RoleSystem))
	internal.POST("/orders/:id/payment-succeeded", h.PaymentSucceeded)
	internal.POST("/orders/:id/delivery-events", h.DeliveryEvent)
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

func (h *Handler) Create(c echo.Context) error {
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()

	// Multipart creation: the prescription image rides along with the order
	// fields and becomes the order's image_ref.
	if _, err := c.FormFile("file"); err == nil {
		meta, src, err := imageFromForm(c)
		if err != nil {
			return err
		}
		defer src.Close()
		meta.CreatedBy = auth.UserIDFromContext(ctx)
		saved, err := h.images.Save(ctx, meta, src)
		if err != nil {
			return imageError(err)
		}
		req.ImageRef = &saved.ID
	}

	o, err := h.svc.Create(ctx, req, auth.UserIDFromContext(ctx))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, o)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := orderID(c)
	if err != nil {
		return err
	}
	o, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) Audit(c echo.Context) error {
	id, err := orderID(c)
	if err != nil {
		return err
	}
	entries, err := h.svc.AuditTrail(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if entries == nil {
		entries = []*AuditEntry{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"entries": entries})
}

// UploadImage stores a multipart prescription image and attaches it to the order.
func (h *Handler) UploadImage(c echo.Context) error {
	id, err := orderID(c)
	if err != nil {
		return err
	}

	meta, src, err := imageFromForm(c)
	if err != nil {
		return err
	}
	defer src.Close()

	ctx := c.Request().Context()
	meta.OrderID = id.String()
	meta.CreatedBy = auth.UserIDFromContext(ctx)

	saved, err := h.images.Save(ctx, meta, src)
	if err != nil {
		return imageError(err)
	}

	o, err := h.svc.AttachImage(ctx, id, saved.ID, auth.UserIDFromContext(ctx))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}

// UploadStandalone stores an image without attaching it; the returned ID can
// be passed as image_ref when creating an order.
func (h *Handler) UploadStandalone(c echo.Context) error {
	meta, src, err := imageFromForm(c)
	if err != nil {
		return err
	}
	defer src.Close()

	ctx := c.Request().Context()
	meta.CreatedBy = auth.UserIDFromContext(ctx)

	saved, err := h.images.Save(ctx, meta, src)
	if err != nil {
		return imageError(err)
	}
	return c.JSON(http.StatusCreated, saved)
}

func (h *Handler) DownloadImage(c echo.Context) error {
	rc, meta, err := h.images.Open(c.Request().Context(), c.Param("id"))
	if err != nil {
		return imageError(err)
	}
	defer rc.Close()

	c.Response().Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, meta.FileName))
	return c.Stream(http.StatusOK, meta.ContentType, rc)
}

// ListImages returns metadata for every image uploaded against the order,
// newest first.
func (h *Handler) ListImages(c echo.Context) error {
	id, err := orderID(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	if _, err := h.svc.Get(ctx, id); err != nil {
		return httpError(err)
	}

	images, err := h.images.ListByOrder(ctx, id.String())
	if err != nil {
		return imageError(err)
	}
	if images == nil {
		images = []*imagestore.ImageMetadata{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"images": images})
}

// DeleteImage removes a stored image. Pharmacists use this to discard bad
// uploads; the order itself keeps whatever image_ref it already carries.
func (h *Handler) DeleteImage(c echo.Context) error {
	if err := h.images.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return imageError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) PaymentSucceeded(c echo.Context) error {
	id, err := orderID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	o, err := h.svc.MarkPaymentSucceeded(ctx, id, auth.UserIDFromContext(ctx))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) DeliveryEvent(c echo.Context) error {
	id, err := orderID(c)
	if err != nil {
		return err
	}

	var req struct {
		Event string `json:"event"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	o, err := h.svc.MarkDeliveryEvent(ctx, id, req.Event, auth.UserIDFromContext(ctx))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}

func imageFromForm(c echo.Context) (imagestore.ImageMetadata, multipart.File, error) {
	file, err := c.FormFile("file")
	if err != nil {
		return imagestore.ImageMetadata{}, nil, echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	src, err := file.Open()
	if err != nil {
		return imagestore.ImageMetadata{}, nil, echo.NewHTTPError(http.StatusInternalServerError, "failed to open uploaded file")
	}
	meta := imagestore.ImageMetadata{
		FileName:    file.Filename,
		ContentType: file.Header.Get("Content-Type"),
	}
	return meta, src, nil
}

func imageError(err error) error {
	switch err {
	case imagestore.ErrImageNotFound:
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case imagestore.ErrImageTooLarge:
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	case imagestore.ErrInvalidContentType:
		return echo.NewHTTPError(http.StatusUnsupportedMediaType, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
