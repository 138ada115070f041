package order

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/rxflow/rxflow/internal/platform/imagestore"
)

func newImageHandler(t *testing.T) (*Handler, *MemoryRepo, *imagestore.InMemoryStore) {
	t.Helper()
	repo := NewMemoryRepo()
	store := imagestore.NewInMemoryStore(1 << 20)
	svc := NewService(repo, zerolog.Nop())
	return NewHandler(svc, store), repo, store
}

func newImageContext(t *testing.T, method, target, paramValue string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(paramValue)
	return c, rec
}

func saveTestImage(t *testing.T, store *imagestore.InMemoryStore, orderID, fileName string) *imagestore.ImageMetadata {
	t.Helper()
	meta := imagestore.ImageMetadata{
		FileName:    fileName,
		ContentType: "image/png",
		OrderID:     orderID,
	}
	saved, err := store.Save(context.Background(), meta, strings.NewReader("png-bytes"))
	if err != nil {
		t.Fatalf("save image: %v", err)
	}
	return saved
}

func TestHandler_ListImages(t *testing.T) {
	h, repo, store := newImageHandler(t)
	o := &Order{ID: uuid.New(), Status: StatusPendingVerification, PatientID: uuid.New(), PatientName: "Jane Doe", Priority: PriorityNormal}
	if err := repo.Create(context.Background(), o); err != nil {
		t.Fatalf("create order: %v", err)
	}
	saveTestImage(t, store, o.ID.String(), "rx-front.png")
	saveTestImage(t, store, o.ID.String(), "rx-back.png")
	saveTestImage(t, store, uuid.NewString(), "other.png")

	c, rec := newImageContext(t, http.MethodGet, "/orders/"+o.ID.String()+"/images", o.ID.String())
	if err := h.ListImages(c); err != nil {
		t.Fatalf("list images: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Images []*imagestore.ImageMetadata `json:"images"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body.Images) != 2 {
		t.Fatalf("got %d images, want 2", len(body.Images))
	}
	for _, img := range body.Images {
		if img.OrderID != o.ID.String() {
			t.Errorf("image %s belongs to order %s", img.ID, img.OrderID)
		}
	}
}

func TestHandler_ListImages_UnknownOrder(t *testing.T) {
	h, _, _ := newImageHandler(t)
	id := uuid.NewString()

	c, _ := newImageContext(t, http.MethodGet, "/orders/"+id+"/images", id)
	err := h.ListImages(c)
	if err == nil {
		t.Fatal("expected error for unknown order")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}

func TestHandler_DeleteImage(t *testing.T) {
	h, _, store := newImageHandler(t)
	saved := saveTestImage(t, store, uuid.NewString(), "blurry.png")

	c, rec := newImageContext(t, http.MethodDelete, "/images/"+saved.ID, saved.ID)
	if err := h.DeleteImage(c); err != nil {
		t.Fatalf("delete image: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if _, err := store.GetMetadata(context.Background(), saved.ID); err == nil {
		t.Error("expected image to be gone after delete")
	}

	// Deleting again reports the missing image.
	c, _ = newImageContext(t, http.MethodDelete, "/images/"+saved.ID, saved.ID)
	err := h.DeleteImage(c)
	if err == nil {
		t.Fatal("expected error for missing image")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}
