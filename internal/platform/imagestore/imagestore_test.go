package imagestore

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

const testMaxBytes = 1 << 20

func TestSave_And_Open(t *testing.T) {
	store := NewInMemoryStore(testMaxBytes)
	ctx := context.Background()

	meta := ImageMetadata{
		FileName:    "rx.jpg",
		ContentType: "image/jpeg",
		OrderID:     "ord-1",
		PatientID:   "pat-1",
		CreatedBy:   "user-1",
	}

	saved, err := store.Save(ctx, meta, strings.NewReader("fake-jpeg-bytes"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if saved.ID == "" {
		t.Error("expected generated ID")
	}
	if saved.Size != int64(len("fake-jpeg-bytes")) {
		t.Errorf("expected size %d, got %d", len("fake-jpeg-bytes"), saved.Size)
	}
	if saved.Hash == "" {
		t.Error("expected SHA-256 hash")
	}
	if saved.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}

	rc, gotMeta, err := store.Open(ctx, saved.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer rc.Close()

	content, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("failed to read content: %v", err)
	}
	if string(content) != "fake-jpeg-bytes" {
		t.Errorf("content mismatch: %s", content)
	}
	if gotMeta.OrderID != "ord-1" {
		t.Errorf("expected order ID ord-1, got %s", gotMeta.OrderID)
	}
}

func TestSave_RejectsInvalidContentType(t *testing.T) {
	store := NewInMemoryStore(testMaxBytes)

	meta := ImageMetadata{
		FileName:    "malware.exe",
		ContentType: "application/x-msdownload",
	}

	_, err := store.Save(context.Background(), meta, strings.NewReader("xxx"))
	if !errors.Is(err, ErrInvalidContentType) {
		t.Fatalf("expected ErrInvalidContentType, got %v", err)
	}
}

func TestSave_RejectsOversizedImage(t *testing.T) {
	store := NewInMemoryStore(16)

	meta := ImageMetadata{
		FileName:    "huge.png",
		ContentType: "image/png",
	}

	_, err := store.Save(context.Background(), meta, strings.NewReader(strings.Repeat("x", 64)))
	if !errors.Is(err, ErrImageTooLarge) {
		t.Fatalf("expected ErrImageTooLarge, got %v", err)
	}
}

func TestOpen_NotFound(t *testing.T) {
	store := NewInMemoryStore(testMaxBytes)

	_, _, err := store.Open(context.Background(), "missing")
	if !errors.Is(err, ErrImageNotFound) {
		t.Fatalf("expected ErrImageNotFound, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	store := NewInMemoryStore(testMaxBytes)
	ctx := context.Background()

	saved, err := store.Save(ctx, ImageMetadata{
		FileName:    "rx.pdf",
		ContentType: "application/pdf",
	}, strings.NewReader("pdf"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := store.Delete(ctx, saved.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.GetMetadata(ctx, saved.ID); !errors.Is(err, ErrImageNotFound) {
		t.Errorf("expected ErrImageNotFound after delete, got %v", err)
	}
	if err := store.Delete(ctx, saved.ID); !errors.Is(err, ErrImageNotFound) {
		t.Errorf("expected ErrImageNotFound on second delete, got %v", err)
	}
}

func TestListByOrder(t *testing.T) {
	store := NewInMemoryStore(testMaxBytes)
	ctx := context.Background()

	for _, orderID := range []string{"ord-1", "ord-1", "ord-2"} {
		_, err := store.Save(ctx, ImageMetadata{
			FileName:    "rx.jpg",
			ContentType: "image/jpeg",
			OrderID:     orderID,
		}, strings.NewReader("img"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	images, err := store.ListByOrder(ctx, "ord-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(images) != 2 {
		t.Errorf("expected 2 images for ord-1, got %d", len(images))
	}

	images, err = store.ListByOrder(ctx, "ord-3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(images) != 0 {
		t.Errorf("expected no images for ord-3, got %d", len(images))
	}
}
