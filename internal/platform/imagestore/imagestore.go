// Package imagestore provides storage for uploaded prescription images.
// It defines the Store interface and an in-memory implementation suitable
// for development and testing. Production deployments back this with an
// object store; the order pipeline only ever references images by ID.
package imagestore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrImageNotFound      = errors.New("prescription image not found")
	ErrImageTooLarge      = errors.New("image exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("content type is not allowed for prescription images")
)

// AllowedContentTypes lists MIME types accepted for prescription uploads.
// Pharmacies routinely receive phone photos and scanned PDFs.
var AllowedContentTypes = map[string]bool{
	"image/png":       true,
	"image/jpeg":      true,
	"image/webp":      true,
	"application/pdf": true,
}

// ImageMetadata describes a stored prescription image.
type ImageMetadata struct {
	ID          string    `json:"id"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	OrderID     string    `json:"order_id,omitempty"`
	PatientID   string    `json:"patient_id,omitempty"`
	Hash        string    `json:"hash"`
	CreatedAt   time.Time `json:"created_at"`
	CreatedBy   string    `json:"created_by"`
}

// Store defines the contract for prescription image storage backends.
type Store interface {
	Save(ctx context.Context, meta ImageMetadata, content io.Reader) (*ImageMetadata, error)
	Open(ctx context.Context, id string) (io.ReadCloser, *ImageMetadata, error)
	GetMetadata(ctx context.Context, id string) (*ImageMetadata, error)
	Delete(ctx context.Context, id string) error
	ListByOrder(ctx context.Context, orderID string) ([]*ImageMetadata, error)
}

type storedImage struct {
	metadata ImageMetadata
	content  []byte
}

// InMemoryStore is a thread-safe, in-memory Store for testing/dev.
type InMemoryStore struct {
	mu       sync.RWMutex
	images   map[string]*storedImage
	maxBytes int64
}

// NewInMemoryStore returns a ready-to-use InMemoryStore that rejects images
// larger than maxBytes.
func NewInMemoryStore(maxBytes int64) *InMemoryStore {
	return &InMemoryStore{
		images:   make(map[string]*storedImage),
		maxBytes: maxBytes,
	}
}

// Save validates the content type, reads the content, computes a SHA-256
// hash, and stores the image in memory.
func (s *InMemoryStore) Save(_ context.Context, meta ImageMetadata, content io.Reader) (*ImageMetadata, error) {
	if !AllowedContentTypes[meta.ContentType] {
		return nil, ErrInvalidContentType
	}

	// Read content into memory so we can measure size and compute hash.
	data, err := io.ReadAll(io.LimitReader(content, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, ErrImageTooLarge
	}

	h := sha256.Sum256(data)

	meta.ID = uuid.New().String()
	meta.Size = int64(len(data))
	meta.Hash = fmt.Sprintf("%x", h)
	meta.CreatedAt = time.Now().UTC()

	s.mu.Lock()
	s.images[meta.ID] = &storedImage{
		metadata: meta,
		content:  data,
	}
	s.mu.Unlock()

	out := meta // copy
	return &out, nil
}

// Open returns an io.ReadCloser over the image content and its metadata.
func (s *InMemoryStore) Open(_ context.Context, id string) (io.ReadCloser, *ImageMetadata, error) {
	s.mu.RLock()
	img, ok := s.images[id]
	s.mu.RUnlock()

	if !ok {
		return nil, nil, ErrImageNotFound
	}

	meta := img.metadata // copy
	return io.NopCloser(bytes.NewReader(img.content)), &meta, nil
}

// GetMetadata returns image metadata without content.
func (s *InMemoryStore) GetMetadata(_ context.Context, id string) (*ImageMetadata, error) {
	s.mu.RLock()
	img, ok := s.images[id]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrImageNotFound
	}

	meta := img.metadata // copy
	return &meta, nil
}

// Delete removes an image by ID.
func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.images[id]; !ok {
		return ErrImageNotFound
	}
	delete(s.images, id)
	return nil
}

// ListByOrder returns all images attached to the given order, newest first.
func (s *InMemoryStore) ListByOrder(_ context.Context, orderID string) ([]*ImageMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*ImageMetadata
	for _, img := range s.images {
		if img.metadata.OrderID != orderID {
			continue
		}
		m := img.metadata // copy
		matched = append(matched, &m)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	return matched, nil
}
