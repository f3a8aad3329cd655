package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Document names used by the fleet services.
const (
	DevicesDocument     = "devices"
	ScanResultsDocument = "scan_results"
	OverlayTextDocument = "overlay_text"
)

// DefaultOverlayText is shown by the countdown overlay when no custom text
// has been saved.
const DefaultOverlayText = "Waktu rental mu sudah habis, silahkan ke kasir jika ingin menambah waktu!"

var keyPattern = regexp.MustCompile(`^[a-z0-9_-]+(/[a-z0-9_-]+)*$`)

// Backend stores opaque document bodies by key.
// Put must replace the whole body atomically.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, body []byte) error
}

// Documents encodes values as JSON documents in a namespace of a Backend.
// It is safe for concurrent use if the Backend is.
type Documents struct {
	backend   Backend
	namespace string
}

// NewDocuments returns a Documents view over backend. An empty namespace
// stores names unprefixed.
func NewDocuments(backend Backend, namespace string) *Documents {
	return &Documents{backend: backend, namespace: namespace}
}

// Backend returns the underlying backend.
func (d *Documents) Backend() Backend {
	return d.backend
}

func (d *Documents) key(name string) (string, error) {
	key := name
	if d.namespace != "" {
		key = d.namespace + "/" + name
	}
	if !keyPattern.MatchString(key) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return key, nil
}

// Load decodes document name into v.
// Returns ErrNotFound if the document was never saved.
func (d *Documents) Load(ctx context.Context, name string, v any) error {
	key, err := d.key(name)
	if err != nil {
		return err
	}

	body, err := d.backend.Get(ctx, key)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	return nil
}

// Save replaces document name with the JSON encoding of v.
func (d *Documents) Save(ctx context.Context, name string, v any) error {
	key, err := d.key(name)
	if err != nil {
		return err
	}

	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}

	if err := d.backend.Put(ctx, key, body); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

// overlayDocument is the persisted shape of the overlay text.
type overlayDocument struct {
	CustomText string `json:"custom_text"`
}

// OverlayText returns the saved overlay text, or DefaultOverlayText when
// none has been saved or the saved text is blank.
func (d *Documents) OverlayText(ctx context.Context) (string, error) {
	var doc overlayDocument
	err := d.Load(ctx, OverlayTextDocument, &doc)
	switch {
	case errors.Is(err, ErrNotFound):
		return DefaultOverlayText, nil
	case err != nil:
		return "", err
	}

	if strings.TrimSpace(doc.CustomText) == "" {
		return DefaultOverlayText, nil
	}
	return doc.CustomText, nil
}

// SetOverlayText saves the overlay text.
func (d *Documents) SetOverlayText(ctx context.Context, text string) error {
	return d.Save(ctx, OverlayTextDocument, overlayDocument{CustomText: text})
}
