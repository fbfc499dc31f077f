package memory

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/JakeFAU/tierfetch/internal/crawler"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "cache/abc.json", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://cache/abc.json" {
		t.Fatalf("unexpected uri %s", uri)
	}
	payload[0] = 'C'

	got, err := store.GetObject(context.Background(), "cache/abc.json")
	if err != nil {
		t.Fatalf("GetObject() error = %v", err)
	}
	if string(got) != "content" {
		t.Fatalf("expected stored copy to be immutable, got %q", got)
	}
	got[0] = 'X'
	again, _ := store.GetObject(context.Background(), "cache/abc.json")
	if string(again) != "content" {
		t.Fatalf("GetObject must return a copy, got %q", again)
	}
	if store.Len() != 1 {
		t.Fatalf("expected one object, got %d", store.Len())
	}
}

func TestBlobStoreGetObjectMissing(t *testing.T) {
	t.Parallel()

	_, err := NewBlobStore().GetObject(context.Background(), "missing.json")
	if !errors.Is(err, crawler.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
