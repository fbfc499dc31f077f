// Package cache stores successful fetch results in a blob store keyed by request fingerprint.
package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/tierfetch/internal/crawler"
)

const contentType = "application/json"

// Cache reads and writes FetchResults through a crawler.BlobStore.
type Cache struct {
	store  crawler.BlobStore
	hasher crawler.Hasher
	prefix string
}

// New builds a Cache writing objects under prefix.
func New(store crawler.BlobStore, hasher crawler.Hasher, prefix string) *Cache {
	return &Cache{
		store:  store,
		hasher: hasher,
		prefix: strings.Trim(prefix, "/"),
	}
}

// Fingerprint hashes every option of req so distinct requests never share an entry.
func (c *Cache) Fingerprint(req crawler.FetchRequest) (string, error) {
	canonical, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	sum, err := c.hasher.Hash(canonical)
	if err != nil {
		return "", fmt.Errorf("hash request: %w", err)
	}
	return sum, nil
}

// Get loads the result stored for fingerprint. The bool is false on a miss.
func (c *Cache) Get(ctx context.Context, fingerprint string) (crawler.FetchResult, bool, error) {
	data, err := c.store.GetObject(ctx, c.path(fingerprint))
	if err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			return crawler.FetchResult{}, false, nil
		}
		return crawler.FetchResult{}, false, fmt.Errorf("get cached result: %w", err)
	}
	var result crawler.FetchResult
	if err := json.Unmarshal(data, &result); err != nil {
		return crawler.FetchResult{}, false, fmt.Errorf("decode cached result: %w", err)
	}
	return result, true, nil
}

// Put stores result under fingerprint and returns the object URI.
func (c *Cache) Put(ctx context.Context, fingerprint string, result crawler.FetchResult) (string, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	uri, err := c.store.PutObject(ctx, c.path(fingerprint), contentType, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("put cached result: %w", err)
	}
	return uri, nil
}

func (c *Cache) path(fingerprint string) string {
	if c.prefix == "" {
		return fingerprint + ".json"
	}
	return c.prefix + "/" + fingerprint + ".json"
}
