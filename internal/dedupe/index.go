// Package dedupe answers duplicate questions about evidence content
// hashes within an engagement.
package dedupe

import (
	"context"
	"fmt"
	"strings"
)

// Store is the lookup surface the index needs. The metadata store and
// its transactions both satisfy it.
type Store interface {
	FindEvidenceIDsByHash(ctx context.Context, engagementID, contentHash, excludeID string) ([]string, error)
	DuplicateGroups(ctx context.Context, engagementID string) (map[string][]string, error)
}

// Index finds duplicate evidence items by content hash.
type Index struct {
	store Store
}

// NewIndex creates a duplicate index over a Store.
func NewIndex(store Store) *Index {
	return &Index{store: store}
}

// FindByHash returns the ids of items in the engagement with the given
// content hash, oldest first. excludeID, when non-empty, is omitted.
func (x *Index) FindByHash(ctx context.Context, engagementID, contentHash, excludeID string) ([]string, error) {
	if strings.TrimSpace(contentHash) == "" {
		return nil, fmt.Errorf("content hash is required")
	}
	return x.store.FindEvidenceIDsByHash(ctx, engagementID, contentHash, excludeID)
}

// IsDuplicate reports whether an item's content already exists in the
// engagement under another id. It returns the id of the earliest other
// item with the same hash, or "" when the content is unique.
func (x *Index) IsDuplicate(ctx context.Context, engagementID, contentHash, itemID string) (string, error) {
	if strings.TrimSpace(contentHash) == "" {
		return "", nil
	}
	ids, err := x.store.FindEvidenceIDsByHash(ctx, engagementID, contentHash, itemID)
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", nil
	}
	return ids[0], nil
}

// Groups returns every content hash shared by two or more items in the
// engagement, mapped to the ids that share it, oldest first.
func (x *Index) Groups(ctx context.Context, engagementID string) (map[string][]string, error) {
	return x.store.DuplicateGroups(ctx, engagementID)
}
