// Package repository defines the storage contracts the services depend on.
//
// Services never see SQL. They talk to a DocumentStore (schema-less entries
// addressed by collection name, queried with Mongo-style filters) and a
// CollectionRepository (the schema definitions of those collections). The
// sqlite sub-package implements both.
package repository

import (
	"context"

	"github.com/sakif/pairshot/internal/model"
	"github.com/sakif/pairshot/internal/query"
)

// DocumentStore is a find/findOne/save/remove/count store over named
// collections.
type DocumentStore interface {
	// Find returns the entries matching opts. Filter, sort, skip, limit and
	// projection are all honoured.
	Find(ctx context.Context, collection string, opts query.Options) ([]model.Document, error)

	// FindOne returns the first match, or nil (and no error) when nothing
	// matches.
	FindOne(ctx context.Context, collection string, filter map[string]any) (model.Document, error)

	// Save upserts by _id. A document without _id gets a fresh one. The store
	// stamps _created (insert only), _modified and _rev and returns the
	// stored form. Concurrent saves of the same entry are last-write-wins.
	Save(ctx context.Context, collection string, doc model.Document) (model.Document, error)

	// SaveIfCurrent updates an existing entry only when its stored _rev still
	// equals doc's _rev. A stale or missing revision yields apperror.ErrConflict.
	SaveIfCurrent(ctx context.Context, collection string, doc model.Document) (model.Document, error)

	// Remove deletes every match and returns how many were removed.
	Remove(ctx context.Context, collection string, filter map[string]any) (int, error)

	// Count returns the number of matches.
	Count(ctx context.Context, collection string, filter map[string]any) (int, error)
}

// CollectionRepository stores collection definitions.
type CollectionRepository interface {
	// GetCollection returns apperror.ErrNotFound for unknown names.
	GetCollection(ctx context.Context, name string) (*model.Collection, error)
	ListCollections(ctx context.Context) ([]model.Collection, error)
	// CreateCollection fails with apperror.ErrConflict when name is taken.
	CreateCollection(ctx context.Context, c *model.Collection) error
	UpdateCollection(ctx context.Context, c *model.Collection) error
}
