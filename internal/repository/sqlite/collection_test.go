package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/sakif/pairshot/internal/apperror"
	"github.com/sakif/pairshot/internal/model"
)

func TestCreateAndGetCollection(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	c := &model.Collection{
		Name: "posts",
		Fields: []model.Field{
			{Name: "title", Type: "text"},
			{Name: "secret", Type: "text", ACL: []string{"admin"}},
		},
		ACL: map[string]map[string]bool{"user": {"entries_view": true}},
	}
	if err := db.CreateCollection(ctx, c); err != nil {
		t.Fatalf("CreateCollection() error = %v", err)
	}
	if c.Created == 0 {
		t.Error("CreateCollection() did not stamp _created")
	}

	got, err := db.GetCollection(ctx, "posts")
	if err != nil {
		t.Fatalf("GetCollection() error = %v", err)
	}
	if len(got.Fields) != 2 || got.Fields[1].ACL[0] != "admin" {
		t.Errorf("fields = %+v, want field ACL preserved", got.Fields)
	}
	if !got.ACL["user"]["entries_view"] {
		t.Error("collection ACL not preserved")
	}
}

func TestCreateCollection_Duplicate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.CreateCollection(ctx, &model.Collection{Name: "posts"}); err != nil {
		t.Fatalf("CreateCollection() error = %v", err)
	}
	err := db.CreateCollection(ctx, &model.Collection{Name: "posts"})
	if !errors.Is(err, apperror.ErrConflict) {
		t.Errorf("CreateCollection() error = %v, want ErrConflict", err)
	}
}

func TestGetCollection_NotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetCollection(context.Background(), "ghost")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetCollection() error = %v, want ErrNotFound", err)
	}
}

func TestUpdateCollection(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	c := &model.Collection{Name: "posts", Label: "Posts"}
	if err := db.CreateCollection(ctx, c); err != nil {
		t.Fatalf("CreateCollection() error = %v", err)
	}
	created := c.Created

	upd := &model.Collection{Name: "posts", Label: "Blog"}
	if err := db.UpdateCollection(ctx, upd); err != nil {
		t.Fatalf("UpdateCollection() error = %v", err)
	}
	if upd.Created != created {
		t.Errorf("_created = %d, want %d", upd.Created, created)
	}

	got, _ := db.GetCollection(ctx, "posts")
	if got.Label != "Blog" {
		t.Errorf("Label = %q, want %q", got.Label, "Blog")
	}

	err := db.UpdateCollection(ctx, &model.Collection{Name: "ghost"})
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("UpdateCollection(ghost) error = %v, want ErrNotFound", err)
	}
}

func TestListCollections(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for _, name := range []string{"b", "a", "c"} {
		if err := db.CreateCollection(ctx, &model.Collection{Name: name}); err != nil {
			t.Fatalf("CreateCollection(%s) error = %v", name, err)
		}
	}

	list, err := db.ListCollections(ctx)
	if err != nil {
		t.Fatalf("ListCollections() error = %v", err)
	}
	if len(list) != 3 || list[0].Name != "a" || list[2].Name != "c" {
		t.Errorf("ListCollections() = %+v, want a, b, c", list)
	}
}
