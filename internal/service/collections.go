package service

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"slices"

	"github.com/goccy/go-json"

	"github.com/sakif/pairshot/internal/apperror"
	"github.com/sakif/pairshot/internal/authz"
	"github.com/sakif/pairshot/internal/model"
	"github.com/sakif/pairshot/internal/query"
)

const (
	msgMissingCollection = "Missing collection name"
	msgRemoveParams      = "Please provide a collection name and filter"
)

var collectionName = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// CollectionsService implements entry CRUD over collections, the collection
// definitions themselves and the discussion upload workflow.
type CollectionsService struct {
	deps     Deps
	settings Settings
	logger   *slog.Logger
}

func NewCollectionsService(deps Deps, settings Settings) *CollectionsService {
	return &CollectionsService{deps: deps, settings: settings, logger: deps.Logger}
}

// GetResult is the envelope returned by Get when simple is not requested.
type GetResult struct {
	Fields  map[string]model.FieldInfo `json:"fields"`
	Entries []model.Document           `json:"entries"`
	Total   int                        `json:"total"`
}

// RemoveResult is returned by Remove.
type RemoveResult struct {
	Success bool `json:"success"`
	Count   int  `json:"count"`
}

// =========================================================================
// ENTRIES
// =========================================================================

// Get lists entries of a collection.
//
// Anonymous callers are not checked against the policy; a logged-in caller
// needs entries_view. Fields carrying an ACL are hidden from callers not
// named in it, both in the fields map and in every entry, and such callers
// cannot filter, sort or project on them.
//
// Total is len(entries) when neither skip nor limit is set, otherwise the
// number of entries matching the filter.
func (s *CollectionsService) Get(ctx context.Context, actor *model.Actor, name string, opts query.Options) (*GetResult, error) {
	coll, err := s.collection(ctx, name)
	if err != nil {
		return nil, err
	}
	if actor != nil && !s.deps.Policy.Allows(actor, authz.CollectionResource(name), authz.ActionEntriesView) {
		return nil, apperror.Unauthorized("Unauthorized")
	}

	fields := make(map[string]model.FieldInfo, len(coll.Fields))
	var hidden []string
	for _, f := range coll.Fields {
		if fieldVisible(f, actor) {
			fields[f.Name] = f.Info()
		} else {
			hidden = append(hidden, f.Name)
		}
	}

	if usesHiddenField(opts, hidden) {
		return nil, apperror.ValidationFailed("filter", "Invalid filter")
	}

	entries, err := s.deps.Store.Find(ctx, name, opts)
	if err != nil {
		return nil, storeError("finding entries", err)
	}
	if len(hidden) > 0 {
		for i, e := range entries {
			entries[i] = e.Without(hidden...)
		}
	}

	total := len(entries)
	if opts.Skip != 0 || opts.Limit != 0 {
		if total, err = s.deps.Store.Count(ctx, name, opts.Filter); err != nil {
			return nil, storeError("counting entries", err)
		}
	}

	return &GetResult{Fields: fields, Entries: entries, Total: total}, nil
}

// usesHiddenField reports whether filter, sort or projection reads one of
// hidden. Matching or ordering on a field leaks its value as surely as
// returning it.
func usesHiddenField(opts query.Options, hidden []string) bool {
	if len(hidden) == 0 {
		return false
	}
	paths := query.FilterPaths(opts.Filter)
	for _, k := range opts.Sort {
		paths = append(paths, k.Field)
	}
	for k := range opts.Fields {
		paths = append(paths, k)
	}
	for _, p := range paths {
		if slices.Contains(hidden, query.RootField(p)) {
			return true
		}
	}
	return false
}

// fieldVisible applies a field's ACL. Admins see every field.
func fieldVisible(f model.Field, actor *model.Actor) bool {
	if len(f.ACL) == 0 || actor.IsAdmin() {
		return true
	}
	if actor == nil {
		return false
	}
	return slices.Contains(f.ACL, actor.ID) || slices.Contains(f.ACL, actor.Group)
}

// Save creates or replaces an entry. With an _id the caller needs
// entries_edit, otherwise entries_create. _by records who wrote it.
func (s *CollectionsService) Save(ctx context.Context, actor *model.Actor, name string, data model.Document) (model.Document, error) {
	if _, err := s.collection(ctx, name); err != nil {
		return nil, err
	}
	if data == nil {
		return nil, apperror.ValidationFailed("data", "Missing data")
	}

	action := authz.ActionEntriesCreate
	if data.ID() != "" {
		action = authz.ActionEntriesEdit
	}
	if !s.deps.Policy.Allows(actor, authz.CollectionResource(name), action) {
		return nil, apperror.Unauthorized("Unauthorized")
	}

	entry := data.Clone()
	entry[model.KeyBy] = ""
	if actor != nil {
		entry[model.KeyBy] = actor.ID
	}
	if !actor.IsAdmin() {
		if err := s.keepOwner(ctx, name, entry); err != nil {
			return nil, err
		}
	}

	saved, err := s.deps.Store.Save(ctx, name, entry)
	if err != nil {
		s.logger.Error("failed to save entry", slog.String("collection", name), slog.String("error", err.Error()))
		return nil, storeError("saving entry", err)
	}
	s.logger.Info("entry saved", slog.String("collection", name), slog.String("id", saved.ID()))
	return saved, nil
}

// keepOwner replaces whatever owner the caller sent with the one already
// stored, so only admins can hand an entry to another account.
func (s *CollectionsService) keepOwner(ctx context.Context, name string, entry model.Document) error {
	delete(entry, model.KeyAccount)
	if entry.ID() == "" {
		return nil
	}
	stored, err := s.deps.Store.FindOne(ctx, name, map[string]any{model.KeyID: entry.ID()})
	if err != nil {
		return storeError("loading entry", err)
	}
	if owner, ok := stored[model.KeyAccount]; ok {
		entry[model.KeyAccount] = owner
	}
	return nil
}

// Remove deletes the entries matching filter. A string filter is an _id; a
// map filter that names an _id is narrowed to just that _id. With count
// set, the number of matches is taken before deleting.
func (s *CollectionsService) Remove(ctx context.Context, actor *model.Actor, name string, filter any, count bool) (*RemoveResult, error) {
	if name == "" || filter == nil {
		return nil, apperror.ExpectationFailed(msgRemoveParams)
	}

	var f map[string]any
	switch v := filter.(type) {
	case string:
		if v == "" {
			return nil, apperror.ExpectationFailed(msgRemoveParams)
		}
		f = map[string]any{model.KeyID: v}
	case map[string]any:
		f = v
	case model.Document:
		f = v
	default:
		return nil, apperror.ExpectationFailed(msgRemoveParams)
	}
	if id, ok := f[model.KeyID]; ok {
		f = map[string]any{model.KeyID: id}
	}

	if _, err := s.collection(ctx, name); err != nil {
		return nil, err
	}
	if !s.deps.Policy.Allows(actor, authz.CollectionResource(name), authz.ActionEntriesDelete) {
		return nil, apperror.Unauthorized("Unauthorized")
	}

	matched := -1
	if count {
		n, err := s.deps.Store.Count(ctx, name, f)
		if err != nil {
			return nil, storeError("counting entries", err)
		}
		matched = n
	}

	removed, err := s.deps.Store.Remove(ctx, name, f)
	if err != nil {
		return nil, storeError("removing entries", err)
	}
	if matched < 0 {
		matched = removed
	}

	s.logger.Info("entries removed", slog.String("collection", name), slog.Int("count", removed))
	return &RemoveResult{Success: true, Count: matched}, nil
}

// =========================================================================
// DEFINITIONS
// =========================================================================

// CreateCollection defines a new collection. Admin only. Grants listed in
// data.acl are loaded into the policy.
func (s *CollectionsService) CreateCollection(ctx context.Context, actor *model.Actor, name string, data model.Document) (*model.Collection, error) {
	if !actor.IsAdmin() {
		return nil, apperror.Unauthorized("Unauthorized")
	}
	if name == "" {
		return nil, apperror.ValidationFailed("name", msgMissingCollection)
	}
	if !collectionName.MatchString(name) {
		return nil, apperror.ValidationFailed("name", "Collection names may only contain letters, digits and underscores")
	}

	coll, err := decodeCollection(data)
	if err != nil {
		return nil, err
	}
	coll.Name = name
	if coll.Label == "" {
		coll.Label = name
	}

	if err := s.deps.Collections.CreateCollection(ctx, coll); err != nil {
		return nil, storeError("creating collection", err)
	}
	if err := s.deps.Policy.SetCollectionACL(name, coll.ACL); err != nil {
		return nil, fmt.Errorf("granting collection acl: %w", err)
	}

	s.logger.Info("collection created", slog.String("name", name), slog.Int("fields", len(coll.Fields)))
	return coll, nil
}

// UpdateCollection changes label, fields or acl of a collection. The caller
// needs collection_edit on it.
func (s *CollectionsService) UpdateCollection(ctx context.Context, actor *model.Actor, name string, data model.Document) (*model.Collection, error) {
	coll, err := s.collection(ctx, name)
	if err != nil {
		return nil, err
	}
	if !s.deps.Policy.Allows(actor, authz.CollectionResource(name), authz.ActionCollectionEdit) {
		return nil, apperror.Unauthorized("Unauthorized")
	}

	patch, err := decodeCollection(data)
	if err != nil {
		return nil, err
	}
	if data.Has("label") {
		coll.Label = patch.Label
	}
	if data.Has("fields") {
		coll.Fields = patch.Fields
	}
	aclChanged := data.Has("acl")
	if aclChanged {
		coll.ACL = patch.ACL
	}

	if err := s.deps.Collections.UpdateCollection(ctx, coll); err != nil {
		return nil, storeError("updating collection", err)
	}
	if aclChanged {
		if err := s.deps.Policy.SetCollectionACL(name, coll.ACL); err != nil {
			return nil, fmt.Errorf("granting collection acl: %w", err)
		}
	}

	s.logger.Info("collection updated", slog.String("name", name))
	return coll, nil
}

// Collection returns one definition the caller may view.
func (s *CollectionsService) Collection(ctx context.Context, actor *model.Actor, name string) (*model.Collection, error) {
	coll, err := s.collection(ctx, name)
	if err != nil {
		return nil, err
	}
	if !s.deps.Policy.Allows(actor, authz.CollectionResource(name), authz.ActionEntriesView) {
		return nil, apperror.Unauthorized("Unauthorized")
	}
	return coll, nil
}

// ListCollections returns the definitions the caller may view.
func (s *CollectionsService) ListCollections(ctx context.Context, actor *model.Actor) ([]model.Collection, error) {
	all, err := s.deps.Collections.ListCollections(ctx)
	if err != nil {
		return nil, storeError("listing collections", err)
	}
	out := make([]model.Collection, 0, len(all))
	for _, c := range all {
		if s.deps.Policy.Allows(actor, authz.CollectionResource(c.Name), authz.ActionEntriesView) {
			out = append(out, c)
		}
	}
	return out, nil
}

// LoadPolicies pushes every stored collection ACL into the policy. Run once
// at startup.
func (s *CollectionsService) LoadPolicies(ctx context.Context) error {
	all, err := s.deps.Collections.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("listing collections: %w", err)
	}
	for _, c := range all {
		if len(c.ACL) == 0 {
			continue
		}
		if err := s.deps.Policy.SetCollectionACL(c.Name, c.ACL); err != nil {
			return fmt.Errorf("loading acl of %s: %w", c.Name, err)
		}
	}
	return nil
}

func (s *CollectionsService) collection(ctx context.Context, name string) (*model.Collection, error) {
	if name == "" {
		return nil, apperror.ValidationFailed("collection", msgMissingCollection)
	}
	coll, err := s.deps.Collections.GetCollection(ctx, name)
	if err != nil {
		return nil, storeError("loading collection", err)
	}
	return coll, nil
}

// decodeCollection reads a definition out of a request payload.
func decodeCollection(data model.Document) (*model.Collection, error) {
	coll := &model.Collection{}
	if data == nil {
		return coll, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, apperror.ValidationFailed("data", "Invalid collection definition")
	}
	if err := json.Unmarshal(raw, coll); err != nil {
		return nil, apperror.ValidationFailed("data", "Invalid collection definition")
	}
	for _, f := range coll.Fields {
		if f.Name == "" {
			return nil, apperror.ValidationFailed("fields", "Every field needs a name")
		}
	}
	return coll, nil
}
