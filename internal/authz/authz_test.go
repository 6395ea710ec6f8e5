package authz

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/pairshot/internal/model"
)

func newTestPolicy(t *testing.T) *Policy {
	t.Helper()
	p, err := New(Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return p
}

func TestAllows_DefaultPolicy(t *testing.T) {
	p := newTestPolicy(t)

	admin := &model.Actor{ID: "a1", Group: model.GroupAdmin}
	photographer := &model.Actor{ID: "p1", Group: model.GroupPhotographer}
	user := &model.Actor{ID: "u1", Group: model.GroupUser}

	tests := []struct {
		name     string
		actor    *model.Actor
		resource string
		action   string
		want     bool
	}{
		{"admin everything", admin, ResourceAccounts, ActionList, true},
		{"admin delete", admin, CollectionResource("posts"), ActionEntriesDelete, true},
		{"anonymous view", nil, CollectionResource("posts"), ActionEntriesView, true},
		{"anonymous create", nil, CollectionResource("posts"), ActionEntriesCreate, false},
		{"user view", user, CollectionResource("posts"), ActionEntriesView, true},
		{"user list accounts", user, ResourceAccounts, ActionList, false},
		{"photographer views discussions", photographer, CollectionResource("discussions"), ActionEntriesView, true},
		{"photographer cannot edit discussions", photographer, CollectionResource("discussions"), ActionEntriesEdit, false},
		{"photographer cannot edit photographers", photographer, CollectionResource("photographers"), ActionEntriesEdit, false},
		{"photographer cannot delete", photographer, CollectionResource("discussions"), ActionEntriesDelete, false},
		{"photographer cannot edit posts", photographer, CollectionResource("posts"), ActionEntriesEdit, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Allows(tt.actor, tt.resource, tt.action))
		})
	}
}

func TestSetCollectionACL(t *testing.T) {
	p := newTestPolicy(t)
	user := &model.Actor{ID: "u1", Group: model.GroupUser}
	owner := &model.Actor{ID: "u2", Group: model.GroupUser}

	require.NoError(t, p.SetCollectionACL("posts", map[string]map[string]bool{
		model.GroupUser: {ActionEntriesCreate: true, ActionEntriesDelete: false},
		"u2":            {ActionEntriesDelete: true},
	}))

	assert.True(t, p.Allows(user, CollectionResource("posts"), ActionEntriesCreate))
	assert.False(t, p.Allows(user, CollectionResource("posts"), ActionEntriesDelete))
	assert.True(t, p.Allows(owner, CollectionResource("posts"), ActionEntriesDelete), "grant by account id")
	assert.False(t, p.Allows(user, CollectionResource("other"), ActionEntriesCreate), "grant is scoped to the collection")

	// Replacing the ACL drops earlier grants.
	require.NoError(t, p.SetCollectionACL("posts", nil))
	assert.False(t, p.Allows(user, CollectionResource("posts"), ActionEntriesCreate))
	assert.True(t, p.Allows(user, CollectionResource("posts"), ActionEntriesView), "wildcard default survives")
}

func TestNew_PolicyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.csv")
	require.NoError(t, os.WriteFile(path, []byte("p, editor, collections/*, entries_edit\n"), 0o644))

	p, err := New(Config{PolicyPath: path}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	editor := &model.Actor{ID: "e1", Group: "editor"}
	assert.True(t, p.Allows(editor, CollectionResource("posts"), ActionEntriesEdit))
	assert.False(t, p.Allows(nil, CollectionResource("posts"), ActionEntriesView), "file policy replaces the embedded one")
}
