package upload

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(t.TempDir(), "/storage")
	require.NoError(t, err)
	return s
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"my photo.jpg", "my-photo.jpg"},
		{"é t@é (1).png", "-t-1.png"},
		{"../../etc/passwd", "passwd"},
		{".hidden", "hidden"},
		{"###", "file"},
		{"ok_name-1.JPG", "ok_name-1.JPG"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeName(tt.in))
		})
	}
}

func TestSave(t *testing.T) {
	s := newTestStorage(t)

	f, err := s.Save("discussions/_ann-bob", "sun set.jpg", strings.NewReader("jpegdata"))
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(f.Name, "_sun-set.jpg"), f.Name)
	assert.Len(t, strings.TrimSuffix(f.Name, "_sun-set.jpg"), 36, "uuid prefix")
	assert.Equal(t, "discussions/_ann-bob/"+f.Name, f.Rel)
	assert.Equal(t, "/storage/discussions/_ann-bob/"+f.Name, f.PublicPath)

	data, err := os.ReadFile(f.Abs)
	require.NoError(t, err)
	assert.Equal(t, "jpegdata", string(data))
}

func TestSave_SameNameTwice(t *testing.T) {
	s := newTestStorage(t)
	a, err := s.Save("x", "a.jpg", strings.NewReader("1"))
	require.NoError(t, err)
	b, err := s.Save("x", "a.jpg", strings.NewReader("2"))
	require.NoError(t, err)
	assert.NotEqual(t, a.Abs, b.Abs)
}

func TestEnsureDir_Idempotent(t *testing.T) {
	s := newTestStorage(t)
	a, err := s.EnsureDir("a/b")
	require.NoError(t, err)
	b, err := s.EnsureDir("a/b")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, filepath.Join(s.Root(), "a", "b"), a)
}

func TestRemove(t *testing.T) {
	s := newTestStorage(t)
	f, err := s.Save("x", "a.jpg", strings.NewReader("1"))
	require.NoError(t, err)

	require.NoError(t, s.Remove(f.PublicPath))
	_, err = os.Stat(f.Abs)
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, s.Remove(f.Rel), "already gone")
	assert.NoError(t, s.Remove(""))
	assert.ErrorIs(t, s.Remove("../outside"), ErrOutsideRoot)
}
