// Package upload stores user files under the uploads root.
package upload

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var ErrOutsideRoot = errors.New("upload: path is outside the uploads root")

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9\-_.]`)

// File is a stored upload.
type File struct {
	// Name is the sanitized, namespaced file name.
	Name string
	// Abs is the path on disk.
	Abs string
	// Rel is the path below the root, slash separated.
	Rel string
	// PublicPath is Rel under the public prefix.
	PublicPath string
}

// Storage writes below one root directory.
type Storage struct {
	root         string
	publicPrefix string
}

func New(root, publicPrefix string) (*Storage, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("upload: resolving root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("upload: creating root: %w", err)
	}
	return &Storage{root: abs, publicPrefix: "/" + strings.Trim(publicPrefix, "/")}, nil
}

// Root is the absolute uploads directory.
func (s *Storage) Root() string { return s.root }

// SanitizeName replaces spaces with dashes and drops every character outside
// [a-zA-Z0-9-_.].
func SanitizeName(name string) string {
	name = filepath.Base(filepath.ToSlash(name))
	name = strings.ReplaceAll(name, " ", "-")
	name = unsafeChars.ReplaceAllString(name, "")
	name = strings.TrimLeft(name, ".")
	if name == "" {
		name = "file"
	}
	return name
}

// EnsureDir creates dir (relative to the root) if it is absent.
func (s *Storage) EnsureDir(dir string) (string, error) {
	abs, err := s.resolve(dir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", fmt.Errorf("upload: creating %s: %w", dir, err)
	}
	return abs, nil
}

// Save copies r into dir under a uuid-prefixed sanitized name.
func (s *Storage) Save(dir, name string, r io.Reader) (*File, error) {
	absDir, err := s.EnsureDir(dir)
	if err != nil {
		return nil, err
	}

	stored := uuid.NewString() + "_" + SanitizeName(name)
	abs := filepath.Join(absDir, stored)

	out, err := os.OpenFile(abs, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("upload: creating %s: %w", stored, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		os.Remove(abs)
		return nil, fmt.Errorf("upload: writing %s: %w", stored, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(abs)
		return nil, fmt.Errorf("upload: closing %s: %w", stored, err)
	}

	rel, _ := filepath.Rel(s.root, abs)
	rel = filepath.ToSlash(rel)
	return &File{
		Name:       stored,
		Abs:        abs,
		Rel:        rel,
		PublicPath: s.publicPrefix + "/" + rel,
	}, nil
}

// Remove deletes a stored file given its relative or public path. Missing
// files are not an error.
func (s *Storage) Remove(p string) error {
	if p == "" {
		return nil
	}
	abs, err := s.resolve(p)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("upload: removing %s: %w", p, err)
	}
	return nil
}

func (s *Storage) resolve(p string) (string, error) {
	slashed := filepath.ToSlash(p)
	for _, seg := range strings.Split(slashed, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %s", ErrOutsideRoot, p)
		}
	}
	if rest, ok := strings.CutPrefix(slashed, s.publicPrefix+"/"); ok {
		slashed = rest
	}
	return filepath.Join(s.root, filepath.FromSlash(path.Clean("/"+slashed))), nil
}
