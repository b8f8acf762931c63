package staging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ErrBudgetExceeded is returned when writing into a staging directory would
// exceed the area's maximum size.
var ErrBudgetExceeded = errors.New("staging area full")

// Area manages private, uniquely named staging directories under a root.
// Every directory gets its own byte budget of maxSize, so a hostile archive
// cannot fill the disk.
type Area struct {
	root    string
	maxSize int64

	mu     sync.Mutex
	active map[string]struct{}
}

// NewArea creates the root directory if needed and returns an Area.
// maxSize must be positive.
func NewArea(root string, maxSize int64) (*Area, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("staging max size must be positive, got %d", maxSize)
	}
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("failed to create staging root: %w", err)
	}
	return &Area{
		root:    root,
		maxSize: maxSize,
		active:  make(map[string]struct{}),
	}, nil
}

// Root returns the directory all staging directories live in.
func (a *Area) Root() string {
	return a.root
}

// MaxSize returns the per-directory byte budget.
func (a *Area) MaxSize() int64 {
	return a.maxSize
}

// Create makes a fresh staging directory named <prefix><uuid>.
func (a *Area) Create(prefix string) (*Dir, error) {
	name := prefix + uuid.New().String()
	path := filepath.Join(a.root, name)
	if err := os.Mkdir(path, 0700); err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}

	a.mu.Lock()
	a.active[name] = struct{}{}
	a.mu.Unlock()

	return &Dir{area: a, name: name, path: path}, nil
}

// Sweep removes directories left behind by earlier processes whose names
// start with one of the prefixes. Directories created by this Area are kept.
// Returns the number of directories removed.
func (a *Area) Sweep(prefixes ...string) (int, error) {
	entries, err := os.ReadDir(a.root)
	if err != nil {
		return 0, fmt.Errorf("reading staging root: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	removed := 0
	for _, e := range entries {
		if !e.IsDir() || !hasAnyPrefix(e.Name(), prefixes) {
			continue
		}
		if _, ok := a.active[e.Name()]; ok {
			continue
		}
		if err := os.RemoveAll(filepath.Join(a.root, e.Name())); err != nil {
			return removed, fmt.Errorf("removing stale staging directory %s: %w", e.Name(), err)
		}
		removed++
	}
	return removed, nil
}

// List returns the names of directories under the root starting with prefix.
func (a *Area) List(prefix string) ([]string, error) {
	entries, err := os.ReadDir(a.root)
	if err != nil {
		return nil, fmt.Errorf("reading staging root: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func (a *Area) release(name string) {
	a.mu.Lock()
	delete(a.active, name)
	a.mu.Unlock()
}

func hasAnyPrefix(name string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// Dir is one staging directory. It is not safe for concurrent writers.
type Dir struct {
	area *Area
	name string
	path string
	used int64
}

// Path returns the absolute directory path.
func (d *Dir) Path() string {
	return d.path
}

// Size returns the number of bytes written through WriteFile.
func (d *Dir) Size() int64 {
	return d.used
}

// Join resolves a slash-separated relative name inside the directory and
// refuses names that would land outside it.
func (d *Dir) Join(rel string) (string, error) {
	local := filepath.FromSlash(rel)
	if !filepath.IsLocal(local) {
		return "", fmt.Errorf("path escapes staging directory: %q", rel)
	}
	return filepath.Join(d.path, local), nil
}

// Mkdir creates a directory (and parents) inside the staging directory.
func (d *Dir) Mkdir(rel string) error {
	p, err := d.Join(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(p, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", rel, err)
	}
	return nil
}

// WriteFile copies r into a new file at rel, creating parent directories.
// It fails if the file already exists or the budget would be exceeded; a
// partially written file is removed.
func (d *Dir) WriteFile(rel string, r io.Reader) (int64, error) {
	p, err := d.Join(rel)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return 0, fmt.Errorf("creating parent of %s: %w", rel, err)
	}

	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", rel, err)
	}

	remaining := d.area.maxSize - d.used
	n, err := io.Copy(f, io.LimitReader(r, remaining+1))
	closeErr := f.Close()

	if err == nil && n > remaining {
		err = fmt.Errorf("%w: more than %d bytes", ErrBudgetExceeded, d.area.maxSize)
	}
	if err == nil && closeErr != nil {
		err = fmt.Errorf("closing %s: %w", rel, closeErr)
	}
	if err != nil {
		os.Remove(p)
		return 0, err
	}

	d.used += n
	return n, nil
}

// Exists reports whether rel exists inside the directory.
func (d *Dir) Exists(rel string) bool {
	p, err := d.Join(rel)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// Remove deletes the directory and everything in it.
func (d *Dir) Remove() error {
	defer d.area.release(d.name)
	if err := os.RemoveAll(d.path); err != nil {
		return fmt.Errorf("removing staging directory: %w", err)
	}
	return nil
}
