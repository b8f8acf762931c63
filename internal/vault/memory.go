package vault

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"boxes-go/internal/boxes"
)

type memoryArchive struct {
	data []byte
	info boxes.ArchiveInfo
}

// MemoryVault keeps archives in memory. Safe for concurrent use.
type MemoryVault struct {
	name  string
	clock boxes.Clock

	mu       sync.RWMutex
	archives map[string]*memoryArchive
}

var _ boxes.Vault = (*MemoryVault)(nil)

// NewMemoryVault creates an empty in-memory vault.
func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{
		name:     name,
		clock:    boxes.RealClock{},
		archives: make(map[string]*memoryArchive),
	}
}

// SetClock replaces the clock used to stamp stored archives.
func (m *MemoryVault) SetClock(c boxes.Clock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = c
}

func (m *MemoryVault) Name() string { return m.name }

func (m *MemoryVault) PutArchive(ctx context.Context, key string, r io.Reader, size int64) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading archive: %w", err)
	}
	if err := checkSize(size, int64(len(data))); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.archives[key] = &memoryArchive{
		data: data,
		info: boxes.ArchiveInfo{Key: key, Size: int64(len(data)), CreatedAt: m.clock.Now()},
	}
	return nil
}

func (m *MemoryVault) GetArchive(ctx context.Context, key string, w io.Writer) error {
	m.mu.RLock()
	a, ok := m.archives[key]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrArchiveNotFound, key)
	}
	if _, err := io.Copy(w, bytes.NewReader(a.data)); err != nil {
		return fmt.Errorf("writing archive: %w", err)
	}
	return nil
}

func (m *MemoryVault) ListArchives(ctx context.Context) ([]boxes.ArchiveInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]boxes.ArchiveInfo, 0, len(m.archives))
	for _, a := range m.archives {
		out = append(out, a.info)
	}
	sortNewestFirst(out)
	return out, nil
}

// ValidateSetup always succeeds.
func (m *MemoryVault) ValidateSetup(ctx context.Context) error {
	return nil
}
