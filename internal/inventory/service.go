// Package inventory is the domain service for boxes, items, locations and
// their receipts. Every change is recorded in the activity log.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"boxes-go/internal/boxes"
	"boxes-go/internal/model"
)

var (
	// ErrNotFound is returned when the addressed record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput is returned for requests that fail validation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrLocationInUse is returned when deleting a location boxes still name.
	ErrLocationInUse = errors.New("location is in use")
)

const (
	DefaultActivityLimit = 50
	MaxActivityLimit     = 500
)

// Store is the persistence the service needs.
type Store interface {
	CreateBox(ctx context.Context, b *model.Box) error
	GetBox(ctx context.Context, id string) (*model.Box, error)
	ListBoxes(ctx context.Context) ([]*model.Box, error)
	SearchBoxes(ctx context.Context, q string) ([]*model.Box, error)
	UpdateBox(ctx context.Context, b *model.Box) (bool, error)
	DeleteBox(ctx context.Context, id string) (bool, error)
	CountBoxesAtLocation(ctx context.Context, name string) (int64, error)

	CreateItem(ctx context.Context, it *model.Item) error
	GetItem(ctx context.Context, id string) (*model.Item, error)
	ListItems(ctx context.Context, boxID string) ([]*model.Item, error)
	SearchItems(ctx context.Context, q string) ([]*model.Item, error)
	DeleteItem(ctx context.Context, id string) (bool, error)
	CountReceiptReferences(ctx context.Context, filename string) (int64, error)

	CreateLocation(ctx context.Context, loc *model.Location) error
	GetLocation(ctx context.Context, id string) (*model.Location, error)
	GetLocationByName(ctx context.Context, name string) (*model.Location, error)
	ListLocations(ctx context.Context) ([]*model.Location, error)
	DeleteLocation(ctx context.Context, id string) (bool, error)

	AppendActivity(ctx context.Context, a *model.Activity) error
	ListActivity(ctx context.Context, limit int) ([]*model.Activity, error)
	Stats(ctx context.Context) (*model.Stats, error)
}

// Service implements the inventory operations on top of a Store and the
// receipts directory of the attachment tree.
type Service struct {
	store    Store
	receipts *Receipts
	logger   boxes.Logger
	clock    boxes.Clock
	ids      boxes.IDGenerator
}

// NewService creates a Service. uploadsDir is the attachment tree root;
// receipts live in its receipts/ subdirectory.
func NewService(store Store, uploadsDir string, logger boxes.Logger, clock boxes.Clock, ids boxes.IDGenerator) *Service {
	if logger == nil {
		logger = boxes.NewNopLogger()
	}
	if clock == nil {
		clock = boxes.RealClock{}
	}
	if ids == nil {
		ids = boxes.UUIDGenerator{}
	}
	return &Service{
		store:    store,
		receipts: NewReceipts(uploadsDir),
		logger:   logger,
		clock:    clock,
		ids:      ids,
	}
}

// Receipts returns the receipt file store.
func (s *Service) Receipts() *Receipts {
	return s.receipts
}

// BoxInput holds the user-editable fields of a box.
type BoxInput struct {
	Name        string `json:"name"`
	Location    string `json:"location"`
	Description string `json:"description"`
}

func (in BoxInput) normalize() (BoxInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Location = strings.TrimSpace(in.Location)
	in.Description = strings.TrimSpace(in.Description)
	if in.Name == "" {
		return in, fmt.Errorf("%w: box name is required", ErrInvalidInput)
	}
	return in, nil
}

// CreateBox stores a new box.
func (s *Service) CreateBox(ctx context.Context, in BoxInput) (*model.Box, error) {
	in, err := in.normalize()
	if err != nil {
		return nil, err
	}

	b := &model.Box{
		ID:          s.ids.New(),
		Name:        in.Name,
		Location:    in.Location,
		Description: in.Description,
		CreatedAt:   s.clock.Now(),
	}
	if err := s.store.CreateBox(ctx, b); err != nil {
		return nil, fmt.Errorf("creating box: %w", err)
	}

	s.logger.Info("box created", "id", b.ID, "name", b.Name)
	s.record(ctx, model.ActionCreate, model.EntityBox, b.ID, b.Name, "")
	return b, nil
}

// GetBox returns the box with the given ID.
func (s *Service) GetBox(ctx context.Context, id string) (*model.Box, error) {
	b, err := s.store.GetBox(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting box: %w", err)
	}
	if b == nil {
		return nil, fmt.Errorf("%w: box %s", ErrNotFound, id)
	}
	return b, nil
}

// ListBoxes returns all boxes in creation order.
func (s *Service) ListBoxes(ctx context.Context) ([]*model.Box, error) {
	bs, err := s.store.ListBoxes(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing boxes: %w", err)
	}
	return bs, nil
}

// UpdateBox replaces the editable fields of a box.
func (s *Service) UpdateBox(ctx context.Context, id string, in BoxInput) (*model.Box, error) {
	in, err := in.normalize()
	if err != nil {
		return nil, err
	}

	b, err := s.GetBox(ctx, id)
	if err != nil {
		return nil, err
	}
	b.Name, b.Location, b.Description = in.Name, in.Location, in.Description

	ok, err := s.store.UpdateBox(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("updating box: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: box %s", ErrNotFound, id)
	}

	s.record(ctx, model.ActionUpdate, model.EntityBox, b.ID, b.Name, "")
	return b, nil
}

// DeleteBox removes a box with all its items. Receipts no other item
// references are deleted too.
func (s *Service) DeleteBox(ctx context.Context, id string) error {
	b, err := s.GetBox(ctx, id)
	if err != nil {
		return err
	}
	items, err := s.store.ListItems(ctx, id)
	if err != nil {
		return fmt.Errorf("listing items of box: %w", err)
	}

	ok, err := s.store.DeleteBox(ctx, id)
	if err != nil {
		return fmt.Errorf("deleting box: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: box %s", ErrNotFound, id)
	}

	for _, it := range items {
		s.releaseReceipt(ctx, it.ReceiptFilename)
	}

	s.logger.Info("box deleted", "id", id, "items", len(items))
	s.record(ctx, model.ActionDelete, model.EntityBox, b.ID, b.Name, fmt.Sprintf("%d items removed", len(items)))
	return nil
}

// Stats summarises the inventory.
func (s *Service) Stats(ctx context.Context) (*model.Stats, error) {
	st, err := s.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading stats: %w", err)
	}
	return st, nil
}

// SearchResult groups the matches of a search.
type SearchResult struct {
	Boxes []*model.Box  `json:"boxes"`
	Items []*model.Item `json:"items"`
}

// Search finds boxes and items containing q in their text fields.
func (s *Service) Search(ctx context.Context, q string) (*SearchResult, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, fmt.Errorf("%w: search query is required", ErrInvalidInput)
	}

	bs, err := s.store.SearchBoxes(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("searching boxes: %w", err)
	}
	items, err := s.store.SearchItems(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("searching items: %w", err)
	}
	return &SearchResult{Boxes: bs, Items: items}, nil
}
