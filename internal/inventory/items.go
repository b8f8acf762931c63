package inventory

import (
	"context"
	"fmt"
	"io"
	"strings"

	"boxes-go/internal/model"
)

// ReceiptUpload is a receipt file attached to a new item.
type ReceiptUpload struct {
	Filename string
	Body     io.Reader
}

// ItemInput holds the fields of a new item. Quantity defaults to 1.
type ItemInput struct {
	Name     string
	Quantity int64
	Details  string
	Value    *float64
	Receipt  *ReceiptUpload
}

func (in ItemInput) normalize() (ItemInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Details = strings.TrimSpace(in.Details)
	if in.Name == "" {
		return in, fmt.Errorf("%w: item name is required", ErrInvalidInput)
	}
	if in.Quantity == 0 {
		in.Quantity = 1
	}
	if in.Quantity < 0 {
		return in, fmt.Errorf("%w: quantity must be positive", ErrInvalidInput)
	}
	if in.Value != nil && *in.Value < 0 {
		return in, fmt.Errorf("%w: value must not be negative", ErrInvalidInput)
	}
	return in, nil
}

// AddItem stores a new item in an existing box, saving its receipt first.
func (s *Service) AddItem(ctx context.Context, boxID string, in ItemInput) (*model.Item, error) {
	in, err := in.normalize()
	if err != nil {
		return nil, err
	}
	if _, err := s.GetBox(ctx, boxID); err != nil {
		return nil, err
	}

	it := &model.Item{
		ID:        s.ids.New(),
		BoxID:     boxID,
		Name:      in.Name,
		Quantity:  in.Quantity,
		Details:   in.Details,
		Value:     in.Value,
		CreatedAt: s.clock.Now(),
	}

	if in.Receipt != nil {
		name, err := s.receipts.Save(it.ID, in.Receipt.Filename, in.Receipt.Body)
		if err != nil {
			return nil, err
		}
		it.ReceiptFilename = &name
	}

	if err := s.store.CreateItem(ctx, it); err != nil {
		if it.ReceiptFilename != nil {
			if rmErr := s.receipts.Remove(*it.ReceiptFilename); rmErr != nil {
				s.logger.Warn("failed to remove orphaned receipt", "receipt", *it.ReceiptFilename, "error", rmErr)
			}
		}
		return nil, fmt.Errorf("creating item: %w", err)
	}

	s.logger.Info("item added", "id", it.ID, "box", boxID)
	s.record(ctx, model.ActionCreate, model.EntityItem, it.ID, it.Name, "box "+boxID)
	return it, nil
}

// GetItem returns the item with the given ID.
func (s *Service) GetItem(ctx context.Context, id string) (*model.Item, error) {
	it, err := s.store.GetItem(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting item: %w", err)
	}
	if it == nil {
		return nil, fmt.Errorf("%w: item %s", ErrNotFound, id)
	}
	return it, nil
}

// ListItems returns the items of a box.
func (s *Service) ListItems(ctx context.Context, boxID string) ([]*model.Item, error) {
	if _, err := s.GetBox(ctx, boxID); err != nil {
		return nil, err
	}
	items, err := s.store.ListItems(ctx, boxID)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	return items, nil
}

// DeleteItem removes an item and its receipt when nothing else references it.
func (s *Service) DeleteItem(ctx context.Context, id string) error {
	it, err := s.GetItem(ctx, id)
	if err != nil {
		return err
	}

	ok, err := s.store.DeleteItem(ctx, id)
	if err != nil {
		return fmt.Errorf("deleting item: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: item %s", ErrNotFound, id)
	}

	s.releaseReceipt(ctx, it.ReceiptFilename)
	s.record(ctx, model.ActionDelete, model.EntityItem, it.ID, it.Name, "")
	return nil
}

// releaseReceipt deletes a receipt file once no item refers to it.
// Failures are logged; the database change already happened.
func (s *Service) releaseReceipt(ctx context.Context, name *string) {
	if name == nil || *name == "" {
		return
	}
	n, err := s.store.CountReceiptReferences(ctx, *name)
	if err != nil {
		s.logger.Warn("failed to count receipt references", "receipt", *name, "error", err)
		return
	}
	if n > 0 {
		return
	}
	if err := s.receipts.Remove(*name); err != nil {
		s.logger.Warn("failed to remove receipt", "receipt", *name, "error", err)
	}
}
