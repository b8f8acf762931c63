package inventory

import (
	"context"
	"fmt"
	"strings"

	"boxes-go/internal/model"
)

// LocationInput holds the fields of a new location.
type LocationInput struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
}

// CreateLocation stores a new location. Names are unique.
func (s *Service) CreateLocation(ctx context.Context, in LocationInput) (*model.Location, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: location name is required", ErrInvalidInput)
	}

	existing, err := s.store.GetLocationByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("checking location name: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: location %q already exists", ErrInvalidInput, name)
	}

	var desc *string
	if in.Description != nil {
		d := strings.TrimSpace(*in.Description)
		if d != "" {
			desc = &d
		}
	}

	loc := &model.Location{
		ID:          s.ids.New(),
		Name:        name,
		Description: desc,
		CreatedAt:   s.clock.Now(),
	}
	if err := s.store.CreateLocation(ctx, loc); err != nil {
		return nil, fmt.Errorf("creating location: %w", err)
	}

	s.record(ctx, model.ActionCreate, model.EntityLocation, loc.ID, loc.Name, "")
	return loc, nil
}

// ListLocations returns all locations ordered by name.
func (s *Service) ListLocations(ctx context.Context) ([]*model.Location, error) {
	locs, err := s.store.ListLocations(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing locations: %w", err)
	}
	return locs, nil
}

// DeleteLocation removes a location no box refers to.
func (s *Service) DeleteLocation(ctx context.Context, id string) error {
	loc, err := s.store.GetLocation(ctx, id)
	if err != nil {
		return fmt.Errorf("getting location: %w", err)
	}
	if loc == nil {
		return fmt.Errorf("%w: location %s", ErrNotFound, id)
	}

	n, err := s.store.CountBoxesAtLocation(ctx, loc.Name)
	if err != nil {
		return fmt.Errorf("checking location use: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("%w: %d boxes at %q", ErrLocationInUse, n, loc.Name)
	}

	ok, err := s.store.DeleteLocation(ctx, id)
	if err != nil {
		return fmt.Errorf("deleting location: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: location %s", ErrNotFound, id)
	}

	s.record(ctx, model.ActionDelete, model.EntityLocation, loc.ID, loc.Name, "")
	return nil
}
