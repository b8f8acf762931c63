package inventory

import (
	"context"
	"fmt"

	"boxes-go/internal/model"
)

// Activity returns the newest activity records. limit <= 0 selects the
// default; larger values are capped.
func (s *Service) Activity(ctx context.Context, limit int) ([]*model.Activity, error) {
	if limit <= 0 {
		limit = DefaultActivityLimit
	}
	if limit > MaxActivityLimit {
		limit = MaxActivityLimit
	}
	as, err := s.store.ListActivity(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing activity: %w", err)
	}
	return as, nil
}

// RecordRestore appends a system record for a completed restore. It runs
// against the freshly attached store.
func (s *Service) RecordRestore(ctx context.Context, source string) {
	s.record(ctx, model.ActionRestore, model.EntitySystem, "", "backup", source)
}

func (s *Service) record(ctx context.Context, action, entityType, entityID, entityName, details string) {
	a := &model.Activity{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		EntityName: entityName,
		Details:    details,
		CreatedAt:  s.clock.Now(),
	}
	if err := s.store.AppendActivity(ctx, a); err != nil {
		s.logger.Warn("failed to record activity", "action", action, "entity", entityType, "error", err)
	}
}
