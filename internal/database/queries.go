package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"boxes-go/internal/model"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// Box operations

const boxColumns = "id, name, location, description, created_at"

func scanBox(r rowScanner) (*model.Box, error) {
	var b model.Box
	if err := r.Scan(&b.ID, &b.Name, &b.Location, &b.Description, &b.CreatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *SQLiteStore) CreateBox(ctx context.Context, b *model.Box) error {
	return s.withDB(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			"INSERT INTO boxes ("+boxColumns+") VALUES (?, ?, ?, ?, ?)",
			b.ID, b.Name, b.Location, b.Description, b.CreatedAt)
		if err != nil {
			return fmt.Errorf("inserting box: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) GetBox(ctx context.Context, id string) (*model.Box, error) {
	var box *model.Box
	err := s.withDB(func(db *sql.DB) error {
		b, err := scanBox(db.QueryRowContext(ctx, "SELECT "+boxColumns+" FROM boxes WHERE id = ?", id))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("finding box: %w", err)
		}
		box = b
		return nil
	})
	return box, err
}

func (s *SQLiteStore) ListBoxes(ctx context.Context) ([]*model.Box, error) {
	return queryBoxes(ctx, s, "SELECT "+boxColumns+" FROM boxes ORDER BY created_at, id")
}

// SearchBoxes returns boxes whose name, location or description contains q.
func (s *SQLiteStore) SearchBoxes(ctx context.Context, q string) ([]*model.Box, error) {
	pattern := likePattern(q)
	return queryBoxes(ctx, s,
		"SELECT "+boxColumns+" FROM boxes WHERE name LIKE ? ESCAPE '\\' OR location LIKE ? ESCAPE '\\' OR description LIKE ? ESCAPE '\\' ORDER BY name, id",
		pattern, pattern, pattern)
}

func queryBoxes(ctx context.Context, s *SQLiteStore, query string, args ...any) ([]*model.Box, error) {
	var boxes []*model.Box
	err := s.withDB(func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("querying boxes: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			b, err := scanBox(rows)
			if err != nil {
				return fmt.Errorf("scanning box: %w", err)
			}
			boxes = append(boxes, b)
		}
		return rows.Err()
	})
	return boxes, err
}

// UpdateBox overwrites the mutable fields of a box. Returns false if no box
// has that ID.
func (s *SQLiteStore) UpdateBox(ctx context.Context, b *model.Box) (bool, error) {
	return s.execAffecting(ctx, "updating box",
		"UPDATE boxes SET name = ?, location = ?, description = ? WHERE id = ?",
		b.Name, b.Location, b.Description, b.ID)
}

// DeleteBox removes a box and, by cascade, its items.
func (s *SQLiteStore) DeleteBox(ctx context.Context, id string) (bool, error) {
	return s.execAffecting(ctx, "deleting box", "DELETE FROM boxes WHERE id = ?", id)
}

// CountBoxesAtLocation counts boxes whose location label equals name.
func (s *SQLiteStore) CountBoxesAtLocation(ctx context.Context, name string) (int64, error) {
	var n int64
	err := s.withDB(func(db *sql.DB) error {
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM boxes WHERE location = ?", name).Scan(&n); err != nil {
			return fmt.Errorf("counting boxes at location: %w", err)
		}
		return nil
	})
	return n, err
}

// Item operations

const itemColumns = "id, box_id, name, quantity, details, value, receipt_filename, created_at"

func scanItem(r rowScanner) (*model.Item, error) {
	var (
		it      model.Item
		value   sql.NullFloat64
		receipt sql.NullString
	)
	if err := r.Scan(&it.ID, &it.BoxID, &it.Name, &it.Quantity, &it.Details, &value, &receipt, &it.CreatedAt); err != nil {
		return nil, err
	}
	if value.Valid {
		it.Value = &value.Float64
	}
	if receipt.Valid {
		it.ReceiptFilename = &receipt.String
	}
	return &it, nil
}

func (s *SQLiteStore) CreateItem(ctx context.Context, it *model.Item) error {
	return s.withDB(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			"INSERT INTO items ("+itemColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
			it.ID, it.BoxID, it.Name, it.Quantity, it.Details,
			nullFloat(it.Value), nullString(it.ReceiptFilename), it.CreatedAt)
		if err != nil {
			return fmt.Errorf("inserting item: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) GetItem(ctx context.Context, id string) (*model.Item, error) {
	var item *model.Item
	err := s.withDB(func(db *sql.DB) error {
		it, err := scanItem(db.QueryRowContext(ctx, "SELECT "+itemColumns+" FROM items WHERE id = ?", id))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("finding item: %w", err)
		}
		item = it
		return nil
	})
	return item, err
}

func (s *SQLiteStore) ListItems(ctx context.Context, boxID string) ([]*model.Item, error) {
	return queryItems(ctx, s, "SELECT "+itemColumns+" FROM items WHERE box_id = ? ORDER BY created_at, id", boxID)
}

func (s *SQLiteStore) ListAllItems(ctx context.Context) ([]*model.Item, error) {
	return queryItems(ctx, s, "SELECT "+itemColumns+" FROM items ORDER BY box_id, created_at, id")
}

// SearchItems returns items whose name or details contain q.
func (s *SQLiteStore) SearchItems(ctx context.Context, q string) ([]*model.Item, error) {
	pattern := likePattern(q)
	return queryItems(ctx, s,
		"SELECT "+itemColumns+" FROM items WHERE name LIKE ? ESCAPE '\\' OR details LIKE ? ESCAPE '\\' ORDER BY name, id",
		pattern, pattern)
}

func queryItems(ctx context.Context, s *SQLiteStore, query string, args ...any) ([]*model.Item, error) {
	var items []*model.Item
	err := s.withDB(func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("querying items: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			it, err := scanItem(rows)
			if err != nil {
				return fmt.Errorf("scanning item: %w", err)
			}
			items = append(items, it)
		}
		return rows.Err()
	})
	return items, err
}

func (s *SQLiteStore) DeleteItem(ctx context.Context, id string) (bool, error) {
	return s.execAffecting(ctx, "deleting item", "DELETE FROM items WHERE id = ?", id)
}

// CountReceiptReferences counts items that reference the receipt file name.
func (s *SQLiteStore) CountReceiptReferences(ctx context.Context, filename string) (int64, error) {
	var n int64
	err := s.withDB(func(db *sql.DB) error {
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM items WHERE receipt_filename = ?", filename).Scan(&n); err != nil {
			return fmt.Errorf("counting receipt references: %w", err)
		}
		return nil
	})
	return n, err
}

// Location operations

const locationColumns = "id, name, description, created_at"

func scanLocation(r rowScanner) (*model.Location, error) {
	var (
		loc  model.Location
		desc sql.NullString
	)
	if err := r.Scan(&loc.ID, &loc.Name, &desc, &loc.CreatedAt); err != nil {
		return nil, err
	}
	if desc.Valid {
		loc.Description = &desc.String
	}
	return &loc, nil
}

func (s *SQLiteStore) CreateLocation(ctx context.Context, loc *model.Location) error {
	return s.withDB(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			"INSERT INTO locations ("+locationColumns+") VALUES (?, ?, ?, ?)",
			loc.ID, loc.Name, nullString(loc.Description), loc.CreatedAt)
		if err != nil {
			return fmt.Errorf("inserting location: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) GetLocation(ctx context.Context, id string) (*model.Location, error) {
	return s.findLocation(ctx, "SELECT "+locationColumns+" FROM locations WHERE id = ?", id)
}

func (s *SQLiteStore) GetLocationByName(ctx context.Context, name string) (*model.Location, error) {
	return s.findLocation(ctx, "SELECT "+locationColumns+" FROM locations WHERE name = ?", name)
}

func (s *SQLiteStore) findLocation(ctx context.Context, query string, arg string) (*model.Location, error) {
	var loc *model.Location
	err := s.withDB(func(db *sql.DB) error {
		l, err := scanLocation(db.QueryRowContext(ctx, query, arg))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("finding location: %w", err)
		}
		loc = l
		return nil
	})
	return loc, err
}

func (s *SQLiteStore) ListLocations(ctx context.Context) ([]*model.Location, error) {
	var locs []*model.Location
	err := s.withDB(func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, "SELECT "+locationColumns+" FROM locations ORDER BY name")
		if err != nil {
			return fmt.Errorf("querying locations: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			l, err := scanLocation(rows)
			if err != nil {
				return fmt.Errorf("scanning location: %w", err)
			}
			locs = append(locs, l)
		}
		return rows.Err()
	})
	return locs, err
}

func (s *SQLiteStore) DeleteLocation(ctx context.Context, id string) (bool, error) {
	return s.execAffecting(ctx, "deleting location", "DELETE FROM locations WHERE id = ?", id)
}

// Activity log operations

// AppendActivity inserts a record and sets its ID.
func (s *SQLiteStore) AppendActivity(ctx context.Context, a *model.Activity) error {
	return s.withDB(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			"INSERT INTO activity_log (action, entity_type, entity_id, entity_name, details, created_at) VALUES (?, ?, ?, ?, ?, ?)",
			a.Action, a.EntityType, a.EntityID, a.EntityName, a.Details, a.CreatedAt)
		if err != nil {
			return fmt.Errorf("inserting activity: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("reading activity id: %w", err)
		}
		a.ID = id
		return nil
	})
}

// ListActivity returns the newest limit records, newest first.
func (s *SQLiteStore) ListActivity(ctx context.Context, limit int) ([]*model.Activity, error) {
	var out []*model.Activity
	err := s.withDB(func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx,
			"SELECT id, action, entity_type, entity_id, entity_name, details, created_at FROM activity_log ORDER BY id DESC LIMIT ?",
			limit)
		if err != nil {
			return fmt.Errorf("querying activity: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var a model.Activity
			if err := rows.Scan(&a.ID, &a.Action, &a.EntityType, &a.EntityID, &a.EntityName, &a.Details, &a.CreatedAt); err != nil {
				return fmt.Errorf("scanning activity: %w", err)
			}
			out = append(out, &a)
		}
		return rows.Err()
	})
	return out, err
}

// Stats counts the rows of every table.
func (s *SQLiteStore) Stats(ctx context.Context) (*model.Stats, error) {
	var st model.Stats
	err := s.withDB(func(db *sql.DB) error {
		err := db.QueryRowContext(ctx, `SELECT
			(SELECT COUNT(*) FROM boxes),
			(SELECT COUNT(*) FROM items),
			(SELECT COUNT(*) FROM locations),
			(SELECT COUNT(*) FROM activity_log)`).Scan(&st.Boxes, &st.Items, &st.Locations, &st.Activity)
		if err != nil {
			return fmt.Errorf("counting rows: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *SQLiteStore) execAffecting(ctx context.Context, what, query string, args ...any) (bool, error) {
	var affected int64
	err := s.withDB(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("%s: %w", what, err)
		}
		affected, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("%s: %w", what, err)
		}
		return nil
	})
	return affected > 0, err
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

// likePattern wraps q for a substring LIKE match, escaping wildcards.
func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(q) + "%"
}
