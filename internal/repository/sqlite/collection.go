package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/sakif/pairshot/internal/apperror"
	"github.com/sakif/pairshot/internal/model"
	"github.com/sakif/pairshot/internal/repository"
)

// compile-time check that *DB implements repository.CollectionRepository
var _ repository.CollectionRepository = (*DB)(nil)

// GetCollection returns apperror.ErrNotFound for unknown names.
func (db *DB) GetCollection(ctx context.Context, name string) (*model.Collection, error) {
	var body string
	err := db.conn.QueryRowContext(ctx,
		`SELECT body FROM collections WHERE name = ?`, name,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFoundMessage("Collection not found")
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting collection %s: %w", name, err)
	}

	var c model.Collection
	if err := json.Unmarshal([]byte(body), &c); err != nil {
		return nil, fmt.Errorf("sqlite: decoding collection %s: %w", name, err)
	}
	return &c, nil
}

// ListCollections returns every definition ordered by name.
func (db *DB) ListCollections(ctx context.Context) ([]model.Collection, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT body FROM collections ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing collections: %w", err)
	}
	defer rows.Close()

	var out []model.Collection
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("sqlite: scanning collection: %w", err)
		}
		var c model.Collection
		if err := json.Unmarshal([]byte(body), &c); err != nil {
			return nil, fmt.Errorf("sqlite: decoding collection: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating collections: %w", err)
	}
	return out, nil
}

// CreateCollection stamps timestamps on c and inserts it.
func (db *DB) CreateCollection(ctx context.Context, c *model.Collection) error {
	var exists int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM collections WHERE name = ?`, c.Name,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("sqlite: checking collection %s: %w", c.Name, err)
	}
	if exists > 0 {
		return apperror.Conflict("collection", c.Name)
	}

	now := time.Now().Unix()
	c.Created = now
	c.Modified = now

	body, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("sqlite: encoding collection %s: %w", c.Name, err)
	}
	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO collections (name, body, created, modified) VALUES (?, ?, ?, ?)`,
		c.Name, string(body), c.Created, c.Modified,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting collection %s: %w", c.Name, err)
	}
	return nil
}

// UpdateCollection replaces the stored definition, keeping its creation time.
func (db *DB) UpdateCollection(ctx context.Context, c *model.Collection) error {
	existing, err := db.GetCollection(ctx, c.Name)
	if err != nil {
		return err
	}
	c.Created = existing.Created
	c.Modified = time.Now().Unix()

	body, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("sqlite: encoding collection %s: %w", c.Name, err)
	}
	res, err := db.conn.ExecContext(ctx,
		`UPDATE collections SET body = ?, modified = ? WHERE name = ?`,
		string(body), c.Modified, c.Name,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating collection %s: %w", c.Name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.NotFoundMessage("Collection not found")
	}
	return nil
}
