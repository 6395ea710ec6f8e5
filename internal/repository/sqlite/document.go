package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/xid"

	"github.com/sakif/pairshot/internal/apperror"
	"github.com/sakif/pairshot/internal/metrics"
	"github.com/sakif/pairshot/internal/model"
	"github.com/sakif/pairshot/internal/query"
	"github.com/sakif/pairshot/internal/repository"
)

// compile-time check that *DB implements repository.DocumentStore
var _ repository.DocumentStore = (*DB)(nil)

// Find loads the collection in insertion order and evaluates opts in Go.
func (db *DB) Find(ctx context.Context, collection string, opts query.Options) (_ []model.Document, err error) {
	defer observe("find", collection, time.Now(), &err)

	docs, err := db.load(ctx, collection)
	if err != nil {
		return nil, err
	}
	out, _, err := query.Apply(docs, opts)
	if err != nil {
		return nil, fmt.Errorf("sqlite: querying %s: %w", collection, err)
	}
	return out, nil
}

// FindOne returns nil, nil when nothing matches.
func (db *DB) FindOne(ctx context.Context, collection string, filter map[string]any) (model.Document, error) {
	// Lookups by _id alone go straight to the primary key.
	if id, ok := filter[model.KeyID].(string); ok && len(filter) == 1 {
		return db.findByID(ctx, collection, id)
	}

	docs, err := db.Find(ctx, collection, query.Options{Filter: filter, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return docs[0], nil
}

// Count returns how many entries match filter.
func (db *DB) Count(ctx context.Context, collection string, filter map[string]any) (_ int, err error) {
	defer observe("count", collection, time.Now(), &err)

	docs, err := db.load(ctx, collection)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, d := range docs {
		ok, err := query.Match(d, filter)
		if err != nil {
			return 0, fmt.Errorf("sqlite: counting %s: %w", collection, err)
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// Save upserts doc by _id.
func (db *DB) Save(ctx context.Context, collection string, doc model.Document) (_ model.Document, err error) {
	defer observe("save", collection, time.Now(), &err)
	return db.save(ctx, collection, doc, false)
}

// SaveIfCurrent is Save guarded by a compare-and-swap on _rev.
func (db *DB) SaveIfCurrent(ctx context.Context, collection string, doc model.Document) (_ model.Document, err error) {
	defer observe("save_if_current", collection, time.Now(), &err)
	return db.save(ctx, collection, doc, true)
}

// Remove deletes every entry matching filter inside one transaction.
func (db *DB) Remove(ctx context.Context, collection string, filter map[string]any) (_ int, err error) {
	defer observe("remove", collection, time.Now(), &err)

	matched, err := db.Find(ctx, collection, query.Options{Filter: filter})
	if err != nil {
		return 0, err
	}
	if len(matched) == 0 {
		return 0, nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: beginning remove on %s: %w", collection, err)
	}
	defer tx.Rollback()

	removed := 0
	for _, d := range matched {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM documents WHERE collection = ? AND id = ?`,
			collection, d.ID(),
		)
		if err != nil {
			return 0, fmt.Errorf("sqlite: removing %s/%s: %w", collection, d.ID(), err)
		}
		n, _ := res.RowsAffected()
		removed += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: committing remove on %s: %w", collection, err)
	}
	return removed, nil
}

// save runs the read-stamp-write cycle in a transaction. With checkRev the
// caller's _rev must equal the stored one, and the UPDATE repeats the check
// so a writer that slipped in between still loses.
func (db *DB) save(ctx context.Context, collection string, doc model.Document, checkRev bool) (model.Document, error) {
	out := doc.Clone()
	if out == nil {
		out = model.Document{}
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: beginning save on %s: %w", collection, err)
	}
	defer tx.Rollback()

	id := out.ID()
	var (
		created, rev int64
		exists       bool
	)
	if id != "" {
		err := tx.QueryRowContext(ctx,
			`SELECT created, rev FROM documents WHERE collection = ? AND id = ?`,
			collection, id,
		).Scan(&created, &rev)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return nil, fmt.Errorf("sqlite: reading %s/%s: %w", collection, id, err)
		default:
			exists = true
		}
	} else {
		id = xid.New().String()
	}

	if checkRev {
		want, ok := out.Int64(model.KeyRev)
		if !exists || !ok || want != rev {
			return nil, apperror.ConflictMessage("This entry was modified in the meantime, please try again")
		}
	}

	now := time.Now().Unix()
	if !exists {
		created = now
	}
	prevRev := rev
	rev++

	out[model.KeyID] = id
	out[model.KeyCreated] = created
	out[model.KeyModified] = now
	out[model.KeyRev] = rev

	body, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("sqlite: encoding %s/%s: %w", collection, id, err)
	}

	if exists {
		res, err := tx.ExecContext(ctx,
			`UPDATE documents SET body = ?, modified = ?, rev = ?
			 WHERE collection = ? AND id = ? AND rev = ?`,
			string(body), now, rev, collection, id, prevRev,
		)
		if err != nil {
			return nil, fmt.Errorf("sqlite: updating %s/%s: %w", collection, id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, apperror.ConflictMessage("This entry was modified in the meantime, please try again")
		}
	} else {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO documents (collection, id, body, created, modified, rev)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			collection, id, string(body), created, now, rev,
		)
		if err != nil {
			return nil, fmt.Errorf("sqlite: inserting %s/%s: %w", collection, id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: committing %s/%s: %w", collection, id, err)
	}

	// Hand back the decoded body so callers see the same number types
	// (float64) a later Find would produce.
	return decode(body)
}

func (db *DB) findByID(ctx context.Context, collection, id string) (model.Document, error) {
	var body string
	err := db.conn.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE collection = ? AND id = ?`,
		collection, id,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting %s/%s: %w", collection, id, err)
	}
	return decode([]byte(body))
}

func (db *DB) load(ctx context.Context, collection string) ([]model.Document, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT body FROM documents WHERE collection = ? ORDER BY created, rowid`,
		collection,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: loading %s: %w", collection, err)
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("sqlite: scanning %s: %w", collection, err)
		}
		d, err := decode([]byte(body))
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating %s: %w", collection, err)
	}
	return docs, nil
}

func decode(body []byte) (model.Document, error) {
	var d model.Document
	if err := json.Unmarshal(body, &d); err != nil {
		return nil, fmt.Errorf("sqlite: decoding document: %w", err)
	}
	return d, nil
}

// observe records the duration and outcome of a store call. Conflicts are
// expected outcomes, not store errors.
func observe(op, collection string, start time.Time, errp *error) {
	err := *errp
	if errors.Is(err, apperror.ErrConflict) {
		err = nil
	}
	metrics.RecordStoreOperation(op, collection, time.Since(start), err)
}
