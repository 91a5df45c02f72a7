// Package store owns the persisted schema and all read/write access to it.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/hiro/poi_service/internal/store/migrations"
	"github.com/hiro/poi_service/pkg/models"
)

// ErrTermIndexed reports an attempt to insert messages for a search term that
// already carries an indexing event. Callers are expected to check
// HasIndexedTerm first; hitting this means two writers raced on the term.
var ErrTermIndexed = errors.New("search term already indexed")

const uniqueViolation = "23505"

type PgStore struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func New(db *sql.DB, logger *zap.Logger) *PgStore {
	return &PgStore{db: sqlx.NewDb(db, "postgres"), logger: logger}
}

// ApplyMigrations brings the schema up to date using the embedded migration
// files.
func ApplyMigrations(db *sql.DB) error {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// HasIndexedTerm reports whether some message already carries this search term.
func (p *PgStore) HasIndexedTerm(ctx context.Context, term string) (bool, error) {
	var one int
	err := p.db.GetContext(ctx, &one,
		`SELECT 1 FROM messages WHERE search_term = $1 LIMIT 1`, term)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check term %q: %w", term, err)
	}
	return true, nil
}

// GetLocation fetches one location by its external identifier, with its
// categories. Returns nil, nil when the id is unknown. Blacklisting does not
// affect this lookup; blacklisted rows stay retrievable by id.
func (p *PgStore) GetLocation(ctx context.Context, id string) (*models.Location, error) {
	var loc models.Location
	err := p.db.GetContext(ctx, &loc, `
SELECT id, name, alias, image_url, lookup_url, latitude, longitude, rating,
       review_count, price, phone, address1, address2, address3, city, zip_code
FROM locations
WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get location %q: %w", id, err)
	}

	err = p.db.SelectContext(ctx, &loc.Categories, `
SELECT location_id, category, alias
FROM location_categories
WHERE location_id = $1
ORDER BY category`, id)
	if err != nil {
		return nil, fmt.Errorf("get categories for %q: %w", id, err)
	}
	return &loc, nil
}

// viewFilter renders the shared WHERE clause of the ranked view: blacklist
// exclusion plus the optional OR-combined category/alias match. Patterns match
// case-insensitively as substrings; embedded SQL wildcards pass through.
func viewFilter(category, alias string, args *[]interface{}) string {
	where := `NOT EXISTS (SELECT 1 FROM blacklisted_locations b WHERE b.id = l.id)`

	var matches []string
	if category != "" {
		*args = append(*args, category)
		matches = append(matches, fmt.Sprintf("c.category ILIKE '%%' || $%d || '%%'", len(*args)))
	}
	if alias != "" {
		*args = append(*args, alias)
		matches = append(matches, fmt.Sprintf("c.alias ILIKE '%%' || $%d || '%%'", len(*args)))
	}
	if len(matches) > 0 {
		where += fmt.Sprintf(
			"\n    AND EXISTS (SELECT 1 FROM location_categories c WHERE c.location_id = l.id AND (%s))",
			strings.Join(matches, " OR "))
	}
	return where
}

// rankedSelect is the inner projection both QueryRanked and Centroid build on:
// every link row, ranked per message by descending review count with the
// location id as the deterministic tie-break.
func rankedSelect(where string) string {
	return fmt.Sprintf(`
  SELECT l.id AS location_id,
         ml.message_id,
         l.name,
         l.review_count,
         l.latitude,
         l.longitude,
         RANK() OVER (PARTITION BY ml.message_id
                      ORDER BY l.review_count DESC, l.id ASC) AS rank
  FROM locations l
  JOIN message_locations ml ON ml.location_id = l.id
  WHERE %s`, where)
}

func rankedQuery(p models.RankedParams) (string, []interface{}) {
	args := []interface{}{}
	inner := rankedSelect(viewFilter(p.Category, p.Alias, &args))
	query := fmt.Sprintf(`
SELECT location_id, message_id, name, review_count, rank, latitude, longitude
FROM (%s
) ranked
ORDER BY message_id, rank
LIMIT $%d OFFSET $%d`, inner, len(args)+1, len(args)+2)
	args = append(args, p.Limit, p.Offset)
	return query, args
}

func centroidQuery(topRank int, category, alias string) (string, []interface{}) {
	args := []interface{}{}
	inner := rankedSelect(viewFilter(category, alias, &args))
	query := fmt.Sprintf(`
WITH ranked AS (%s
)
SELECT AVG(latitude) AS latitude, AVG(longitude) AS longitude
FROM ranked
WHERE rank <= $%d`, inner, len(args)+1)
	args = append(args, topRank)
	return query, args
}

// QueryRanked materializes a window of the ranked view. The view is computed
// from the current committed state on every call; nothing is cached.
func (p *PgStore) QueryRanked(ctx context.Context, params models.RankedParams) ([]models.RankedRow, error) {
	if params.Limit <= 0 || params.Limit > 200 {
		params.Limit = 50
	}
	if params.Offset < 0 {
		params.Offset = 0
	}
	query, args := rankedQuery(params)
	rows := []models.RankedRow{}
	if err := p.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query ranked view: %w", err)
	}
	return rows, nil
}

// Centroid averages latitude and longitude over the filtered view rows whose
// rank is at most topRank. Returns nil when no rows qualify.
func (p *PgStore) Centroid(ctx context.Context, topRank int, category, alias string) (*models.Centroid, error) {
	query, args := centroidQuery(topRank, category, alias)
	var row struct {
		Latitude  sql.NullFloat64 `db:"latitude"`
		Longitude sql.NullFloat64 `db:"longitude"`
	}
	if err := p.db.GetContext(ctx, &row, query, args...); err != nil {
		return nil, fmt.Errorf("query centroid: %w", err)
	}
	if !row.Latitude.Valid || !row.Longitude.Valid {
		return nil, nil
	}
	return &models.Centroid{Latitude: row.Latitude.Float64, Longitude: row.Longitude.Float64}, nil
}

// Batch is one transaction's worth of writes. Every mutation of an external
// request goes through a single Batch: commit makes all of it durable,
// anything else rolls all of it back.
type Batch interface {
	InsertMessages(ctx context.Context, term string, msgs []models.IncomingMessage) error
	UpsertLocation(ctx context.Context, loc *models.Location) error
	UpsertCategories(ctx context.Context, locationID string, cats []models.Category) error
	LinkMessageToLocation(ctx context.Context, messageID int64, locationID string) error
	Blacklist(ctx context.Context, ids []string) error
	Commit() error
	Rollback() error
}

// Begin opens a write transaction.
func (p *PgStore) Begin(ctx context.Context) (Batch, error) {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin batch: %w", err)
	}
	return &pgBatch{tx: tx}, nil
}

type pgBatch struct {
	tx *sqlx.Tx
}

// InsertMessages writes one message row per input, stamped with term. A term
// that is already present surfaces as ErrTermIndexed.
func (b *pgBatch) InsertMessages(ctx context.Context, term string, msgs []models.IncomingMessage) error {
	const stmt = `
INSERT INTO messages (id, search_term, author, channel, content, created_at, jump_url)
VALUES (:id, :search_term, :author, :channel, :content, :created_at, :jump_url)`

	for _, m := range msgs {
		row := models.Message{
			ID:         m.ID,
			SearchTerm: term,
			Author:     m.Author,
			Channel:    m.Channel,
			Content:    m.Content,
			CreatedAt:  m.CreatedAt,
			JumpURL:    m.JumpURL,
		}
		if _, err := b.tx.NamedExecContext(ctx, stmt, row); err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
				return fmt.Errorf("term %q: %w", term, ErrTermIndexed)
			}
			return fmt.Errorf("insert message %d for term %q: %w", m.ID, term, err)
		}
	}
	return nil
}

// UpsertLocation inserts the location if its id is unseen; an existing row is
// left untouched (first write wins, no update).
func (b *pgBatch) UpsertLocation(ctx context.Context, loc *models.Location) error {
	const stmt = `
INSERT INTO locations (id, name, alias, image_url, lookup_url, latitude, longitude,
                       rating, review_count, price, phone, address1, address2,
                       address3, city, zip_code)
VALUES (:id, :name, :alias, :image_url, :lookup_url, :latitude, :longitude,
        :rating, :review_count, :price, :phone, :address1, :address2,
        :address3, :city, :zip_code)
ON CONFLICT (id) DO NOTHING`

	if _, err := b.tx.NamedExecContext(ctx, stmt, loc); err != nil {
		return fmt.Errorf("upsert location %q: %w", loc.ID, err)
	}
	return nil
}

func (b *pgBatch) UpsertCategories(ctx context.Context, locationID string, cats []models.Category) error {
	const stmt = `
INSERT INTO location_categories (location_id, category, alias)
VALUES ($1, $2, $3)
ON CONFLICT (location_id, category) DO NOTHING`

	for _, c := range cats {
		if _, err := b.tx.ExecContext(ctx, stmt, locationID, c.Category, c.Alias); err != nil {
			return fmt.Errorf("upsert category %q for %q: %w", c.Category, locationID, err)
		}
	}
	return nil
}

func (b *pgBatch) LinkMessageToLocation(ctx context.Context, messageID int64, locationID string) error {
	const stmt = `
INSERT INTO message_locations (message_id, location_id)
VALUES ($1, $2)
ON CONFLICT (message_id, location_id) DO NOTHING`

	if _, err := b.tx.ExecContext(ctx, stmt, messageID, locationID); err != nil {
		return fmt.Errorf("link message %d to %q: %w", messageID, locationID, err)
	}
	return nil
}

// Blacklist marks the given location ids as excluded from presentation.
// Membership is idempotent; re-adding a present id is a no-op.
func (b *pgBatch) Blacklist(ctx context.Context, ids []string) error {
	const stmt = `
INSERT INTO blacklisted_locations (id)
SELECT unnest($1::text[])
ON CONFLICT (id) DO NOTHING`

	if _, err := b.tx.ExecContext(ctx, stmt, pq.Array(ids)); err != nil {
		return fmt.Errorf("blacklist %d ids: %w", len(ids), err)
	}
	return nil
}

func (b *pgBatch) Commit() error {
	if err := b.tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func (b *pgBatch) Rollback() error {
	return b.tx.Rollback()
}
