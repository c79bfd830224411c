package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a Postgres-backed character store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// CountCharacters returns the total number of character rows.
func (s *PostgresStore) CountCharacters(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM characters`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count characters: %w", err)
	}
	return count, nil
}

// UpsertCharacters inserts or overwrites characters keyed by ID. Each row is
// written independently so a mid-batch failure leaves earlier rows intact;
// the ingest pipeline relies on per-row idempotency rather than batch
// atomicity.
func (s *PostgresStore) UpsertCharacters(ctx context.Context, characters []Character) (int, error) {
	if len(characters) == 0 {
		return 0, nil
	}

	const query = `
		INSERT INTO characters (id, name, status, species, origin, image, url, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			species = EXCLUDED.species,
			origin = EXCLUDED.origin,
			image = EXCLUDED.image,
			url = EXCLUDED.url,
			updated_at = now()
	`

	batch := &pgx.Batch{}
	for _, c := range characters {
		batch.Queue(query, c.ID, c.Name, c.Status, c.Species, c.Origin, c.Image, c.URL)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	processed := 0
	for i := range characters {
		if _, err := results.Exec(); err != nil {
			return processed, fmt.Errorf("failed to upsert character %d: %w", characters[i].ID, err)
		}
		processed++
	}

	return processed, nil
}

// ListCharacters returns one sorted page of characters plus the total count.
// Sorting happens in SQL; the sort field and order have been validated into
// closed enums before they reach the query string.
func (s *PostgresStore) ListCharacters(
	ctx context.Context,
	sort SortField,
	order SortOrder,
	page, pageSize int,
) ([]Character, int, error) {
	if page < 1 || pageSize < 1 {
		return nil, 0, fmt.Errorf("invalid page %d or page size %d", page, pageSize)
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM characters`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count characters: %w", err)
	}

	orderBy, err := orderByClause(sort, order)
	if err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
		SELECT id, name, status, species, origin, COALESCE(image, ''), COALESCE(url, '')
		FROM characters
		ORDER BY %s
		LIMIT $1 OFFSET $2
	`, orderBy)

	offset := (page - 1) * pageSize
	rows, err := s.pool.Query(ctx, query, pageSize, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list characters: %w", err)
	}
	defer rows.Close()

	characters := []Character{}
	for rows.Next() {
		var c Character
		if err := rows.Scan(&c.ID, &c.Name, &c.Status, &c.Species, &c.Origin, &c.Image, &c.URL); err != nil {
			return nil, 0, fmt.Errorf("failed to scan character row: %w", err)
		}
		characters = append(characters, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read character rows: %w", err)
	}

	return characters, total, nil
}

// Ping verifies the database connection is still alive.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// orderByClause maps the validated sort enums to a SQL ORDER BY expression.
// The secondary id sort keeps pagination stable when names collide.
func orderByClause(sort SortField, order SortOrder) (string, error) {
	var column string
	switch sort {
	case SortByID:
		column = "id"
	case SortByName:
		column = "name"
	default:
		return "", fmt.Errorf("unsupported sort field: %s", sort)
	}

	var direction string
	switch order {
	case OrderAsc:
		direction = "ASC"
	case OrderDesc:
		direction = "DESC"
	default:
		return "", fmt.Errorf("unsupported sort order: %s", order)
	}

	if column == "name" {
		return fmt.Sprintf("name %s, id %s", direction, direction), nil
	}
	return fmt.Sprintf("id %s", direction), nil
}
