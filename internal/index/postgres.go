package index

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PostgresIndex stores embeddings in the chunk_vectors table and queries
// them with pgvector's cosine distance operator, served by the HNSW index
// created in db/migrations. Rows carry the embedding model version;
// queries only see rows from the index's own version, so vectors written
// by an older model are invisible rather than wrongly comparable.
type PostgresIndex struct {
	pool         *pgxpool.Pool
	dimension    int
	modelVersion string
	logger       *slog.Logger
}

// NewPostgres creates a PostgresIndex on an existing pool.
func NewPostgres(pool *pgxpool.Pool, dimension int, modelVersion string, logger *slog.Logger) *PostgresIndex {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresIndex{
		pool:         pool,
		dimension:    dimension,
		modelVersion: modelVersion,
		logger:       logger,
	}
}

func (idx *PostgresIndex) ModelVersion() string {
	return idx.modelVersion
}

func (idx *PostgresIndex) Insert(ctx context.Context, e Entry) error {
	return idx.InsertBatch(ctx, []Entry{e})
}

func (idx *PostgresIndex) InsertBatch(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	for _, e := range entries {
		if len(e.Vector) != idx.dimension {
			return fmt.Errorf("%w: entry %s has dimension %d, index expects %d",
				ErrDimensionMismatch, e.ChunkID, len(e.Vector), idx.dimension)
		}
	}

	tx, err := idx.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning vector insert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`
			INSERT INTO chunk_vectors (chunk_id, embedding, model_version)
			VALUES ($1, $2, $3)
			ON CONFLICT (chunk_id) DO UPDATE SET
				embedding     = EXCLUDED.embedding,
				model_version = EXCLUDED.model_version`,
			e.ChunkID, pgvector.NewVector(e.Vector), idx.modelVersion)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("inserting %d vectors: %w", len(entries), err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing vector insert: %w", err)
	}
	return nil
}

func (idx *PostgresIndex) Remove(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	_, err := idx.pool.Exec(ctx,
		`DELETE FROM chunk_vectors WHERE chunk_id = ANY($1)`, chunkIDs)
	if err != nil {
		return fmt.Errorf("removing %d vectors: %w", len(chunkIDs), err)
	}
	return nil
}

func (idx *PostgresIndex) Query(ctx context.Context, vector []float32, k int) ([]Match, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidTopK, k)
	}
	if len(vector) != idx.dimension {
		return nil, fmt.Errorf("%w: query has dimension %d, index expects %d",
			ErrDimensionMismatch, len(vector), idx.dimension)
	}

	// <=> is cosine distance; similarity = 1 - distance. Ordering by the
	// operator directly lets the HNSW index serve the scan. chunk_id in
	// the ORDER BY keeps ties deterministic.
	rows, err := idx.pool.Query(ctx, `
		SELECT chunk_id, 1 - (embedding <=> $1) AS score
		FROM chunk_vectors
		WHERE model_version = $2
		ORDER BY embedding <=> $1, chunk_id
		LIMIT $3`,
		pgvector.NewVector(vector), idx.modelVersion, k)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	matches := []Match{}
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ChunkID, &m.Score); err != nil {
			return nil, fmt.Errorf("scanning match row: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating match rows: %w", err)
	}
	return matches, nil
}
