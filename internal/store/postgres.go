package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists documents and chunks in PostgreSQL.
// Chunk replacement runs in a transaction holding a per-document advisory
// lock, so concurrent re-ingestions of the same document serialize while
// other documents proceed in parallel.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres creates a PostgresStore on an existing pool.
// The caller owns the pool lifecycle.
func NewPostgres(pool *pgxpool.Pool, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{pool: pool, logger: logger}
}

func (s *PostgresStore) PutDocument(ctx context.Context, doc Document) error {
	meta, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling document metadata: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO documents (id, source_uri, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			source_uri = EXCLUDED.source_uri,
			metadata   = EXCLUDED.metadata,
			updated_at = NOW()`,
		doc.ID, doc.SourceURI, meta)
	if err != nil {
		return fmt.Errorf("upserting document %s: %w", doc.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT d.id, d.source_uri, d.metadata, d.created_at, d.updated_at,
		       (SELECT COUNT(*) FROM chunks c WHERE c.document_id = d.id)
		FROM documents d
		WHERE d.id = $1`, id)

	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("querying document %s: %w", id, err)
	}
	return doc, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT d.id, d.source_uri, d.metadata, d.created_at, d.updated_at,
		       (SELECT COUNT(*) FROM chunks c WHERE c.document_id = d.id)
		FROM documents d
		ORDER BY d.updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning document row: %w", err)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating document rows: %w", err)
	}
	return docs, nil
}

func scanDocument(row pgx.Row) (*Document, error) {
	var doc Document
	var meta []byte
	if err := row.Scan(&doc.ID, &doc.SourceURI, &meta,
		&doc.CreatedAt, &doc.UpdatedAt, &doc.ChunkCount); err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling document metadata: %w", err)
		}
	}
	return &doc, nil
}

func (s *PostgresStore) ReplaceChunks(ctx context.Context, docID string, chunks []Chunk, commit CommitHook) error {
	start := time.Now()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning chunk replacement: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Serialize replacements per document. Released automatically at
	// transaction end.
	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`, docID); err != nil {
		return fmt.Errorf("acquiring document lock for %s: %w", docID, err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM chunks WHERE document_id = $1`, docID); err != nil {
		return fmt.Errorf("clearing chunks of %s: %w", docID, err)
	}

	if len(chunks) > 0 {
		batch := &pgx.Batch{}
		for _, c := range chunks {
			batch.Queue(`
				INSERT INTO chunks (id, document_id, ordinal, text)
				VALUES ($1, $2, $3, $4)`,
				c.ID, c.DocumentID, c.Ordinal, c.Text)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("inserting chunks of %s: %w", docID, err)
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE documents SET updated_at = NOW() WHERE id = $1`, docID); err != nil {
		return fmt.Errorf("touching document %s: %w", docID, err)
	}

	if commit != nil {
		if err := commit(ctx); err != nil {
			return fmt.Errorf("commit hook for %s: %w", docID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing chunk replacement of %s: %w", docID, err)
	}

	s.logger.Debug("replaced chunks",
		"document_id", docID,
		"chunks", len(chunks),
		"elapsed", time.Since(start),
	)
	return nil
}

func (s *PostgresStore) GetChunk(ctx context.Context, chunkID string) (*Chunk, error) {
	var c Chunk
	err := s.pool.QueryRow(ctx, `
		SELECT id, document_id, ordinal, text
		FROM chunks
		WHERE id = $1`, chunkID).
		Scan(&c.ID, &c.DocumentID, &c.Ordinal, &c.Text)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("chunk %s: %w", chunkID, ErrNotFound)
		}
		return nil, fmt.Errorf("querying chunk %s: %w", chunkID, err)
	}
	return &c, nil
}

func (s *PostgresStore) ChunkIDs(ctx context.Context, docID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM chunks
		WHERE document_id = $1
		ORDER BY ordinal`, docID)
	if err != nil {
		return nil, fmt.Errorf("listing chunk IDs of %s: %w", docID, err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning chunk ID: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunk IDs: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) Delete(ctx context.Context, docID string) ([]string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning document delete: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`, docID); err != nil {
		return nil, fmt.Errorf("acquiring document lock for %s: %w", docID, err)
	}

	rows, err := tx.Query(ctx,
		`DELETE FROM chunks WHERE document_id = $1 RETURNING id`, docID)
	if err != nil {
		return nil, fmt.Errorf("deleting chunks of %s: %w", docID, err)
	}
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning deleted chunk ID: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating deleted chunk IDs: %w", err)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM documents WHERE id = $1`, docID)
	if err != nil {
		return nil, fmt.Errorf("deleting document %s: %w", docID, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("document %s: %w", docID, ErrNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing document delete of %s: %w", docID, err)
	}

	s.logger.Info("deleted document", "document_id", docID, "chunks", len(ids))
	return ids, nil
}

func (s *PostgresStore) RecordQA(ctx context.Context, rec QARecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO qa_history (id, question, answer, citations, model, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.Question, rec.Answer, rec.Citations, rec.Model, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("recording QA entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListQA(ctx context.Context, limit int) ([]QARecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, question, answer, citations, model, created_at
		FROM qa_history
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing QA history: %w", err)
	}
	defer rows.Close()

	var recs []QARecord
	for rows.Next() {
		var rec QARecord
		if err := rows.Scan(&rec.ID, &rec.Question, &rec.Answer,
			&rec.Citations, &rec.Model, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning QA row: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating QA rows: %w", err)
	}
	return recs, nil
}
