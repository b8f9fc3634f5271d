package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/kdimtricp/spectator/internal/transcript"
)

type TranscriptRepo struct {
	db *DB
}

func NewTranscriptRepo(db *DB) *TranscriptRepo {
	return &TranscriptRepo{db: db}
}

func (r *TranscriptRepo) Append(ctx context.Context, entry *transcript.Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	tx, err := r.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var next sql.NullInt64
	row := tx.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM transcript_entries WHERE session_id = ?`, entry.SessionID)
	if err := row.Scan(&next); err != nil {
		return fmt.Errorf("failed to read sequence: %w", err)
	}
	entry.Seq = int(next.Int64) + 1

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transcript_entries (id, session_id, seq, role, text, html, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.SessionID, entry.Seq, string(entry.Role), entry.Text, entry.HTML, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert transcript entry: %w", err)
	}

	for _, img := range entry.Evidence {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO evidence_images (id, entry_id, ordinal, mime_type, data)
			VALUES (?, ?, ?, ?, ?)`,
			uuid.New().String(), entry.ID, img.Ordinal, img.MIMEType, img.Data)
		if err != nil {
			return fmt.Errorf("failed to insert evidence image: %w", err)
		}
	}

	return tx.Commit()
}

func (r *TranscriptRepo) ListBySession(ctx context.Context, sessionID string) ([]*transcript.Entry, error) {
	rows, err := r.db.conn.QueryContext(ctx, `
		SELECT id, session_id, seq, role, text, html, created_at
		FROM transcript_entries
		WHERE session_id = ?
		ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transcript entries: %w", err)
	}
	defer rows.Close()

	var entries []*transcript.Entry
	for rows.Next() {
		entry := &transcript.Entry{}
		var role string
		var html sql.NullString
		if err := rows.Scan(&entry.ID, &entry.SessionID, &entry.Seq, &role, &entry.Text, &html, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transcript entry: %w", err)
		}
		entry.Role = transcript.Role(role)
		entry.HTML = html.String
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transcript entries: %w", err)
	}

	for _, entry := range entries {
		evidence, err := r.evidenceForEntry(ctx, entry.ID)
		if err != nil {
			return nil, err
		}
		entry.Evidence = evidence
	}

	return entries, nil
}

func (r *TranscriptRepo) evidenceForEntry(ctx context.Context, entryID string) ([]transcript.Image, error) {
	rows, err := r.db.conn.QueryContext(ctx, `
		SELECT ordinal, mime_type, data
		FROM evidence_images
		WHERE entry_id = ?
		ORDER BY ordinal`, entryID)
	if err != nil {
		return nil, fmt.Errorf("failed to query evidence images: %w", err)
	}
	defer rows.Close()

	var images []transcript.Image
	for rows.Next() {
		var ordinal int
		var mimeType string
		var data []byte
		if err := rows.Scan(&ordinal, &mimeType, &data); err != nil {
			return nil, fmt.Errorf("failed to scan evidence image: %w", err)
		}
		images = append(images, transcript.NewImage(ordinal, mimeType, data))
	}
	return images, rows.Err()
}

func (r *TranscriptRepo) DeleteBySession(ctx context.Context, sessionID string) error {
	_, err := r.db.conn.ExecContext(ctx, `
		DELETE FROM evidence_images
		WHERE entry_id IN (SELECT id FROM transcript_entries WHERE session_id = ?)`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete evidence images: %w", err)
	}

	_, err = r.db.conn.ExecContext(ctx, `DELETE FROM transcript_entries WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete transcript entries: %w", err)
	}

	return nil
}
