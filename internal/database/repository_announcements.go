package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// UpsertAnnouncements stores channel posts. Edited posts overwrite the text
// and media flags but keep their visibility.
func (r *Repository) UpsertAnnouncements(ctx context.Context, posts []*Announcement) (int, error) {
	if len(posts) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO announcements (id, text, posted_at, has_photo, has_video, has_document)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			text = EXCLUDED.text,
			has_photo = EXCLUDED.has_photo,
			has_video = EXCLUDED.has_video,
			has_document = EXCLUDED.has_document
	`

	batch := &pgx.Batch{}
	for _, p := range posts {
		batch.Queue(query, p.ID, p.Text, p.PostedAt, p.HasPhoto, p.HasVideo, p.HasDocument)
	}

	results := r.db.Pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := range posts {
		if _, err := results.Exec(); err != nil {
			return i, fmt.Errorf("failed to upsert announcement %d: %w", posts[i].ID, err)
		}
	}
	return len(posts), nil
}

// ListAnnouncements returns the newest posts. Hidden posts are only included
// when includeHidden is set.
func (r *Repository) ListAnnouncements(ctx context.Context, limit int, includeHidden bool) ([]*Announcement, error) {
	query := `
		SELECT id, text, posted_at, has_photo, has_video, has_document, hidden, hidden_by::text, created_at
		FROM announcements
		WHERE ($2 OR hidden = FALSE)
		ORDER BY posted_at DESC
		LIMIT $1
	`
	rows, err := r.db.Pool.Query(ctx, query, limit, includeHidden)
	if err != nil {
		return nil, fmt.Errorf("failed to list announcements: %w", err)
	}
	defer rows.Close()

	var posts []*Announcement
	for rows.Next() {
		a := &Announcement{}
		if err := rows.Scan(&a.ID, &a.Text, &a.PostedAt, &a.HasPhoto, &a.HasVideo, &a.HasDocument,
			&a.Hidden, &a.HiddenBy, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan announcement: %w", err)
		}
		posts = append(posts, a)
	}
	return posts, rows.Err()
}

// SetAnnouncementHidden toggles visibility. Returns false when the post is missing.
func (r *Repository) SetAnnouncementHidden(ctx context.Context, id int64, hidden bool, operatorID string) (bool, error) {
	query := `
		UPDATE announcements SET hidden = $2,
			hidden_by = CASE WHEN $2 THEN $3::uuid ELSE NULL END
		WHERE id = $1
	`
	tag, err := r.db.Pool.Exec(ctx, query, id, hidden, operatorID)
	if err != nil {
		return false, fmt.Errorf("failed to update announcement: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// LatestAnnouncementID returns the highest stored post id, 0 when empty
func (r *Repository) LatestAnnouncementID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.db.Pool.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) FROM announcements`).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to get latest announcement: %w", err)
	}
	return id, nil
}
