// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/dastyar-team/dastyar/pkg/types"
)

// InsertLink stores a new download link. A duplicate token is an error.
func (s *Store) InsertLink(ctx context.Context, link types.DownloadLink) error {
	query, args, err := s.builder.Insert("download_links").
		Columns("token", "user_id", "file_path", "filename", "created_at", "expires_at").
		Values(link.Token, link.UserID, link.FilePath, link.Filename,
			link.CreatedAt.Unix(), link.ExpiresAt.Unix()).
		ToSql()
	if err != nil {
		return fmt.Errorf("building query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting link: %w", err)
	}
	return nil
}

var linkColumns = []string{"token", "user_id", "file_path", "filename", "created_at", "expires_at", "used_at", "used_by"}

type scanner interface {
	Scan(dest ...any) error
}

func scanLink(row scanner) (types.DownloadLink, error) {
	var (
		link             types.DownloadLink
		filename         sql.NullString
		created, expires int64
		usedAt, usedBy   sql.NullInt64
	)
	if err := row.Scan(&link.Token, &link.UserID, &link.FilePath, &filename,
		&created, &expires, &usedAt, &usedBy); err != nil {
		return types.DownloadLink{}, err
	}
	link.Filename = filename.String
	link.CreatedAt = time.Unix(created, 0)
	link.ExpiresAt = time.Unix(expires, 0)
	if usedAt.Valid {
		t := time.Unix(usedAt.Int64, 0)
		link.UsedAt = &t
	}
	link.UsedBy = usedBy.Int64
	return link, nil
}

// Link returns the link stored under token, or ErrNotFound.
func (s *Store) Link(ctx context.Context, token string) (types.DownloadLink, error) {
	query, args, err := s.builder.Select(linkColumns...).From("download_links").
		Where(sq.Eq{"token": token}).ToSql()
	if err != nil {
		return types.DownloadLink{}, fmt.Errorf("building query: %w", err)
	}
	link, err := scanLink(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.DownloadLink{}, ErrNotFound
		}
		return types.DownloadLink{}, fmt.Errorf("reading link: %w", err)
	}
	return link, nil
}

// MarkLinkUsed sets used_at/used_by on an unused link. It reports false
// when the link was already used or does not exist, so concurrent
// redemptions cannot both succeed.
func (s *Store) MarkLinkUsed(ctx context.Context, token string, usedBy int64, at time.Time) (bool, error) {
	query, args, err := s.builder.Update("download_links").
		Set("used_at", at.Unix()).
		Set("used_by", sql.NullInt64{Int64: usedBy, Valid: usedBy != 0}).
		Where(sq.Eq{"token": token, "used_at": nil}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("building query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("marking link used: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("marking link used: %w", err)
	}
	return n == 1, nil
}

// DeleteLink removes a link row.
func (s *Store) DeleteLink(ctx context.Context, token string) error {
	_, err := s.DeleteLinks(ctx, []string{token})
	return err
}

// StaleLinks returns links that expired before now, plus used links when
// includeUsed is set.
func (s *Store) StaleLinks(ctx context.Context, now time.Time, includeUsed bool) ([]types.DownloadLink, error) {
	var cond sq.Sqlizer = sq.Lt{"expires_at": now.Unix()}
	if includeUsed {
		cond = sq.Or{cond, sq.NotEq{"used_at": nil}}
	}
	query, args, err := s.builder.Select(linkColumns...).From("download_links").Where(cond).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing stale links: %w", err)
	}
	defer rows.Close()

	var links []types.DownloadLink
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning link: %w", err)
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

// DeleteLinks removes the given tokens and returns the number deleted.
func (s *Store) DeleteLinks(ctx context.Context, tokens []string) (int64, error) {
	if len(tokens) == 0 {
		return 0, nil
	}
	query, args, err := s.builder.Delete("download_links").Where(sq.Eq{"token": tokens}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("building query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("deleting links: %w", err)
	}
	return res.RowsAffected()
}
