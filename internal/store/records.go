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

// UpsertRecord inserts or overwrites the metadata record for (userID, rec.DOI).
func (s *Store) UpsertRecord(ctx context.Context, userID int64, rec types.MetadataRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	query, args, err := s.builder.Insert("metadata_records").
		Columns("user_id", "doi", "title", "year", "journal", "abstract",
			"category", "category_source", "status", "error", "updated_at").
		Values(userID, rec.DOI, nullString(rec.Title), nullInt(rec.Year), nullString(rec.Journal),
			nullString(rec.Abstract), nullString(string(rec.Category)), rec.CategorySource,
			string(rec.Status), nullString(rec.Error), rec.UpdatedAt.Unix()).
		Suffix(`ON CONFLICT (user_id, doi) DO UPDATE SET
			title = excluded.title,
			year = excluded.year,
			journal = excluded.journal,
			abstract = excluded.abstract,
			category = excluded.category,
			category_source = excluded.category_source,
			status = excluded.status,
			error = excluded.error,
			updated_at = excluded.updated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("building query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upserting record %s: %w", rec.DOI, err)
	}
	return nil
}

// Record returns the stored metadata record for (userID, doi).
func (s *Store) Record(ctx context.Context, userID int64, doi string) (types.MetadataRecord, error) {
	query, args, err := s.builder.
		Select("doi", "title", "year", "journal", "abstract", "category",
			"category_source", "status", "error", "updated_at").
		From("metadata_records").
		Where(sq.Eq{"user_id": userID, "doi": doi}).
		ToSql()
	if err != nil {
		return types.MetadataRecord{}, fmt.Errorf("building query: %w", err)
	}

	var (
		rec                                         types.MetadataRecord
		title, journal, abstract, category, errText sql.NullString
		year                                        sql.NullInt64
		status                                      string
		updated                                     int64
	)
	err = s.db.QueryRowContext(ctx, query, args...).Scan(
		&rec.DOI, &title, &year, &journal, &abstract, &category,
		&rec.CategorySource, &status, &errText, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.MetadataRecord{}, ErrNotFound
		}
		return types.MetadataRecord{}, fmt.Errorf("reading record %s: %w", doi, err)
	}
	rec.Title = title.String
	rec.Year = int(year.Int64)
	rec.Journal = journal.String
	rec.Abstract = abstract.String
	rec.Category = types.Category(category.String)
	rec.Status = types.RecordStatus(status)
	rec.Error = errText.String
	rec.UpdatedAt = time.Unix(updated, 0)
	return rec, nil
}

// CountRecords returns the number of records stored for userID.
func (s *Store) CountRecords(ctx context.Context, userID int64) (int, error) {
	query, args, err := s.builder.Select("count(*)").From("metadata_records").
		Where(sq.Eq{"user_id": userID}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("building query: %w", err)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting records: %w", err)
	}
	return n, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n != 0}
}
