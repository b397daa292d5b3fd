package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("store: database handle is required")
	errInvalidOrderBy  = errors.New("store: invalid order field")

	orderFieldPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)
)

// Document is the single table backing every collection. The record body is
// stored as a JSON blob; ordering happens through json_extract so it follows
// SQLite's BINARY collation (case-sensitive, ASCII order).
type Document struct {
	Collection string    `gorm:"column:collection;primaryKey;size:64;not null"`
	DocID      string    `gorm:"column:doc_id;primaryKey;size:190;not null"`
	Body       string    `gorm:"column:body;not null"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing document records.
func (Document) TableName() string {
	return "documents"
}

// SQLiteStore implements Store on top of a gorm SQLite handle.
type SQLiteStore struct {
	db *gorm.DB
}

// NewSQLiteStore wraps the provided database handle.
func NewSQLiteStore(db *gorm.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, collection, id string) (Record, error) {
	var document Document
	err := s.db.WithContext(ctx).
		Where("collection = ? AND doc_id = ?", collection, id).
		Take(&document).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return decodeBody(document.Body)
}

func (s *SQLiteStore) Set(ctx context.Context, collection, id string, record Record) error {
	body, err := encodeBody(record)
	if err != nil {
		return err
	}
	document := Document{Collection: collection, DocID: id, Body: body}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "collection"}, {Name: "doc_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"body", "updated_at"}),
		}).
		Create(&document).Error
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// Update merges the patch into the stored body. The read-modify-write runs in
// a transaction so concurrent patches on the same document cannot interleave.
func (s *SQLiteStore) Update(ctx context.Context, collection, id string, patch Record) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var document Document
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("collection = ? AND doc_id = ?", collection, id).
			Take(&document).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return unavailable(err)
		}

		record, err := decodeBody(document.Body)
		if err != nil {
			return err
		}
		for key, value := range patch {
			record[key] = value
		}
		body, err := encodeBody(record)
		if err != nil {
			return err
		}

		err = tx.Model(&Document{}).
			Where("collection = ? AND doc_id = ?", collection, id).
			Update("body", body).Error
		if err != nil {
			return unavailable(err)
		}
		return nil
	})
}

func (s *SQLiteStore) Delete(ctx context.Context, collection, id string) error {
	result := s.db.WithContext(ctx).
		Where("collection = ? AND doc_id = ?", collection, id).
		Delete(&Document{})
	if result.Error != nil {
		return unavailable(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Query(ctx context.Context, collection, orderBy string) ([]Entry, error) {
	query := s.db.WithContext(ctx).Where("collection = ?", collection)
	if orderBy != "" {
		if !orderFieldPattern.MatchString(orderBy) {
			return nil, errInvalidOrderBy
		}
		query = query.Order(fmt.Sprintf("json_extract(body, '$.%s') ASC", orderBy))
	} else {
		query = query.Order("doc_id ASC")
	}

	var documents []Document
	if err := query.Find(&documents).Error; err != nil {
		return nil, unavailable(err)
	}

	entries := make([]Entry, 0, len(documents))
	for _, document := range documents {
		record, err := decodeBody(document.Body)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{ID: document.DocID, Record: record})
	}
	return entries, nil
}

func encodeBody(record Record) (string, error) {
	if record == nil {
		record = Record{}
	}
	body, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("store: encode body: %w", err)
	}
	return string(body), nil
}

func decodeBody(body string) (Record, error) {
	record := Record{}
	if body == "" {
		return record, nil
	}
	if err := json.Unmarshal([]byte(body), &record); err != nil {
		return nil, fmt.Errorf("store: decode body: %w", err)
	}
	return record, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
