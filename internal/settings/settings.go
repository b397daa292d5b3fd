package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cantierecloud/backoffice/internal/store"
)

const (
	// Collection holds the single system-wide settings record.
	Collection = "settings"
	// RecordID is the fixed id of that record.
	RecordID = "general"
)

var errMissingStore = errors.New("settings: document store is required")

// Settings is the company-wide configuration edited from the admin page.
type Settings struct {
	CompanyName  string `json:"company_name"`
	VATNumber    string `json:"vat_number"`
	Address      string `json:"address"`
	ContactEmail string `json:"contact_email"`
	ContactPhone string `json:"contact_phone"`
}

// Service loads and saves the settings record through the document store.
type Service struct {
	store store.Store
}

// NewService wraps the provided store.
func NewService(documentStore store.Store) (*Service, error) {
	if documentStore == nil {
		return nil, errMissingStore
	}
	return &Service{store: documentStore}, nil
}

// Load returns the stored settings, or zero settings when none were saved yet.
func (s *Service) Load(ctx context.Context) (Settings, error) {
	record, err := s.store.Get(ctx, Collection, RecordID)
	if errors.Is(err, store.ErrNotFound) {
		return Settings{}, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("load settings: %w", err)
	}
	return fromRecord(record), nil
}

// Save replaces the settings record. Company name is the only required field.
func (s *Service) Save(ctx context.Context, updated Settings) error {
	if strings.TrimSpace(updated.CompanyName) == "" {
		return errors.New("settings: company name is required")
	}
	record := store.Record{
		"companyName":  strings.TrimSpace(updated.CompanyName),
		"vatNumber":    strings.TrimSpace(updated.VATNumber),
		"address":      strings.TrimSpace(updated.Address),
		"contactEmail": strings.TrimSpace(updated.ContactEmail),
		"contactPhone": strings.TrimSpace(updated.ContactPhone),
	}
	if err := s.store.Set(ctx, Collection, RecordID, record); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

func fromRecord(record store.Record) Settings {
	field := func(key string) string {
		value, _ := record[key].(string)
		return value
	}
	return Settings{
		CompanyName:  field("companyName"),
		VATNumber:    field("vatNumber"),
		Address:      field("address"),
		ContactEmail: field("contactEmail"),
		ContactPhone: field("contactPhone"),
	}
}
