package profiles

import (
	"time"

	"github.com/cantierecloud/backoffice/internal/store"
)

// Status marks whether an account may still sign in to the dashboard.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Valid reports whether the status is a known value.
func (s Status) Valid() bool {
	return s == StatusActive || s == StatusInactive
}

// Collection is the document-store collection holding one profile per identity.
const Collection = "users"

// Profile is the application record keyed by identity id. Email mirrors the
// identity email at creation time and is not re-synchronized afterwards.
type Profile struct {
	ID        string
	Name      string
	Email     string
	Role      Role
	Phone     string
	Address   string
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
	LastLogin time.Time
	CreatedBy string
	UpdatedBy string
}

// Patch carries a partial profile update. Nil fields are left untouched.
type Patch struct {
	Name    *string
	Phone   *string
	Address *string
	Role    *Role
	Status  *Status
}

// Record encodes the profile into its persisted document shape. Timestamps
// are stored as RFC 3339 strings to match the dashboard's display formatting.
func (p Profile) Record() store.Record {
	record := store.Record{
		"name":      p.Name,
		"email":     p.Email,
		"role":      string(p.Role),
		"phone":     p.Phone,
		"address":   p.Address,
		"status":    string(p.Status),
		"createdAt": encodeTime(p.CreatedAt),
		"updatedAt": encodeTime(p.UpdatedAt),
		"lastLogin": encodeTime(p.LastLogin),
	}
	if p.CreatedBy != "" {
		record["createdBy"] = p.CreatedBy
	}
	if p.UpdatedBy != "" {
		record["updatedBy"] = p.UpdatedBy
	}
	return record
}

// FromRecord decodes a persisted document back into a Profile. Unknown or
// missing fields decode to zero values rather than failing.
func FromRecord(id string, record store.Record) Profile {
	profile := Profile{
		ID:        id,
		Name:      stringField(record, "name"),
		Email:     stringField(record, "email"),
		Phone:     stringField(record, "phone"),
		Address:   stringField(record, "address"),
		CreatedBy: stringField(record, "createdBy"),
		UpdatedBy: stringField(record, "updatedBy"),
		CreatedAt: timeField(record, "createdAt"),
		UpdatedAt: timeField(record, "updatedAt"),
		LastLogin: timeField(record, "lastLogin"),
	}
	if role, ok := ParseRole(stringField(record, "role")); ok {
		profile.Role = role
	}
	if status := Status(stringField(record, "status")); status.Valid() {
		profile.Status = status
	}
	return profile
}

// Record encodes only the fields present in the patch, for store merges.
func (p Patch) Record(updatedAt time.Time, updatedBy string) store.Record {
	record := store.Record{"updatedAt": encodeTime(updatedAt)}
	if p.Name != nil {
		record["name"] = *p.Name
	}
	if p.Phone != nil {
		record["phone"] = *p.Phone
	}
	if p.Address != nil {
		record["address"] = *p.Address
	}
	if p.Role != nil {
		record["role"] = string(*p.Role)
	}
	if p.Status != nil {
		record["status"] = string(*p.Status)
	}
	if updatedBy != "" {
		record["updatedBy"] = updatedBy
	}
	return record
}

// Apply mutates the profile in memory so reads stay consistent with the
// store after a successful patch write.
func (p Patch) Apply(profile *Profile, updatedAt time.Time, updatedBy string) {
	if p.Name != nil {
		profile.Name = *p.Name
	}
	if p.Phone != nil {
		profile.Phone = *p.Phone
	}
	if p.Address != nil {
		profile.Address = *p.Address
	}
	if p.Role != nil {
		profile.Role = *p.Role
	}
	if p.Status != nil {
		profile.Status = *p.Status
	}
	profile.UpdatedAt = updatedAt
	if updatedBy != "" {
		profile.UpdatedBy = updatedBy
	}
}

func encodeTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func stringField(record store.Record, key string) string {
	value, _ := record[key].(string)
	return value
}

func timeField(record store.Record, key string) time.Time {
	raw := stringField(record, key)
	if raw == "" {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return parsed
}
