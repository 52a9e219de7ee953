package featurestore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/adrianthees/mlfs-book/internal/support/exception"
)

// ErrSecretNotFound is returned when a named secret does not exist.
var ErrSecretNotFound = errors.New("secret not found")

// secretEntry is one stored key/value secret.
type secretEntry struct {
	Name      string    `gorm:"column:name;primaryKey"`
	Value     string    `gorm:"column:value"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (secretEntry) TableName() string {
	return "secrets"
}

// Secrets stores named secret values alongside the feature groups, so the
// scheduled pipelines can run without environment access.
type Secrets struct {
	store *Store
}

// NewSecrets prepares the secrets table and returns an accessor.
func NewSecrets(ctx context.Context, store *Store) (*Secrets, error) {
	if err := store.db.WithContext(ctx).AutoMigrate(&secretEntry{}); err != nil {
		return nil, exception.NewPipelineError(moduleName, "failed to migrate secrets table", err, false, false)
	}
	return &Secrets{store: store}, nil
}

// Get returns the named secret's value, or ErrSecretNotFound.
func (s *Secrets) Get(ctx context.Context, name string) (string, error) {
	var entry secretEntry
	err := s.store.db.WithContext(ctx).First(&entry, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrSecretNotFound
	}
	if err != nil {
		return "", exception.NewPipelineError(moduleName, "failed to read secret '"+name+"'", err, false, true)
	}
	return entry.Value, nil
}

// Replace stores the secret, overwriting any previous value.
func (s *Secrets) Replace(ctx context.Context, name, value string) error {
	entry := secretEntry{Name: name, Value: value, UpdatedAt: time.Now().UTC()}
	onConflict := clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}
	if err := s.store.db.WithContext(ctx).Clauses(onConflict).Create(&entry).Error; err != nil {
		return exception.NewPipelineError(moduleName, "failed to store secret '"+name+"'", err, false, true)
	}
	return nil
}

// Delete removes the named secret. Deleting a missing secret is not an error.
func (s *Secrets) Delete(ctx context.Context, name string) error {
	if err := s.store.db.WithContext(ctx).Delete(&secretEntry{}, "name = ?", name).Error; err != nil {
		return exception.NewPipelineError(moduleName, "failed to delete secret '"+name+"'", err, false, true)
	}
	return nil
}
