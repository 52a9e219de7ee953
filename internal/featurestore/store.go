// Package featurestore persists feature groups in a relational database and
// exposes get-or-create, upsert and filtered read semantics on top of GORM.
package featurestore

import (
	"context"
	"log"
	"os"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gorm_logger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"github.com/adrianthees/mlfs-book/internal/config"
	"github.com/adrianthees/mlfs-book/internal/support/exception"
	"github.com/adrianthees/mlfs-book/internal/support/logger"
	"github.com/adrianthees/mlfs-book/internal/validation"
)

const moduleName = "featurestore"

// groupCatalogEntry is the catalog row recorded for every feature group.
type groupCatalogEntry struct {
	Name        string    `gorm:"column:name;primaryKey"`
	Version     int       `gorm:"column:version;primaryKey"`
	Description string    `gorm:"column:description"`
	EventTime   string    `gorm:"column:event_time"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

func (groupCatalogEntry) TableName() string {
	return "feature_groups"
}

// GroupSpec describes a feature group to get or create.
type GroupSpec struct {
	Name        string
	Version     int
	Description string
	// EventTime names the column holding the row's event timestamp.
	EventTime string
	// Prototype is a zero value of the record type backing the group. Its
	// gorm tags define the schema and the primary key.
	Prototype interface{}
	// Suite, when set, validates every batch before it is inserted.
	Suite *validation.Suite
}

// Store is one open connection to the feature store database.
type Store struct {
	db *gorm.DB
}

// Open connects to the datastore named in the configuration and returns a
// Store ready for group access.
func Open(cfg *config.DatastoreConfig) (*Store, error) {
	dialector, err := openDialector(cfg)
	if err != nil {
		return nil, err
	}

	gormLogger := gorm_logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gorm_logger.Config{
			SlowThreshold: time.Second,
			LogLevel:      gorm_logger.Silent,
			Colorful:      false,
		},
	)

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, exception.NewPipelineError(moduleName, "failed to open feature store database", err, false, true)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, exception.NewPipelineError(moduleName, "failed to access underlying sql.DB", err, false, false)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	return &Store{db: db}, nil
}

// NewStoreWithDB wraps an existing GORM handle. Intended for tests.
func NewStoreWithDB(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying GORM handle for migrations.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetOrCreateGroup ensures the group's backing table exists and its catalog
// entry is recorded, then returns a handle for reads and writes. Calling it
// again with the same spec returns a handle to the same group.
func (s *Store) GetOrCreateGroup(ctx context.Context, spec GroupSpec) (*Group, error) {
	if spec.Name == "" || spec.Prototype == nil {
		return nil, exception.NewPipelineErrorf(moduleName, "group spec requires a name and a prototype")
	}
	if spec.Version == 0 {
		spec.Version = 1
	}

	db := s.db.WithContext(ctx)

	tableName := resolveTableName(db, spec.Prototype, spec.Name)
	if err := db.Table(tableName).AutoMigrate(spec.Prototype); err != nil {
		return nil, exception.NewPipelineError(moduleName, "failed to migrate table for group '"+spec.Name+"'", err, false, false)
	}
	if err := db.AutoMigrate(&groupCatalogEntry{}); err != nil {
		return nil, exception.NewPipelineError(moduleName, "failed to migrate feature group catalog", err, false, false)
	}

	entry := groupCatalogEntry{
		Name:        spec.Name,
		Version:     spec.Version,
		Description: spec.Description,
		EventTime:   spec.EventTime,
		CreatedAt:   time.Now().UTC(),
	}
	onConflict := clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}, {Name: "version"}},
		DoNothing: true,
	}
	if err := db.Clauses(onConflict).Create(&entry).Error; err != nil {
		return nil, exception.NewPipelineError(moduleName, "failed to register group '"+spec.Name+"'", err, false, false)
	}

	primaryKey, updatable, err := columnsOf(db, spec.Prototype)
	if err != nil {
		return nil, err
	}
	logger.Debugf("feature group '%s' v%d ready (table=%s, pk=%v)", spec.Name, spec.Version, tableName, primaryKey)

	return &Group{
		store:      s,
		spec:       spec,
		tableName:  tableName,
		primaryKey: primaryKey,
		updatable:  updatable,
	}, nil
}

// DropGroup removes the group's backing table and its catalog entry.
func (s *Store) DropGroup(ctx context.Context, name string, version int, prototype interface{}) error {
	db := s.db.WithContext(ctx)
	tableName := resolveTableName(db, prototype, name)

	if err := db.Migrator().DropTable(tableName); err != nil {
		return exception.NewPipelineError(moduleName, "failed to drop table for group '"+name+"'", err, false, false)
	}
	if err := db.Where(map[string]interface{}{"name": name, "version": version}).
		Delete(&groupCatalogEntry{}).Error; err != nil {
		return exception.NewPipelineError(moduleName, "failed to deregister group '"+name+"'", err, false, false)
	}
	logger.Infof("feature group '%s' v%d dropped", name, version)
	return nil
}

// resolveTableName prefers the prototype's TableName over the group name.
func resolveTableName(_ *gorm.DB, prototype interface{}, fallback string) string {
	if namer, ok := prototype.(schema.Tabler); ok {
		return namer.TableName()
	}
	return fallback
}

// columnsOf parses the prototype's schema into primary key columns and the
// remaining updatable columns.
func columnsOf(db *gorm.DB, prototype interface{}) (primaryKey []string, updatable []string, err error) {
	stmt := &gorm.Statement{DB: db}
	if err := stmt.Parse(prototype); err != nil {
		return nil, nil, exception.NewPipelineError(moduleName, "failed to parse group prototype schema", err, false, false)
	}
	for _, field := range stmt.Schema.Fields {
		if field.DBName == "" {
			continue
		}
		if field.PrimaryKey {
			primaryKey = append(primaryKey, field.DBName)
		} else {
			updatable = append(updatable, field.DBName)
		}
	}
	return primaryKey, updatable, nil
}
