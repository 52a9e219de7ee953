package featurestore

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/adrianthees/mlfs-book/internal/support/exception"
	"github.com/adrianthees/mlfs-book/internal/support/logger"
)

// Group is a handle to one feature group. Inserts are validated and upserted
// on the group's primary key, so re-running a pipeline over the same dates
// rewrites rows instead of duplicating them.
type Group struct {
	store      *Store
	spec       GroupSpec
	tableName  string
	primaryKey []string
	updatable  []string
}

// Name returns the group's logical name.
func (g *Group) Name() string {
	return g.spec.Name
}

// TableName returns the group's backing table.
func (g *Group) TableName() string {
	return g.tableName
}

// Insert validates and upserts a batch of rows. The rows argument must be a
// slice of the group's record type (or a pointer to one). Conflicts on the
// primary key update the remaining columns in place.
func (g *Group) Insert(ctx context.Context, rows interface{}) error {
	if g.spec.Suite != nil {
		if err := g.spec.Suite.ValidateRows(rows); err != nil {
			return exception.NewPipelineError(moduleName, "validation failed for group '"+g.spec.Name+"'", err, false, false)
		}
	}

	db := g.store.db.WithContext(ctx).
		Session(&gorm.Session{SkipDefaultTransaction: true}).
		Table(g.tableName)

	var columns []clause.Column
	for _, col := range g.primaryKey {
		columns = append(columns, clause.Column{Name: col})
	}
	onConflict := clause.OnConflict{Columns: columns}
	if len(g.updatable) > 0 {
		onConflict.DoUpdates = clause.AssignmentColumns(g.updatable)
	} else {
		onConflict.DoNothing = true
	}

	result := db.Clauses(onConflict).Create(rows)
	if result.Error != nil {
		return exception.NewPipelineError(moduleName, "failed to insert into group '"+g.spec.Name+"'", result.Error, false, true)
	}
	logger.Debugf("group '%s': upserted %d row(s)", g.spec.Name, result.RowsAffected)
	return nil
}

// QueryOption narrows or orders a group read.
type QueryOption func(*queryOptions)

type queryOptions struct {
	where   map[string]interface{}
	exprs   []whereExpr
	orderBy string
	limit   int
}

type whereExpr struct {
	query string
	args  []interface{}
}

// Where filters the read by column equality.
func Where(conditions map[string]interface{}) QueryOption {
	return func(o *queryOptions) {
		if o.where == nil {
			o.where = map[string]interface{}{}
		}
		for k, v := range conditions {
			o.where[k] = v
		}
	}
}

// WhereExpr filters the read with a raw condition, e.g. "date >= ?".
func WhereExpr(query string, args ...interface{}) QueryOption {
	return func(o *queryOptions) {
		o.exprs = append(o.exprs, whereExpr{query: query, args: args})
	}
}

// OrderBy orders the read, e.g. "date ASC".
func OrderBy(expr string) QueryOption {
	return func(o *queryOptions) { o.orderBy = expr }
}

// Limit caps the number of rows read.
func Limit(n int) QueryOption {
	return func(o *queryOptions) { o.limit = n }
}

// Read loads rows into dest, a pointer to a slice of the group's record type.
func (g *Group) Read(ctx context.Context, dest interface{}, opts ...QueryOption) error {
	var o queryOptions
	for _, opt := range opts {
		opt(&o)
	}

	db := g.store.db.WithContext(ctx).Table(g.tableName)
	if o.where != nil {
		db = db.Where(o.where)
	}
	for _, expr := range o.exprs {
		db = db.Where(expr.query, expr.args...)
	}
	if o.orderBy != "" {
		db = db.Order(o.orderBy)
	}
	if o.limit > 0 {
		db = db.Limit(o.limit)
	}

	if err := db.Find(dest).Error; err != nil {
		return exception.NewPipelineError(moduleName, "failed to read group '"+g.spec.Name+"'", err, false, true)
	}
	return nil
}

// Count returns the number of rows matching the conditions.
func (g *Group) Count(ctx context.Context, conditions map[string]interface{}) (int64, error) {
	db := g.store.db.WithContext(ctx).Table(g.tableName)
	if conditions != nil {
		db = db.Where(conditions)
	}
	var count int64
	if err := db.Count(&count).Error; err != nil {
		return 0, exception.NewPipelineError(moduleName, "failed to count group '"+g.spec.Name+"'", err, false, true)
	}
	return count, nil
}
