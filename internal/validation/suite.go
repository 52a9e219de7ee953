// Package validation applies range expectations to feature rows before they
// reach the feature store. A failed expectation rejects the whole batch.
package validation

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// Rule is one range expectation on a numeric column.
type Rule struct {
	Column string
	Min    *float64
	Max    *float64
	// StrictMin rejects values equal to Min as well as below it.
	StrictMin bool
}

// Between builds a rule requiring Min < value <= Max when strictMin is set,
// or Min <= value <= Max otherwise.
func Between(column string, min, max float64, strictMin bool) Rule {
	return Rule{Column: column, Min: &min, Max: &max, StrictMin: strictMin}
}

// AtLeast builds a rule requiring value >= min.
func AtLeast(column string, min float64) Rule {
	return Rule{Column: column, Min: &min}
}

// Suite is a named collection of rules checked together.
type Suite struct {
	Name  string
	Rules []Rule
}

// NewSuite builds a suite from rules.
func NewSuite(name string, rules ...Rule) *Suite {
	return &Suite{Name: name, Rules: rules}
}

// ValidateRows checks every rule against every row. Rows must be a slice of
// structs (or a pointer to one); columns are matched by json tag. Every
// violation is collected and returned as one combined error.
func (s *Suite) ValidateRows(rows interface{}) error {
	v := reflect.ValueOf(rows)
	for v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Slice {
		return fmt.Errorf("suite '%s': expected a slice of rows, got %s", s.Name, v.Kind())
	}

	var result *multierror.Error
	for i := 0; i < v.Len(); i++ {
		row := v.Index(i)
		for row.Kind() == reflect.Ptr {
			row = row.Elem()
		}
		for _, rule := range s.Rules {
			value, ok := numericColumn(row, rule.Column)
			if !ok {
				result = multierror.Append(result, fmt.Errorf("suite '%s': row %d has no numeric column '%s'", s.Name, i, rule.Column))
				continue
			}
			if err := rule.check(value); err != nil {
				result = multierror.Append(result, fmt.Errorf("suite '%s': row %d: %w", s.Name, i, err))
			}
		}
	}
	return result.ErrorOrNil()
}

// check applies the rule to one value.
func (r Rule) check(value float64) error {
	if r.Min != nil {
		if r.StrictMin && value <= *r.Min {
			return fmt.Errorf("column '%s': value %v must be greater than %v", r.Column, value, *r.Min)
		}
		if !r.StrictMin && value < *r.Min {
			return fmt.Errorf("column '%s': value %v must be at least %v", r.Column, value, *r.Min)
		}
	}
	if r.Max != nil && value > *r.Max {
		return fmt.Errorf("column '%s': value %v must be at most %v", r.Column, value, *r.Max)
	}
	return nil
}

// numericColumn finds a float-typed struct field by its json tag.
func numericColumn(row reflect.Value, column string) (float64, bool) {
	if row.Kind() != reflect.Struct {
		return 0, false
	}
	typ := row.Type()
	for i := 0; i < typ.NumField(); i++ {
		tag := strings.Split(typ.Field(i).Tag.Get("json"), ",")[0]
		if tag != column {
			continue
		}
		field := row.Field(i)
		switch field.Kind() {
		case reflect.Float32, reflect.Float64:
			return field.Float(), true
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return float64(field.Int()), true
		}
		return 0, false
	}
	return 0, false
}
