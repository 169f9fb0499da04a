package db

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

var (
	// ErrInvalidIdentifier is returned for schema or table names that are not plain identifiers.
	ErrInvalidIdentifier = errors.New("invalid identifier")
	// ErrSchemaMissing is returned when the target schema does not exist.
	ErrSchemaMissing = errors.New("schema does not exist")
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ValidIdentifier reports whether s is an unquoted Postgres identifier.
func ValidIdentifier(s string) bool {
	return identRe.MatchString(s)
}

// Table is a validated, schema-qualified table name. Names are folded to
// lower case, matching how Postgres stores unquoted identifiers.
type Table struct {
	Schema string
	Name   string
}

// ParseTable validates schema and table before any database work is done.
func ParseTable(schema, name string) (Table, error) {
	schema, name = strings.TrimSpace(schema), strings.TrimSpace(name)
	if !ValidIdentifier(schema) {
		return Table{}, fmt.Errorf("%w: schema %q", ErrInvalidIdentifier, schema)
	}
	if !ValidIdentifier(name) {
		return Table{}, fmt.Errorf("%w: table %q", ErrInvalidIdentifier, name)
	}
	return Table{Schema: strings.ToLower(schema), Name: strings.ToLower(name)}, nil
}

// Quoted returns the table for embedding in SQL text.
func (t Table) Quoted() string {
	return pq.QuoteIdentifier(t.Schema) + "." + pq.QuoteIdentifier(t.Name)
}

func (t Table) String() string {
	return t.Schema + "." + t.Name
}

// SchemaExists checks pg_namespace for the schema.
func SchemaExists(ctx context.Context, d *gorm.DB, schema string) (bool, error) {
	var exists bool
	err := d.WithContext(ctx).Raw(
		`SELECT EXISTS (SELECT 1 FROM pg_namespace WHERE nspname = ?)`,
		strings.ToLower(schema),
	).Scan(&exists).Error
	if err != nil {
		return false, fmt.Errorf("check schema %s: %w", schema, err)
	}
	return exists, nil
}

// RequireSchema fails with ErrSchemaMissing unless the schema exists.
func RequireSchema(ctx context.Context, d *gorm.DB, schema string) error {
	ok, err := SchemaExists(ctx, d, schema)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrSchemaMissing, schema)
	}
	return nil
}
