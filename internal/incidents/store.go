package incidents

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/EmpoweredVote/odp-incidents/internal/db"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// Outcome is what applying one row did to the destination.
type Outcome int

const (
	Inserted Outcome = iota
	Replaced
)

// Store is the destination table as seen from inside one transaction.
type Store interface {
	// TableExists checks the catalog for the table.
	TableExists(ctx context.Context) (bool, error)
	// MaxOccurred returns the high-water mark; ok is false for an empty table.
	MaxOccurred(ctx context.Context) (t time.Time, ok bool, err error)
	// EnsureTable creates the table and its geometry column when absent.
	EnsureTable(ctx context.Context) error
	// Apply inserts the incident or replaces the stored row with the same case number.
	Apply(ctx context.Context, in Incident) (Outcome, error)
	// Project recomputes the geometry column for rows after since, or all rows when since is nil.
	Project(ctx context.Context, since *time.Time) (int64, error)
}

// Destination runs fn inside a transaction, committing only if fn returns nil.
type Destination interface {
	InTx(ctx context.Context, fn func(Store) error) error
}

// StoreOptions configure GormStore.
type StoreOptions struct {
	// Replace switches conflict handling from ON CONFLICT upsert to
	// insert, then delete and re-insert under a savepoint.
	Replace        bool
	GeometryColumn string
	SourceSRID     int
	TargetSRID     int
}

// GormStore implements Store and Destination on a gorm connection.
type GormStore struct {
	db    *gorm.DB
	table db.Table
	opts  StoreOptions
}

// NewGormStore binds a store to one table. Zero projection options default to
// geom_3857, EPSG:4326 and EPSG:3857.
func NewGormStore(gdb *gorm.DB, table db.Table, opts StoreOptions) *GormStore {
	if opts.GeometryColumn == "" {
		opts.GeometryColumn = "geom_3857"
	}
	if opts.SourceSRID == 0 {
		opts.SourceSRID = 4326
	}
	if opts.TargetSRID == 0 {
		opts.TargetSRID = 3857
	}
	return &GormStore{db: gdb, table: table, opts: opts}
}

// InTx implements Destination.
func (s *GormStore) InTx(ctx context.Context, fn func(Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx, table: s.table, opts: s.opts})
	})
}

func (s *GormStore) TableExists(ctx context.Context) (bool, error) {
	var exists bool
	err := s.db.WithContext(ctx).
		Raw(`SELECT to_regclass(?) IS NOT NULL`, s.table.Quoted()).
		Row().Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", s.table, err)
	}
	return exists, nil
}

func (s *GormStore) MaxOccurred(ctx context.Context) (time.Time, bool, error) {
	var max sql.NullTime
	q := fmt.Sprintf(`SELECT MAX(%s) FROM %s`, ColOccurredAt, s.table.Quoted())
	if err := s.db.WithContext(ctx).Raw(q).Row().Scan(&max); err != nil {
		return time.Time{}, false, fmt.Errorf("read high-water mark from %s: %w", s.table, err)
	}
	return max.Time, max.Valid, nil
}

// EnsureTable never alters an existing table.
func (s *GormStore) EnsureTable(ctx context.Context) error {
	exists, err := s.TableExists(ctx)
	if err != nil || exists {
		return err
	}
	for _, stmt := range s.ddl() {
		if err := s.db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return withStatement(stmt, fmt.Errorf("create table %s: %w", s.table, err))
		}
	}
	return nil
}

func (s *GormStore) ddl() []string {
	name := s.table.Quoted()
	defs := make([]string, len(Fields))
	for i, f := range Fields {
		if f.Column == ColCaseNumber {
			defs[i] = fmt.Sprintf("\t%s %s PRIMARY KEY", f.Column, f.SQL)
			continue
		}
		defs[i] = fmt.Sprintf("\t%s %s NOT NULL", f.Column, f.SQL)
	}
	geom := pq.QuoteIdentifier(s.opts.GeometryColumn)
	return []string{
		fmt.Sprintf("CREATE TABLE %s (\n%s\n)", name, strings.Join(defs, ",\n")),
		fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s geometry(Point, %d)", name, geom, s.opts.TargetSRID),
		fmt.Sprintf("CREATE INDEX %s ON %s (%s)",
			pq.QuoteIdentifier(s.table.Name+"_occurred_idx"), name, ColOccurredAt),
		fmt.Sprintf("CREATE INDEX %s ON %s USING GIST (%s)",
			pq.QuoteIdentifier(s.table.Name+"_"+s.opts.GeometryColumn+"_idx"), name, geom),
	}
}

func (s *GormStore) insertSQL() string {
	cols := Columns()
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		s.table.Quoted(), strings.Join(cols, ", "), placeholders(len(cols)))
}

func (s *GormStore) upsertSQL() string {
	cols := Columns()
	sets := make([]string, 0, len(cols)-1)
	for _, c := range cols {
		if c == ColCaseNumber {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
	}
	return fmt.Sprintf("%s ON CONFLICT (%s) DO UPDATE SET %s RETURNING (xmax = 0) AS inserted",
		s.insertSQL(), ColCaseNumber, strings.Join(sets, ", "))
}

func (s *GormStore) Apply(ctx context.Context, in Incident) (Outcome, error) {
	if s.opts.Replace {
		return s.replace(ctx, in)
	}
	stmt := s.upsertSQL()
	var inserted bool
	if err := s.db.WithContext(ctx).Raw(stmt, in.Values()...).Row().Scan(&inserted); err != nil {
		return 0, withStatement(stmt, err)
	}
	if inserted {
		return Inserted, nil
	}
	return Replaced, nil
}

const rowSavepoint = "incident_row"

// replace is the delete-then-reinsert fallback. The savepoint keeps a
// conflicting insert from aborting the surrounding transaction.
func (s *GormStore) replace(ctx context.Context, in Incident) (Outcome, error) {
	tx := s.db.WithContext(ctx)
	if err := tx.SavePoint(rowSavepoint).Error; err != nil {
		return 0, withStatement("SAVEPOINT "+rowSavepoint, err)
	}

	err := s.insert(ctx, in)
	if err == nil {
		return Inserted, s.release(ctx)
	}
	if !errors.Is(err, ErrConflict) {
		return 0, err
	}

	if err := tx.RollbackTo(rowSavepoint).Error; err != nil {
		return 0, withStatement("ROLLBACK TO SAVEPOINT "+rowSavepoint, err)
	}
	del := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", s.table.Quoted(), ColCaseNumber)
	if err := tx.Exec(del, in.CaseNumber).Error; err != nil {
		return 0, withStatement(del, err)
	}
	if err := s.insert(ctx, in); err != nil {
		return 0, err
	}
	return Replaced, s.release(ctx)
}

// release drops the row savepoint; the next row opens its own.
func (s *GormStore) release(ctx context.Context) error {
	stmt := "RELEASE SAVEPOINT " + rowSavepoint
	return withStatement(stmt, s.db.WithContext(ctx).Exec(stmt).Error)
}

func (s *GormStore) insert(ctx context.Context, in Incident) error {
	stmt := s.insertSQL()
	err := s.db.WithContext(ctx).Exec(stmt, in.Values()...).Error
	if isUniqueViolation(err) {
		return withStatement(stmt, fmt.Errorf("%w: %v", ErrConflict, err))
	}
	return withStatement(stmt, err)
}

// Project is idempotent: it derives geometry from the stored x/y columns only.
func (s *GormStore) Project(ctx context.Context, since *time.Time) (int64, error) {
	stmt := fmt.Sprintf("UPDATE %s SET %s = ST_Transform(ST_SetSRID(ST_MakePoint(%s, %s), %d), %d)",
		s.table.Quoted(), pq.QuoteIdentifier(s.opts.GeometryColumn), ColX, ColY,
		s.opts.SourceSRID, s.opts.TargetSRID)
	var args []interface{}
	if since != nil {
		stmt += fmt.Sprintf(" WHERE %s > ?", ColOccurredAt)
		args = append(args, since.Format(TimestampLayout))
	}
	res := s.db.WithContext(ctx).Exec(stmt, args...)
	if res.Error != nil {
		return 0, withStatement(stmt, fmt.Errorf("project %s: %w", s.table, res.Error))
	}
	return res.RowsAffected, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
