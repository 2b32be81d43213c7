package source

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"

	"dq-engine/internal/catalog"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DatabaseAdapter introspects a postgres schema through information_schema
// and streams column values with plain SELECTs.
type DatabaseAdapter struct {
	open func(dsn string) (*gorm.DB, error)

	mu    sync.Mutex
	conns map[string]*gorm.DB
}

func NewDatabaseAdapter() *DatabaseAdapter {
	return &DatabaseAdapter{open: openPostgres, conns: map[string]*gorm.DB{}}
}

func openPostgres(dsn string) (*gorm.DB, error) {
	return gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
}

type columnRow struct {
	TableName       string
	ColumnName      string
	DataType        string
	IsNullable      string
	OrdinalPosition int
	ColumnDefault   *string
}

type keyRow struct {
	TableName      string
	ColumnName     string
	ConstraintName string
	ConstraintType string
}

type foreignKeyRow struct {
	TableName         string
	ColumnName        string
	ForeignTableName  string
	ForeignColumnName string
}

const columnsQuery = `SELECT c.table_name, c.column_name, c.data_type, c.is_nullable, c.ordinal_position, c.column_default
FROM information_schema.columns c
JOIN information_schema.tables t ON t.table_schema = c.table_schema AND t.table_name = c.table_name
WHERE c.table_schema = ? AND t.table_type = 'BASE TABLE'
ORDER BY c.table_name, c.ordinal_position`

const keysQuery = `SELECT tc.table_name, kcu.column_name, tc.constraint_name, tc.constraint_type
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema AND kcu.table_name = tc.table_name
WHERE tc.table_schema = ? AND tc.constraint_type IN ('PRIMARY KEY', 'UNIQUE')
ORDER BY tc.table_name, tc.constraint_name, kcu.ordinal_position`

const foreignKeysQuery = `SELECT kcu.table_name, kcu.column_name, ccu.table_name AS foreign_table_name, ccu.column_name AS foreign_column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema
JOIN information_schema.constraint_column_usage ccu
  ON ccu.constraint_name = tc.constraint_name AND ccu.table_schema = tc.table_schema
WHERE tc.table_schema = ? AND tc.constraint_type = 'FOREIGN KEY'
ORDER BY kcu.table_name, kcu.column_name`

func (a *DatabaseAdapter) Discover(ctx context.Context, ds catalog.DataSource) (*Schema, error) {
	db, schemaName, err := a.conn(ds)
	if err != nil {
		return nil, err
	}
	db = db.WithContext(ctx)

	var cols []columnRow
	if err := db.Raw(columnsQuery, schemaName).Scan(&cols).Error; err != nil {
		return nil, a.classify(ds.Name, "", "", err)
	}
	var keys []keyRow
	if err := db.Raw(keysQuery, schemaName).Scan(&keys).Error; err != nil {
		return nil, a.classify(ds.Name, "", "", err)
	}
	var fks []foreignKeyRow
	if err := db.Raw(foreignKeysQuery, schemaName).Scan(&fks).Error; err != nil {
		return nil, a.classify(ds.Name, "", "", err)
	}

	// Composite keys do not make a single column unique.
	keyCols := map[string][]keyRow{}
	for _, k := range keys {
		keyCols[k.TableName+"\x00"+k.ConstraintName] = append(keyCols[k.TableName+"\x00"+k.ConstraintName], k)
	}
	fieldKeys := map[string][]DiscoveredConstraint{}
	for _, group := range keyCols {
		if len(group) != 1 {
			continue
		}
		k := group[0]
		ct := catalog.ConstraintUnique
		if k.ConstraintType == "PRIMARY KEY" {
			ct = catalog.ConstraintPrimaryKey
		}
		key := k.TableName + "." + k.ColumnName
		fieldKeys[key] = append(fieldKeys[key], DiscoveredConstraint{Type: ct})
	}

	schema := &Schema{Confident: true}
	index := map[string]int{}
	for _, c := range cols {
		i, ok := index[c.TableName]
		if !ok {
			i = len(schema.Tables)
			index[c.TableName] = i
			schema.Tables = append(schema.Tables, DiscoveredTable{
				Name:     c.TableName,
				Metadata: map[string]any{"schema": schemaName},
			})
		}

		f := DiscoveredField{
			Name:     c.ColumnName,
			DataType: c.DataType,
			Metadata: map[string]any{
				"original_dtype": c.DataType,
				"position":       c.OrdinalPosition,
				"nullable":       c.IsNullable == "YES",
			},
		}
		if c.ColumnDefault != nil {
			f.Metadata["default"] = *c.ColumnDefault
		}
		if c.IsNullable == "NO" {
			f.Constraints = append(f.Constraints, DiscoveredConstraint{Type: catalog.ConstraintNotNull})
		}
		f.Constraints = append(f.Constraints, sortedConstraints(fieldKeys[c.TableName+"."+c.ColumnName])...)
		schema.Tables[i].Fields = append(schema.Tables[i].Fields, f)
	}

	for _, fk := range fks {
		i, ok := index[fk.TableName]
		if !ok {
			continue
		}
		schema.Tables[i].Relations = append(schema.Tables[i].Relations, DiscoveredRelation{
			SrcField:     fk.ColumnName,
			DstTable:     fk.ForeignTableName,
			DstField:     fk.ForeignColumnName,
			RelationType: "foreign_key",
		})
		for j := range schema.Tables[i].Fields {
			f := &schema.Tables[i].Fields[j]
			if f.Name == fk.ColumnName {
				f.Constraints = append(f.Constraints, DiscoveredConstraint{
					Type:       catalog.ConstraintReferential,
					Expression: fk.ForeignTableName + "." + fk.ForeignColumnName,
				})
			}
		}
	}
	return schema, nil
}

func (a *DatabaseAdapter) Open(ctx context.Context, ds catalog.DataSource, table, field string) (iter.Seq2[any, error], error) {
	db, schemaName, err := a.conn(ds)
	if err != nil {
		return nil, err
	}

	var count int64
	if err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM information_schema.columns WHERE table_schema = ? AND table_name = ? AND column_name = ?`,
		schemaName, table, field,
	).Scan(&count).Error; err != nil {
		return nil, a.classify(ds.Name, table, field, err)
	}
	if count == 0 {
		return nil, malformed(ds.Name, table, field, "column not found", nil)
	}

	query := fmt.Sprintf("SELECT %s FROM %s.%s",
		pq.QuoteIdentifier(field), pq.QuoteIdentifier(schemaName), pq.QuoteIdentifier(table))

	return func(yield func(any, error) bool) {
		rows, err := db.WithContext(ctx).Raw(query).Rows()
		if err != nil {
			yield(nil, a.classify(ds.Name, table, field, err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var v any
			if err := rows.Scan(&v); err != nil {
				yield(nil, malformed(ds.Name, table, field, "scan value", err))
				return
			}
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			if !yield(v, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, a.classify(ds.Name, table, field, err))
		}
	}, nil
}

// Close releases pooled connections.
func (a *DatabaseAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var errs []error
	for dsn, db := range a.conns {
		if sqlDB, err := db.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
		delete(a.conns, dsn)
	}
	return errors.Join(errs...)
}

func (a *DatabaseAdapter) conn(ds catalog.DataSource) (*gorm.DB, string, error) {
	dsn := ds.Descriptor("dsn")
	if dsn == "" {
		return nil, "", malformed(ds.Name, "", "", "connection_info.dsn is required", nil)
	}
	schemaName := ds.Descriptor("schema")
	if schemaName == "" {
		schemaName = "public"
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if db, ok := a.conns[dsn]; ok {
		return db, schemaName, nil
	}
	db, err := a.open(dsn)
	if err != nil {
		return nil, "", unavailable(ds.Name, "", "", err)
	}
	a.conns[dsn] = db
	return db, schemaName, nil
}

// undefined_table, undefined_column, invalid_schema_name
var malformedSQLStates = map[string]bool{"42P01": true, "42703": true, "3F000": true}

func (a *DatabaseAdapter) classify(ds, table, field string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && malformedSQLStates[pgErr.Code] {
		return malformed(ds, table, field, pgErr.Message, err)
	}
	return unavailable(ds, table, field, err)
}

func sortedConstraints(cs []DiscoveredConstraint) []DiscoveredConstraint {
	// primary_key before unique so output is stable
	out := make([]DiscoveredConstraint, 0, len(cs))
	for _, c := range cs {
		if c.Type == catalog.ConstraintPrimaryKey {
			out = append(out, c)
		}
	}
	for _, c := range cs {
		if c.Type != catalog.ConstraintPrimaryKey {
			out = append(out, c)
		}
	}
	return out
}
