package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"dq-engine/internal/catalog"
	"dq-engine/internal/logging"
	"dq-engine/internal/source"
	"dq-engine/internal/storage"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Options struct {
	// Force applies an empty non-confident discovery as-is.
	Force bool
}

type Result struct {
	TablesCreated      int      `json:"tables_created"`
	TablesUpdated      int      `json:"tables_updated"`
	TablesRevived      int      `json:"tables_revived"`
	TablesDeleted      int      `json:"tables_deleted"`
	FieldsCreated      int      `json:"fields_created"`
	FieldsUpdated      int      `json:"fields_updated"`
	FieldsRevived      int      `json:"fields_revived"`
	FieldsDeleted      int      `json:"fields_deleted"`
	RelationsCreated   int      `json:"relations_created"`
	RelationsDeleted   int      `json:"relations_deleted"`
	ConstraintsCreated int      `json:"constraints_created"`
	SkippedRelations   []string `json:"skipped_relations,omitempty"`
}

// Changes counts every row written.
func (r Result) Changes() int {
	return r.TablesCreated + r.TablesUpdated + r.TablesRevived + r.TablesDeleted +
		r.FieldsCreated + r.FieldsUpdated + r.FieldsRevived + r.FieldsDeleted +
		r.RelationsCreated + r.RelationsDeleted + r.ConstraintsCreated
}

type Reconciler struct {
	DB  *gorm.DB
	Log *slog.Logger
}

func NewReconciler(db *gorm.DB, log *slog.Logger) *Reconciler {
	return &Reconciler{DB: db, Log: logging.OrDefault(log)}
}

// Reconcile applies a discovered schema to the stored graph of one data
// source in a single transaction.
func (r *Reconciler) Reconcile(ctx context.Context, dataSourceID uint, schema *source.Schema, opts Options) (*Result, error) {
	if schema == nil {
		schema = &source.Schema{}
	}
	res := &Result{}

	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ds catalog.DataSource
		if err := tx.Where("id = ? AND is_deleted = ?", dataSourceID, false).First(&ds).Error; err != nil {
			return fmt.Errorf("load data source %d: %w", dataSourceID, err)
		}

		var stored []catalog.TableMetadata
		if err := tx.Where("data_source_id = ?", dataSourceID).Find(&stored).Error; err != nil {
			return fmt.Errorf("load tables: %w", err)
		}
		tablesByName := make(map[string]*catalog.TableMetadata, len(stored))
		for i := range stored {
			tablesByName[stored[i].Name] = &stored[i]
		}

		if err := r.guard(tx, dataSourceID, schema, tablesByName, opts); err != nil {
			return err
		}

		seen := map[string]bool{}
		// active field ids by table name and field name, for relation endpoints
		fieldIDs := map[string]map[string]uint{}
		var removedFields []uint

		for _, dt := range schema.Tables {
			if seen[dt.Name] {
				return &source.SourceMalformedError{Source: ds.Name, Table: dt.Name, Reason: "table reported twice"}
			}
			seen[dt.Name] = true

			table, err := r.upsertTable(tx, dataSourceID, dt, tablesByName[dt.Name], res)
			if err != nil {
				return err
			}
			ids, removed, err := r.syncFields(tx, ds.Name, table, dt, res)
			if err != nil {
				return err
			}
			fieldIDs[dt.Name] = ids
			removedFields = append(removedFields, removed...)
		}

		for _, t := range stored {
			if seen[t.Name] || t.IsDeleted {
				continue
			}
			if err := tx.Model(&catalog.TableMetadata{}).Where("id = ?", t.ID).Update("is_deleted", true).Error; err != nil {
				return fmt.Errorf("delete table %s: %w", t.Name, err)
			}
			res.TablesDeleted++

			var ids []uint
			if err := tx.Model(&catalog.FieldMetadata{}).
				Where("table_id = ? AND is_deleted = ?", t.ID, false).
				Pluck("id", &ids).Error; err != nil {
				return fmt.Errorf("load fields of %s: %w", t.Name, err)
			}
			if len(ids) > 0 {
				if err := tx.Model(&catalog.FieldMetadata{}).Where("id IN ?", ids).Update("is_deleted", true).Error; err != nil {
					return fmt.Errorf("delete fields of %s: %w", t.Name, err)
				}
				res.FieldsDeleted += len(ids)
				removedFields = append(removedFields, ids...)
			}
		}

		if len(removedFields) > 0 {
			q := tx.Model(&catalog.FieldRelation{}).
				Where("is_deleted = ?", false).
				Where("src_field_id IN ? OR dst_field_id IN ?", removedFields, removedFields).
				Update("is_deleted", true)
			if q.Error != nil {
				return fmt.Errorf("cascade relations: %w", q.Error)
			}
			res.RelationsDeleted += int(q.RowsAffected)
		}

		return r.syncRelations(tx, schema, fieldIDs, res)
	})
	if err != nil {
		return nil, storage.Classify("reconcile", err)
	}

	r.Log.Info("reconciled data source",
		"data_source_id", dataSourceID,
		"changes", res.Changes(),
		"tables_created", res.TablesCreated,
		"tables_deleted", res.TablesDeleted,
		"fields_created", res.FieldsCreated,
		"fields_deleted", res.FieldsDeleted,
		"skipped_relations", len(res.SkippedRelations),
	)
	return res, nil
}

// guard refuses to apply an ambiguous empty discovery.
func (r *Reconciler) guard(tx *gorm.DB, dataSourceID uint, schema *source.Schema, tables map[string]*catalog.TableMetadata, opts Options) error {
	if opts.Force || schema.Confident {
		return nil
	}

	if len(schema.Tables) == 0 {
		var active int64
		for _, t := range tables {
			if !t.IsDeleted {
				active++
			}
		}
		if active > 0 {
			return &DiscoveryEmptyError{DataSourceID: dataSourceID, Existing: active}
		}
		return nil
	}

	for _, dt := range schema.Tables {
		if len(dt.Fields) > 0 {
			continue
		}
		t, ok := tables[dt.Name]
		if !ok || t.IsDeleted {
			continue
		}
		var active int64
		if err := tx.Model(&catalog.FieldMetadata{}).
			Where("table_id = ? AND is_deleted = ?", t.ID, false).
			Count(&active).Error; err != nil {
			return fmt.Errorf("count fields of %s: %w", dt.Name, err)
		}
		if active > 0 {
			return &DiscoveryEmptyError{DataSourceID: dataSourceID, Table: dt.Name, Existing: active}
		}
	}
	return nil
}

func (r *Reconciler) upsertTable(tx *gorm.DB, dataSourceID uint, dt source.DiscoveredTable, existing *catalog.TableMetadata, res *Result) (*catalog.TableMetadata, error) {
	meta := datatypes.JSONMap(dt.Metadata)

	if existing == nil {
		t := catalog.TableMetadata{DataSourceID: dataSourceID, Name: dt.Name, Description: dt.Description, Metadata: meta}
		if err := tx.Create(&t).Error; err != nil {
			return nil, fmt.Errorf("create table %s: %w", dt.Name, err)
		}
		res.TablesCreated++
		return &t, nil
	}

	changed := !sameText(existing.Description, dt.Description) || !sameJSON(existing.Metadata, dt.Metadata)
	if !changed && !existing.IsDeleted {
		return existing, nil
	}
	if err := tx.Model(existing).Updates(map[string]any{
		"description": dt.Description,
		"metadata":    meta,
		"is_deleted":  false,
	}).Error; err != nil {
		return nil, fmt.Errorf("update table %s: %w", dt.Name, err)
	}
	if existing.IsDeleted {
		res.TablesRevived++
	} else {
		res.TablesUpdated++
	}
	existing.IsDeleted = false
	return existing, nil
}

// syncFields returns the active field ids of the table by name and the ids
// of fields it soft-deleted.
func (r *Reconciler) syncFields(tx *gorm.DB, dsName string, table *catalog.TableMetadata, dt source.DiscoveredTable, res *Result) (map[string]uint, []uint, error) {
	var stored []catalog.FieldMetadata
	if err := tx.Where("table_id = ?", table.ID).Find(&stored).Error; err != nil {
		return nil, nil, fmt.Errorf("load fields of %s: %w", dt.Name, err)
	}
	byName := make(map[string]*catalog.FieldMetadata, len(stored))
	for i := range stored {
		byName[stored[i].Name] = &stored[i]
	}

	ids := make(map[string]uint, len(dt.Fields))
	for _, df := range dt.Fields {
		if _, dup := ids[df.Name]; dup {
			return nil, nil, &source.SourceMalformedError{Source: dsName, Table: dt.Name, Field: df.Name, Reason: "field reported twice"}
		}
		dtype := NormalizeDataType(df.DataType)
		meta := datatypes.JSONMap(df.Metadata)

		f := byName[df.Name]
		switch {
		case f == nil:
			created := catalog.FieldMetadata{TableID: table.ID, Name: df.Name, DataType: dtype, Metadata: meta}
			if err := tx.Create(&created).Error; err != nil {
				return nil, nil, fmt.Errorf("create field %s.%s: %w", dt.Name, df.Name, err)
			}
			res.FieldsCreated++
			f = &created
		case f.IsDeleted || f.DataType != dtype || !sameJSON(f.Metadata, df.Metadata):
			if err := tx.Model(f).Updates(map[string]any{
				"dtype":      dtype,
				"metadata":   meta,
				"is_deleted": false,
			}).Error; err != nil {
				return nil, nil, fmt.Errorf("update field %s.%s: %w", dt.Name, df.Name, err)
			}
			if f.IsDeleted {
				res.FieldsRevived++
			} else {
				res.FieldsUpdated++
			}
			f.IsDeleted = false
		}
		ids[df.Name] = f.ID

		if err := r.syncConstraints(tx, f.ID, df.Constraints, res); err != nil {
			return nil, nil, fmt.Errorf("constraints of %s.%s: %w", dt.Name, df.Name, err)
		}
	}

	var removed []uint
	for _, f := range stored {
		if _, ok := ids[f.Name]; ok || f.IsDeleted {
			continue
		}
		removed = append(removed, f.ID)
	}
	if len(removed) > 0 {
		if err := tx.Model(&catalog.FieldMetadata{}).Where("id IN ?", removed).Update("is_deleted", true).Error; err != nil {
			return nil, nil, fmt.Errorf("delete fields of %s: %w", dt.Name, err)
		}
		res.FieldsDeleted += len(removed)
	}
	return ids, removed, nil
}

// syncConstraints creates constraints not yet recorded. Existing rows are
// never modified.
func (r *Reconciler) syncConstraints(tx *gorm.DB, fieldID uint, discovered []source.DiscoveredConstraint, res *Result) error {
	if len(discovered) == 0 {
		return nil
	}
	var existing []catalog.FieldConstraint
	if err := tx.Where("field_id = ? AND is_deleted = ?", fieldID, false).Find(&existing).Error; err != nil {
		return err
	}
	have := map[string]bool{}
	for _, c := range existing {
		have[string(c.ConstraintType)+"\x00"+c.Expression] = true
	}
	for _, dc := range discovered {
		key := string(dc.Type) + "\x00" + dc.Expression
		if have[key] {
			continue
		}
		c := catalog.FieldConstraint{FieldID: fieldID, ConstraintType: dc.Type, Expression: dc.Expression, Source: catalog.ConstraintSourceDiscovered}
		if err := tx.Create(&c).Error; err != nil {
			return err
		}
		have[key] = true
		res.ConstraintsCreated++
	}
	return nil
}

func (r *Reconciler) syncRelations(tx *gorm.DB, schema *source.Schema, fieldIDs map[string]map[string]uint, res *Result) error {
	for _, dt := range schema.Tables {
		for _, rel := range dt.Relations {
			srcID, okSrc := fieldIDs[dt.Name][rel.SrcField]
			dstID, okDst := fieldIDs[rel.DstTable][rel.DstField]
			if !okSrc || !okDst {
				res.SkippedRelations = append(res.SkippedRelations,
					fmt.Sprintf("%s.%s->%s.%s", dt.Name, rel.SrcField, rel.DstTable, rel.DstField))
				continue
			}

			relType := NormalizeRelationType(rel.RelationType)
			var count int64
			if err := tx.Model(&catalog.FieldRelation{}).
				Where("src_field_id = ? AND dst_field_id = ? AND relation_type = ? AND is_deleted = ?", srcID, dstID, relType, false).
				Count(&count).Error; err != nil {
				return fmt.Errorf("load relation: %w", err)
			}
			if count > 0 {
				continue
			}
			if err := tx.Create(&catalog.FieldRelation{SrcFieldID: srcID, DstFieldID: dstID, RelationType: relType}).Error; err != nil {
				return fmt.Errorf("create relation %s.%s: %w", dt.Name, rel.SrcField, err)
			}
			res.RelationsCreated++
		}
	}
	return nil
}

func sameText(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// sameJSON compares two metadata maps by their canonical JSON encoding so
// that values read back from storage (float64) equal freshly discovered ones.
func sameJSON(a, b map[string]any) bool {
	return bytes.Equal(canonical(a), canonical(b))
}

func canonical(m map[string]any) []byte {
	if len(m) == 0 {
		return []byte("{}")
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return b
}
