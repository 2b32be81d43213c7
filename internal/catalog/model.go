package catalog

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// BaseModel carries the externally visible identifier and the tombstone flag
// shared by every entity. GlobalID is assigned once and never reused.
type BaseModel struct {
	GlobalID  string    `gorm:"size:64;uniqueIndex;not null" json:"global_id"`
	IsDeleted bool      `gorm:"not null;default:false;index" json:"is_deleted"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.GlobalID == "" {
		b.GlobalID = uuid.NewString()
	}
	return nil
}

type DataSourceType string

const (
	DataSourceDatabase DataSourceType = "database"
	DataSourceFile     DataSourceType = "file"
	DataSourceAPI      DataSourceType = "api"
	DataSourceStream   DataSourceType = "stream"
	DataSourceCloud    DataSourceType = "cloud"
	DataSourceOther    DataSourceType = "other"
)

func ParseDataSourceType(s string) DataSourceType {
	switch DataSourceType(s) {
	case DataSourceDatabase, DataSourceFile, DataSourceAPI, DataSourceStream, DataSourceCloud:
		return DataSourceType(s)
	}
	return DataSourceOther
}

type DataSource struct {
	ID uint `gorm:"primaryKey;autoIncrement" json:"id"`
	BaseModel
	Name           string            `gorm:"size:255;uniqueIndex;not null" json:"name"`
	Type           DataSourceType    `gorm:"size:50;not null" json:"type"`
	ConnectionInfo datatypes.JSONMap `gorm:"column:connection_info" json:"connection_info"`
}

func (DataSource) TableName() string { return "data_sources" }

// Descriptor returns a string value from the connection descriptor.
func (ds DataSource) Descriptor(key string) string {
	if ds.ConnectionInfo == nil {
		return ""
	}
	if v, ok := ds.ConnectionInfo[key].(string); ok {
		return v
	}
	return ""
}

type TableMetadata struct {
	ID uint `gorm:"primaryKey;autoIncrement" json:"id"`
	BaseModel
	DataSourceID uint              `gorm:"not null;uniqueIndex:ux_table_source_name" json:"data_source_id"`
	Name         string            `gorm:"size:255;not null;uniqueIndex:ux_table_source_name" json:"name"`
	Description  *string           `gorm:"type:text" json:"description,omitempty"`
	Metadata     datatypes.JSONMap `json:"metadata"`
}

func (TableMetadata) TableName() string { return "table_metadata" }

type FieldMetadata struct {
	ID uint `gorm:"primaryKey;autoIncrement" json:"id"`
	BaseModel
	TableID  uint              `gorm:"not null;uniqueIndex:ux_field_table_name" json:"table_id"`
	Name     string            `gorm:"size:255;not null;uniqueIndex:ux_field_table_name" json:"name"`
	DataType string            `gorm:"column:dtype;size:50;not null" json:"dtype"`
	Metadata datatypes.JSONMap `json:"metadata"`
}

func (FieldMetadata) TableName() string { return "field_metadata" }

func (f FieldMetadata) IsNumeric() bool { return IsNumericType(f.DataType) }

func IsNumericType(dtype string) bool {
	switch dtype {
	case "integer", "float", "double", "decimal":
		return true
	}
	return false
}

// FieldRelation is a directed link between two fields. Rows are never
// mutated; they are only soft-deleted.
type FieldRelation struct {
	ID uint `gorm:"primaryKey;autoIncrement" json:"id"`
	BaseModel
	SrcFieldID   uint   `gorm:"not null;index" json:"src_field_id"`
	DstFieldID   uint   `gorm:"not null;index" json:"dst_field_id"`
	RelationType string `gorm:"size:50;not null" json:"relation_type"`
}

func (FieldRelation) TableName() string { return "field_relations" }

type ConstraintType string

const (
	ConstraintNotNull       ConstraintType = "not_null"
	ConstraintUnique        ConstraintType = "unique"
	ConstraintPrimaryKey    ConstraintType = "primary_key"
	ConstraintRange         ConstraintType = "range"
	ConstraintFormat        ConstraintType = "format"
	ConstraintAllowedValues ConstraintType = "allowed_values"
	ConstraintReferential   ConstraintType = "referential"
)

const (
	ConstraintSourceDiscovered = "discovered"
	ConstraintSourceManual     = "manual"
)

// FieldConstraint is immutable once created.
type FieldConstraint struct {
	ID uint `gorm:"primaryKey;autoIncrement" json:"id"`
	BaseModel
	FieldID        uint           `gorm:"not null;index" json:"field_id"`
	ConstraintType ConstraintType `gorm:"size:50;not null" json:"constraint_type"`
	Expression     string         `gorm:"type:text;not null;default:''" json:"expression"`
	Source         string         `gorm:"size:20;not null;default:'discovered'" json:"source"`
}

func (FieldConstraint) TableName() string { return "field_constraints" }

// FieldStats is one snapshot per (field, stat_date).
type FieldStats struct {
	ID uint `gorm:"primaryKey;autoIncrement" json:"id"`
	BaseModel
	FieldID       uint              `gorm:"not null;uniqueIndex:ux_stats_field_date" json:"field_id"`
	StatDate      time.Time         `gorm:"not null;uniqueIndex:ux_stats_field_date" json:"stat_date"`
	RowCount      int64             `gorm:"not null" json:"row_count"`
	NullCount     int64             `gorm:"not null" json:"null_count"`
	DistinctCount int64             `gorm:"not null" json:"distinct_count"`
	Min           *string           `gorm:"type:text" json:"min,omitempty"`
	Max           *string           `gorm:"type:text" json:"max,omitempty"`
	Mean          *float64          `json:"mean,omitempty"`
	StdDev        *float64          `json:"std_dev,omitempty"`
	Extras        datatypes.JSONMap `json:"extras"`
}

func (FieldStats) TableName() string { return "field_stats" }

// StatDay truncates t to the UTC calendar day used as the stats natural key.
func StatDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Models lists every catalog entity for migrations.
func Models() []any {
	return []any{
		&DataSource{},
		&TableMetadata{},
		&FieldMetadata{},
		&FieldRelation{},
		&FieldConstraint{},
		&FieldStats{},
	}
}
