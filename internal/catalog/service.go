package catalog

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

type CatalogService struct {
	DB *gorm.DB
}

func NewCatalogService(db *gorm.DB) *CatalogService {
	return &CatalogService{DB: db}
}

type CreateDataSourceInput struct {
	Name           string         `json:"name" binding:"required"`
	Type           string         `json:"type" binding:"required"`
	ConnectionInfo map[string]any `json:"connection_info"`
}

var ErrDuplicateDataSource = errors.New("data source with this name already exists")

func (cs *CatalogService) CreateDataSource(input CreateDataSourceInput) (*DataSource, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, errors.New("name is required")
	}

	var existing DataSource
	err := cs.DB.Where("name = ?", name).First(&existing).Error
	if err == nil {
		return nil, ErrDuplicateDataSource
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	ds := DataSource{
		Name:           name,
		Type:           ParseDataSourceType(strings.ToLower(strings.TrimSpace(input.Type))),
		ConnectionInfo: input.ConnectionInfo,
	}
	if err := cs.DB.Create(&ds).Error; err != nil {
		return nil, err
	}
	return &ds, nil
}

func (cs *CatalogService) GetDataSource(id uint) (*DataSource, error) {
	var ds DataSource
	if err := cs.DB.Where("id = ? AND is_deleted = ?", id, false).First(&ds).Error; err != nil {
		return nil, err
	}
	return &ds, nil
}

func (cs *CatalogService) ListDataSources() ([]DataSource, error) {
	sources := []DataSource{}
	result := cs.DB.Where("is_deleted = ?", false).Order("name ASC").Find(&sources)
	if result.Error != nil {
		return nil, result.Error
	}
	return sources, nil
}

func (cs *CatalogService) ListTables(dataSourceID uint) ([]TableMetadata, error) {
	tables := []TableMetadata{}
	result := cs.DB.
		Where("data_source_id = ? AND is_deleted = ?", dataSourceID, false).
		Order("name ASC").
		Find(&tables)
	if result.Error != nil {
		return nil, result.Error
	}
	return tables, nil
}

func (cs *CatalogService) ListFields(tableID uint) ([]FieldMetadata, error) {
	fields := []FieldMetadata{}
	result := cs.DB.
		Where("table_id = ? AND is_deleted = ?", tableID, false).
		Order("name ASC").
		Find(&fields)
	if result.Error != nil {
		return nil, result.Error
	}
	return fields, nil
}

// ListFieldStats returns the most recent snapshots for a field, newest first.
func (cs *CatalogService) ListFieldStats(fieldID uint, limit int) ([]FieldStats, error) {
	if limit <= 0 || limit > 365 {
		limit = 30
	}
	stats := []FieldStats{}
	result := cs.DB.
		Where("field_id = ?", fieldID).
		Order("stat_date DESC").
		Limit(limit).
		Find(&stats)
	if result.Error != nil {
		return nil, result.Error
	}
	return stats, nil
}

type CreateConstraintInput struct {
	ConstraintType string `json:"constraint_type" binding:"required"`
	Expression     string `json:"expression"`
}

var ErrDuplicateConstraint = errors.New("constraint already exists on this field")

func (cs *CatalogService) ListFieldConstraints(fieldID uint) ([]FieldConstraint, error) {
	constraints := []FieldConstraint{}
	result := cs.DB.
		Where("field_id = ? AND is_deleted = ?", fieldID, false).
		Order("id ASC").
		Find(&constraints)
	if result.Error != nil {
		return nil, result.Error
	}
	return constraints, nil
}

// CreateFieldConstraint authors a constraint by hand. The expression is
// validated here so a run never sees one it cannot parse.
func (cs *CatalogService) CreateFieldConstraint(fieldID uint, input CreateConstraintInput) (*FieldConstraint, error) {
	t, ok := ParseConstraintType(input.ConstraintType)
	if !ok {
		return nil, fmt.Errorf("%w: constraint type %q cannot be authored", ErrInvalidConstraint, input.ConstraintType)
	}
	if err := ValidateConstraint(t, input.Expression); err != nil {
		return nil, err
	}

	var fc FieldConstraint
	err := cs.DB.Transaction(func(tx *gorm.DB) error {
		var field FieldMetadata
		if err := tx.Where("id = ? AND is_deleted = ?", fieldID, false).First(&field).Error; err != nil {
			return err
		}

		var count int64
		if err := tx.Model(&FieldConstraint{}).
			Where("field_id = ? AND constraint_type = ? AND expression = ? AND is_deleted = ?", fieldID, t, input.Expression, false).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrDuplicateConstraint
		}

		fc = FieldConstraint{
			FieldID:        fieldID,
			ConstraintType: t,
			Expression:     input.Expression,
			Source:         ConstraintSourceManual,
		}
		return tx.Create(&fc).Error
	})
	if err != nil {
		return nil, err
	}
	return &fc, nil
}

// ActiveDataSourceIDs is used by the scheduler to fan out runs.
func (cs *CatalogService) ActiveDataSourceIDs() ([]uint, error) {
	var ids []uint
	if err := cs.DB.Model(&DataSource{}).
		Where("is_deleted = ?", false).
		Order("id ASC").
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
