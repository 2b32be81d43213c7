package catalog

type CatalogServiceAPI interface {
	CreateDataSource(input CreateDataSourceInput) (*DataSource, error)
	GetDataSource(id uint) (*DataSource, error)
	ListDataSources() ([]DataSource, error)
	ListTables(dataSourceID uint) ([]TableMetadata, error)
	ListFields(tableID uint) ([]FieldMetadata, error)
	ListFieldStats(fieldID uint, limit int) ([]FieldStats, error)
	ListFieldConstraints(fieldID uint) ([]FieldConstraint, error)
	CreateFieldConstraint(fieldID uint, input CreateConstraintInput) (*FieldConstraint, error)
}
