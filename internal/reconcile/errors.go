package reconcile

import "fmt"

// DiscoveryEmptyError is returned instead of soft-deleting entities when a
// non-confident discovery came back empty. Table is set when the emptiness
// was detected for a single table rather than the whole source.
type DiscoveryEmptyError struct {
	DataSourceID uint
	Table        string
	Existing     int64
}

func (e *DiscoveryEmptyError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("discovery reported no fields for table %q of data source %d (%d active fields kept)", e.Table, e.DataSourceID, e.Existing)
	}
	if e.DataSourceID == 0 {
		return fmt.Sprintf("discovery reported no data sources (%d active kept)", e.Existing)
	}
	return fmt.Sprintf("discovery reported no tables for data source %d (%d active tables kept)", e.DataSourceID, e.Existing)
}
