package alert

type AlertServiceAPI interface {
	ListAlerts(filter *AlertFilter) ([]Alert, int64, error)
	GetAlert(globalID string) (*Alert, error)
}
