package logs

type LogServicePort interface {
	Log(entry SystemLog, metadata any) error
	GetLogs(input *LogFilterInput) ([]SystemLog, LogAggregates, int64, error)
}

var _ LogServicePort = (*LogService)(nil)
