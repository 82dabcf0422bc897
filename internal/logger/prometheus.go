package logger

import (
	"github.com/maxaizer/fh-notifier/internal/metrics"
	log "github.com/sirupsen/logrus"
)

var knownErrorTypes = map[string]bool{
	ErrorTypeDb:       true,
	ErrorTypeFhApi:    true,
	ErrorTypeTgApi:    true,
	ErrorTypeInternal: true,
}

// errorCountHook counts error entries by error_type. Untagged errors count as internal.
type errorCountHook struct{}

func (errorCountHook) Fire(entry *log.Entry) error {

	errorType, _ := entry.Data[ErrorTypeField].(string)
	if !knownErrorTypes[errorType] {
		errorType = ErrorTypeInternal
	}

	metrics.ErrorsCounter.WithLabelValues(errorType).Inc()
	return nil
}

func (errorCountHook) Levels() []log.Level {
	return []log.Level{log.ErrorLevel, log.FatalLevel, log.PanicLevel}
}
