package logger

import (
	log "github.com/sirupsen/logrus"
)

type formatter struct {
	format log.Formatter
	fields log.Fields
}

func (f formatter) Format(entry *log.Entry) ([]byte, error) {
	for k, v := range f.fields {
		if _, exists := entry.Data[k]; !exists {
			entry.Data[k] = v
		}
	}
	return f.format.Format(entry)
}

// Init sets the global logrus logger: JSON with caller info in production,
// text otherwise.
func Init(production bool, fields log.Fields) {
	var (
		format log.Formatter
		caller bool
	)

	if production {
		format = new(log.JSONFormatter)
		caller = true
	} else {
		format = new(log.TextFormatter)
	}

	log.SetFormatter(formatter{
		fields: fields,
		format: format,
	})
	log.SetLevel(log.InfoLevel)
	log.SetReportCaller(caller)
}
