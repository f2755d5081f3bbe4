package telemetry

import (
	"io"
	"os"
	"sort"
	"sync/atomic"

	"github.com/phuslu/log"
)

var logger atomic.Pointer[log.Logger]

func init() {
	SetOutput(os.Stdout)
}

// SetOutput redirects structured log lines to w.
func SetOutput(w io.Writer) {
	logger.Store(&log.Logger{
		Level:     log.InfoLevel,
		TimeField: "ts",
		Writer:    &log.IOWriter{Writer: w},
	})
}

// Info writes an info-level log line with the given fields.
func Info(msg string, fields map[string]any) {
	write(logger.Load().Info(), msg, fields)
}

// Warn writes a warn-level log line with the given fields.
func Warn(msg string, fields map[string]any) {
	write(logger.Load().Warn(), msg, fields)
}

// Error writes an error-level log line with the given fields.
func Error(msg string, fields map[string]any) {
	write(logger.Load().Error(), msg, fields)
}

func write(entry *log.Entry, msg string, fields map[string]any) {
	if entry == nil {
		return
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := fields[k].(type) {
		case error:
			entry = entry.Str(k, v.Error())
		default:
			entry = entry.Any(k, v)
		}
	}
	entry.Msg(msg)
}
