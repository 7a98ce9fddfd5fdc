package observability

import (
	"runtime/debug"
)

// RecoverPanic logs a panic with its stack instead of crashing the process.
// It must be deferred directly:
//
//	defer observability.RecoverPanic(logger, "status probe")
func RecoverPanic(logger *Logger, where string) {
	r := recover()
	if r == nil {
		return
	}
	logger.WithFields(map[string]interface{}{
		"panic": r,
		"where": where,
		"stack": string(debug.Stack()),
	}).Error("recovered from panic")
}
