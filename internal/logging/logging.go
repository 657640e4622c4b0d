// Package logging constructs the process logger. Components receive a
// *zap.Logger handle explicitly; the package-level Logger exists for
// call sites with no handle to thread through.
package logging

import (
	"os"

	"go.uber.org/zap"
)

// Logger is the process-wide logger.
var Logger = newLogger()

func newLogger() *zap.Logger {
	if os.Getenv("DEBUG") != "" {
		l, err := zap.NewDevelopment()
		if err != nil {
			panic(err)
		}
		return l
	}
	l, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	return l
}

// Named returns a child logger with the given component name.
func Named(name string) *zap.Logger {
	return Logger.Named(name)
}
