package gokit

import (
	"testing"

	golog "github.com/fclairamb/go-log"
)

func getLogger() golog.Logger {
	return NewGKLoggerStdout()
}

func TestLogSimple(t *testing.T) {
	logger := getLogger()
	logger.Info("Hello !")
}
