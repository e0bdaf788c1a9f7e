package main

import (
	"io"
	"os"

	"github.com/phuslu/log"
)

// logOut is the writer for log output. In silent mode it is set to
// io.Discard so only errors reach the user.
var logOut io.Writer = os.Stderr

// newLogger builds the console logger the paste pipeline writes to.
func newLogger(w io.Writer, level string) *log.Logger {
	return &log.Logger{
		Level:      log.ParseLevel(level),
		TimeFormat: "15:04:05",
		Writer:     &log.ConsoleWriter{Writer: w},
	}
}
