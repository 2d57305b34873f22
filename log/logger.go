package log

import (
	"io"

	"github.com/alexcesaro/log"
	"github.com/alexcesaro/log/golog"
	"github.com/shazow/tchat"
	"github.com/shazow/tchat/relay"
	"github.com/shazow/tchat/tcpd"
)

var logLevels = []log.Level{
	log.Warning,
	log.Info,
	log.Debug,
}

// Logger Global Logger
var Logger *golog.Logger

// SetLogger Set the global logger and share it with every package
func SetLogger(l *golog.Logger) {
	Logger = l
	tchat.SetLogger(l)
	relay.SetLogger(l)
	tcpd.SetLogger(l)
}

// Level returns the log level for a number of -v flags.
func Level(numVerbose int) log.Level {
	if numVerbose >= len(logLevels) {
		numVerbose = len(logLevels) - 1
	}
	if numVerbose < 0 {
		numVerbose = 0
	}
	return logLevels[numVerbose]
}

// Init Initialize the global logger
func Init(w io.Writer, numVerbose int) {
	SetLogger(golog.New(w, Level(numVerbose)))
}
