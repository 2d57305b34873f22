package tchat

import (
	"github.com/alexcesaro/log"
	"github.com/alexcesaro/log/golog"
)

var logger *golog.Logger

// SetLogger sets the logger used by the server and client glue.
func SetLogger(l *golog.Logger) {
	logger = l
}

type nullWriter struct{}

func (nullWriter) Write(data []byte) (int, error) {
	return len(data), nil
}

func init() {
	// Set a default null logger
	SetLogger(golog.New(nullWriter{}, log.Debug))
}
