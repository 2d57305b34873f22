package relay

import (
	"github.com/alexcesaro/log"
	"github.com/alexcesaro/log/golog"
)

var logger *golog.Logger

// SetLogger changes the logger used for logging inside the package
func SetLogger(l *golog.Logger) {
	logger = l
}

type nullWriter struct{}

func (nullWriter) Write(data []byte) (int, error) {
	return len(data), nil
}

func init() {
	SetLogger(golog.New(nullWriter{}, log.Debug))
}
