package log

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var l *logrus.Logger

func init() {
	l = logrus.New()
	l.SetOutput(os.Stdout)
	l.SetLevel(logrus.DebugLevel)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05",
	})
}

// SetLevel parses a logrus level name (panic, fatal, error, warn, info, debug, trace).
func SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if nil != err {
		return err
	}
	l.SetLevel(lvl)
	return nil
}

func SetOutput(w io.Writer) {
	l.SetOutput(w)
}

func AddHook(hook logrus.Hook) {
	l.AddHook(hook)
}

func WithField(key string, value any) *logrus.Entry {
	return l.WithField(key, value)
}

func Debug(msg any) {
	l.Debug(fmt.Sprintf("%s", msg))
}

func DebugF(format string, a ...any) {
	l.Debugf(format, a...)
}

func Info(msg any) {
	l.Info(fmt.Sprintf("%s", msg))
}

func InfoF(format string, a ...any) {
	l.Infof(format, a...)
}

func Warn(msg any) {
	l.Warn(fmt.Sprintf("%s", msg))
}

func WarnF(format string, a ...any) {
	l.Warnf(format, a...)
}

func Error(msg any) {
	l.Error(fmt.Sprintf("%s", msg))
}

func ErrorF(format string, a ...any) {
	l.Errorf(format, a...)
}

func Fatal(msg any) {
	l.Error(fmt.Sprintf("%s", msg))
	os.Exit(1)
}

func FatalF(format string, a ...any) {
	l.Errorf(format, a...)
	os.Exit(1)
}
