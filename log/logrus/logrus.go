// Package logruslog adapts sirupsen/logrus to the tiercache Logger interface.
package logruslog

import (
	"github.com/sirupsen/logrus"
	"github.com/tiercache/tiercache"
)

type Logger struct{ L *logrus.Logger }

func (l Logger) Debug(msg string, f tiercache.Fields) { l.L.WithFields(lf(f)).Debug(msg) }
func (l Logger) Info(msg string, f tiercache.Fields)  { l.L.WithFields(lf(f)).Info(msg) }
func (l Logger) Warn(msg string, f tiercache.Fields)  { l.L.WithFields(lf(f)).Warn(msg) }
func (l Logger) Error(msg string, f tiercache.Fields) { l.L.WithFields(lf(f)).Error(msg) }

func lf(f tiercache.Fields) logrus.Fields {
	if len(f) == 0 {
		return nil
	}
	out := make(logrus.Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}
