// Package zaplog adapts go.uber.org/zap to the tiercache Logger interface.
package zaplog

import (
	"github.com/tiercache/tiercache"
	"go.uber.org/zap"
)

type Logger struct{ L *zap.Logger }

func (z Logger) Debug(msg string, f tiercache.Fields) { z.L.Debug(msg, zf(f)...) }
func (z Logger) Info(msg string, f tiercache.Fields)  { z.L.Info(msg, zf(f)...) }
func (z Logger) Warn(msg string, f tiercache.Fields)  { z.L.Warn(msg, zf(f)...) }
func (z Logger) Error(msg string, f tiercache.Fields) { z.L.Error(msg, zf(f)...) }

func zf(f tiercache.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(f))
	for k, v := range f {
		out = append(out, zap.Any(k, v))
	}
	return out
}
