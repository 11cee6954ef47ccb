package blackbox

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xela07ax/blackbox-pipeline/internal/domain"
)

// CaptureCore — инструментирующая обертка над zapcore.Core.
// Не monkey-patching: подмена интерфейса, собираемая на старте через
// zap.WrapCore. Хост сохраняет исходный логгер и «восстанавливает»
// поверхность логирования, просто вернувшись к нему после Stop.
type CaptureCore struct {
	zapcore.Core
	rec *Recorder
}

// Instrument возвращает копию логгера, каждая запись которого
// дублируется в рекордер. Исходный логгер не трогается.
func Instrument(l *zap.Logger, rec *Recorder) *zap.Logger {
	return l.WithOptions(zap.WrapCore(func(next zapcore.Core) zapcore.Core {
		return &CaptureCore{Core: next, rec: rec}
	}))
}

func (c *CaptureCore) With(fields []zapcore.Field) zapcore.Core {
	return &CaptureCore{Core: c.Core.With(fields), rec: c.rec}
}

func (c *CaptureCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

// Write сначала отдает запись настоящему ядру, затем — рекордеру.
// Маскирование происходит внутри Record.
func (c *CaptureCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	err := c.Core.Write(ent, fields)
	c.rec.Record(captureLevel(ent.Level), ent.Message)
	return err
}

func captureLevel(l zapcore.Level) domain.LogLevel {
	switch {
	case l <= zapcore.DebugLevel:
		return domain.LevelDebug
	case l == zapcore.InfoLevel:
		return domain.LevelInfo
	case l == zapcore.WarnLevel:
		return domain.LevelWarn
	default:
		return domain.LevelError
	}
}
