package watch

import (
	"go.uber.org/zap"

	"github.com/edgeflare/pgcdc/pkg/cdcevent"
)

// LoggingWatcher decorates any Watcher with structured zap logging of every
// event, mirroring the teacher's zap.L()/zap.ReplaceGlobals conventions in
// pkg/pglogrepl/main.go. The Runner wraps every slot's user watcher in one
// before calling Replicator.Replicate (§4.7).
type LoggingWatcher struct {
	Next   Watcher
	Logger *zap.Logger
}

// NewLoggingWatcher wraps next. A nil logger falls back to zap.L(), the
// global logger, the way the teacher's packages do when no logger is
// threaded through explicitly.
func NewLoggingWatcher(next Watcher, logger *zap.Logger) *LoggingWatcher {
	if logger == nil {
		logger = zap.L()
	}
	return &LoggingWatcher{Next: next, Logger: logger}
}

func (w *LoggingWatcher) OnEvent(e cdcevent.Event) error {
	fields := []zap.Field{
		zap.String("kind", e.Kind().String()),
		zap.Uint32("xid", e.XID()),
		zap.String("lsn", e.LSN().String()),
	}

	switch ev := e.(type) {
	case cdcevent.Insert:
		fields = append(fields, zap.String("table", ev.FullTableName()), zap.Any("primary_key", ev.PrimaryKey.Scalar()))
	case cdcevent.Update:
		fields = append(fields, zap.String("table", ev.FullTableName()), zap.Any("primary_key", ev.PrimaryKey.Scalar()))
	case cdcevent.Delete:
		fields = append(fields, zap.String("table", ev.FullTableName()), zap.Any("primary_key", ev.PrimaryKey.Scalar()))
	}

	w.Logger.Debug("cdc event", fields...)

	if err := w.Next.OnEvent(e); err != nil {
		w.Logger.Error("watcher failed", append(fields, zap.Error(err))...)
		return err
	}
	return nil
}

func (w *LoggingWatcher) ShouldWatchTable(fullName string) bool {
	return w.Next.ShouldWatchTable(fullName)
}

func (w *LoggingWatcher) ValidContextPrefix(prefix string) bool {
	return w.Next.ValidContextPrefix(prefix)
}
