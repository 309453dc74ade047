package admin

import "go.uber.org/zap"

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
)

// Notice is a user-facing event the dashboard should surface.
type Notice struct {
	Severity Severity
	Title    string
	Message  string
}

type Notifier interface {
	Notify(Notice)
}

// LogNotifier writes notices to the structured log. The default sink when no
// UI surface is attached.
type LogNotifier struct {
	Log *zap.Logger
}

func (n LogNotifier) Notify(notice Notice) {
	fields := []zap.Field{
		zap.String("title", notice.Title),
		zap.String("message", notice.Message),
	}
	switch notice.Severity {
	case SeverityError:
		n.Log.Warn("notice", fields...)
	default:
		n.Log.Info("notice", fields...)
	}
}
