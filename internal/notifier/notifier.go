package notifier

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Level is the severity of an alert.
type Level int

const (
	Info Level = iota
	Warning
	Critical
)

func (l Level) String() string {
	switch l {
	case Warning:
		return "WARNING"
	case Critical:
		return "CRITICAL"
	}
	return "INFO"
}

func (l Level) icon() string {
	switch l {
	case Warning:
		return "⚠️"
	case Critical:
		return "🚨"
	}
	return "ℹ️"
}

// Notifier delivers operator alerts. Implementations must be safe for
// concurrent use.
type Notifier interface {
	Notify(ctx context.Context, level Level, title, msg string) error
}

// LogNotifier writes alerts to the log. It is always part of the chain so an
// alert is never lost when the remote sink is down.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger.Named("alert")}
}

func (n *LogNotifier) Notify(_ context.Context, level Level, title, msg string) error {
	fields := []zap.Field{zap.String("title", title), zap.String("msg", msg)}
	switch level {
	case Critical:
		n.logger.Error("alert", fields...)
	case Warning:
		n.logger.Warn("alert", fields...)
	default:
		n.logger.Info("alert", fields...)
	}
	return nil
}

// Multi fans an alert out to every sink and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, level Level, title, msg string) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, level, title, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
