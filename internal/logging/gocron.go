package logging

import "github.com/go-co-op/gocron/v2"

// schedulerLogger routes gocron's key/value logs into a category.
type schedulerLogger struct {
	category Category
}

// NewSchedulerLogger returns a gocron.Logger writing to category.
func NewSchedulerLogger(category Category) gocron.Logger {
	return schedulerLogger{category: category}
}

func (l schedulerLogger) Debug(msg string, args ...any) {
	Get(l.category).With(args...).Debug("scheduler: %s", msg)
}

func (l schedulerLogger) Info(msg string, args ...any) {
	Get(l.category).With(args...).Info("scheduler: %s", msg)
}

func (l schedulerLogger) Warn(msg string, args ...any) {
	Get(l.category).With(args...).Warn("scheduler: %s", msg)
}

func (l schedulerLogger) Error(msg string, args ...any) {
	Get(l.category).With(args...).Error("scheduler: %s", msg)
}
