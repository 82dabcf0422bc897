package logger

import (
	"fmt"
	"github.com/maxaizer/fh-notifier/pkg/loki"
	log "github.com/sirupsen/logrus"
	"path/filepath"
	"strconv"
)

const sourceField = "source"

// forwardedFields are the entry fields worth searching by in Loki.
var forwardedFields = []string{ErrorTypeField, "cycle_id", "subscriber_id", "project_id"}

type pusherLogger struct{}

func (pusherLogger) Error(msg string, args ...any) {
	log.WithFields(log.Fields{"args": args, sourceField: "loki"}).Warn(msg)
}

type lokiHook struct {
	pusher *loki.Pusher
	levels []log.Level
}

func (h *lokiHook) Fire(entry *log.Entry) error {

	// the pusher reports its own failures through logrus
	if entry.Data[sourceField] == "loki" {
		return nil
	}

	fields := make(map[string]string)
	for _, key := range forwardedFields {
		if value, ok := entry.Data[key]; ok {
			fields[key] = fmt.Sprint(value)
		}
	}
	if err, ok := entry.Data[log.ErrorKey].(error); ok {
		fields["error"] = err.Error()
	}

	caller := ""
	if entry.Caller != nil {
		caller = filepath.Base(entry.Caller.File) + ":" + strconv.Itoa(entry.Caller.Line)
	}

	h.pusher.Push(loki.Entry{
		Time:    entry.Time,
		Level:   entry.Level.String(),
		Message: entry.Message,
		Caller:  caller,
		Fields:  fields,
	})
	return nil
}

func (h *lokiHook) Levels() []log.Level {
	return h.levels
}

func newLokiHook(pusher *loki.Pusher, minLevel log.Level) *lokiHook {
	var levels []log.Level
	for _, level := range log.AllLevels {
		if level <= minLevel {
			levels = append(levels, level)
		}
	}
	return &lokiHook{pusher: pusher, levels: levels}
}

func addLokiHook(cfg loki.Config, minLevel log.Level) error {

	pusher, err := loki.New(cfg, pusherLogger{})
	if err != nil {
		return err
	}
	lokiPusher = pusher
	log.AddHook(newLokiHook(pusher, minLevel))
	log.Infof("loki logging enabled, pushing to %s", cfg.Url)
	return nil
}
