package realtime

import "go.uber.org/zap"

// LogAlertSink writes alerts to the structured log. It stands in for the
// platform notification surface in headless deployments and in the demo agent.
type LogAlertSink struct {
	logger *zap.Logger
}

// NewLogAlertSink constructs a LogAlertSink.
func NewLogAlertSink(logger *zap.Logger) *LogAlertSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogAlertSink{logger: logger}
}

func (s *LogAlertSink) ScheduleAlert(title, body string, data map[string]string) error {
	s.logger.Info("alert",
		zap.String("title", title),
		zap.String("body", body),
		zap.Any("data", data))
	return nil
}

// LogHaptics records the success feedback side effect in the log.
type LogHaptics struct {
	logger *zap.Logger
}

// NewLogHaptics constructs a LogHaptics.
func NewLogHaptics(logger *zap.Logger) *LogHaptics {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogHaptics{logger: logger}
}

func (h *LogHaptics) Vibrate() error {
	h.logger.Debug("haptic feedback")
	return nil
}
