package realtime

import (
	"errors"

	"go.uber.org/zap"
)

var (
	errMissingNormalizer = errors.New("realtime: normalizer is required")
	errMissingDispatcher = errors.New("realtime: dispatcher is required")
	errMissingBridge     = errors.New("realtime: invalidation bridge is required")
)

// PipelineConfig wires the event-processing stages together.
type PipelineConfig struct {
	Normalizer *Normalizer
	Dispatcher *Dispatcher
	Bridge     *InvalidationBridge
	Logger     *zap.Logger
}

// Pipeline feeds raw transport events through normalization and fans each
// canonical event out to the notification dispatcher and the query
// invalidation bridge. The two consumers are independent: a failure in one
// never prevents the other from fully processing the same event.
type Pipeline struct {
	normalizer *Normalizer
	dispatcher *Dispatcher
	bridge     *InvalidationBridge
	logger     *zap.Logger
}

// NewPipeline constructs a Pipeline.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Normalizer == nil {
		return nil, errMissingNormalizer
	}
	if cfg.Dispatcher == nil {
		return nil, errMissingDispatcher
	}
	if cfg.Bridge == nil {
		return nil, errMissingBridge
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		normalizer: cfg.Normalizer,
		dispatcher: cfg.Dispatcher,
		bridge:     cfg.Bridge,
		logger:     logger,
	}, nil
}

// Bind attaches the pipeline to the connection's raw event stream. The
// returned release function removes exactly the listener added here.
func (p *Pipeline) Bind(conn *Client) func() {
	return conn.OnRawEvent(p.HandleRaw)
}

// HandleRaw processes one raw transport event. Malformed events are dropped
// inside the normalizer; nothing here panics the read loop.
func (p *Pipeline) HandleRaw(raw RawEvent) {
	p.normalizer.Normalize(raw, p.deliver)
}

// deliver hands a canonical event to each consumer, isolating their failures
// from one another and from the transport read loop.
func (p *Pipeline) deliver(event Event) {
	p.runConsumer("dispatcher", func() { p.dispatcher.Dispatch(event) })
	p.runConsumer("invalidation_bridge", func() { p.bridge.Invalidate(event) })
}

func (p *Pipeline) runConsumer(name string, fn func()) {
	defer func() {
		if recovered := recover(); recovered != nil {
			p.logger.Error("event consumer panicked",
				zap.String("consumer", name), zap.Any("panic", recovered))
		}
	}()
	fn()
}
