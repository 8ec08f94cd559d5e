package insights

import (
	"encoding/json"
	"sync"
)

// Outcome records what the dispatcher did with one inbound frame.
type Outcome string

const (
	OutcomeInsight      Outcome = "insight"
	OutcomeRejected     Outcome = "rejected"
	OutcomeServerError  Outcome = "server_error"
	OutcomeTranscript   Outcome = "transcript"
	OutcomeNotice       Outcome = "notice"
	OutcomeCatalog      Outcome = "catalog"
	OutcomeIgnored      Outcome = "ignored"
	OutcomeUnknown      Outcome = "unknown"
	OutcomeParseFailure Outcome = "parse_failure"
)

const invalidDataNotice = "Received invalid data format"

// EventSink receives everything the dispatcher surfaces to the view layer.
type EventSink interface {
	HandleInsight(ClassifiedInsight)
	HandleNotice(Notice)
	HandleCatalog(ModelCatalog)
}

// Dispatcher decodes inbound frames and routes them by kind.
type Dispatcher struct {
	filter    *QualityFilter
	extractor ContentExtractor
	sink      EventSink
	logger    *Logger
	metrics   *Metrics

	mu      sync.RWMutex
	catalog ModelCatalog
}

// NewDispatcher wires a dispatcher. Nil filter, extractor, logger or metrics
// fall back to the defaults.
func NewDispatcher(sink EventSink, filter *QualityFilter, extractor ContentExtractor, logger *Logger, metrics *Metrics) *Dispatcher {
	if filter == nil {
		filter = NewQualityFilter()
	}
	if extractor == nil {
		extractor = NewHeuristicExtractor()
	}
	if logger == nil {
		logger = GetGlobalLogger()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Dispatcher{
		filter:    filter,
		extractor: extractor,
		sink:      sink,
		logger:    logger.WithComponent("dispatcher"),
		metrics:   metrics,
		catalog:   DefaultModelCatalog(),
	}
}

// Dispatch handles one inbound frame. It never panics on bad input.
func (d *Dispatcher) Dispatch(frame []byte) Outcome {
	var env InboundEnvelope
	if err := json.Unmarshal(frame, &env); err != nil {
		d.metrics.ParseFailures.Inc()
		d.logger.WithError(err).WithField("bytes", len(frame)).Warn("Received non-JSON message")
		d.sink.HandleNotice(Notice{Level: NoticeError, Source: "System", Message: invalidDataNotice})
		return OutcomeParseFailure
	}

	kind := env.Type
	if kind == "" {
		kind = "unknown"
	}
	d.metrics.MessagesReceived.WithLabelValues(kind).Inc()
	d.logger.LogMessageEvent(kind, map[string]interface{}{"agent": env.Agent})

	switch env.Type {
	case KindInsight:
		return d.handleInsight(env)
	case KindError:
		d.logger.WithField("agent", env.Agent).Errorf("Error from server: %s", messageOr(env.Message, "Unknown error"))
		return OutcomeServerError
	case KindSilentError:
		d.logger.WithField("agent", env.Agent).Debugf("Silent error from server: %s", env.Message)
		return OutcomeServerError
	case KindTranscript:
		if env.IsFinal {
			return OutcomeTranscript
		}
		return OutcomeIgnored
	case KindSystemMessage:
		d.sink.HandleNotice(Notice{Level: NoticeInfo, Source: messageOr(env.Agent, "System"), Message: env.Message})
		return OutcomeNotice
	case KindAvailableModels:
		return d.handleAvailableModels(env)
	default:
		d.logger.Warnf("Unknown message type: %s", env.Type)
		return OutcomeUnknown
	}
}

func (d *Dispatcher) handleInsight(env InboundEnvelope) Outcome {
	if reason := d.filter.Evaluate(env.Content); reason != RejectNone {
		d.metrics.InsightsRejected.WithLabelValues(string(reason)).Inc()
		d.logger.WithField("agent", env.Agent).WithField("rule", string(reason)).Debug("Filtering out insight")
		return OutcomeRejected
	}
	insight := d.extractor.Extract(env.Agent, env.Content)
	d.metrics.InsightsAccepted.Inc()
	d.sink.HandleInsight(insight)
	return OutcomeInsight
}

func (d *Dispatcher) handleAvailableModels(env InboundEnvelope) Outcome {
	var data availableModelsData
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			d.logger.WithError(err).Warn("Malformed available_models payload")
			return OutcomeIgnored
		}
	}
	if data.Models == nil {
		d.logger.Warn("available_models without a model list")
		return OutcomeIgnored
	}

	d.mu.Lock()
	d.catalog.replace(data)
	snapshot := d.catalog.Clone()
	d.mu.Unlock()

	d.logger.Infof("Active model set to: %s:%s", snapshot.ActiveProvider, snapshot.ActiveModel)
	d.sink.HandleCatalog(snapshot)
	return OutcomeCatalog
}

// Catalog returns a copy of the tracked model catalog.
func (d *Dispatcher) Catalog() ModelCatalog {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.catalog.Clone()
}

// setActive records a model switch the client has just requested.
func (d *Dispatcher) setActive(provider, model string) ModelCatalog {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.catalog.ActiveProvider = provider
	d.catalog.ActiveModel = model
	return d.catalog.Clone()
}

func messageOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
