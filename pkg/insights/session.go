package insights

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	micDeniedNotice = "Microphone access denied. Please enable microphone permissions."
	systemSource    = "System"
)

type sessionOptions struct {
	dialer    Dialer
	mic       Microphone
	logger    *Logger
	metrics   *Metrics
	afterFunc AfterFunc
	extractor ContentExtractor
	filter    *QualityFilter
	publisher InsightPublisher
	tokens    TokenSource
	tokensSet bool
}

// Option customizes a Session.
type Option func(*sessionOptions)

func WithDialer(d Dialer) Option { return func(o *sessionOptions) { o.dialer = d } }

func WithMicrophone(m Microphone) Option { return func(o *sessionOptions) { o.mic = m } }

func WithLogger(l *Logger) Option { return func(o *sessionOptions) { o.logger = l } }

func WithMetrics(m *Metrics) Option { return func(o *sessionOptions) { o.metrics = m } }

// WithRegisterer registers a fresh set of metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *sessionOptions) { o.metrics = NewMetrics(reg) }
}

// WithAfterFunc replaces the reconnect scheduler.
func WithAfterFunc(f AfterFunc) Option { return func(o *sessionOptions) { o.afterFunc = f } }

func WithExtractor(e ContentExtractor) Option { return func(o *sessionOptions) { o.extractor = e } }

func WithFilter(f *QualityFilter) Option { return func(o *sessionOptions) { o.filter = f } }

// WithPublisher forwards every accepted insight to p.
func WithPublisher(p InsightPublisher) Option { return func(o *sessionOptions) { o.publisher = p } }

// WithTokenSource overrides the token source derived from the config. A nil
// source disables bearer auth.
func WithTokenSource(ts TokenSource) Option {
	return func(o *sessionOptions) {
		o.tokens = ts
		o.tokensSet = true
	}
}

// Session is one live insights client: a connection, the capture pipeline
// feeding it and the dispatcher reading from it. Handlers run on the session's
// event loop in registration order and must not call session actions
// synchronously.
type Session struct {
	config     *Config
	logger     *Logger
	metrics    *Metrics
	conn       *ConnectionManager
	capture    *AudioCapture
	dispatcher *Dispatcher
	publisher  InsightPublisher

	insightHandlers    handlerSet[InsightHandler]
	noticeHandlers     handlerSet[NoticeHandler]
	connectionHandlers handlerSet[ConnectionHandler]
	captureHandlers    handlerSet[CaptureHandler]
	catalogHandlers    handlerSet[CatalogHandler]

	agentsMu sync.RWMutex
	agents   map[string]AgentConfig

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	stopped     chan struct{}
}

func NewSession(config *Config, opts ...Option) (*Session, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if issues := config.Validate(); len(issues) > 0 {
		return nil, NewError("invalid configuration: "+strings.Join(issues, "; "), ErrCodeConfigInvalid).
			AddDetail("issues", issues)
	}

	var o sessionOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = GetGlobalLogger()
	}
	if o.metrics == nil {
		o.metrics = NewMetrics(nil)
	}
	if o.dialer == nil {
		o.dialer = NewWebsocketDialer(config.HandshakeTimeout)
	}
	if o.mic == nil {
		o.mic = NewPortAudioMicrophone()
	}
	if !o.tokensSet {
		o.tokens = config.TokenSource()
	}

	s := &Session{
		config:    config,
		logger:    o.logger.WithComponent("session"),
		metrics:   o.metrics,
		publisher: o.publisher,
		agents:    make(map[string]AgentConfig),
	}
	s.dispatcher = NewDispatcher(sessionSink{s}, o.filter, o.extractor, o.logger, o.metrics)
	s.conn = NewConnectionManager(ConnectionConfig{
		Endpoint:       config.Endpoint,
		Headers:        config.Headers,
		Tokens:         o.tokens,
		ReconnectDelay: config.ReconnectDelay,
		WriteTimeout:   config.WriteTimeout,
		AfterFunc:      o.afterFunc,
		Logger:         o.logger,
		Metrics:        o.metrics,
	}, o.dialer, ConnectionHooks{
		OnState:   s.onConnectionState,
		OnOpen:    s.onOpen,
		OnDown:    s.onDown,
		OnMessage: func(data []byte) { s.dispatcher.Dispatch(data) },
	})
	s.capture = NewAudioCapture(&AudioConfig{
		DeviceID: config.AudioDeviceID,
		Post:     s.conn.Submit,
		OnState:  s.onCaptureState,
		Logger:   o.logger,
		Metrics:  o.metrics,
	}, o.mic, s.conn)
	return s, nil
}

// Run connects and keeps the session alive until ctx is cancelled. It may be
// called once.
func (s *Session) Run(ctx context.Context) error {
	s.logger.WithField("endpoint", s.config.Endpoint).Info("Starting insights session")
	err := s.conn.Run(ctx)
	_ = s.capture.Stop()
	s.logger.Info("Insights session stopped")
	return err
}

// Open runs the session in the background until Close.
func (s *Session) Open(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if s.stopped != nil {
		return NewError("session already opened", ErrCodeSessionClosed)
	}

	ctx, cancel := context.WithCancel(ctx)
	stopped := make(chan struct{})
	s.cancel = cancel
	s.stopped = stopped
	go func() {
		defer close(stopped)
		if err := s.Run(ctx); err != nil {
			s.logger.WithError(err).Error("Session exited")
		}
	}()
	return nil
}

// Close stops the session and waits for the event loop to exit.
func (s *Session) Close() error {
	s.lifecycleMu.Lock()
	cancel, stopped := s.cancel, s.stopped
	s.lifecycleMu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-stopped
	return nil
}

// SetModel asks the server to switch LLM provider and model. An empty model
// selects the provider's default.
func (s *Session) SetModel(ctx context.Context, provider, model string) error {
	provider, model = strings.TrimSpace(provider), strings.TrimSpace(model)
	if provider == "" {
		return NewError("provider is required", ErrCodeInvalidModel)
	}
	payload, err := CreateSetModelMessage(provider, model)
	if err != nil {
		return WrapError(err, ErrCodeJSONParse)
	}
	return s.sendControl(ctx, "switch model", payload, func() {
		catalog := s.dispatcher.setActive(provider, model)
		s.emitNotice(Notice{
			Level:   NoticeInfo,
			Source:  systemSource,
			Message: fmt.Sprintf("Switching to %s model: %s", provider, messageOr(model, "default")),
		})
		s.emitCatalog(catalog)
	})
}

// RequestModels asks the server for its model catalog.
func (s *Session) RequestModels(ctx context.Context) error {
	payload, err := CreateGetModelsMessage()
	if err != nil {
		return WrapError(err, ErrCodeJSONParse)
	}
	return s.sendControl(ctx, "request models", payload, nil)
}

func (s *Session) CreateAgent(ctx context.Context, config AgentConfig) error {
	cfg, err := s.validateAgent(config)
	if err != nil {
		return err
	}
	payload, err := CreateAgentMessage(cfg)
	if err != nil {
		return WrapError(err, ErrCodeJSONParse)
	}
	return s.sendControl(ctx, "create agent", payload, func() {
		s.putAgent("", cfg)
		s.emitNotice(Notice{Level: NoticeInfo, Source: systemSource, Message: "Created custom agent: " + cfg.Name})
	})
}

func (s *Session) UpdateAgent(ctx context.Context, oldName string, config AgentConfig) error {
	oldName = strings.TrimSpace(oldName)
	if oldName == "" {
		return NewError("old agent name is required", ErrCodeInvalidAgent)
	}
	cfg, err := s.validateAgent(config)
	if err != nil {
		return err
	}
	payload, err := CreateUpdateAgentMessage(oldName, cfg)
	if err != nil {
		return WrapError(err, ErrCodeJSONParse)
	}
	return s.sendControl(ctx, "update agent", payload, func() {
		s.putAgent(oldName, cfg)
		s.emitNotice(Notice{Level: NoticeInfo, Source: systemSource, Message: "Updated agent: " + cfg.Name})
	})
}

func (s *Session) DeleteAgent(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return NewError("agent name is required", ErrCodeInvalidAgent)
	}
	payload, err := CreateDeleteAgentMessage(name)
	if err != nil {
		return WrapError(err, ErrCodeJSONParse)
	}
	return s.sendControl(ctx, "delete agent", payload, func() {
		s.agentsMu.Lock()
		delete(s.agents, name)
		s.agentsMu.Unlock()
		s.emitNotice(Notice{Level: NoticeInfo, Source: systemSource, Message: fmt.Sprintf("Agent %q deleted", name)})
	})
}

func (s *Session) validateAgent(config AgentConfig) (AgentConfig, error) {
	cfg, err := ValidateAgentConfig(config)
	if err != nil {
		s.emitNotice(Notice{Level: NoticeError, Source: systemSource, Message: "Please fill in all required fields"})
		return cfg, err
	}
	return cfg, nil
}

// sendControl sends payload if the connection is open and runs onSent on the
// loop after a successful write. Nothing is queued while disconnected.
func (s *Session) sendControl(ctx context.Context, action string, payload []byte, onSent func()) error {
	var sendErr error
	err := s.conn.Do(ctx, func() {
		if !s.conn.IsOpen() {
			sendErr = ErrNotConnected
			return
		}
		if err := s.conn.SendText(payload); err != nil {
			sendErr = err
			return
		}
		if onSent != nil {
			onSent()
		}
	})
	if err == nil {
		err = sendErr
	}
	if errors.Is(err, ErrNotConnected) || errors.Is(err, ErrSessionClosed) {
		s.logger.WithField("action", action).Warn("Rejected action while disconnected")
		s.emitNotice(Notice{
			Level:   NoticeError,
			Source:  systemSource,
			Message: fmt.Sprintf("Cannot %s: Not connected to server", action),
		})
		return ErrNotConnected
	}
	return err
}

func (s *Session) putAgent(oldName string, cfg AgentConfig) {
	s.agentsMu.Lock()
	defer s.agentsMu.Unlock()
	if oldName != "" {
		delete(s.agents, oldName)
	}
	s.agents[cfg.Name] = cfg
}

// State returns the connection state.
func (s *Session) State() ConnectionState { return s.conn.State() }

// CaptureState returns the capture pipeline state.
func (s *Session) CaptureState() CaptureState { return s.capture.State() }

// AudioLevel returns the mean absolute amplitude of the latest buffer.
func (s *Session) AudioLevel() float32 { return s.capture.Level() }

// Catalog returns a copy of the model catalog.
func (s *Session) Catalog() ModelCatalog { return s.dispatcher.Catalog() }

// CustomAgents returns the agents this session created or updated, by name.
func (s *Session) CustomAgents() []AgentConfig {
	s.agentsMu.RLock()
	defer s.agentsMu.RUnlock()
	out := make([]AgentConfig, 0, len(s.agents))
	for _, a := range s.agents {
		a.Triggers = append([]string(nil), a.Triggers...)
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Session) AddInsightHandler(h InsightHandler) func() { return s.insightHandlers.add(h) }

func (s *Session) AddNoticeHandler(h NoticeHandler) func() { return s.noticeHandlers.add(h) }

func (s *Session) AddConnectionHandler(h ConnectionHandler) func() {
	return s.connectionHandlers.add(h)
}

func (s *Session) AddCaptureHandler(h CaptureHandler) func() { return s.captureHandlers.add(h) }

func (s *Session) AddCatalogHandler(h CatalogHandler) func() { return s.catalogHandlers.add(h) }

// Hooks, all on the event loop.

func (s *Session) onOpen() {
	if err := s.capture.Start(); err != nil {
		s.emitNotice(Notice{Level: NoticeError, Source: systemSource, Message: micDeniedNotice, Persistent: true})
	}
	payload, err := CreateGetModelsMessage()
	if err != nil {
		s.logger.WithError(err).Error("Failed to encode get_available_models")
		return
	}
	if err := s.conn.SendText(payload); err != nil {
		s.logger.WithError(err).Warn("Failed to request available models")
	}
}

func (s *Session) onDown(state ConnectionState, err error) {
	if stopErr := s.capture.Stop(); stopErr != nil {
		s.logger.WithError(stopErr).Warn("Failed to stop capture")
	}
}

func (s *Session) onConnectionState(state ConnectionState) {
	for _, h := range s.connectionHandlers.snapshot() {
		h(state)
	}
}

func (s *Session) onCaptureState(state CaptureState) {
	for _, h := range s.captureHandlers.snapshot() {
		h(state)
	}
}

func (s *Session) emitNotice(n Notice) {
	for _, h := range s.noticeHandlers.snapshot() {
		h(n)
	}
}

func (s *Session) emitCatalog(c ModelCatalog) {
	for _, h := range s.catalogHandlers.snapshot() {
		h(c.Clone())
	}
}

// sessionSink routes dispatcher output to the session's handlers.
type sessionSink struct{ s *Session }

func (k sessionSink) HandleInsight(insight ClassifiedInsight) {
	for _, h := range k.s.insightHandlers.snapshot() {
		h(insight)
	}
	if k.s.publisher != nil {
		k.s.publisher.Enqueue(insight)
	}
}

func (k sessionSink) HandleNotice(n Notice) { k.s.emitNotice(n) }

func (k sessionSink) HandleCatalog(c ModelCatalog) { k.s.emitCatalog(c) }
