package insights

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// handlerSet is an ordered, concurrency-safe list of handlers. Each add
// returns a func that removes exactly that registration.
type handlerSet[T any] struct {
	mu      sync.RWMutex
	nextID  int
	entries []handlerEntry[T]
}

type handlerEntry[T any] struct {
	id int
	fn T
}

func (s *handlerSet[T]) add(fn T) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.entries = append(s.entries, handlerEntry[T]{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, e := range s.entries {
			if e.id == id {
				s.entries = append(s.entries[:i:i], s.entries[i+1:]...)
				return
			}
		}
	}
}

func (s *handlerSet[T]) snapshot() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]T, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.fn
	}
	return out
}

// Factory functions for common handlers

func CreateLoggingInsightHandler(logger *Logger) InsightHandler {
	if logger == nil {
		logger = GetGlobalLogger()
	}
	return func(insight ClassifiedInsight) {
		logger.WithField("agent", insight.Agent).WithField("summary", insight.Summary).Info(insight.Headline)
	}
}

// CreateConsoleInsightHandler prints each insight as a short card. With
// verbose set the formatted detail body is printed too.
func CreateConsoleInsightHandler(w io.Writer, verbose bool) InsightHandler {
	var mu sync.Mutex
	return func(insight ClassifiedInsight) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(w, "\n[%s] %s\n", insight.Agent, insight.Headline)
		if insight.Summary != "" {
			fmt.Fprintf(w, "  %s\n", insight.Summary)
		}
		if verbose && insight.DetailBody != "" {
			fmt.Fprintf(w, "  %s\n", insight.DetailBody)
		}
	}
}

// CreateAgentFilter passes only insights from the named agent.
func CreateAgentFilter(agent string, handler InsightHandler) InsightHandler {
	return func(insight ClassifiedInsight) {
		if strings.EqualFold(insight.Agent, agent) {
			handler(insight)
		}
	}
}

func CreateNoticeLoggingHandler(logger *Logger) NoticeHandler {
	if logger == nil {
		logger = GetGlobalLogger()
	}
	return func(n Notice) {
		l := logger.WithField("source", n.Source).WithField("persistent", n.Persistent)
		if n.Level == NoticeError {
			l.Error(n.Message)
			return
		}
		l.Info(n.Message)
	}
}

// ConnectionStatusLabel is the status text shown for a connection state.
func ConnectionStatusLabel(state ConnectionState) string {
	switch state {
	case Connecting:
		return "Connecting..."
	case Open:
		return "Connected"
	case Errored:
		return "Connection error"
	default:
		return "Disconnected"
	}
}

// CaptureStatusLabel is the status text shown for a capture state.
func CaptureStatusLabel(state CaptureState) string {
	if state == CaptureRunning {
		return "Listening"
	}
	return "Microphone inactive"
}

func CreateConnectionStatusHandler(callback func(string)) ConnectionHandler {
	return func(state ConnectionState) {
		callback(ConnectionStatusLabel(state))
	}
}

func CreateCaptureStatusHandler(callback func(string)) CaptureHandler {
	return func(state CaptureState) {
		callback(CaptureStatusLabel(state))
	}
}

func ChainInsightHandlers(handlers ...InsightHandler) InsightHandler {
	return func(insight ClassifiedInsight) {
		for _, h := range handlers {
			h(insight)
		}
	}
}
