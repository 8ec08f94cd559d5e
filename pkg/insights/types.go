package insights

import "encoding/json"

// Fixed audio wire format. The server expects exactly this; nothing else is negotiated.
const (
	SampleRate = 16000
	Channels   = 1
	BufferSize = 4096
	Format     = "pcm_s16le"
)

// ConnectionState enum
type ConnectionState string

const (
	Idle       ConnectionState = "idle"
	Connecting ConnectionState = "connecting"
	Open       ConnectionState = "open"
	Closed     ConnectionState = "closed"
	Errored    ConnectionState = "errored"
)

// CaptureState enum
type CaptureState string

const (
	CaptureStopped  CaptureState = "stopped"
	CaptureStarting CaptureState = "starting"
	CaptureRunning  CaptureState = "running"
)

// Envelope kinds sent by the server in the "type" field.
const (
	KindInsight         = "insight"
	KindError           = "error"
	KindSilentError     = "silent_error"
	KindTranscript      = "transcript"
	KindSystemMessage   = "system_message"
	KindAvailableModels = "available_models"
)

// InboundEnvelope is the decoded form of a server text frame.
type InboundEnvelope struct {
	Type    string          `json:"type"`
	Agent   string          `json:"agent,omitempty"`
	Content string          `json:"content,omitempty"`
	Message string          `json:"message,omitempty"`
	IsFinal bool            `json:"is_final,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ClassifiedInsight is an accepted insight, ready for display.
type ClassifiedInsight struct {
	Agent      string `json:"agent"`
	Headline   string `json:"headline"`
	Summary    string `json:"summary"`
	DetailBody string `json:"detail_body"`
	RawContent string `json:"raw_content"`
}

// NoticeLevel enum
type NoticeLevel string

const (
	NoticeInfo  NoticeLevel = "info"
	NoticeError NoticeLevel = "error"
)

// Notice is a user-facing message that is not an insight card.
type Notice struct {
	Level   NoticeLevel
	Source  string
	Message string
	// Persistent notices stay visible until the condition clears (e.g. microphone denied).
	Persistent bool
}

// AgentConfig describes a custom agent as sent in create_agent/update_agent.
type AgentConfig struct {
	Name     string   `json:"name"`
	Icon     string   `json:"icon,omitempty"`
	Type     string   `json:"type"`
	Goal     string   `json:"goal"`
	Prompt   string   `json:"prompt"`
	Triggers []string `json:"triggers"`
	Model    string   `json:"model,omitempty"`
}

// Handler types
type InsightHandler func(ClassifiedInsight)
type NoticeHandler func(Notice)
type ConnectionHandler func(ConnectionState)
type CaptureHandler func(CaptureState)
type CatalogHandler func(ModelCatalog)
