package insights

import (
	"encoding/json"
	"strings"
)

// Control message types sent by the client.
const (
	ControlGetAvailableModels = "get_available_models"
	ControlSetModel           = "set_model"
	ControlCreateAgent        = "create_agent"
	ControlUpdateAgent        = "update_agent"
	ControlDeleteAgent        = "delete_agent"
)

type getModelsMessage struct {
	Type string `json:"type"`
}

type setModelMessage struct {
	Type     string `json:"type"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type createAgentMessage struct {
	Type   string      `json:"type"`
	Config AgentConfig `json:"config"`
}

type updateAgentMessage struct {
	Type    string      `json:"type"`
	OldName string      `json:"old_name"`
	Config  AgentConfig `json:"config"`
}

type deleteAgentMessage struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

func CreateGetModelsMessage() ([]byte, error) {
	return json.Marshal(getModelsMessage{Type: ControlGetAvailableModels})
}

func CreateSetModelMessage(provider, model string) ([]byte, error) {
	return json.Marshal(setModelMessage{Type: ControlSetModel, Provider: provider, Model: model})
}

func CreateAgentMessage(config AgentConfig) ([]byte, error) {
	return json.Marshal(createAgentMessage{Type: ControlCreateAgent, Config: config})
}

func CreateUpdateAgentMessage(oldName string, config AgentConfig) ([]byte, error) {
	return json.Marshal(updateAgentMessage{Type: ControlUpdateAgent, OldName: oldName, Config: config})
}

func CreateDeleteAgentMessage(name string) ([]byte, error) {
	return json.Marshal(deleteAgentMessage{Type: ControlDeleteAgent, Name: name})
}

// ValidateAgentConfig checks the fields the server requires. Trigger keywords
// are trimmed and empties dropped; the normalized config is returned.
func ValidateAgentConfig(config AgentConfig) (AgentConfig, error) {
	config.Name = strings.TrimSpace(config.Name)
	config.Goal = strings.TrimSpace(config.Goal)
	config.Prompt = strings.TrimSpace(config.Prompt)

	triggers := make([]string, 0, len(config.Triggers))
	for _, t := range config.Triggers {
		if t = strings.TrimSpace(t); t != "" {
			triggers = append(triggers, t)
		}
	}
	config.Triggers = triggers
	if config.Type == "" {
		config.Type = "custom"
	}

	var missing []string
	if config.Name == "" {
		missing = append(missing, "name")
	}
	if config.Goal == "" {
		missing = append(missing, "goal")
	}
	if len(config.Triggers) == 0 {
		missing = append(missing, "triggers")
	}
	if len(missing) > 0 {
		return config, NewError("agent config is missing "+strings.Join(missing, ", "), ErrCodeInvalidAgent).
			AddDetail("missing", missing)
	}
	return config, nil
}
