package api

import (
	"fmt"
	"net/http"

	"gopkg.in/yaml.v3"
)

// AgentSkill describes one capability advertised in the agent card.
type AgentSkill struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Tags        []string `json:"tags" yaml:"tags"`
	Examples    []string `json:"examples,omitempty" yaml:"examples"`
}

// AgentCapabilities lists optional protocol features.
type AgentCapabilities struct {
	Streaming bool `json:"streaming" yaml:"streaming"`
}

// AgentCard is the discovery document served under /.well-known.
type AgentCard struct {
	Name               string            `json:"name" yaml:"name"`
	Description        string            `json:"description" yaml:"description"`
	URL                string            `json:"url" yaml:"url"`
	Version            string            `json:"version" yaml:"version"`
	DefaultInputModes  []string          `json:"defaultInputModes" yaml:"default_input_modes"`
	DefaultOutputModes []string          `json:"defaultOutputModes" yaml:"default_output_modes"`
	Capabilities       AgentCapabilities `json:"capabilities" yaml:"capabilities"`
	Skills             []AgentSkill      `json:"skills" yaml:"skills"`
}

// LoadCard parses a YAML card and sets its URL. A non-empty url overrides the
// one in the document.
func LoadCard(data []byte, url string) (AgentCard, error) {
	var card AgentCard
	if err := yaml.Unmarshal(data, &card); err != nil {
		return AgentCard{}, fmt.Errorf("parse agent card: %w", err)
	}
	if card.Name == "" {
		return AgentCard{}, fmt.Errorf("agent card: name is required")
	}
	if card.Version == "" {
		return AgentCard{}, fmt.Errorf("agent card: version is required")
	}
	if url != "" {
		card.URL = url
	}
	if len(card.DefaultInputModes) == 0 {
		card.DefaultInputModes = []string{"text/plain"}
	}
	if len(card.DefaultOutputModes) == 0 {
		card.DefaultOutputModes = []string{"text/plain"}
	}
	if card.Skills == nil {
		card.Skills = []AgentSkill{}
	}
	return card, nil
}

// GetCard serves the agent card.
func (h *Handler) GetCard(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.card)
}
