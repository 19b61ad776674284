package workspace

import (
	"encoding/json"
	"strings"

	"github.com/jjestrada2/farmane/internal/llm"
)

const descriptionHeader = "Current map state:\n"

// SelectedFeature is a feature the user clicked on before sending.
type SelectedFeature struct {
	LayerID    string         `json:"layer_id"`
	FeatureID  string         `json:"feature_id,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// SystemMessages returns the system messages to insert ahead of a new user
// message: the map description when it differs from the last one the model
// saw, and the selected feature if any.
func SystemMessages(transcript []llm.Message, description string, selected *SelectedFeature) []llm.Message {
	var out []llm.Message

	current := descriptionHeader + description
	last := ""
	for i := len(transcript) - 1; i >= 0; i-- {
		m := transcript[i]
		if m.Role == llm.RoleSystem && strings.HasPrefix(m.Content, descriptionHeader) {
			last = m.Content
			break
		}
	}
	if description != "" && last != current {
		out = append(out, llm.Message{Role: llm.RoleSystem, Content: current})
	}

	if selected != nil && selected.LayerID != "" {
		data, err := json.Marshal(selected)
		if err == nil {
			out = append(out, llm.Message{
				Role:    llm.RoleSystem,
				Content: "The user has selected this feature on the map: " + string(data),
			})
		}
	}
	return out
}
