package workflow

import (
	"encoding/json"
	"fmt"

	"github.com/joelklabo/shep/internal/domain"
	"github.com/joelklabo/shep/internal/ports"
)

// state is what a checkpoint carries between phases.
type state struct {
	Phase     domain.Phase            `json:"phase"`
	Prompt    string                  `json:"prompt"`
	SessionID string                  `json:"session_id,omitempty"`
	Outputs   map[domain.Phase]string `json:"outputs,omitempty"`
	Step      int                     `json:"step"`
}

func (s state) channelValues() (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, 5)
	for k, v := range map[string]any{
		"phase":      s.Phase,
		"prompt":     s.Prompt,
		"session_id": s.SessionID,
		"outputs":    s.Outputs,
		"step":       s.Step,
	} {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode channel %s: %w", k, err)
		}
		out[k] = b
	}
	return out, nil
}

func stateFromCheckpoint(cp ports.Checkpoint) (state, error) {
	var st state
	fields := map[string]any{
		"phase":      &st.Phase,
		"prompt":     &st.Prompt,
		"session_id": &st.SessionID,
		"outputs":    &st.Outputs,
		"step":       &st.Step,
	}
	for k, dst := range fields {
		raw, ok := cp.ChannelValues[k]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			return st, fmt.Errorf("decode channel %s: %w", k, err)
		}
	}
	if st.Phase == "" {
		return st, fmt.Errorf("checkpoint %s has no phase", cp.ID)
	}
	if st.Outputs == nil {
		st.Outputs = make(map[domain.Phase]string)
	}
	return st, nil
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("marshal %T: %v", v, err))
	}
	return b
}
