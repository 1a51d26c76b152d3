package realtime

import (
	"encoding/json"
	"fmt"
)

// Envelope is the frame multiplexed over one shared connection; Event names
// the logical stream the payload belongs to.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func encodeEnvelope(event string, data []byte) ([]byte, error) {
	if !json.Valid(data) {
		return nil, fmt.Errorf("encodeEnvelope: payload for %q is not valid JSON", event)
	}
	b, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encodeEnvelope: %w", err)
	}
	return b, nil
}
