package storage

import (
	"encoding/json"
	"fmt"

	"swap-triggers/internal/trigger"
)

// predicateDoc is the JSONB persistence shape of a trigger predicate.
// Exactly one of the two members is set.
type predicateDoc struct {
	Simple *trigger.SimplePredicate `json:"simple,omitempty"`
	Smart  *trigger.SmartPredicate  `json:"smart,omitempty"`
}

func encodePredicate(t trigger.Trigger) ([]byte, error) {
	doc := predicateDoc{Simple: t.Simple, Smart: t.Smart}
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode predicate: %w", err)
	}
	return payload, nil
}

func decodePredicate(payload []byte, t *trigger.Trigger) error {
	var doc predicateDoc
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("decode predicate: %w", err)
	}
	t.Simple = doc.Simple
	t.Smart = doc.Smart
	return nil
}
