package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EncodeCondition serializes a condition variant for storage.
func EncodeCondition(c Condition) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: condition is required", ErrValidation)
	}
	return json.Marshal(c)
}

// DecodeCondition deserializes raw into the variant selected by ruleType.
func DecodeCondition(ruleType RuleType, raw []byte) (Condition, error) {
	if len(raw) == 0 {
		raw = []byte("{}")
	}

	var (
		c   Condition
		err error
	)
	switch ruleType {
	case RuleSubmissionFailure:
		c, err = decodeStrict[SubmissionFailureCondition](raw)
	case RuleHighFailureRate:
		c, err = decodeStrict[HighFailureRateCondition](raw)
	case RuleQueueBacklog:
		c, err = decodeStrict[QueueBacklogCondition](raw)
	case RuleSystemHealth:
		c, err = decodeStrict[SystemHealthCondition](raw)
	case RuleUniversityDown:
		c, err = decodeStrict[UniversityDownCondition](raw)
	default:
		return nil, fmt.Errorf("%w: invalid rule type %q", ErrValidation, ruleType)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: malformed %s conditions: %v", ErrValidation, ruleType, err)
	}
	return c, nil
}

// decodeStrict rejects unknown keys so a misspelled field is never dropped.
func decodeStrict[T Condition](raw []byte) (Condition, error) {
	var v T
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

type actionEnvelope struct {
	Type   ActionKind      `json:"type"`
	Config json.RawMessage `json:"config"`
}

// EncodeActions serializes actions as a list of {type, config} envelopes.
func EncodeActions(actions []Action) ([]byte, error) {
	envelopes := make([]actionEnvelope, 0, len(actions))
	for _, a := range actions {
		cfg, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s action: %w", a.Kind(), err)
		}
		envelopes = append(envelopes, actionEnvelope{Type: a.Kind(), Config: cfg})
	}
	return json.Marshal(envelopes)
}

// DecodeActions is the inverse of EncodeActions.
func DecodeActions(raw []byte) ([]Action, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var envelopes []actionEnvelope
	if err := json.Unmarshal(raw, &envelopes); err != nil {
		return nil, fmt.Errorf("%w: malformed actions: %v", ErrValidation, err)
	}

	actions := make([]Action, 0, len(envelopes))
	for _, env := range envelopes {
		action, err := DecodeAction(env.Type, env.Config)
		if err != nil {
			return nil, err
		}
		actions = append(actions, action)
	}
	return actions, nil
}

// DecodeAction deserializes one action config of the given kind.
func DecodeAction(kind ActionKind, raw []byte) (Action, error) {
	var (
		a   Action
		err error
	)
	switch kind {
	case ActionEmail:
		var v EmailAction
		err = json.Unmarshal(raw, &v)
		a = v
	case ActionWebhook:
		var v WebhookAction
		err = json.Unmarshal(raw, &v)
		a = v
	case ActionPush:
		var v PushAction
		err = json.Unmarshal(raw, &v)
		a = v
	default:
		return nil, fmt.Errorf("%w: invalid action type %q", ErrValidation, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: malformed %s action: %v", ErrValidation, kind, err)
	}
	return a, nil
}
