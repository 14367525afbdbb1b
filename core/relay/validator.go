package relay

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/sdrelay/sdrelay/core/protocol/wire"
)

// FieldError names one payload field and what is wrong with it.
type FieldError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// Validate checks a raw payload against the endpoint's schema and returns
// the field-level errors of the failed validation pass, all together, so
// the caller can fix the payload in one round trip. A nil slice means the
// payload is valid. Operations without a schema accept anything (the input
// is ignored at dispatch for GETs).
func Validate(spec EndpointSpec, input json.RawMessage) ([]FieldError, error) {
	if spec.Schema == nil {
		return nil, nil
	}
	var value any = map[string]any{}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &value); err != nil {
			return []FieldError{{Message: fmt.Sprintf("input is not valid JSON: %v", err)}}, nil
		}
	}
	err := spec.Schema.Validate(value)
	if err == nil {
		return nil, nil
	}
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return nil, fmt.Errorf("schema validation: %w", err)
	}
	return flatten(ve), nil
}

// ValidationFailure folds field errors into a wire error. The message keeps
// every collected error so the caller sees the full diagnosis at once.
func ValidationFailure(errs []FieldError) *Failure {
	msgs := make([]string, 0, len(errs))
	for _, fe := range errs {
		msgs = append(msgs, fe.Message)
	}
	return &Failure{Kind: wire.KindValidationError, Message: strings.Join(msgs, "; ")}
}

func flatten(ve *jsonschema.ValidationError) []FieldError {
	var out []FieldError
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			out = append(out, fieldErrors(e)...)
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(ve)
	return out
}

func fieldErrors(e *jsonschema.ValidationError) []FieldError {
	field := strings.TrimPrefix(e.InstanceLocation, "/")
	msg := e.Message

	// Required-property violations are reported at the object root; pull the
	// field names out so each one is named individually.
	if names, ok := missingProperties(msg); ok {
		errs := make([]FieldError, 0, len(names))
		for _, name := range names {
			errs = append(errs, FieldError{Field: name, Message: "missing field: " + name})
		}
		return errs
	}
	if field == "" {
		return []FieldError{{Message: msg}}
	}
	return []FieldError{{Field: field, Message: field + ": " + msg}}
}

func missingProperties(msg string) ([]string, bool) {
	const prefix = "missing properties: "
	if !strings.HasPrefix(msg, prefix) {
		return nil, false
	}
	rest := strings.TrimPrefix(msg, prefix)
	parts := strings.Split(rest, ",")
	names := make([]string, 0, len(parts))
	for _, part := range parts {
		name := strings.Trim(strings.TrimSpace(part), "'")
		if name != "" {
			names = append(names, name)
		}
	}
	return names, len(names) > 0
}
