package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"

	"github.com/nstogner/solemate/pkg/domain"
)

var validate = validator.New()

// Validator is implemented by argument types that need checks beyond struct
// tags, or a specific message for the model.
type Validator interface {
	Validate() error
}

// Option configures a Definition built by New.
type Option func(*Definition)

// WithConfirmPrompt sets the yes/no question asked before a sensitive tool runs.
func WithConfirmPrompt(prompt string) Option {
	return func(d *Definition) { d.ConfirmPrompt = prompt }
}

// New builds a Definition from a typed handler. The parameter schema is
// reflected from A, and arguments are decoded and validated before fn runs.
func New[A any, R any](name, description string, class Classification, fn func(ctx context.Context, args A) (R, error), opts ...Option) *Definition {
	d := &Definition{
		Name:           name,
		Description:    description,
		Parameters:     SchemaFor[A](),
		Classification: class,
		Handler: HandlerFunc(func(ctx context.Context, raw json.RawMessage) (string, error) {
			args, err := DecodeArgs[A](raw)
			if err != nil {
				return "", err
			}
			res, err := fn(ctx, args)
			if err != nil {
				return "", err
			}
			return formatResult(res)
		}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SchemaFor reflects the JSON schema of an argument struct.
func SchemaFor[A any]() map[string]any {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: true,
	}
	var zero A
	b, err := json.Marshal(r.Reflect(&zero))
	if err != nil {
		panic(fmt.Sprintf("reflecting schema for %T: %v", zero, err))
	}
	var schema map[string]any
	if err := json.Unmarshal(b, &schema); err != nil {
		panic(fmt.Sprintf("decoding schema for %T: %v", zero, err))
	}
	delete(schema, "$schema")
	delete(schema, "$id")
	if _, ok := schema["properties"]; !ok {
		schema["properties"] = map[string]any{}
	}
	return schema
}

// DecodeArgs decodes and validates tool arguments.
func DecodeArgs[A any](raw json.RawMessage) (A, error) {
	var args A
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return args, domain.Validationf("invalid arguments: %v", err)
	}
	if v, ok := any(&args).(Validator); ok {
		if err := v.Validate(); err != nil {
			return args, err
		}
	}
	if err := validate.Struct(&args); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			var msgs []string
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q check", fe.Field(), fe.Tag()))
			}
			return args, domain.Validationf("invalid arguments: %s", strings.Join(msgs, "; "))
		}
		return args, domain.Validationf("invalid arguments: %v", err)
	}
	return args, nil
}

func formatResult(v any) (string, error) {
	switch r := v.(type) {
	case string:
		return r, nil
	case int:
		return strconv.Itoa(r), nil
	case fmt.Stringer:
		return r.String(), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding result: %w", err)
	}
	return string(b), nil
}
