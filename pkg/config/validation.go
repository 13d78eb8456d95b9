package config

import (
	"reflect"

	sserr "github.com/StricklySoft/accessguard/pkg/errors"
)

// Validator is implemented by configuration structs that need checks
// beyond `required:"true"`. Load calls Validate after the required tags
// pass. A returned *sserr.Error is passed through unchanged; any other
// error is wrapped as [sserr.CodeValidation].
type Validator interface {
	Validate() error
}

func validate(cfg any, rv reflect.Value) error {
	if err := validateRequired(rv, ""); err != nil {
		return err
	}
	v, ok := cfg.(Validator)
	if !ok {
		return nil
	}
	if err := v.Validate(); err != nil {
		if _, isSSErr := sserr.AsError(err); isSSErr {
			return err
		}
		return sserr.Wrap(err, sserr.CodeValidation, "config: validation failed")
	}
	return nil
}

// validateRequired reports the first zero-valued `required:"true"` field
// by its dotted path, e.g. "Providers.Keycloak.Authority".
func validateRequired(rv reflect.Value, path string) error {
	rt := rv.Type()
	for i := range rt.NumField() {
		field := rv.Field(i)
		sf := rt.Field(i)
		if !field.CanSet() {
			continue
		}

		fieldPath := sf.Name
		if path != "" {
			fieldPath = path + "." + sf.Name
		}

		if isNested(field) {
			if err := validateRequired(field, fieldPath); err != nil {
				return err
			}
			continue
		}

		if sf.Tag.Get("required") == "true" && field.IsZero() {
			return sserr.Newf(sserr.CodeValidationRequired,
				"config: required field %q is empty", fieldPath)
		}
	}
	return nil
}
