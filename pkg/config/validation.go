package config

import (
	"reflect"

	sserr "github.com/https756/spring-client-credentials-flow/pkg/errors"
)

// Validator is implemented by configuration structs that need checks
// beyond `required:"true"`. Validate runs after the required check passes.
// An [*sserr.Error] is returned unchanged; other errors are wrapped with
// [sserr.CodeValidation].
//
//	func (c *ClientConfig) Validate() error {
//	    if c.RefreshMargin <= c.ExpiryLeeway {
//	        return sserr.New(sserr.CodeValidation,
//	            "config: refresh margin must exceed expiry leeway")
//	    }
//	    return nil
//	}
type Validator interface {
	Validate() error
}

func validate(cfg any, rv reflect.Value) error {
	if err := walk(rv, "", "", checkRequired); err != nil {
		return err
	}

	if v, ok := cfg.(Validator); ok {
		if err := v.Validate(); err != nil {
			if _, isSSErr := sserr.AsError(err); isSSErr {
				return err
			}
			return sserr.Wrap(err, sserr.CodeValidation,
				"config: custom validation failed")
		}
	}

	return nil
}

func checkRequired(f field) error {
	if f.sf.Tag.Get("required") != "true" {
		return nil
	}
	if f.value.IsZero() {
		return sserr.Newf(sserr.CodeValidationRequired,
			"config: required field %q is empty", f.path)
	}
	return nil
}
