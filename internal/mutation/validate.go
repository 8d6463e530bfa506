package mutation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator"
)

var (
	otpPattern = regexp.MustCompile(`^[0-9]{6,8}$`)

	// MFAMethods lists the second factors the backend can enrol.
	MFAMethods = []string{"totp", "email"}
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	if err := v.RegisterValidation("otp", func(fl validator.FieldLevel) bool {
		return otpPattern.MatchString(NormalizeOTP(fl.Field().String()))
	}); err != nil {
		panic(err)
	}

	if err := v.RegisterValidation("method", func(fl validator.FieldLevel) bool {
		value := strings.ToLower(strings.TrimSpace(fl.Field().String()))
		for _, m := range MFAMethods {
			if value == m {
				return true
			}
		}
		return false
	}); err != nil {
		panic(err)
	}

	return v
}

// Validate checks in against its validate struct tags. The first violation is reported as an
// InvalidInput error naming the JSON path of the field.
func Validate(op string, in any) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &Error{Kind: InvalidInput, Op: op, Message: "input could not be validated", Err: err}
	}

	fe := verrs[0]
	return &Error{
		Kind:    InvalidInput,
		Op:      op,
		Field:   fieldPath(fe.Namespace()),
		Message: describe(fe),
		Err:     err,
	}
}

// fieldPath drops the struct name that prefixes a validator namespace.
func fieldPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_without", "required_with":
		return "is required"
	case "eq":
		return fmt.Sprintf("must be %q", fe.Param())
	case "email":
		return "must be a valid email address"
	case "otp":
		return "must be a 6 to 8 digit code"
	case "method":
		return fmt.Sprintf("must be one of %s", strings.Join(MFAMethods, ", "))
	case "eqfield":
		return fmt.Sprintf("must match %s", words(fe.Param()))
	case "nefield":
		return fmt.Sprintf("must differ from %s", words(fe.Param()))
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	}
	return fmt.Sprintf("failed %q validation", fe.Tag())
}

// words turns a Go field name into lowercase words ("NewPassword" -> "new password").
func words(name string) string {
	var b strings.Builder
	for i, r := range name {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return strings.ToLower(b.String())
}

// DecodeInput decodes raw JSON into a typed input. Unknown fields are rejected.
func DecodeInput[In any](op string, data []byte) (In, error) {
	var in In

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		data = []byte("{}")
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	if err := dec.Decode(&in); err != nil {
		return in, decodeError(op, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return in, invalidInput(op, "", "input must be a single JSON object")
	}

	return in, nil
}

func decodeError(op string, err error) *Error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return &Error{
			Kind:    InvalidInput,
			Op:      op,
			Field:   typeErr.Field,
			Message: fmt.Sprintf("must be %s", typeErr.Type.Kind()),
			Err:     err,
		}
	}

	const unknownPrefix = "json: unknown field "
	if msg := err.Error(); strings.HasPrefix(msg, unknownPrefix) {
		return &Error{
			Kind:    InvalidInput,
			Op:      op,
			Field:   strings.Trim(strings.TrimPrefix(msg, unknownPrefix), `"`),
			Message: "is not accepted",
			Err:     err,
		}
	}

	return &Error{Kind: InvalidInput, Op: op, Message: "input is not valid JSON", Err: err}
}
