package mutation

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Result is embedded by every normalized mutation result.
type Result struct {
	OK bool `json:"ok"`
	// Extra keeps response fields the client does not know about.
	Extra map[string]json.RawMessage `json:"extra,omitempty"`
}

// Fields is a decoded JSON object whose known fields are consumed with [Fields.Take].
type Fields struct {
	op      string
	present bool
	values  map[string]json.RawMessage
}

// ObjectFields decodes body as a JSON object. A nil or empty body yields no fields.
// Anything other than an object is a ProtocolViolation.
func ObjectFields(op string, body []byte) (*Fields, error) {
	f := &Fields{op: op, values: map[string]json.RawMessage{}}

	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return f, nil
	}

	if err := json.Unmarshal(body, &f.values); err != nil {
		return nil, &Error{Kind: ProtocolViolation, Op: op, Message: "response body is not a JSON object", Err: err}
	}
	if f.values == nil {
		f.values = map[string]json.RawMessage{}
	}
	f.present = true
	return f, nil
}

// Empty reports whether the response had no body.
func (f *Fields) Empty() bool {
	return !f.present
}

// Take decodes the first present alias into dst and removes every alias from the remaining
// fields. It reports whether a value was found; JSON null counts as absent.
func (f *Fields) Take(dst any, aliases ...string) (bool, error) {
	var (
		found bool
		err   error
	)

	for _, name := range aliases {
		raw, ok := f.values[name]
		if !ok {
			continue
		}
		delete(f.values, name)

		if found || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			continue
		}
		if uerr := json.Unmarshal(raw, dst); uerr != nil {
			err = &Error{
				Kind:    ProtocolViolation,
				Op:      f.op,
				Field:   name,
				Message: fmt.Sprintf("unexpected type for %s", name),
				Err:     uerr,
			}
			continue
		}
		found = true
	}

	if found {
		return true, nil
	}
	return false, err
}

// Require is [Fields.Take] for a field the response must carry when it has a body.
// An empty body leaves dst untouched.
func (f *Fields) Require(dst any, aliases ...string) error {
	ok, err := f.Take(dst, aliases...)
	if err != nil {
		return err
	}
	if !ok && f.present {
		return &Error{
			Kind:    ProtocolViolation,
			Op:      f.op,
			Field:   aliases[0],
			Message: fmt.Sprintf("response is missing %s", aliases[0]),
		}
	}
	return nil
}

// Result builds the base result: ok defaults to true unless the body says otherwise, and
// every field not yet taken is kept in Extra.
func (f *Fields) Result() (Result, error) {
	res := Result{OK: true}

	var ok bool
	found, err := f.Take(&ok, "ok", "success")
	if err != nil {
		return res, err
	}
	if found {
		res.OK = ok
	}

	if len(f.values) > 0 {
		res.Extra = make(map[string]json.RawMessage, len(f.values))
		for k, v := range f.values {
			res.Extra[k] = v
		}
	}
	return res, nil
}

// NormalizeOK is the normalizer for operations whose only result is ok.
func NormalizeOK(f *Fields) (Result, error) {
	return f.Result()
}
