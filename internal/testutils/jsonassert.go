package testutils

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"

	"github.com/srg/gattc/internal/gatt"
)

// MustJSON marshals v or panics; test-only convenience.
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

// ServicesToJSON renders a service list as a stable JSON snapshot.
func ServicesToJSON(services []*gatt.RemoteService) string {
	type svcJSON struct {
		UUID        string `json:"uuid"`
		KnownName   string `json:"known_name,omitempty"`
		StartHandle uint16 `json:"start_handle"`
		EndHandle   uint16 `json:"end_handle"`
		Kind        string `json:"kind"`
	}

	out := make([]svcJSON, 0, len(services))
	for _, svc := range services {
		out = append(out, svcJSON{
			UUID:        svc.UUID(),
			KnownName:   svc.KnownName(),
			StartHandle: svc.StartHandle(),
			EndHandle:   svc.EndHandle(),
			Kind:        svc.Kind().String(),
		})
	}
	return MustJSON(out)
}

// JSONAssertOptions configures snapshot comparison behavior.
type JSONAssertOptions struct {
	IgnoreExtraKeys bool `default:"true"`
}

// JSONAsserter compares JSON documents and reports a readable diff on
// mismatch.
type JSONAsserter struct {
	t       *testing.T
	options JSONAssertOptions
}

// NewJSONAsserter creates a JSONAsserter with default options.
func NewJSONAsserter(t *testing.T) *JSONAsserter {
	opts := JSONAssertOptions{}
	defaults.SetDefaults(&opts)
	return &JSONAsserter{
		t:       t,
		options: opts,
	}
}

// Assert compares actualJSON against expectedJSON.
func (ja *JSONAsserter) Assert(actualJSON, expectedJSON string) {
	ja.t.Helper()
	diff := ja.diff(actualJSON, expectedJSON)
	if diff != "" {
		ja.t.Errorf("JSON assertion failed:\n%s", diff)
	}
}

// AssertServices compares a service list snapshot against expectedJSON.
func (ja *JSONAsserter) AssertServices(services []*gatt.RemoteService, expectedJSON string) {
	ja.t.Helper()
	ja.Assert(ServicesToJSON(services), expectedJSON)
}

func (ja *JSONAsserter) diff(actualJSON, expectedJSON string) string {
	var expected, actual interface{}
	if err := json.Unmarshal([]byte(expectedJSON), &expected); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actualJSON), &actual); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	// gojsondiff only diffs objects; wrap root-level arrays
	if isArray(expected) && isArray(actual) {
		expected = map[string]interface{}{"array": expected}
		actual = map[string]interface{}{"array": actual}
	}

	if ja.options.IgnoreExtraKeys {
		pruneExtraKeys(actual, expected)
	}

	expectedBytes, _ := json.Marshal(expected)
	actualBytes, _ := json.Marshal(actual)

	differ := gojsondiff.New()
	d, err := differ.Compare(expectedBytes, actualBytes)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	if !d.Modified() {
		return ""
	}

	cfg := formatter.AsciiFormatterConfig{
		ShowArrayIndex: true,
		Coloring:       false,
	}
	diffString, _ := formatter.NewAsciiFormatter(expected, cfg).Format(d)
	return diffString
}

func isArray(v interface{}) bool {
	_, ok := v.([]interface{})
	return ok
}

// pruneExtraKeys removes keys from actual that expected does not mention,
// recursively, so snapshots only need to spell out what they care about.
func pruneExtraKeys(actual, expected interface{}) {
	switch act := actual.(type) {
	case map[string]interface{}:
		exp, ok := expected.(map[string]interface{})
		if !ok {
			return
		}
		for k := range act {
			if _, mentioned := exp[k]; !mentioned {
				delete(act, k)
			} else {
				pruneExtraKeys(act[k], exp[k])
			}
		}
	case []interface{}:
		exp, ok := expected.([]interface{})
		if !ok {
			return
		}
		for i := range act {
			if i < len(exp) {
				pruneExtraKeys(act[i], exp[i])
			}
		}
	}
}
