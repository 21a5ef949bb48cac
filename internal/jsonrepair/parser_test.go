package jsonrepair

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestRepairValidJSONUnchanged(t *testing.T) {
	tests := []string{
		`{}`,
		`{"a":1}`,
		`[1,2,3]`,
		`"hello"`,
		`true`,
		`null`,
		`123.45`,
		`{"nested":{"arr":[1,"two",false]}}`,
	}
	for _, input := range tests {
		got, err := Repair(input)
		if err != nil {
			t.Errorf("Repair(%q) error: %v", input, err)
			continue
		}
		if got != input {
			t.Errorf("Repair(%q) = %q, want unchanged", input, got)
		}
	}
}

func TestRepairBrokenInputs(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "fenced block", input: "```json\n{\"a\": 1}\n```", want: "\n{\"a\": 1}\n"},
		{name: "fenced block no tag", input: "```\n[1]\n```", want: "\n[1]\n"},
		{name: "unquoted keys", input: `{name: "forge", $id: 1, _x: 2}`, want: `{"name": "forge", "$id": 1, "_x": 2}`},
		{name: "single quotes", input: `{'a': 'b'}`, want: `{"a": "b"}`},
		{name: "smart quotes", input: "{“key”: “value”}", want: `{"key": "value"}`},
		{name: "backtick strings", input: "{`a`: `b`}", want: `{"a": "b"}`},
		{name: "trailing comma object", input: `{"a": 1,}`, want: `{"a": 1}`},
		{name: "trailing comma array", input: `[1, 2, 3,]`, want: `[1, 2, 3]`},
		{name: "leading comma", input: `[,1,2]`, want: `[1,2]`},
		{name: "missing comma array", input: `[1 2]`, want: `[1, 2]`},
		{name: "missing comma object", input: "{\"a\":1 \"b\":2}", want: `{"a":1, "b":2}`},
		{name: "missing colon", input: `{"a" 1}`, want: `{"a": 1}`},
		{name: "missing closing brace", input: `{"a": 1`, want: `{"a": 1}`},
		{name: "missing closing bracket", input: `[1, 2`, want: `[1, 2]`},
		{name: "python keywords", input: `{"a": None, "b": True, "c": False}`, want: `{"a": null, "b": true, "c": false}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Repair(tt.input)
			if err != nil {
				t.Fatalf("Repair(%q) error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Repair(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestRepairDecoded(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  any
	}{
		{name: "comments", input: "{/* note */ \"a\": 1 // tail\n}", want: map[string]any{"a": float64(1)}},
		{name: "ellipsis in array", input: `[1, 2, ..., 3]`, want: []any{float64(1), float64(2), float64(3)}},
		{name: "string concatenation", input: `{"a": "one" + "two"}`, want: map[string]any{"a": "onetwo"}},
		{name: "truncated string", input: `{"message": "hello wo`, want: map[string]any{"message": "hello wo"}},
		{name: "url unquoted", input: `{link: https://example.com/path?q=1}`, want: map[string]any{"link": "https://example.com/path?q=1"}},
		{name: "regex literal", input: `{"pattern": /ab+c/}`, want: map[string]any{"pattern": "/ab+c/"}},
		{name: "function call", input: `call({"a": 1})`, want: map[string]any{"a": float64(1)}},
		{name: "leading zero preserved as string", input: `{"code": 0123}`, want: map[string]any{"code": "0123"}},
		{name: "newline delimited json", input: "{\"a\":1}\n{\"a\":2}", want: []any{map[string]any{"a": float64(1)}, map[string]any{"a": float64(2)}}},
		{name: "undefined becomes null", input: `{"a": undefined}`, want: map[string]any{"a": nil}},
		{name: "unquoted value", input: `{"a": hello world}`, want: map[string]any{"a": "hello world"}},
		{name: "missing value", input: `{"a":}`, want: map[string]any{"a": nil}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.input, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Parse(%q) = %#v, want %#v", tt.input, got, tt.want)
			}
		})
	}
}

func TestRepairIsDeterministic(t *testing.T) {
	inputs := []string{
		"```json\n{name: 'x', items: [1 2 3,], note: \"trunc",
		`{'a': “b”, c: None}`,
		"{\"a\":1}\n{\"b\":2}",
	}
	for _, input := range inputs {
		first, err := Parse(input)
		if err != nil {
			t.Fatalf("Parse(%q) error: %v", input, err)
		}
		encoded, err := json.Marshal(first)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		second, err := Parse(string(encoded))
		if err != nil {
			t.Fatalf("reparse error: %v", err)
		}
		if !reflect.DeepEqual(first, second) {
			t.Errorf("parse(parse(x)) = %#v, want %#v", second, first)
		}
	}
}

func TestUnmarshalIntoStruct(t *testing.T) {
	var got struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := Unmarshal(`{path: 'a.go', content: "package a"}`, &got); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if got.Path != "a.go" || got.Content != "package a" {
		t.Errorf("got %+v", got)
	}
}

func TestRepairErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		kind  Kind
	}{
		{name: "empty input", input: "", kind: KindUnexpectedEnd},
		{name: "whitespace only", input: "   ", kind: KindUnexpectedEnd},
		{name: "bad unicode escape", input: `{"a": "\u12zz"}`, kind: KindInvalidUnicode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Repair(tt.input)
			if err == nil {
				t.Fatalf("Repair(%q) succeeded, want %s", tt.input, tt.kind)
			}
			var repairErr *Error
			if !errors.As(err, &repairErr) {
				t.Fatalf("error %v is not a repair error", err)
			}
			if repairErr.Kind != tt.kind {
				t.Errorf("kind = %s, want %s", repairErr.Kind, tt.kind)
			}
		})
	}
}
