package extract

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/tidwall/gjson"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantMethod string
		wantStart  int
		wantLoop   int
	}{
		{
			name: "commentary wrapped fence with inline comments",
			input: "Here is a pattern that builds slowly.\n\n```json\n{\n" +
				"  \"start\": [\"1000,0\", // settle at the bottom\n" +
				"            \"800,40\"], // ease in\n" +
				"  \"loop\": [\"300,90\", /* peak */ \"300,10\"]\n}\n```\n\nEnjoy!",
			wantMethod: MethodFence,
			wantStart:  2,
			wantLoop:   2,
		},
		{
			name:       "untagged fence",
			input:      "```\n{\"start\":[],\"loop\":[\"200,100\",\"200,0\"]}\n```",
			wantMethod: MethodFence,
			wantStart:  0,
			wantLoop:   2,
		},
		{
			name:       "fence with prose inside",
			input:      "```json\nSure! {\"start\":[\"100,5\"],\"loop\":[\"200,50\"]} hope that helps\n```",
			wantMethod: MethodFenceAnchor,
			wantStart:  1,
			wantLoop:   1,
		},
		{
			name:       "unterminated fence",
			input:      "```json\n{\"start\": [\"500,20\"], \"loop\": [\"250,80\", \"250,20\"]}\n(truncated",
			wantMethod: MethodOpenFence,
			wantStart:  1,
			wantLoop:   2,
		},
		{
			name:       "bare object in prose",
			input:      `The movement is {"loop": ["200,100", "200,0"], "start": []} as requested.`,
			wantMethod: MethodAnchor,
			wantStart:  0,
			wantLoop:   2,
		},
		{
			name:       "nested object anchors to enclosing braces",
			input:      `{"meta": {"bpm": 120}, "start": ["100,10"], "loop": ["100,90"]}`,
			wantMethod: MethodAnchor,
			wantStart:  1,
			wantLoop:   1,
		},
		{
			name:       "braces inside strings",
			input:      `note {"title": "a } b {", "loop": ["100,0", "100,100"]} end`,
			wantMethod: MethodAnchor,
			wantStart:  -1,
			wantLoop:   2,
		},
		{
			name:       "fallback accepts non array field",
			input:      `first {"x": 1} then {"loop": null}`,
			wantMethod: MethodFallback,
			wantStart:  -1,
			wantLoop:   -1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Extract(tt.input)
			if !res.Success {
				t.Fatalf("Extract failed: %v", res.Err)
			}
			if res.Method != tt.wantMethod {
				t.Errorf("Method = %q, want %q", res.Method, tt.wantMethod)
			}
			if !gjson.Valid(res.Object) {
				t.Fatalf("Object is not valid JSON: %s", res.Object)
			}
			checkLen := func(field string, want int) {
				v := gjson.Get(res.Object, field)
				if want < 0 {
					if v.IsArray() {
						t.Errorf("%s unexpectedly an array", field)
					}
					return
				}
				if got := len(v.Array()); !v.IsArray() || got != want {
					t.Errorf("%s = %s, want array of %d", field, v.Raw, want)
				}
			}
			checkLen("start", tt.wantStart)
			checkLen("loop", tt.wantLoop)
		})
	}
}

func TestExtract_Failures(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{name: "empty", input: "", wantErr: ErrEmptyInput},
		{name: "whitespace", input: " \n\t ", wantErr: ErrEmptyInput},
		{name: "prose only", input: "I cannot help with that.", wantErr: ErrNotFound},
		{name: "object without keys", input: `{"pattern": ["1,2"]}`, wantErr: ErrNotFound},
		{name: "unbalanced", input: `{"start": ["1,2"]`, wantErr: ErrNotFound},
		{name: "empty fence", input: "```json\n```", wantErr: ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Extract(tt.input)
			if res.Success {
				t.Fatalf("Extract succeeded with %q", res.Object)
			}
			if !errors.Is(res.Err, tt.wantErr) {
				t.Errorf("Err = %v, want %v", res.Err, tt.wantErr)
			}
			if _, err := Object(tt.input); !errors.Is(err, tt.wantErr) {
				t.Errorf("Object err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestExtract_Idempotent(t *testing.T) {
	inputs := []string{
		"prose\n```json\n{\"start\":[\"1000,0\"], // c\n\"loop\":[\"200,100\",\"200,0\"]}\n```",
		`{"loop": ["200,100", "200,0"], "note": "http://x /* y */"}`,
		"```\n{\"start\":[\"100,20\"],\"loop\":[]}",
	}

	for _, input := range inputs {
		first, err := Object(input)
		if err != nil {
			t.Fatalf("Object(%q): %v", input, err)
		}

		var parsed map[string]any
		if err := json.Unmarshal([]byte(first), &parsed); err != nil {
			t.Fatalf("Unmarshal(%s): %v", first, err)
		}
		reencoded, err := json.Marshal(parsed)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}

		second, err := Object(string(reencoded))
		if err != nil {
			t.Fatalf("Object(%s): %v", reencoded, err)
		}
		var again map[string]any
		if err := json.Unmarshal([]byte(second), &again); err != nil {
			t.Fatalf("Unmarshal(%s): %v", second, err)
		}
		if !reflect.DeepEqual(parsed, again) {
			t.Errorf("re-extraction changed object: %v != %v", parsed, again)
		}
	}
}

func TestExtract_PreservesCommentMarkersInStrings(t *testing.T) {
	input := `{"loop": ["200,100"], "url": "http://example.com/*path*/"}`
	obj, err := Object(input)
	if err != nil {
		t.Fatalf("Object: %v", err)
	}
	if got := gjson.Get(obj, "url").String(); got != "http://example.com/*path*/" {
		t.Errorf("url = %q", got)
	}
}
