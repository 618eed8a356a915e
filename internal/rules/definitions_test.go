package rules

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

const yamlDefinitions = `
serial2mqtt:
  - name: ja2mqtt/section/state
    rules:
      - read: !expr pattern("^STATE [0-9]+ (READY|ARMED)$")
        write:
          line: !expr data
        require_request: true
  - name: ja2mqtt/event
    disabled: true
    rules:
      - read: "OK"
        write: {event: ok}
        no_correlation: true

mqtt2serial:
  - name: ja2mqtt/section/set
    rules:
      - read:
          section: !expr data.section
          mode: set
        write: !expr 'format("{pin} SET {code}", {"pin": topology.pin, "code": data.section})'
        request_ttl: 3

options:
  correlation_id: corrid
  correlation_timeout: 1.5
`

func isExpression(v any) bool {
	_, ok := v.(*Expression)
	return ok
}

func TestParseDefinitions_YAML(t *testing.T) {
	defs, err := ParseDefinitions([]byte(yamlDefinitions))
	if err != nil {
		t.Fatalf("ParseDefinitions() error = %v", err)
	}
	if len(defs.SerialToMQTT) != 2 || len(defs.MQTTToSerial) != 1 {
		t.Fatalf("parsed %d serial2mqtt and %d mqtt2serial topics, want 2 and 1",
			len(defs.SerialToMQTT), len(defs.MQTTToSerial))
	}

	state := defs.SerialToMQTT[0]
	if state.Name != "ja2mqtt/section/state" {
		t.Errorf("Name = %q, want ja2mqtt/section/state", state.Name)
	}
	if len(state.Rules) != 1 {
		t.Fatalf("state rules = %d, want 1", len(state.Rules))
	}
	if r := state.Rules[0]; !isExpression(r.Read) || !r.RequireRequest || r.RequestTTL != DefaultRequestTTL {
		t.Errorf("state rule = %+v, want expression read, require_request and the default TTL", r)
	}

	event := defs.SerialToMQTT[1]
	if !event.Disabled || !event.Rules[0].NoCorrelation {
		t.Errorf("event topic = %+v, want disabled with no_correlation", event)
	}
	if want := map[string]any{"event": "ok"}; !reflect.DeepEqual(event.Rules[0].Write, want) {
		t.Errorf("event write = %v, want %v", event.Rules[0].Write, want)
	}

	set := defs.MQTTToSerial[0].Rules[0]
	if set.RequestTTL != 3 {
		t.Errorf("RequestTTL = %d, want 3", set.RequestTTL)
	}
	read, ok := set.Read.(map[string]any)
	if !ok {
		t.Fatalf("set read = %T, want a mapping", set.Read)
	}
	if read["mode"] != "set" || !isExpression(read["section"]) {
		t.Errorf("set read = %v, want mode=set and an expression section", read)
	}

	if defs.Options.CorrelationID != "corrid" {
		t.Errorf("CorrelationID = %q, want corrid", defs.Options.CorrelationID)
	}
	if defs.Options.CorrelationTimeout != 1500*time.Millisecond {
		t.Errorf("CorrelationTimeout = %v, want 1.5s", defs.Options.CorrelationTimeout)
	}
}

func TestParseDefinitions_WriteEvaluates(t *testing.T) {
	defs, err := ParseDefinitions([]byte(yamlDefinitions))
	if err != nil {
		t.Fatalf("ParseDefinitions() error = %v", err)
	}

	payload := map[string]any{"section": int64(2), "mode": "set"}
	scope := testScope().With("data", payload)
	rule := defs.MQTTToSerial[0].Rules[0]

	if err := Validate(rule.Read, payload, scope); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	line, err := DeepEvaluate(rule.Write, scope)
	if err != nil {
		t.Fatalf("DeepEvaluate() error = %v", err)
	}
	if line != "1234 SET 2" {
		t.Errorf("write = %#v, want 1234 SET 2", line)
	}
}

func TestLoadDefinitions_JSONC(t *testing.T) {
	content := `{
  // panel events
  "serial2mqtt": [
    {
      "name": "ja2mqtt/state",
      "rules": [
        {"read": {"$expr": "pattern(\"^STATE\")"}, "write": {"line": {"$expr": "data"}},},
      ],
    },
  ],
  "mqtt2serial": [],
  /* no correlation */
}`
	path := filepath.Join(t.TempDir(), "rules.jsonc")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	defs, err := LoadDefinitions(path)
	if err != nil {
		t.Fatalf("LoadDefinitions() error = %v", err)
	}
	if len(defs.SerialToMQTT) != 1 {
		t.Fatalf("serial2mqtt topics = %d, want 1", len(defs.SerialToMQTT))
	}

	rule := defs.SerialToMQTT[0].Rules[0]
	if !isExpression(rule.Read) {
		t.Errorf("read = %T, want *Expression", rule.Read)
	}
	write, ok := rule.Write.(map[string]any)
	if !ok {
		t.Fatalf("write = %T, want a mapping", rule.Write)
	}
	if !isExpression(write["line"]) {
		t.Errorf("write line = %T, want *Expression", write["line"])
	}

	if defs.Options.CorrelationID != "" || defs.Options.CorrelationTimeout != 0 {
		t.Errorf("Options = %+v, want zero", defs.Options)
	}
}

func TestLoadDefinitions_MissingFile(t *testing.T) {
	if _, err := LoadDefinitions(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadDefinitions() error = nil, want error")
	}
}

func TestParseDefinitions_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "syntax",
			content: "serial2mqtt: [",
			want:    "rules: invalid definitions",
		},
		{
			name:    "missing name",
			content: "serial2mqtt:\n  - rules:\n      - {read: A, write: B}\n",
			want:    "serial2mqtt[0]: name is required",
		},
		{
			name:    "no rules",
			content: "mqtt2serial:\n  - name: t\n",
			want:    "mqtt2serial[t]: at least one rule is required",
		},
		{
			name:    "serial read must be string",
			content: "serial2mqtt:\n  - name: t\n    rules:\n      - {read: {a: 1}, write: B}\n",
			want:    "read must be a string or an expression",
		},
		{
			name:    "mqtt read must be mapping",
			content: "mqtt2serial:\n  - name: t\n    rules:\n      - {read: A, write: B}\n",
			want:    "read must be a mapping",
		},
		{
			name:    "missing write",
			content: "serial2mqtt:\n  - name: t\n    rules:\n      - {read: A}\n",
			want:    "write is required",
		},
		{
			name:    "negative ttl",
			content: "mqtt2serial:\n  - name: t\n    rules:\n      - {write: B, request_ttl: -1}\n",
			want:    "request_ttl must not be negative",
		},
		{
			name:    "malformed expression",
			content: "serial2mqtt:\n  - name: t\n    rules:\n      - {read: !expr 'pattern(', write: B}\n",
			want:    "read:",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDefinitions([]byte(tt.content))
			if !errors.Is(err, ErrInvalidDefinitions) {
				t.Fatalf("ParseDefinitions() error = %v, want ErrInvalidDefinitions", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not contain %q", err, tt.want)
			}
		})
	}
}

func TestDecodeNode_Empty(t *testing.T) {
	for _, node := range []*yaml.Node{nil, {}} {
		v, err := DecodeNode(node)
		if err != nil || v != nil {
			t.Errorf("DecodeNode(%v) = %v, %v, want nil, nil", node, v, err)
		}
	}
}

func TestLoadDefinitions_ShippedExample(t *testing.T) {
	defs, err := LoadDefinitions(filepath.Join("..", "..", "configs", "ja2mqtt.yaml"))
	if err != nil {
		t.Fatalf("LoadDefinitions() error = %v", err)
	}
	if len(defs.SerialToMQTT) != 4 || len(defs.MQTTToSerial) != 2 {
		t.Fatalf("parsed %d serial2mqtt and %d mqtt2serial topics, want 4 and 2",
			len(defs.SerialToMQTT), len(defs.MQTTToSerial))
	}

	if !defs.SerialToMQTT[3].Disabled {
		t.Error("serial2mqtt[3] is not disabled")
	}
	if !defs.SerialToMQTT[2].Rules[0].RequireRequest {
		t.Error("serial2mqtt[2] does not require a request")
	}
	if got := defs.MQTTToSerial[0].Rules[0].RequestTTL; got != 2 {
		t.Errorf("mqtt2serial[0] RequestTTL = %d, want 2", got)
	}
	if defs.Options.CorrelationID != "corrid" || defs.Options.CorrelationTimeout != 1500*time.Millisecond {
		t.Errorf("Options = %+v, want corrid and 1.5s", defs.Options)
	}
}
