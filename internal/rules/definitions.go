package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// ExprTag is the YAML tag marking a scalar as an expression.
const ExprTag = "!expr"

// exprKey is the single key of a JSON object that denotes an expression.
const exprKey = "$expr"

type rawDefinitions struct {
	SerialToMQTT []rawTopic `yaml:"serial2mqtt"`
	MQTTToSerial []rawTopic `yaml:"mqtt2serial"`
	Options      rawOptions `yaml:"options"`
}

type rawOptions struct {
	CorrelationID      string  `yaml:"correlation_id"`
	CorrelationTimeout float64 `yaml:"correlation_timeout"`
}

type rawTopic struct {
	Name     string    `yaml:"name"`
	Disabled bool      `yaml:"disabled"`
	Rules    []rawRule `yaml:"rules"`
}

type rawRule struct {
	Read           yaml.Node `yaml:"read"`
	Write          yaml.Node `yaml:"write"`
	RequireRequest bool      `yaml:"require_request"`
	NoCorrelation  bool      `yaml:"no_correlation"`
	RequestTTL     *int      `yaml:"request_ttl"`
}

// LoadDefinitions reads a rule definition file. Files ending in .json or
// .jsonc may contain comments and trailing commas; everything else is
// parsed as YAML.
func LoadDefinitions(path string) (*Definitions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rule definitions: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}

	defs, err := ParseDefinitions(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return defs, nil
}

// ParseDefinitions parses YAML (or JSON) rule definitions.
func ParseDefinitions(data []byte) (*Definitions, error) {
	var raw rawDefinitions
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinitions, err)
	}

	defs := &Definitions{
		Options: Options{
			CorrelationID:      raw.Options.CorrelationID,
			CorrelationTimeout: time.Duration(raw.Options.CorrelationTimeout * float64(time.Second)),
		},
	}

	var errs []string
	defs.SerialToMQTT, errs = buildTopics(SerialToMQTT, raw.SerialToMQTT, errs)
	defs.MQTTToSerial, errs = buildTopics(MQTTToSerial, raw.MQTTToSerial, errs)

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDefinitions, strings.Join(errs, "; "))
	}
	return defs, nil
}

func buildTopics(dir Direction, raws []rawTopic, errs []string) ([]*Topic, []string) {
	topics := make([]*Topic, 0, len(raws))
	for i, rt := range raws {
		where := fmt.Sprintf("%s[%d]", dir, i)
		if rt.Name == "" {
			errs = append(errs, where+": name is required")
		} else {
			where = fmt.Sprintf("%s[%s]", dir, rt.Name)
		}
		if len(rt.Rules) == 0 {
			errs = append(errs, where+": at least one rule is required")
		}

		topic := &Topic{Name: rt.Name, Disabled: rt.Disabled}
		for j, rr := range rt.Rules {
			rule, err := buildRule(dir, rr)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s.rules[%d]: %v", where, j, err))
				continue
			}
			topic.Rules = append(topic.Rules, rule)
		}
		topics = append(topics, topic)
	}
	return topics, errs
}

func buildRule(dir Direction, rr rawRule) (*Rule, error) {
	read, err := decodeNode(&rr.Read)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	write, err := decodeNode(&rr.Write)
	if err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}

	switch dir {
	case SerialToMQTT:
		if read == nil {
			return nil, fmt.Errorf("read is required")
		}
		switch read.(type) {
		case string, *Expression:
		default:
			return nil, fmt.Errorf("read must be a string or an expression, found: %s", TypeName(read))
		}
	case MQTTToSerial:
		switch read.(type) {
		case nil, map[string]any:
		default:
			return nil, fmt.Errorf("read must be a mapping, found: %s", TypeName(read))
		}
	}
	if write == nil {
		return nil, fmt.Errorf("write is required")
	}

	rule := &Rule{
		Read:           read,
		Write:          write,
		RequireRequest: rr.RequireRequest,
		NoCorrelation:  rr.NoCorrelation,
		RequestTTL:     DefaultRequestTTL,
	}
	if rr.RequestTTL != nil {
		if *rr.RequestTTL < 0 {
			return nil, fmt.Errorf("request_ttl must not be negative")
		}
		rule.RequestTTL = *rr.RequestTTL
	}
	return rule, nil
}

// DecodeNode converts a YAML node into a rule value: scalars, []any,
// map[string]any and *Expression leaves. A nil or zero node decodes to nil.
func DecodeNode(n *yaml.Node) (any, error) {
	if n == nil {
		return nil, nil
	}
	return decodeNode(n)
}

func decodeNode(n *yaml.Node) (any, error) {
	switch n.Kind {
	case 0:
		return nil, nil
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, nil
		}
		return decodeNode(n.Content[0])
	case yaml.AliasNode:
		return decodeNode(n.Alias)
	case yaml.ScalarNode:
		if n.Tag == ExprTag {
			return NewExpression(n.Value)
		}
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, err
		}
		return Normalize(v), nil
	case yaml.SequenceNode:
		out := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := decodeNode(c)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case yaml.MappingNode:
		if len(n.Content) == 2 && n.Content[0].Value == exprKey && n.Content[1].Kind == yaml.ScalarNode {
			return NewExpression(n.Content[1].Value)
		}
		out := make(map[string]any, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			v, err := decodeNode(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			out[n.Content[i].Value] = v
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported YAML node kind %d", n.Kind)
	}
}
