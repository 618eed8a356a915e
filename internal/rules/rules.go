package rules

import (
	"fmt"
	"time"
)

// Direction identifies which way a set of topics translates.
type Direction string

const (
	// SerialToMQTT topics turn panel lines into MQTT messages.
	SerialToMQTT Direction = "serial2mqtt"

	// MQTTToSerial topics turn MQTT messages into panel command lines.
	MQTTToSerial Direction = "mqtt2serial"
)

// DefaultRequestTTL is the number of serial responses an MQTT request may
// correlate against when a rule does not set request_ttl.
const DefaultRequestTTL = 1

// Rule is one read-match / write-template pair.
type Rule struct {
	// Read is a literal, an *Expression, or (mqtt2serial) a map whose
	// leaves are literals or expressions.
	Read any

	// Write is a template whose leaves may be expressions.
	Write any

	// RequireRequest makes the rule fire only while a correlated request
	// is active.
	RequireRequest bool

	// NoCorrelation suppresses injection of the correlation id.
	NoCorrelation bool

	// RequestTTL is how many serial responses a request created by this
	// rule may correlate against.
	RequestTTL int
}

// Topic is a named, ordered group of rules.
type Topic struct {
	Name     string
	Disabled bool
	Rules    []*Rule
}

// Options are the correlation settings of a definition file.
type Options struct {
	// CorrelationID is the payload field carrying the request id. Empty
	// disables id propagation.
	CorrelationID string

	// CorrelationTimeout bounds how long a request stays usable. A
	// non-positive value means every request is already expired.
	CorrelationTimeout time.Duration
}

// Definitions is a parsed rule definition file.
type Definitions struct {
	SerialToMQTT []*Topic
	MQTTToSerial []*Topic
	Options      Options
}

// Topics returns the topics of one direction.
func (d *Definitions) Topics(dir Direction) []*Topic {
	if dir == SerialToMQTT {
		return d.SerialToMQTT
	}
	return d.MQTTToSerial
}

// Match is the result of a serial→MQTT search.
type Match struct {
	Topic *Topic
	Rule  *Rule

	// Data is the value bound as "data" when the rule's write template is
	// evaluated: the matched text.
	Data string
}

// FindMatch scans topics and their rules in declaration order and returns
// the first rule whose read matches line.
//
// The search stops at the first match even if its topic is disabled, so an
// inert rule still shadows later catch-all rules. An error evaluating a
// read expression aborts the search.
func FindMatch(topics []*Topic, line string, scope *Scope) (Match, bool, error) {
	for _, topic := range topics {
		for _, rule := range topic.Rules {
			text, ok, err := readMatches(rule.Read, line, scope)
			if err != nil {
				return Match{}, false, fmt.Errorf("topic %s: %w", topic.Name, err)
			}
			if ok {
				return Match{Topic: topic, Rule: rule, Data: text}, true, nil
			}
		}
	}
	return Match{}, false, nil
}

// readMatches compares one serial→MQTT read value with line.
func readMatches(read any, line string, scope *Scope) (string, bool, error) {
	if e, ok := read.(*Expression); ok {
		v, err := e.Evaluate(scope)
		if err != nil {
			return "", false, err
		}
		read = v
	}

	switch r := read.(type) {
	case *Pattern:
		m := r.Match(line)
		return m.Text, m.Matched, nil
	case string:
		return r, r == line, nil
	default:
		return "", false, nil
	}
}

// TopicsNamed returns the topics named name, in declaration order.
func TopicsNamed(topics []*Topic, name string) []*Topic {
	var out []*Topic
	for _, t := range topics {
		if t.Name == name {
			out = append(out, t)
		}
	}
	return out
}

// SubscriptionTopics returns the distinct topic names of topics, in
// declaration order. Disabled topics are included so their messages are
// still received and logged.
func SubscriptionTopics(topics []*Topic) []string {
	seen := make(map[string]struct{}, len(topics))
	var out []string
	for _, t := range topics {
		if _, ok := seen[t.Name]; ok {
			continue
		}
		seen[t.Name] = struct{}{}
		out = append(out, t.Name)
	}
	return out
}
