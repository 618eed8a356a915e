// Package rules implements the declarative rule model of the bridge.
//
// A rule definition file lists topics per direction. Each topic carries an
// ordered list of rules; each rule pairs a read side (what input it accepts)
// with a write template (what it produces):
//
//	serial2mqtt:
//	  - name: ja2mqtt/section/state
//	    rules:
//	      - read: !expr pattern("^STATE [0-9]+ (READY|ARMED)$")
//	        write:
//	          line: !expr data
//
//	mqtt2serial:
//	  - name: ja2mqtt/section/set
//	    rules:
//	      - read:
//	          section: !expr data.section
//	        write: !expr 'format("{pin} SET {code}", {"pin": topology.pin, "code": data.section})'
//	        request_ttl: 1
//
//	options:
//	  correlation_id: corrid
//	  correlation_timeout: 1.5
//
// # Components
//
//   - Expression, Scope, DeepEvaluate: template evaluation (expr-lang)
//   - Pattern: anchored regular expression matching with explicit Match
//   - FindMatch, TopicsNamed: rule selection in declaration order
//   - Validate: shape checking of inbound MQTT payloads
//   - LoadDefinitions: YAML, JSON and JSONC rule files
//
// # Precedence
//
// FindMatch stops at the first rule whose read matches, even when that
// rule's topic is disabled. Ordering topics therefore decides which rule
// owns a line.
//
// # Thread Safety
//
// Definitions, Patterns, Expressions and Scopes are immutable after
// construction and may be shared between goroutines.
package rules
