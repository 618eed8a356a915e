package api

import (
	"net/http"

	"github.com/nerrad567/ja2mqtt/internal/rules"
)

// TopicSummary describes one configured topic.
type TopicSummary struct {
	Name     string `json:"name"`
	Disabled bool   `json:"disabled,omitempty"`
	Rules    int    `json:"rules"`
}

// TopicsResponse is the /api/v1/topics response.
type TopicsResponse struct {
	SerialToMQTT       []TopicSummary `json:"serial2mqtt"`
	MQTTToSerial       []TopicSummary `json:"mqtt2serial"`
	CorrelationID      string         `json:"correlation_id,omitempty"`
	CorrelationTimeout float64        `json:"correlation_timeout"`
}

func summarize(topics []*rules.Topic) []TopicSummary {
	out := make([]TopicSummary, 0, len(topics))
	for _, t := range topics {
		out = append(out, TopicSummary{Name: t.Name, Disabled: t.Disabled, Rules: len(t.Rules)})
	}
	return out
}

// handleTopics lists the loaded rule topics in evaluation order.
func (s *Server) handleTopics(w http.ResponseWriter, _ *http.Request) {
	if s.definitions == nil {
		writeUnavailable(w, "rule definitions not loaded")
		return
	}

	d := s.definitions
	writeJSON(w, http.StatusOK, TopicsResponse{
		SerialToMQTT:       summarize(d.SerialToMQTT),
		MQTTToSerial:       summarize(d.MQTTToSerial),
		CorrelationID:      d.Options.CorrelationID,
		CorrelationTimeout: d.Options.CorrelationTimeout.Seconds(),
	})
}
