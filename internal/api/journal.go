package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/ja2mqtt/internal/journal"
	"github.com/nerrad567/ja2mqtt/internal/rules"
)

// handleListJournal returns a page of bridged messages, newest first.
//
// Query parameters:
//   - direction: serial2mqtt or mqtt2serial
//   - topic: exact topic name
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeUnavailable(w, "journal not enabled")
		return
	}

	q := r.URL.Query()
	filter := journal.Filter{
		Direction: q.Get("direction"),
		Topic:     q.Get("topic"),
	}

	switch rules.Direction(filter.Direction) {
	case "", rules.SerialToMQTT, rules.MQTTToSerial:
	default:
		writeBadRequest(w, "direction must be serial2mqtt or mqtt2serial")
		return
	}

	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeBadRequest(w, "limit must be an integer")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeBadRequest(w, "offset must be an integer")
		return
	}

	result, err := s.journal.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list journal", "error", err)
		writeInternalError(w, "failed to list journal")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
