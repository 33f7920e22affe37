package relay

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/learnloop/chatrelay/internal/domain"
	"github.com/learnloop/chatrelay/internal/errors"
)

// parseLimit reads ?limit=N. Missing means def, values above max are clamped.
func parseLimit(r *http.Request, def, max int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.ValidationError("INVALID_LIMIT", "limit must be a positive integer")
	}
	return min(n, max), nil
}

func (s *Server) handleCommunityHistory(w http.ResponseWriter, r *http.Request) error {
	communityID := strings.TrimSpace(mux.Vars(r)["communityId"])
	if communityID == "" {
		return errors.ValidationError("MISSING_COMMUNITY", "community id is required")
	}
	limit, err := parseLimit(r, s.cfg.History.DefaultLimit, s.cfg.History.MaxLimit)
	if err != nil {
		return err
	}

	msgs, err := s.history.ListCommunityMessages(r.Context(), communityID, limit)
	if err != nil {
		return errors.DatabaseError("list community messages", err)
	}
	return writeJSON(w, msgs)
}

func (s *Server) handleDirectHistory(w http.ResponseWriter, r *http.Request) error {
	vars := mux.Vars(r)
	userID := strings.TrimSpace(vars["userId"])
	otherID := strings.TrimSpace(vars["otherUserId"])
	if userID == "" || otherID == "" {
		return errors.ValidationError("MISSING_PARTICIPANT", "both participants are required")
	}
	limit, err := parseLimit(r, s.cfg.History.DefaultLimit, s.cfg.History.MaxLimit)
	if err != nil {
		return err
	}

	msgs, err := s.history.ListDirectMessages(r.Context(), userID, otherID, limit)
	if err != nil {
		return errors.DatabaseError("list direct messages", err)
	}
	return writeJSON(w, msgs)
}

func writeJSON(w http.ResponseWriter, msgs []domain.MessageWithAuthor) error {
	if msgs == nil {
		msgs = []domain.MessageWithAuthor{}
	}
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(msgs)
}
