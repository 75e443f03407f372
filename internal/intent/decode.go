// Package intent turns extraction collaborator output into session updates.
package intent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ashureev/batchbot/internal/domain"
	"github.com/kaptinlin/jsonrepair"
)

// Decode parses a raw collaborator document into an IntentUpdate and checks it
// against the request schema. Output that is almost JSON (code fences,
// trailing commas, truncated braces) is repaired before giving up.
// All failures are *domain.DecodeError.
func Decode(raw string) (*domain.IntentUpdate, error) {
	doc, err := parseDocument(raw)
	if err != nil {
		return nil, err
	}
	if _, ok := doc["requests_in_batch"]; !ok {
		return nil, &domain.DecodeError{Reason: "missing requests_in_batch"}
	}

	var update domain.IntentUpdate
	if err := remarshal(doc, &update); err != nil {
		return nil, &domain.DecodeError{Reason: "document does not match schema", Err: err}
	}
	if strings.TrimSpace(update.Reply) == "" {
		return nil, &domain.DecodeError{Reason: "missing ai_response"}
	}
	if update.Requests == nil {
		update.Requests = []domain.Request{}
	}
	for i := range update.Requests {
		normalize(&update.Requests[i])
	}
	if err := ValidateRequests(update.Requests); err != nil {
		return nil, &domain.DecodeError{Reason: "invalid request batch", Err: err}
	}
	return &update, nil
}

// DecodeReply extracts only the conversational reply from a collaborator
// document. Used for turns where the batch content is not consumed.
func DecodeReply(raw string) (string, error) {
	doc, err := parseDocument(raw)
	if err != nil {
		return "", err
	}
	var reply struct {
		Reply string `json:"ai_response"`
	}
	if err := remarshal(doc, &reply); err != nil {
		return "", &domain.DecodeError{Reason: "document does not match schema", Err: err}
	}
	if strings.TrimSpace(reply.Reply) == "" {
		return "", &domain.DecodeError{Reason: "missing ai_response"}
	}
	return reply.Reply, nil
}

func parseDocument(raw string) (map[string]json.RawMessage, error) {
	text := stripFence(strings.TrimSpace(raw))
	if text == "" {
		return nil, &domain.DecodeError{Reason: "empty response"}
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &doc); err == nil {
		return doc, nil
	}

	repaired, err := jsonrepair.JSONRepair(text)
	if err != nil {
		return nil, &domain.DecodeError{Reason: "malformed JSON", Err: err}
	}
	if err := json.Unmarshal([]byte(repaired), &doc); err != nil {
		return nil, &domain.DecodeError{Reason: "response is not a JSON object", Err: err}
	}
	return doc, nil
}

// stripFence removes a surrounding markdown code fence, if any.
func stripFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[nl+1:]
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

func remarshal(doc map[string]json.RawMessage, v any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.NewDecoder(bytes.NewReader(data)).Decode(v)
}

// normalize fills blank enum fields with their neutral values.
func normalize(r *domain.Request) {
	if r.Type == "" {
		r.Type = domain.RequestTypeUnknown
	}
	if r.UserCardinality == "" {
		r.UserCardinality = domain.CardinalityUnknown
	}
	if r.NetworkScope == "" {
		r.NetworkScope = domain.CardinalityUnknown
	}
	if r.Status == "" {
		r.Status = domain.StatusPending
	}
	if r.MissingFields == nil {
		r.MissingFields = []string{}
	}
}

// ValidateRequests checks every request of a batch against the schema and
// the completeness rules.
func ValidateRequests(reqs []domain.Request) error {
	seen := make(map[int]bool, len(reqs))
	for _, r := range reqs {
		if r.ID < 1 {
			return fmt.Errorf("request_id %d must be >= 1", r.ID)
		}
		if seen[r.ID] {
			return fmt.Errorf("duplicate request_id %d", r.ID)
		}
		seen[r.ID] = true

		if err := validateRequest(r); err != nil {
			return fmt.Errorf("request %d: %w", r.ID, err)
		}
	}
	return nil
}

func validateRequest(r domain.Request) error {
	switch {
	case !r.Type.IsValid():
		return fmt.Errorf("unknown request_type %q", r.Type)
	case !r.UserCardinality.IsValid():
		return fmt.Errorf("unknown user_cardinality %q", r.UserCardinality)
	case !r.NetworkScope.IsValid():
		return fmt.Errorf("unknown network_scope %q", r.NetworkScope)
	case !r.Status.IsValid():
		return fmt.Errorf("unknown data_gathering_status %q", r.Status)
	case !r.Action.IsValid():
		return fmt.Errorf("unknown action %q", r.Action)
	}

	if !r.IsComplete() {
		if len(r.MissingFields) == 0 {
			return fmt.Errorf("status %s but no missing fields listed", r.Status)
		}
		return nil
	}

	if len(r.MissingFields) > 0 {
		return fmt.Errorf("complete but missing %s", strings.Join(r.MissingFields, ", "))
	}
	if r.Type == domain.RequestTypeUnknown {
		return fmt.Errorf("complete with unknown request_type")
	}
	if r.PublisherData.IsEmpty() {
		return fmt.Errorf("complete without any publisher identifier")
	}
	if len(r.UsersInfo) == 0 {
		return fmt.Errorf("complete without users_info")
	}
	if r.UserCardinality == domain.CardinalityOne && len(r.UsersInfo) != 1 {
		return fmt.Errorf("user_cardinality one with %d users", len(r.UsersInfo))
	}
	for i, u := range r.UsersInfo {
		if strings.TrimSpace(u.Name) == "" || strings.TrimSpace(u.Email) == "" {
			return fmt.Errorf("users_info[%d] needs name and email", i)
		}
		if r.Type.NeedsRole() && strings.TrimSpace(u.Role) == "" {
			return fmt.Errorf("users_info[%d].role is required for %s", i, r.Type)
		}
	}
	if r.Type == domain.RequestTypeSetUserStatus && r.Action == domain.ActionNone {
		return fmt.Errorf("action is required for %s", r.Type)
	}
	return nil
}
