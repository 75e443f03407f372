package intent

import (
	"testing"

	"github.com/ashureev/batchbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validDoc = `{
  "batch_status": {"batch_data_complete": true, "awaiting_batch_confirmation": true, "batch_confirmed": false},
  "requests_in_batch": [
    {
      "request_id": 1,
      "request_type": "add_user",
      "user_cardinality": "one",
      "network_scope": "one",
      "data_gathering_status": "complete",
      "publisher_data": {"network_ids": [42], "pub_or_site_ids": [], "pub_or_network_names": [], "group_ids": []},
      "users_info": [{"name": "Ravi", "email": "r@x.com", "role": "Editor"}],
      "action": null,
      "missing_fields_for_this_request": []
    }
  ],
  "current_focus_request_id": null,
  "consolidated_summary_for_confirmation": "1. Add Ravi",
  "ai_response": "Shall I proceed?"
}`

func TestDecodeValidDocument(t *testing.T) {
	update, err := Decode(validDoc)
	require.NoError(t, err)

	require.Len(t, update.Requests, 1)
	r := update.Requests[0]
	assert.Equal(t, domain.RequestTypeAddUser, r.Type)
	assert.Equal(t, domain.IdentifierList{"42"}, r.PublisherData.NetworkIDs)
	assert.Equal(t, domain.ActionNone, r.Action)
	assert.True(t, update.BatchStatus.AwaitingBatchConfirmation)
	assert.Nil(t, update.CurrentFocus)
	assert.Equal(t, "Shall I proceed?", update.Reply)
}

func TestDecodeRepairsFencedOutput(t *testing.T) {
	raw := "```json\n" + `{"requests_in_batch": [], "ai_response": "Hi! What can I do?",}` + "\n```"

	update, err := Decode(raw)
	require.NoError(t, err)
	assert.Empty(t, update.Requests)
	assert.Equal(t, "Hi! What can I do?", update.Reply)
}

func TestDecodeFailures(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: "   "},
		{name: "array", raw: `[1, 2, 3]`},
		{name: "missing batch", raw: `{"ai_response": "hello"}`},
		{name: "missing reply", raw: `{"requests_in_batch": []}`},
		{name: "wrong type", raw: `{"requests_in_batch": "none", "ai_response": "x"}`},
		{name: "unknown request type", raw: `{"requests_in_batch": [{"request_id": 1, "request_type": "delete_user",
			"data_gathering_status": "pending", "missing_fields_for_this_request": ["users_info"]}], "ai_response": "x"}`},
		{name: "duplicate ids", raw: `{"requests_in_batch": [
			{"request_id": 1, "data_gathering_status": "pending", "missing_fields_for_this_request": ["a"]},
			{"request_id": 1, "data_gathering_status": "pending", "missing_fields_for_this_request": ["a"]}],
			"ai_response": "x"}`},
		{name: "complete with missing fields", raw: `{"requests_in_batch": [{"request_id": 1, "request_type": "update_role",
			"data_gathering_status": "complete", "publisher_data": {"group_ids": ["7"]},
			"users_info": [{"name": "A", "email": "a@x.com", "role": "Admin"}],
			"missing_fields_for_this_request": ["users_info[0].role"]}], "ai_response": "x"}`},
		{name: "gathering without missing fields", raw: `{"requests_in_batch": [{"request_id": 1,
			"data_gathering_status": "gathering", "missing_fields_for_this_request": []}], "ai_response": "x"}`},
		{name: "status change without action", raw: `{"requests_in_batch": [{"request_id": 1, "request_type": "set_user_status",
			"data_gathering_status": "complete", "publisher_data": {"network_ids": ["1"]},
			"users_info": [{"name": "A", "email": "a@x.com"}], "missing_fields_for_this_request": []}], "ai_response": "x"}`},
		{name: "single user cardinality with two users", raw: `{"requests_in_batch": [{"request_id": 1, "request_type": "add_user",
			"user_cardinality": "one", "data_gathering_status": "complete", "publisher_data": {"network_ids": ["1"]},
			"users_info": [{"name": "A", "email": "a@x.com", "role": "r"}, {"name": "B", "email": "b@x.com", "role": "r"}],
			"missing_fields_for_this_request": []}], "ai_response": "x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.raw)
			var de *domain.DecodeError
			assert.ErrorAs(t, err, &de)
		})
	}
}

func TestDecodeNormalizesBlankEnums(t *testing.T) {
	update, err := Decode(`{"requests_in_batch": [{"request_id": 1, "missing_fields_for_this_request": ["request_type"]}],
		"ai_response": "What would you like to do?"}`)
	require.NoError(t, err)

	r := update.Requests[0]
	assert.Equal(t, domain.RequestTypeUnknown, r.Type)
	assert.Equal(t, domain.CardinalityUnknown, r.UserCardinality)
	assert.Equal(t, domain.StatusPending, r.Status)
}

func TestDecodeReply(t *testing.T) {
	reply, err := DecodeReply(`{"ai_response": "Thanks for visiting!"}`)
	require.NoError(t, err)
	assert.Equal(t, "Thanks for visiting!", reply)

	_, err = DecodeReply(`{"requests_in_batch": []}`)
	assert.Error(t, err)
}

func TestNarrativeOrdersSections(t *testing.T) {
	text := Narrative(domain.ResultSummary{
		Successes:        []string{"added Ravi"},
		ValidationErrors: []string{"network 9 unknown"},
		ActionErrors:     []string{"Gaurav not found"},
	})

	assert.Contains(t, text, "Successful actions:\n- added Ravi")
	assert.Contains(t, text, "Failed actions:\n- Gaurav not found")
	assert.Contains(t, text, "Validation errors:\n- network 9 unknown")
	assert.Contains(t, ClosingContext(domain.ResultSummary{}), "Processing is complete.")
}
