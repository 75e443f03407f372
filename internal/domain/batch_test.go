package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchDataComplete(t *testing.T) {
	complete := Request{ID: 1, Status: StatusComplete}
	gathering := Request{ID: 2, Status: StatusGathering}
	pending := Request{ID: 3, Status: StatusPending}

	tests := []struct {
		name string
		reqs []Request
		want bool
	}{
		{name: "empty batch", reqs: nil, want: false},
		{name: "single complete", reqs: []Request{complete}, want: true},
		{name: "all complete", reqs: []Request{complete, complete}, want: true},
		{name: "one gathering", reqs: []Request{complete, gathering}, want: false},
		{name: "one pending", reqs: []Request{pending, complete}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BatchDataComplete(tt.reqs))
		})
	}
}

func TestConfirmationSummaryListsEveryRequest(t *testing.T) {
	reqs := []Request{
		{
			ID:            1,
			Type:          RequestTypeAddUser,
			Status:        StatusComplete,
			PublisherData: PublisherData{NetworkIDs: IdentifierList{"42"}},
			UsersInfo:     []UserInfo{{Name: "Ravi", Email: "r@x.com", Role: "Editor"}},
		},
		{
			ID:            2,
			Type:          RequestTypeSetUserStatus,
			Status:        StatusComplete,
			PublisherData: PublisherData{NetworkIDs: IdentifierList{"42"}, GroupIDs: IdentifierList{"g1"}},
			UsersInfo:     []UserInfo{{Name: "Gaurav", Email: "g@x.com"}},
			Action:        ActionDeactivate,
		},
	}

	summary := ConfirmationSummary(reqs)

	assert.Contains(t, summary, "1. Add user (request 1)")
	assert.Contains(t, summary, "Ravi <r@x.com>, role: Editor")
	assert.Contains(t, summary, "2. Set user status (request 2)")
	assert.Contains(t, summary, "Gaurav <g@x.com>, action: deactivate")
	assert.Contains(t, summary, "network_ids 42; group_ids g1")
	assert.Equal(t, summary, ConfirmationSummary(CloneBatch(reqs)), "summary must be deterministic")
	assert.Less(t, strings.Index(summary, "Ravi"), strings.Index(summary, "Gaurav"))
}

func TestIdentifierListAcceptsNumbers(t *testing.T) {
	var p PublisherData
	err := json.Unmarshal([]byte(`{"network_ids":[42,"43"," "],"pub_or_site_ids":null,"group_ids":[]}`), &p)
	require.NoError(t, err)

	assert.Equal(t, IdentifierList{"42", "43"}, p.NetworkIDs)
	assert.Empty(t, p.PubOrSiteIDs)
	assert.False(t, p.IsEmpty())
}

func TestIdentifierListRejectsObjects(t *testing.T) {
	var l IdentifierList
	err := json.Unmarshal([]byte(`[{"id":1}]`), &l)
	assert.Error(t, err)
}

func TestGatheringStatusPrecedes(t *testing.T) {
	assert.True(t, StatusComplete.Precedes(StatusGathering))
	assert.True(t, StatusGathering.Precedes(StatusPending))
	assert.False(t, StatusPending.Precedes(StatusComplete))
	assert.False(t, StatusGathering.Precedes(StatusGathering))
}

func TestCloneBatchIsDeep(t *testing.T) {
	orig := []Request{{
		ID:            1,
		PublisherData: PublisherData{NetworkIDs: IdentifierList{"1"}},
		UsersInfo:     []UserInfo{{Name: "a"}},
	}}
	clone := CloneBatch(orig)
	clone[0].PublisherData.NetworkIDs[0] = "2"
	clone[0].UsersInfo[0].Name = "b"

	assert.Equal(t, "1", orig[0].PublisherData.NetworkIDs[0])
	assert.Equal(t, "a", orig[0].UsersInfo[0].Name)
}
