// Package domain contains core domain types for the batch assistant.
package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// RequestType is the kind of user-management operation a request performs.
type RequestType string

const (
	RequestTypeAddUser       RequestType = "add_user"
	RequestTypeSetUserStatus RequestType = "set_user_status"
	RequestTypeUpdateRole    RequestType = "update_role"
	RequestTypeUnknown       RequestType = "unknown"
)

// IsValid reports whether t is a known request type.
func (t RequestType) IsValid() bool {
	switch t {
	case RequestTypeAddUser, RequestTypeSetUserStatus, RequestTypeUpdateRole, RequestTypeUnknown:
		return true
	}
	return false
}

// NeedsRole reports whether every targeted user must carry a role.
func (t RequestType) NeedsRole() bool {
	return t == RequestTypeAddUser || t == RequestTypeUpdateRole
}

// Cardinality describes how many users or networks a request targets.
type Cardinality string

const (
	CardinalityOne      Cardinality = "one"
	CardinalityMultiple Cardinality = "multiple"
	CardinalityUnknown  Cardinality = "unknown"
)

// IsValid reports whether c is a known cardinality.
func (c Cardinality) IsValid() bool {
	switch c {
	case CardinalityOne, CardinalityMultiple, CardinalityUnknown:
		return true
	}
	return false
}

// GatheringStatus tracks how far data collection for one request has progressed.
type GatheringStatus string

const (
	StatusPending   GatheringStatus = "pending"
	StatusGathering GatheringStatus = "gathering"
	StatusComplete  GatheringStatus = "complete"
)

// IsValid reports whether s is a known gathering status.
func (s GatheringStatus) IsValid() bool {
	return s.rank() >= 0
}

func (s GatheringStatus) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusGathering:
		return 1
	case StatusComplete:
		return 2
	}
	return -1
}

// Precedes reports whether moving from s to next goes backwards.
func (s GatheringStatus) Precedes(next GatheringStatus) bool {
	return next.rank() < s.rank()
}

// Action is the status change applied by a set_user_status request.
// The zero value means no action was given.
type Action string

const (
	ActionNone       Action = ""
	ActionActivate   Action = "activate"
	ActionDeactivate Action = "deactivate"
)

// IsValid reports whether a is empty or one of the known actions.
func (a Action) IsValid() bool {
	switch a {
	case ActionNone, ActionActivate, ActionDeactivate:
		return true
	}
	return false
}

// IdentifierList is an ordered list of publisher or network identifiers.
// The extraction collaborator may send identifiers as JSON numbers; they are
// kept in their decimal string form.
type IdentifierList []string

// UnmarshalJSON accepts an array of strings and/or numbers, or null.
func (l *IdentifierList) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*l = nil
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("identifier list: %w", err)
	}
	out := make(IdentifierList, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
			continue
		}
		var n json.Number
		dec := json.NewDecoder(bytes.NewReader(item))
		dec.UseNumber()
		if err := dec.Decode(&n); err != nil {
			return fmt.Errorf("identifier %s is neither a string nor a number", string(item))
		}
		if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
			return fmt.Errorf("identifier %s is not numeric: %w", n, err)
		}
		out = append(out, n.String())
	}
	*l = out
	return nil
}

// PublisherData holds the network identifiers a request applies to.
type PublisherData struct {
	NetworkIDs        IdentifierList `json:"network_ids"`
	PubOrSiteIDs      IdentifierList `json:"pub_or_site_ids"`
	PubOrNetworkNames IdentifierList `json:"pub_or_network_names"`
	GroupIDs          IdentifierList `json:"group_ids"`
}

// IsEmpty reports whether no identifier of any kind was provided.
func (p PublisherData) IsEmpty() bool {
	return len(p.NetworkIDs) == 0 && len(p.PubOrSiteIDs) == 0 &&
		len(p.PubOrNetworkNames) == 0 && len(p.GroupIDs) == 0
}

// Fields returns the non-empty identifier lists in a fixed order.
func (p PublisherData) Fields() []IdentifierField {
	all := []IdentifierField{
		{Name: "network_ids", Values: p.NetworkIDs},
		{Name: "pub_or_site_ids", Values: p.PubOrSiteIDs},
		{Name: "pub_or_network_names", Values: p.PubOrNetworkNames},
		{Name: "group_ids", Values: p.GroupIDs},
	}
	out := all[:0]
	for _, f := range all {
		if len(f.Values) > 0 {
			out = append(out, f)
		}
	}
	return out
}

// IdentifierField names one identifier list of PublisherData.
type IdentifierField struct {
	Name   string
	Values IdentifierList
}

// UserInfo is one user targeted by a request.
type UserInfo struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
}

// Request is a single user-management operation inside a batch.
type Request struct {
	ID              int             `json:"request_id"`
	Type            RequestType     `json:"request_type"`
	UserCardinality Cardinality     `json:"user_cardinality"`
	NetworkScope    Cardinality     `json:"network_scope"`
	Status          GatheringStatus `json:"data_gathering_status"`
	PublisherData   PublisherData   `json:"publisher_data"`
	UsersInfo       []UserInfo      `json:"users_info"`
	Action          Action          `json:"action,omitempty"`
	MissingFields   []string        `json:"missing_fields_for_this_request"`
}

// IsComplete reports whether all data for the request has been gathered.
func (r Request) IsComplete() bool {
	return r.Status == StatusComplete
}

// Clone returns a deep copy of r.
func (r Request) Clone() Request {
	c := r
	c.PublisherData = PublisherData{
		NetworkIDs:        cloneStrings(r.PublisherData.NetworkIDs),
		PubOrSiteIDs:      cloneStrings(r.PublisherData.PubOrSiteIDs),
		PubOrNetworkNames: cloneStrings(r.PublisherData.PubOrNetworkNames),
		GroupIDs:          cloneStrings(r.PublisherData.GroupIDs),
	}
	if r.UsersInfo != nil {
		c.UsersInfo = make([]UserInfo, len(r.UsersInfo))
		copy(c.UsersInfo, r.UsersInfo)
	}
	c.MissingFields = cloneStrings(r.MissingFields)
	return c
}

func cloneStrings[S ~[]string](s S) S {
	if s == nil {
		return nil
	}
	out := make(S, len(s))
	copy(out, s)
	return out
}

// CloneBatch returns a deep copy of a batch, used to snapshot it for processing.
func CloneBatch(reqs []Request) []Request {
	if reqs == nil {
		return nil
	}
	out := make([]Request, len(reqs))
	for i, r := range reqs {
		out[i] = r.Clone()
	}
	return out
}

// BatchStatus holds the aggregate flags of a batch.
type BatchStatus struct {
	BatchDataComplete         bool `json:"batch_data_complete"`
	AwaitingBatchConfirmation bool `json:"awaiting_batch_confirmation"`
	BatchConfirmed            bool `json:"batch_confirmed"`
}

// BatchDataComplete reports whether the batch is non-empty and every request
// in it is complete.
func BatchDataComplete(reqs []Request) bool {
	if len(reqs) == 0 {
		return false
	}
	for _, r := range reqs {
		if !r.IsComplete() {
			return false
		}
	}
	return true
}

// ConfirmationSummary renders the numbered batch summary shown to the user
// before confirmation. Output depends only on the requests.
func ConfirmationSummary(reqs []Request) string {
	var b strings.Builder
	for i, r := range reqs {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d. %s (request %d)\n", i+1, describeType(r), r.ID)

		b.WriteString("   Networks: ")
		fields := r.PublisherData.Fields()
		if len(fields) == 0 {
			b.WriteString("none")
		}
		for j, f := range fields {
			if j > 0 {
				b.WriteString("; ")
			}
			fmt.Fprintf(&b, "%s %s", f.Name, strings.Join(f.Values, ", "))
		}
		b.WriteString("\n")

		b.WriteString("   Users:\n")
		for _, u := range r.UsersInfo {
			fmt.Fprintf(&b, "   - %s <%s>", u.Name, u.Email)
			switch {
			case r.Type.NeedsRole():
				fmt.Fprintf(&b, ", role: %s", u.Role)
			case r.Type == RequestTypeSetUserStatus:
				fmt.Fprintf(&b, ", action: %s", r.Action)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

func describeType(r Request) string {
	switch r.Type {
	case RequestTypeAddUser:
		return "Add user"
	case RequestTypeSetUserStatus:
		return "Set user status"
	case RequestTypeUpdateRole:
		return "Update role"
	default:
		return "Unknown request"
	}
}
