package intent

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ashureev/batchbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testReducer() *Reducer {
	r := NewReducer(slog.New(slog.NewTextHandler(io.Discard, nil)))
	r.now = func() time.Time { return time.Unix(1700000000, 0) }
	return r
}

func addUser(id int, name, email, role string) domain.Request {
	return domain.Request{
		ID:              id,
		Type:            domain.RequestTypeAddUser,
		UserCardinality: domain.CardinalityOne,
		NetworkScope:    domain.CardinalityOne,
		Status:          domain.StatusComplete,
		PublisherData:   domain.PublisherData{NetworkIDs: domain.IdentifierList{"42"}},
		UsersInfo:       []domain.UserInfo{{Name: name, Email: email, Role: role}},
		MissingFields:   []string{},
	}
}

func setStatus(id int, name, email string, action domain.Action) domain.Request {
	return domain.Request{
		ID:              id,
		Type:            domain.RequestTypeSetUserStatus,
		UserCardinality: domain.CardinalityOne,
		NetworkScope:    domain.CardinalityOne,
		Status:          domain.StatusComplete,
		PublisherData:   domain.PublisherData{NetworkIDs: domain.IdentifierList{"42"}},
		UsersInfo:       []domain.UserInfo{{Name: name, Email: email}},
		Action:          action,
		MissingFields:   []string{},
	}
}

func gathering(r domain.Request, missing ...string) domain.Request {
	r.Status = domain.StatusGathering
	r.MissingFields = missing
	return r
}

func newTestSession() *domain.Session {
	s := domain.NewSession("sess-1", SystemPrompt, time.Unix(0, 0))
	s.Owner = "owner@example.com"
	return s
}

func TestApplyEntersConfirmationWhenBatchComplete(t *testing.T) {
	s := newTestSession()
	update := &domain.IntentUpdate{
		BatchStatus: domain.BatchStatus{BatchDataComplete: true, AwaitingBatchConfirmation: true},
		Requests: []domain.Request{
			addUser(1, "Ravi", "r@x.com", "Editor"),
			setStatus(2, "Gaurav", "g@x.com", domain.ActionDeactivate),
		},
		Reply: "Please confirm the batch.",
	}

	out, err := testReducer().Apply(s, update)
	require.NoError(t, err)

	assert.Equal(t, domain.StateAwaitingBatchConfirmation, s.State)
	assert.True(t, s.Status.BatchDataComplete)
	assert.True(t, s.Status.AwaitingBatchConfirmation)
	assert.False(t, s.Status.BatchConfirmed)
	for _, want := range []string{"Ravi", "Editor", "Gaurav", "deactivate"} {
		assert.Contains(t, out.ConfirmationPrompt, want)
	}
	assert.Equal(t, out.ConfirmationPrompt, s.ConfirmationSummary)
	assert.Equal(t, "Please confirm the batch.", out.Reply)
}

func TestApplyDoesNotRepeatPromptWhileAwaiting(t *testing.T) {
	s := newTestSession()
	update := &domain.IntentUpdate{
		BatchStatus: domain.BatchStatus{AwaitingBatchConfirmation: true},
		Requests:    []domain.Request{addUser(1, "Ravi", "r@x.com", "Editor")},
		Reply:       "confirm?",
	}
	r := testReducer()
	_, err := r.Apply(s, update)
	require.NoError(t, err)

	out, err := r.Apply(s, update)
	require.NoError(t, err)
	assert.Empty(t, out.ConfirmationPrompt)
	assert.Equal(t, domain.StateAwaitingBatchConfirmation, s.State)
}

func TestApplyIgnoresConfirmationForIncompleteBatch(t *testing.T) {
	s := newTestSession()
	update := &domain.IntentUpdate{
		BatchStatus: domain.BatchStatus{BatchDataComplete: true, AwaitingBatchConfirmation: true},
		Requests: []domain.Request{
			addUser(1, "Ravi", "r@x.com", "Editor"),
			gathering(setStatus(2, "Gaurav", "", domain.ActionNone), "users_info[0].email", "action"),
		},
		Reply: "confirm?",
	}

	out, err := testReducer().Apply(s, update)
	require.NoError(t, err)

	assert.Equal(t, domain.StateGathering, s.State)
	assert.False(t, s.Status.BatchDataComplete)
	assert.False(t, s.Status.AwaitingBatchConfirmation)
	assert.Empty(t, out.ConfirmationPrompt)
}

func TestApplyCorrectionResetsOnlyCorrectedRequest(t *testing.T) {
	s := newTestSession()
	r := testReducer()
	original := []domain.Request{
		addUser(1, "Ravi", "r@x.com", "Editor"),
		setStatus(2, "Gaurav", "g@x.com", domain.ActionDeactivate),
		addUser(3, "Meera", "m@x.com", "Read Only"),
	}
	_, err := r.Apply(s, &domain.IntentUpdate{
		BatchStatus: domain.BatchStatus{AwaitingBatchConfirmation: true},
		Requests:    domain.CloneBatch(original),
		Reply:       "confirm?",
	})
	require.NoError(t, err)
	require.Equal(t, domain.StateAwaitingBatchConfirmation, s.State)

	corrected := domain.CloneBatch(original)
	corrected[1] = gathering(corrected[1], "users_info[0].email")
	corrected[1].UsersInfo[0].Email = ""
	out, err := r.Apply(s, &domain.IntentUpdate{
		// The collaborator forgot to clear the flags; they must still end up false.
		BatchStatus: domain.BatchStatus{BatchDataComplete: true, AwaitingBatchConfirmation: true},
		Requests:    corrected,
		Reply:       "What is Gaurav's correct email?",
	})
	require.NoError(t, err)

	assert.Equal(t, []int{2}, out.Corrected)
	assert.Equal(t, domain.StateAwaitingCorrectionInput, s.State)
	assert.False(t, s.Status.BatchDataComplete)
	assert.False(t, s.Status.AwaitingBatchConfirmation)
	assert.False(t, s.Status.BatchConfirmed)
	assert.Equal(t, original[0], s.Batch[0])
	assert.Equal(t, original[2], s.Batch[2])
	assert.Equal(t, domain.StatusGathering, s.Batch[1].Status)
}

func TestApplyRejectsBackwardTransitionOutsideCorrection(t *testing.T) {
	s := newTestSession()
	r := testReducer()
	_, err := r.Apply(s, &domain.IntentUpdate{
		Requests: []domain.Request{
			addUser(1, "Ravi", "r@x.com", "Editor"),
			gathering(addUser(2, "Meera", "", "Editor"), "users_info[0].email"),
		},
		Reply: "email for Meera?",
	})
	require.NoError(t, err)
	before := s.Clone()

	_, err = r.Apply(s, &domain.IntentUpdate{
		Requests: []domain.Request{
			gathering(addUser(1, "Ravi", "r@x.com", ""), "users_info[0].role"),
			gathering(addUser(2, "Meera", "", "Editor"), "users_info[0].email"),
		},
		Reply: "role for Ravi?",
	})

	var de *domain.DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, before, s)
}

func TestApplyHonoursConfirmationOnlyAfterPrompt(t *testing.T) {
	r := testReducer()
	batch := []domain.Request{addUser(1, "Ravi", "r@x.com", "Editor")}

	s := newTestSession()
	_, err := r.Apply(s, &domain.IntentUpdate{
		BatchStatus: domain.BatchStatus{BatchConfirmed: true},
		Requests:    domain.CloneBatch(batch),
		Reply:       "done",
	})
	require.NoError(t, err)
	assert.False(t, s.Status.BatchConfirmed, "confirmation without a presented summary is ignored")

	_, err = r.Apply(s, &domain.IntentUpdate{
		BatchStatus: domain.BatchStatus{AwaitingBatchConfirmation: true},
		Requests:    domain.CloneBatch(batch),
		Reply:       "confirm?",
	})
	require.NoError(t, err)

	_, err = r.Apply(s, &domain.IntentUpdate{
		BatchStatus: domain.BatchStatus{BatchDataComplete: true, BatchConfirmed: true},
		Requests:    domain.CloneBatch(batch),
		Reply:       "Great, processing now.",
	})
	require.NoError(t, err)
	assert.True(t, s.Status.BatchConfirmed)
	assert.False(t, s.Status.AwaitingBatchConfirmation)
	assert.Equal(t, domain.StateGathering, s.State)
}

func TestApplyCorrectionAfterConfirmationReopensBatch(t *testing.T) {
	r := testReducer()
	s := newTestSession()
	batch := []domain.Request{
		addUser(1, "Ravi", "r@x.com", "Editor"),
		setStatus(2, "Gaurav", "g@x.com", domain.ActionDeactivate),
	}
	_, err := r.Apply(s, &domain.IntentUpdate{
		BatchStatus: domain.BatchStatus{AwaitingBatchConfirmation: true},
		Requests:    domain.CloneBatch(batch),
		Reply:       "confirm?",
	})
	require.NoError(t, err)
	_, err = r.Apply(s, &domain.IntentUpdate{
		BatchStatus: domain.BatchStatus{BatchDataComplete: true, BatchConfirmed: true},
		Requests:    domain.CloneBatch(batch),
		Reply:       "Confirmed.",
	})
	require.NoError(t, err)
	require.True(t, s.Status.BatchConfirmed)
	require.Equal(t, domain.StateGathering, s.State)

	amended := domain.CloneBatch(batch)
	amended[1] = gathering(amended[1], "action")
	amended[1].Action = ""
	out, err := r.Apply(s, &domain.IntentUpdate{
		Requests: amended,
		Reply:    "Should Gaurav be activated or deactivated?",
	})
	require.NoError(t, err)

	assert.Equal(t, []int{2}, out.Corrected)
	assert.Equal(t, domain.StateAwaitingCorrectionInput, s.State)
	assert.False(t, s.Status.BatchConfirmed, "an amended batch needs a fresh confirmation")
	assert.Empty(t, s.ConfirmationSummary)
	assert.Equal(t, batch[0], s.Batch[0])
}

func TestApplyDenialWithoutSpecificsAwaitsCorrection(t *testing.T) {
	r := testReducer()
	s := newTestSession()
	batch := []domain.Request{addUser(1, "Ravi", "r@x.com", "Editor")}
	_, err := r.Apply(s, &domain.IntentUpdate{
		BatchStatus: domain.BatchStatus{AwaitingBatchConfirmation: true},
		Requests:    domain.CloneBatch(batch),
		Reply:       "confirm?",
	})
	require.NoError(t, err)

	_, err = r.Apply(s, &domain.IntentUpdate{
		Requests: domain.CloneBatch(batch),
		Reply:    "What should I change?",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StateAwaitingCorrectionInput, s.State)
}

func TestApplyStartsFreshBatchAfterFinalizing(t *testing.T) {
	s := newTestSession()
	s.State = domain.StateFinalizing
	s.Batch = []domain.Request{addUser(1, "Ravi", "r@x.com", "Editor")}

	_, err := testReducer().Apply(s, &domain.IntentUpdate{
		Requests: []domain.Request{gathering(addUser(1, "Anu", "", ""), "users_info[0].email", "users_info[0].role")},
		Reply:    "Tell me more about Anu.",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StateGathering, s.State)
	assert.Equal(t, "Anu", s.Batch[0].UsersInfo[0].Name)
}

func TestApplyRejectsInvalidSchema(t *testing.T) {
	s := newTestSession()
	before := s.Clone()
	bad := addUser(1, "Ravi", "r@x.com", "")

	_, err := testReducer().Apply(s, &domain.IntentUpdate{
		Requests: []domain.Request{bad},
		Reply:    "ok",
	})

	var de *domain.DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, before, s)
}
