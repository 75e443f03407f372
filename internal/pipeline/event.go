package pipeline

// Event types.
const (
	TypePhase  = "phase"
	TypeUpdate = "update"
)

// Phase statuses.
const (
	PhaseValidation = "validation"
	PhaseProcessing = "processing"
	PhaseComplete   = "complete"
)

// Per-request statuses.
const (
	StatusValidating        = "validating"
	StatusValidationSuccess = "validation_success"
	StatusValidationFailed  = "validation_failed"
	StatusProcessing        = "processing"
	StatusActionSuccess     = "action_success"
	StatusActionFailed      = "action_failed"
)

// Messages of phase events.
const (
	MsgValidationStarted = "Starting validation..."
	MsgProcessingStarted = "Starting processing for validated requests..."
	MsgNothingValidated  = "No requests passed validation."
	MsgAllFinished       = "All processing finished."
)

// Event is one progress notification of a pipeline run.
type Event struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	RequestID int    `json:"request_id,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Terminal reports whether e is the last event of a run.
func (e Event) Terminal() bool {
	return e.Type == TypePhase && e.Status == PhaseComplete
}

func phase(status, msg string) Event {
	return Event{Type: TypePhase, Status: status, Message: msg}
}

func update(id int, status, msg string) Event {
	return Event{Type: TypeUpdate, Status: status, RequestID: id, Message: msg}
}
