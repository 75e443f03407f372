package intent

import (
	"strings"

	"github.com/ashureev/batchbot/internal/domain"
)

// SummarizeTrigger is the message text a client sends to request the closing
// narrative for a finished batch.
const SummarizeTrigger = "ACTION:SUMMARIZE_RESULTS"

// NoSummaryReply is returned when the summarize trigger finds no stored result.
const NoSummaryReply = "An error occurred. Please try again."

// Narrative renders a result summary as plain text.
func Narrative(sum domain.ResultSummary) string {
	var b strings.Builder
	b.WriteString("Processing is complete.\n")
	writeSection(&b, "Successful actions", sum.Successes)
	writeSection(&b, "Failed actions", sum.ActionErrors)
	writeSection(&b, "Validation errors", sum.ValidationErrors)
	return b.String()
}

func writeSection(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString("\n")
	b.WriteString(title)
	b.WriteString(":\n")
	for _, item := range items {
		b.WriteString("- ")
		b.WriteString(item)
		b.WriteString("\n")
	}
}

// ClosingContext wraps the narrative in the system instruction handed to the
// conversational collaborator for the closing message.
func ClosingContext(sum domain.ResultSummary) string {
	return "CONTEXT: You have just finished processing a batch. Here is the result:\n" +
		Narrative(sum) +
		"\nPresent this result to the user in a clear, friendly way. Acknowledge any failures " +
		"directly, keep a helpful tone, and thank the user. Respond with the usual JSON object " +
		"with an empty requests_in_batch list."
}
