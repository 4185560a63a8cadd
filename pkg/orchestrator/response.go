package orchestrator

import (
	"fmt"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/cvpilot/cvpilot/pkg/fsm"
	"github.com/cvpilot/cvpilot/pkg/validate"
)

// Response types.
const (
	ResponseMessage = "message"
	ResponseBlocked = "blocked"
	ResponseError   = "error"
)

// ResponseSection is one titled block of the user-facing message.
type ResponseSection struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// TurnResponse is the envelope returned to the client after one turn.
// Stage is always the stage the next turn will observe.
type TurnResponse struct {
	ID              string            `json:"id"`
	Type            string            `json:"type"`
	SessionID       string            `json:"session_id"`
	Stage           fsm.Stage         `json:"stage"`
	Message         string            `json:"message"`
	Sections        []ResponseSection `json:"sections,omitempty"`
	Questions       []string          `json:"questions,omitempty"`
	Confidence      float64           `json:"confidence"`
	Validation      *validate.Result  `json:"validation,omitempty"`
	ArtifactID      string            `json:"artifact_id,omitempty"`
	Error           string            `json:"error,omitempty"`
	BudgetExhausted bool              `json:"budget_exhausted,omitempty"`
	Timestamp       time.Time         `json:"timestamp"`
}

func newTurnResponse(kind, sessionID string, stage fsm.Stage, message string) *TurnResponse {
	id, err := gonanoid.New()
	if err != nil {
		id = "resp"
	}
	return &TurnResponse{
		ID:         id,
		Type:       kind,
		SessionID:  sessionID,
		Stage:      stage,
		Message:    message,
		Confidence: 1.0,
		Timestamp:  time.Now().UTC(),
	}
}

// buildGuidance turns validation findings into the structured sections
// and follow-up questions attached to the response envelope.
func buildGuidance(v validate.Result) ([]ResponseSection, []string) {
	var sections []ResponseSection
	var questions []string

	if len(v.Errors) > 0 {
		lines := make([]string, 0, len(v.Errors))
		for _, e := range v.Errors {
			lines = append(lines, fieldLabel(e.Section, e.Field)+": "+e.Message)
			questions = append(questions, fmt.Sprintf("Could you provide %s?", fieldLabel(e.Section, e.Field)))
		}
		sections = append(sections, ResponseSection{
			Title: "Outstanding items",
			Body:  strings.Join(lines, "\n"),
		})
	}

	if len(v.Warnings) > 0 {
		lines := make([]string, 0, len(v.Warnings))
		for _, w := range v.Warnings {
			lines = append(lines, fieldLabel(w.Section, w.Field)+": "+w.Message)
		}
		sections = append(sections, ResponseSection{
			Title: "Suggestions",
			Body:  strings.Join(lines, "\n"),
		})
	}

	return sections, questions
}

func fieldLabel(section, field string) string {
	if field == "" {
		return section
	}
	return section + "." + field
}
