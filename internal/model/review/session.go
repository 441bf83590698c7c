package review

import "time"

// Phase names the current position of a verification session in its
// lifecycle. A session only ever moves forward: asking -> awaiting_feedback
// on a successful generation, back to asking on a rejection or a generation
// failure, and into done after the last affirmation.
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseAsking           Phase = "asking"
	PhaseAwaitingFeedback Phase = "awaiting_feedback"
	PhaseDone             Phase = "done"
)

// QAPair is one reviewer-approved question/answer tuple. Only approved
// pairs are ever persisted.
type QAPair struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Session captures one run of the verification protocol over a fixed
// question list.
type Session struct {
	ID            string    `json:"id"`
	Phase         Phase     `json:"phase"`
	Questions     []string  `json:"questions"`
	CurrentIndex  int       `json:"currentIndex"`
	CurrentAnswer string    `json:"currentAnswer,omitempty"`
	Approved      []QAPair  `json:"approved"`
	Model         string    `json:"model"`
	OutputPath    string    `json:"outputPath"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Remaining reports how many questions have not been approved yet.
func (s Session) Remaining() int {
	return len(s.Questions) - len(s.Approved)
}
