package verify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/patentops/claimverify/backend/internal/analysis/feedback"
	"github.com/patentops/claimverify/backend/internal/model/review"
)

var (
	ErrNoQuestions     = errors.New("question list is empty")
	ErrNoDisclosure    = errors.New("disclosure text is required")
	ErrUnknownModel    = errors.New("model is not available")
	ErrSessionNotFound = errors.New("session not found")
)

// AnswerStreamer starts one answer generation and yields its fragments.
// Each call is a fresh attempt; a failed stream is retried with a new call.
type AnswerStreamer interface {
	StreamAnswer(ctx context.Context, question, disclosure, extra, reviewerContext, modelID string) (*schema.StreamReader[*schema.Message], error)
}

// ReportSink durably writes the ordered approved pairs. It is invoked
// exactly once per session, at the final affirmation.
type ReportSink interface {
	WriteQA(path string, pairs []review.QAPair) (string, error)
}

// StartParams carries everything a new session needs; all fields are fixed
// for the session's lifetime.
type StartParams struct {
	Questions  []string
	Model      string
	Disclosure string
	Extra      string
}

// Service runs verification sessions. Each session is driven one reviewer
// message at a time; a per-session mutex serializes turns so a message
// arriving during an in-flight generation waits for it.
type Service struct {
	streamer      AnswerStreamer
	sink          ReportSink
	supportsModel func(string) bool
	outputDir     string

	mu       sync.RWMutex
	sessions map[string]*sessionState
}

type sessionState struct {
	mu         sync.Mutex
	session    review.Session
	disclosure string
	extra      string
	transcript []review.Message
}

// NewService wires the session store to its collaborators. supportsModel
// guards Start; a nil func accepts any non-empty model id.
func NewService(streamer AnswerStreamer, sink ReportSink, supportsModel func(string) bool, outputDir string) *Service {
	if supportsModel == nil {
		supportsModel = func(id string) bool { return id != "" }
	}
	return &Service{
		streamer:      streamer,
		sink:          sink,
		supportsModel: supportsModel,
		outputDir:     outputDir,
		sessions:      make(map[string]*sessionState),
	}
}

// Start validates the parameters and creates a session already positioned at
// the first question. Invalid parameters create nothing, leaving the caller
// where it was.
func (s *Service) Start(_ context.Context, params StartParams) (review.Session, []review.Message, error) {
	if len(params.Questions) == 0 {
		return review.Session{}, nil, ErrNoQuestions
	}
	if strings.TrimSpace(params.Disclosure) == "" {
		return review.Session{}, nil, ErrNoDisclosure
	}
	if !s.supportsModel(params.Model) {
		return review.Session{}, nil, fmt.Errorf("%w: %q", ErrUnknownModel, params.Model)
	}

	now := time.Now().UTC()
	session := review.Session{
		ID:           uuid.NewString(),
		Phase:        review.PhaseAsking,
		Questions:    append([]string(nil), params.Questions...),
		CurrentIndex: 0,
		Approved:     make([]review.QAPair, 0, len(params.Questions)),
		Model:        params.Model,
		OutputPath:   filepath.Join(s.outputDir, fmt.Sprintf("qa_report_%s.md", now.Format("20060102_150405"))),
		CreatedAt:    now,
	}

	state := &sessionState{
		session:    session,
		disclosure: params.Disclosure,
		extra:      params.Extra,
	}
	state.record("assistant", introMessage(session.Questions))

	s.mu.Lock()
	s.sessions[session.ID] = state
	s.mu.Unlock()

	log.Printf("[verify] session=%s started with %d question(s), model=%s", session.ID, len(session.Questions), session.Model)
	return state.snapshot(), state.transcriptCopy(), nil
}

// GetSession returns a copy of the session by identifier.
func (s *Service) GetSession(id string) (review.Session, error) {
	state, err := s.lookup(id)
	if err != nil {
		return review.Session{}, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.snapshot(), nil
}

// Transcript returns the stored turns for the session.
func (s *Service) Transcript(id string) ([]review.Message, error) {
	state, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.transcriptCopy(), nil
}

// HandleMessage drives one reviewer message through the state machine,
// relaying output events through emit. Every path yields a displayed
// message and a well-defined next phase; generation and persistence
// failures never lose an already-approved pair.
func (s *Service) HandleMessage(ctx context.Context, sessionID, text string, emit EmitFunc) error {
	state, err := s.lookup(sessionID)
	if err != nil {
		return err
	}
	if emit == nil {
		emit = func(Event) {}
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	switch state.session.Phase {
	case review.PhaseAsking:
		s.handleAsking(ctx, state, text, emit)
	case review.PhaseAwaitingFeedback:
		s.handleFeedback(state, text, emit)
	case review.PhaseDone:
		state.emitTurn(emit, "user", displayText(text))
		state.emitTurn(emit, "assistant", "Verification is complete. The Q&A report has already been written.")
	default:
		state.emitTurn(emit, "assistant", "Please start a verification session first.")
	}
	return nil
}

// handleAsking consumes one generation attempt. On success the concatenated
// answer plus the feedback prompt become the pending turn; on failure the
// phase stays asking so the same question can be retried.
func (s *Service) handleAsking(ctx context.Context, state *sessionState, text string, emit EmitFunc) {
	reviewerContext := strings.TrimSpace(text)
	state.emitTurn(emit, "user", displayContext(reviewerContext))

	sess := &state.session
	question := sess.Questions[sess.CurrentIndex]

	stream, err := s.streamer.StreamAnswer(ctx, question, state.disclosure, state.extra, reviewerContext, sess.Model)
	if err != nil {
		state.emitTurn(emit, "assistant", generationErrorMessage(err))
		return
	}
	defer stream.Close()

	chunks := make([]*schema.Message, 0, 8)
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			// Partial text already shown is discarded from session state;
			// only a completed stream commits an answer.
			state.emitTurn(emit, "assistant", generationErrorMessage(recvErr))
			return
		}
		if chunk == nil {
			continue
		}
		chunks = append(chunks, chunk)
		if chunk.Content != "" {
			emit(Event{Type: EventDelta, Content: chunk.Content})
		}
	}

	answer, err := schema.ConcatMessages(chunks)
	if err != nil {
		state.emitTurn(emit, "assistant", generationErrorMessage(err))
		return
	}

	sess.CurrentAnswer = answer.Content
	sess.Phase = review.PhaseAwaitingFeedback
	state.emitTurn(emit, "assistant", answer.Content+feedbackPrompt(sess.CurrentIndex, len(sess.Questions)))
}

func (s *Service) handleFeedback(state *sessionState, text string, emit EmitFunc) {
	sess := &state.session

	if strings.TrimSpace(text) == "" {
		state.emitTurn(emit, "assistant", "Please type yes to accept the answer or no to retry.")
		return
	}

	state.emitTurn(emit, "user", text)

	switch feedback.Classify(text) {
	case feedback.Affirm:
		sess.Approved = append(sess.Approved, review.QAPair{
			Question: sess.Questions[sess.CurrentIndex],
			Answer:   sess.CurrentAnswer,
		})
		sess.CurrentAnswer = ""

		if sess.CurrentIndex+1 == len(sess.Questions) {
			s.finalize(state, emit)
			return
		}

		sess.CurrentIndex++
		sess.Phase = review.PhaseAsking
		state.emitTurn(emit, "assistant", nextQuestionMessage(sess))

	case feedback.Reject:
		sess.CurrentAnswer = ""
		sess.Phase = review.PhaseAsking
		state.emitTurn(emit, "assistant", retryMessage(sess))

	default:
		state.emitTurn(emit, "assistant", "I didn't catch that. Please type yes to accept or no to retry.")
	}
}

// finalize writes the report and closes the session. A sink failure is
// surfaced distinctly but the session still completes: the in-memory
// approved list is authoritative.
func (s *Service) finalize(state *sessionState, emit EmitFunc) {
	sess := &state.session
	sess.CurrentIndex = len(sess.Questions)
	sess.Phase = review.PhaseDone

	location, err := s.sink.WriteQA(sess.OutputPath, sess.Approved)
	if err != nil {
		log.Printf("[verify] session=%s report write failed: %v", sess.ID, err)
		state.emitTurn(emit, "assistant", fmt.Sprintf(
			"Failed to save the Q&A report: %v. All %d approved answer(s) are retained in this session.",
			err, len(sess.Approved)))
		return
	}

	log.Printf("[verify] session=%s complete, report=%s", sess.ID, location)
	state.emitTurn(emit, "assistant", fmt.Sprintf(
		"Answer saved. All %d answer(s) approved.\n\nVerification complete. The Q&A report has been written.",
		len(sess.Approved)))
	emit(Event{Type: EventReport, Path: location})
}

func (s *Service) lookup(id string) (*sessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return state, nil
}

func (st *sessionState) record(role, content string) review.Message {
	msg := review.Message{
		ID:        uuid.NewString(),
		SessionID: st.session.ID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	st.transcript = append(st.transcript, msg)
	return msg
}

func (st *sessionState) emitTurn(emit EmitFunc, role, content string) {
	msg := st.record(role, content)
	emit(Event{Type: EventTurn, Role: msg.Role, Content: msg.Content})
}

func (st *sessionState) snapshot() review.Session {
	copied := st.session
	copied.Questions = append([]string(nil), st.session.Questions...)
	copied.Approved = append([]review.QAPair(nil), st.session.Approved...)
	return copied
}

func (st *sessionState) transcriptCopy() []review.Message {
	copied := make([]review.Message, len(st.transcript))
	copy(copied, st.transcript)
	return copied
}

func introMessage(questions []string) string {
	return fmt.Sprintf(
		"Verification started — %d question(s) to verify.\n\nQuestion 1 of %d:\n\n> %s\n\nProvide any additional context that might help answer this question, or send an empty message to answer from the disclosure only.",
		len(questions), len(questions), questions[0])
}

func nextQuestionMessage(sess *review.Session) string {
	total := len(sess.Questions)
	return fmt.Sprintf(
		"Answer saved. (%d/%d approved)\n\nQuestion %d of %d:\n\n> %s\n\nProvide any additional context, or send an empty message.",
		len(sess.Approved), total, sess.CurrentIndex+1, total, sess.Questions[sess.CurrentIndex])
}

func retryMessage(sess *review.Session) string {
	return fmt.Sprintf(
		"No problem — let's try again.\n\nQuestion %d of %d:\n\n> %s\n\nPlease provide more context or clarification to help generate a better answer.",
		sess.CurrentIndex+1, len(sess.Questions), sess.Questions[sess.CurrentIndex])
}

func feedbackPrompt(index, total int) string {
	return fmt.Sprintf(
		"\n\n---\nAnswer for Question %d of %d — is this satisfactory?\nType yes (or y/approve) to save and continue, or no (or n/retry) to try again with more context.",
		index+1, total)
}

func generationErrorMessage(err error) string {
	return fmt.Sprintf("Error generating answer: %v\n\nPlease try again.", err)
}

func displayContext(reviewerContext string) string {
	if reviewerContext == "" {
		return "(no additional context)"
	}
	return reviewerContext
}

func displayText(text string) string {
	if strings.TrimSpace(text) == "" {
		return "(empty)"
	}
	return text
}
