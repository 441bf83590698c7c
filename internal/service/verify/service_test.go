package verify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"

	"github.com/patentops/claimverify/backend/internal/model/review"
)

// scriptedStreamer replays one fragment script per generation call. A script
// entry beginning with "ERR:" injects a mid-stream failure after the
// preceding fragments.
type scriptedStreamer struct {
	scripts  [][]string
	calls    int
	contexts []string
}

func (f *scriptedStreamer) StreamAnswer(_ context.Context, _, _, _, reviewerContext, _ string) (*schema.StreamReader[*schema.Message], error) {
	f.contexts = append(f.contexts, reviewerContext)
	if f.calls >= len(f.scripts) {
		return nil, errors.New("no scripted response left")
	}
	script := f.scripts[f.calls]
	f.calls++

	reader, writer := schema.Pipe[*schema.Message](len(script) + 1)
	go func() {
		defer writer.Close()
		for _, fragment := range script {
			if rest, ok := strings.CutPrefix(fragment, "ERR:"); ok {
				writer.Send(nil, errors.New(rest))
				return
			}
			writer.Send(schema.AssistantMessage(fragment, nil), nil)
		}
	}()
	return reader, nil
}

type recordingSink struct {
	calls []struct {
		path  string
		pairs []review.QAPair
	}
	err error
}

func (r *recordingSink) WriteQA(path string, pairs []review.QAPair) (string, error) {
	copied := append([]review.QAPair(nil), pairs...)
	r.calls = append(r.calls, struct {
		path  string
		pairs []review.QAPair
	}{path, copied})
	if r.err != nil {
		return "", r.err
	}
	return path, nil
}

func newTestService(t *testing.T, scripts [][]string, sink *recordingSink) (*Service, *scriptedStreamer) {
	t.Helper()
	streamer := &scriptedStreamer{scripts: scripts}
	svc := NewService(streamer, sink, func(id string) bool { return id == "test-model" }, t.TempDir())
	return svc, streamer
}

func startSession(t *testing.T, svc *Service, questions []string) review.Session {
	t.Helper()
	session, _, err := svc.Start(context.Background(), StartParams{
		Questions:  questions,
		Model:      "test-model",
		Disclosure: "disclosure text",
	})
	if err != nil {
		t.Fatalf("Start err: %v", err)
	}
	return session
}

func drive(t *testing.T, svc *Service, sessionID, text string) []Event {
	t.Helper()
	var events []Event
	if err := svc.HandleMessage(context.Background(), sessionID, text, func(e Event) {
		events = append(events, e)
	}); err != nil {
		t.Fatalf("HandleMessage(%q) err: %v", text, err)
	}
	return events
}

func checkInvariant(t *testing.T, svc *Service, sessionID string) review.Session {
	t.Helper()
	sess, err := svc.GetSession(sessionID)
	if err != nil {
		t.Fatalf("GetSession err: %v", err)
	}
	if len(sess.Approved) > sess.CurrentIndex || sess.CurrentIndex > len(sess.Questions) {
		t.Fatalf("invariant violated: approved=%d index=%d questions=%d",
			len(sess.Approved), sess.CurrentIndex, len(sess.Questions))
	}
	return sess
}

func TestStartEmptyQuestions(t *testing.T) {
	svc, _ := newTestService(t, nil, &recordingSink{})
	_, _, err := svc.Start(context.Background(), StartParams{Model: "test-model", Disclosure: "d"})
	if !errors.Is(err, ErrNoQuestions) {
		t.Fatalf("expected ErrNoQuestions, got %v", err)
	}
}

func TestStartUnknownModel(t *testing.T) {
	svc, _ := newTestService(t, nil, &recordingSink{})
	_, _, err := svc.Start(context.Background(), StartParams{
		Questions: []string{"Q1"}, Model: "bogus", Disclosure: "d",
	})
	if !errors.Is(err, ErrUnknownModel) {
		t.Fatalf("expected ErrUnknownModel, got %v", err)
	}
}

func TestStartMissingDisclosure(t *testing.T) {
	svc, _ := newTestService(t, nil, &recordingSink{})
	_, _, err := svc.Start(context.Background(), StartParams{
		Questions: []string{"Q1"}, Model: "test-model",
	})
	if !errors.Is(err, ErrNoDisclosure) {
		t.Fatalf("expected ErrNoDisclosure, got %v", err)
	}
}

func TestStartPositionsAtFirstQuestion(t *testing.T) {
	svc, _ := newTestService(t, nil, &recordingSink{})
	session := startSession(t, svc, []string{"Q1", "Q2"})

	if session.Phase != review.PhaseAsking {
		t.Fatalf("expected asking phase, got %s", session.Phase)
	}
	if session.CurrentIndex != 0 || len(session.Approved) != 0 {
		t.Fatalf("unexpected initial position: index=%d approved=%d", session.CurrentIndex, len(session.Approved))
	}

	transcript, err := svc.Transcript(session.ID)
	if err != nil {
		t.Fatalf("Transcript err: %v", err)
	}
	if len(transcript) != 1 || !strings.Contains(transcript[0].Content, "Question 1 of 2") {
		t.Fatalf("expected intro turn naming the first question, got %+v", transcript)
	}
}

func TestEndToEndApproveFlow(t *testing.T) {
	sink := &recordingSink{}
	svc, _ := newTestService(t, [][]string{{"A", "1"}, {"A2"}}, sink)
	session := startSession(t, svc, []string{"Q1", "Q2"})

	events := drive(t, svc, session.ID, "")
	var deltas []string
	for _, e := range events {
		if e.Type == EventDelta {
			deltas = append(deltas, e.Content)
		}
	}
	if strings.Join(deltas, "") != "A1" {
		t.Fatalf("expected relayed fragments A1, got %q", strings.Join(deltas, ""))
	}

	sess := checkInvariant(t, svc, session.ID)
	if sess.Phase != review.PhaseAwaitingFeedback || sess.CurrentAnswer != "A1" {
		t.Fatalf("expected awaiting_feedback with answer A1, got phase=%s answer=%q", sess.Phase, sess.CurrentAnswer)
	}

	drive(t, svc, session.ID, "yes")
	sess = checkInvariant(t, svc, session.ID)
	if sess.Phase != review.PhaseAsking || sess.CurrentIndex != 1 {
		t.Fatalf("expected asking at index 1, got phase=%s index=%d", sess.Phase, sess.CurrentIndex)
	}

	drive(t, svc, session.ID, "")
	events = drive(t, svc, session.ID, "yes")

	sess = checkInvariant(t, svc, session.ID)
	if sess.Phase != review.PhaseDone {
		t.Fatalf("expected done, got %s", sess.Phase)
	}
	if sess.CurrentIndex != len(sess.Questions) {
		t.Fatalf("expected index %d, got %d", len(sess.Questions), sess.CurrentIndex)
	}

	want := []review.QAPair{{Question: "Q1", Answer: "A1"}, {Question: "Q2", Answer: "A2"}}
	if len(sess.Approved) != len(want) {
		t.Fatalf("expected %d approved pairs, got %d", len(want), len(sess.Approved))
	}
	for i, pair := range want {
		if sess.Approved[i] != pair {
			t.Fatalf("approved[%d] = %+v, want %+v", i, sess.Approved[i], pair)
		}
	}

	if len(sink.calls) != 1 {
		t.Fatalf("expected exactly one sink write, got %d", len(sink.calls))
	}
	for i, pair := range want {
		if sink.calls[0].pairs[i] != pair {
			t.Fatalf("sink pairs[%d] = %+v, want %+v", i, sink.calls[0].pairs[i], pair)
		}
	}

	var reported bool
	for _, e := range events {
		if e.Type == EventReport {
			reported = true
			if e.Path != sess.OutputPath {
				t.Fatalf("report path = %q, want %q", e.Path, sess.OutputPath)
			}
		}
	}
	if !reported {
		t.Fatal("expected a report event at completion")
	}
}

func TestRejectRetriesSameQuestion(t *testing.T) {
	sink := &recordingSink{}
	svc, streamer := newTestService(t, [][]string{{"A1"}, {"A1-revised"}}, sink)
	session := startSession(t, svc, []string{"Q1", "Q2"})

	drive(t, svc, session.ID, "")
	drive(t, svc, session.ID, "no")

	sess := checkInvariant(t, svc, session.ID)
	if sess.Phase != review.PhaseAsking || sess.CurrentIndex != 0 {
		t.Fatalf("expected asking at index 0 after reject, got phase=%s index=%d", sess.Phase, sess.CurrentIndex)
	}
	if sess.CurrentAnswer != "" || len(sess.Approved) != 0 {
		t.Fatalf("reject must clear the answer and leave approved untouched: answer=%q approved=%d",
			sess.CurrentAnswer, len(sess.Approved))
	}

	drive(t, svc, session.ID, "here is more context")
	if streamer.contexts[1] != "here is more context" {
		t.Fatalf("retry did not carry reviewer context: %q", streamer.contexts[1])
	}

	drive(t, svc, session.ID, "yes")
	sess = checkInvariant(t, svc, session.ID)
	if len(sess.Approved) != 1 || sess.Approved[0] != (review.QAPair{Question: "Q1", Answer: "A1-revised"}) {
		t.Fatalf("expected approved [Q1/A1-revised], got %+v", sess.Approved)
	}
	if sess.CurrentIndex != 1 {
		t.Fatalf("expected index 1 after approving revision, got %d", sess.CurrentIndex)
	}
	if len(sink.calls) != 0 {
		t.Fatalf("sink must not be invoked before the final affirmation, got %d calls", len(sink.calls))
	}
}

func TestGenerationFailureKeepsAsking(t *testing.T) {
	svc, _ := newTestService(t, [][]string{{"partial ", "ERR:model unavailable"}, {"A1"}}, &recordingSink{})
	session := startSession(t, svc, []string{"Q1"})

	events := drive(t, svc, session.ID, "")
	var sawError bool
	for _, e := range events {
		if e.Type == EventTurn && strings.Contains(e.Content, "Error generating answer") {
			sawError = true
		}
	}
	if !sawError {
		t.Fatal("expected a visible generation error turn")
	}

	sess := checkInvariant(t, svc, session.ID)
	if sess.Phase != review.PhaseAsking || sess.CurrentIndex != 0 || len(sess.Approved) != 0 {
		t.Fatalf("failure must leave the session retryable: phase=%s index=%d approved=%d",
			sess.Phase, sess.CurrentIndex, len(sess.Approved))
	}
	if sess.CurrentAnswer != "" {
		t.Fatalf("partial text must not be committed, got %q", sess.CurrentAnswer)
	}

	// The same question can be retried with a fresh generation.
	drive(t, svc, session.ID, "")
	sess = checkInvariant(t, svc, session.ID)
	if sess.Phase != review.PhaseAwaitingFeedback || sess.CurrentAnswer != "A1" {
		t.Fatalf("retry did not recover: phase=%s answer=%q", sess.Phase, sess.CurrentAnswer)
	}
}

func TestFeedbackRemindersKeepAwaiting(t *testing.T) {
	svc, _ := newTestService(t, [][]string{{"A1"}}, &recordingSink{})
	session := startSession(t, svc, []string{"Q1"})
	drive(t, svc, session.ID, "")

	for _, fb := range []string{"", "maybe"} {
		drive(t, svc, session.ID, fb)
		sess := checkInvariant(t, svc, session.ID)
		if sess.Phase != review.PhaseAwaitingFeedback {
			t.Fatalf("feedback %q must keep awaiting_feedback, got %s", fb, sess.Phase)
		}
		if sess.CurrentAnswer != "A1" {
			t.Fatalf("pending answer lost on feedback %q", fb)
		}
	}
}

func TestDoneSessionInformsCompletion(t *testing.T) {
	sink := &recordingSink{}
	svc, _ := newTestService(t, [][]string{{"A1"}}, sink)
	session := startSession(t, svc, []string{"Q1"})
	drive(t, svc, session.ID, "")
	drive(t, svc, session.ID, "yes")

	events := drive(t, svc, session.ID, "anything")
	var informed bool
	for _, e := range events {
		if e.Type == EventTurn && e.Role == "assistant" && strings.Contains(e.Content, "complete") {
			informed = true
		}
	}
	if !informed {
		t.Fatal("expected an informative completion turn")
	}
	if len(sink.calls) != 1 {
		t.Fatalf("sink must stay at one invocation, got %d", len(sink.calls))
	}

	sess := checkInvariant(t, svc, session.ID)
	if sess.Phase != review.PhaseDone {
		t.Fatalf("done is terminal, got %s", sess.Phase)
	}
}

func TestReportWriteFailureStillCompletes(t *testing.T) {
	sink := &recordingSink{err: errors.New("disk full")}
	svc, _ := newTestService(t, [][]string{{"A1"}}, sink)
	session := startSession(t, svc, []string{"Q1"})
	drive(t, svc, session.ID, "")

	events := drive(t, svc, session.ID, "yes")
	var sawFailure, sawReport bool
	for _, e := range events {
		if e.Type == EventTurn && strings.Contains(e.Content, "Failed to save") {
			sawFailure = true
		}
		if e.Type == EventReport {
			sawReport = true
		}
	}
	if !sawFailure {
		t.Fatal("expected a distinct persistence failure turn")
	}
	if sawReport {
		t.Fatal("no report event when the write failed")
	}

	sess := checkInvariant(t, svc, session.ID)
	if sess.Phase != review.PhaseDone || len(sess.Approved) != 1 {
		t.Fatalf("session must still complete with the full approved list: phase=%s approved=%d",
			sess.Phase, len(sess.Approved))
	}
}

func TestHandleMessageUnknownSession(t *testing.T) {
	svc, _ := newTestService(t, nil, &recordingSink{})
	err := svc.HandleMessage(context.Background(), "missing", "hello", nil)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}
