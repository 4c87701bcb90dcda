package gate

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func singleQuestionBank() *Bank {
	correct := 1
	return &Bank{Language: "en", Questions: []Question{
		{Question: "Best cheese?", Options: []string{"Plastic", "Gouda", "Chalk"}, Correct: &correct},
	}}
}

func newTestGate(bank *Bank, prompts chan Prompt) *QuizGate {
	return NewQuizGate(bank, QuizOptions{
		Rand:     rand.New(rand.NewSource(1)),
		OnPrompt: func(p Prompt) { prompts <- p },
	})
}

func TestQuizGateCorrectAnswerApproves(t *testing.T) {
	prompts := make(chan Prompt, 1)
	g := newTestGate(singleQuestionBank(), prompts)

	done := make(chan Outcome, 1)
	go func() {
		outcome, err := g.RequestApproval(context.Background(), Request{Action: ActionLevelUp, Cost: 50})
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		done <- outcome
	}()

	p := <-prompts
	if p.Request.Cost != 50 || len(p.Options) != 3 {
		t.Fatalf("unexpected prompt: %+v", p)
	}
	if got := len(g.Pending()); got != 1 {
		t.Errorf("Expected 1 pending prompt, got %d", got)
	}

	res, err := g.Answer(p.ID, 1)
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if res.Outcome != Approved {
		t.Errorf("Expected approval, got %v", res.Outcome)
	}
	if outcome := <-done; outcome != Approved {
		t.Errorf("Caller received %v", outcome)
	}
	if got := len(g.Pending()); got != 0 {
		t.Errorf("Expected no pending prompts, got %d", got)
	}
}

func TestQuizGateWrongAnswerRejects(t *testing.T) {
	prompts := make(chan Prompt, 1)
	g := newTestGate(singleQuestionBank(), prompts)

	done := make(chan Outcome, 1)
	go func() {
		outcome, _ := g.RequestApproval(context.Background(), Request{Action: ActionBuyUpgrade, Target: "pointer", Cost: 15})
		done <- outcome
	}()

	p := <-prompts
	res, err := g.Answer(p.ID, 0)
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if res.Outcome != Rejected || res.Correct != 1 {
		t.Errorf("unexpected resolution: %+v", res)
	}
	if outcome := <-done; outcome != Rejected {
		t.Errorf("Caller received %v", outcome)
	}

	if _, err := g.Answer(p.ID, 1); !errors.Is(err, ErrPromptNotFound) {
		t.Errorf("Second answer should fail with ErrPromptNotFound, got %v", err)
	}
}

func TestQuizGateInvalidChoiceKeepsPrompt(t *testing.T) {
	prompts := make(chan Prompt, 1)
	g := newTestGate(singleQuestionBank(), prompts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.RequestApproval(ctx, Request{Action: ActionLevelUp})

	p := <-prompts
	if _, err := g.Answer(p.ID, 7); !errors.Is(err, ErrInvalidChoice) {
		t.Errorf("Expected ErrInvalidChoice, got %v", err)
	}
	if len(g.Pending()) != 1 {
		t.Errorf("Prompt should stay open after an invalid choice")
	}
}

func TestQuizGateCancelAbandonsPrompt(t *testing.T) {
	prompts := make(chan Prompt, 1)
	g := newTestGate(singleQuestionBank(), prompts)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := g.RequestApproval(ctx, Request{Action: ActionLevelUp})
		errCh <- err
	}()

	<-prompts
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if len(g.Pending()) != 0 {
		t.Errorf("Abandoned prompt should be removed")
	}
}

func TestQuizGateSetBankKeepsOpenPrompt(t *testing.T) {
	prompts := make(chan Prompt, 1)
	g := newTestGate(singleQuestionBank(), prompts)

	done := make(chan Outcome, 1)
	go func() {
		outcome, _ := g.RequestApproval(context.Background(), Request{Action: ActionLevelUp})
		done <- outcome
	}()
	first := <-prompts

	correct := 0
	g.SetBank(&Bank{Language: "es", Questions: []Question{
		{Question: "¿Mejor queso?", Options: []string{"Manchego", "Tiza"}, Correct: &correct},
	}})

	// The open prompt is still graded against the question it showed.
	if res, err := g.Answer(first.ID, 1); err != nil || res.Outcome != Approved {
		t.Fatalf("Answer = %+v, %v", res, err)
	}
	<-done

	go g.RequestApproval(context.Background(), Request{Action: ActionLevelUp})
	next := <-prompts
	if next.Question != "¿Mejor queso?" {
		t.Errorf("Expected a question from the new bank, got %q", next.Question)
	}
	if _, err := g.Answer(next.ID, 0); err != nil {
		t.Errorf("Answer failed: %v", err)
	}
}

func TestQuizGateEmptyBankPolicies(t *testing.T) {
	empty := &Bank{}

	g := NewQuizGate(empty, QuizOptions{EmptyPolicy: EmptyApprove})
	if out, err := g.RequestApproval(context.Background(), Request{}); err != nil || out != Approved {
		t.Errorf("approve policy: got %v, %v", out, err)
	}

	g = NewQuizGate(empty, QuizOptions{EmptyPolicy: EmptyReject})
	if out, err := g.RequestApproval(context.Background(), Request{}); err != nil || out != Rejected {
		t.Errorf("reject policy: got %v, %v", out, err)
	}

	g = NewQuizGate(empty, QuizOptions{EmptyPolicy: EmptyPending})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := g.RequestApproval(ctx, Request{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("pending policy: expected deadline exceeded, got %v", err)
	}
}

func TestStaticAndFuncGates(t *testing.T) {
	if out, _ := Static(Rejected).RequestApproval(context.Background(), Request{}); out != Rejected {
		t.Errorf("Static gate returned %v", out)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Static(Approved).RequestApproval(ctx, Request{}); err == nil {
		t.Errorf("Static gate should honour a done context")
	}

	var seen Request
	f := Func(func(_ context.Context, req Request) (Outcome, error) {
		seen = req
		return Approved, nil
	})
	f.RequestApproval(context.Background(), Request{Action: ActionBuyUpgrade, Cost: 9})
	if seen.Cost != 9 {
		t.Errorf("Func gate did not receive the request")
	}
}

func TestDefaultBankLoads(t *testing.T) {
	bank := DefaultBank()
	if bank.Len() == 0 {
		t.Fatal("Embedded question bank is empty")
	}
	for _, q := range bank.Questions {
		if a := q.Answer(); a < 0 || a >= len(q.Options) {
			t.Errorf("Question %q has invalid answer %d", q.Question, a)
		}
	}
}

func TestLoadBankAcceptsBothAnswerFields(t *testing.T) {
	dir := t.TempDir()
	body := `{"questions":[
		{"question":"Q1","options":["a","b"],"correct":1},
		{"question":"Q2","options":["a","b","c"],"correctIndex":2},
		{"question":"broken","options":["a"],"correct":0},
		{"question":"out of range","options":["a","b"],"correct":5}
	]}`
	if err := os.WriteFile(filepath.Join(dir, "questions_es.json"), []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	bank, err := LoadBank(dir, "es")
	if err != nil {
		t.Fatalf("LoadBank failed: %v", err)
	}
	if bank.Len() != 2 {
		t.Fatalf("Expected 2 valid questions, got %d", bank.Len())
	}
	if bank.Questions[1].Answer() != 2 {
		t.Errorf("correctIndex not honoured")
	}
	if _, err := LoadBank(dir, "fr"); err == nil {
		t.Errorf("Expected error for missing language file")
	}
}
