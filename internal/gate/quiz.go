package gate

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EmptyPolicy decides what a quiz gate does when its bank has no questions.
type EmptyPolicy string

const (
	EmptyApprove EmptyPolicy = "approve"
	EmptyReject  EmptyPolicy = "reject"
	EmptyPending EmptyPolicy = "pending" // Block until ctx is done
)

// Prompt is a question waiting for the player's answer.
type Prompt struct {
	ID       string    `json:"id"`
	Question string    `json:"question"`
	Options  []string  `json:"options"`
	Request  Request   `json:"request"`
	IssuedAt time.Time `json:"issued_at"`
}

// Resolution reports how a prompt was answered.
type Resolution struct {
	PromptID string  `json:"prompt_id"`
	Choice   int     `json:"choice"`
	Correct  int     `json:"correct"`
	Outcome  Outcome `json:"outcome"`
}

// QuizOptions configures a QuizGate.
type QuizOptions struct {
	EmptyPolicy EmptyPolicy
	AnswerDelay time.Duration // Pause between the answer and the outcome reaching the caller
	Rand        *rand.Rand
	OnPrompt    func(Prompt)
	OnResolve   func(Resolution)
}

type pendingPrompt struct {
	prompt  Prompt
	correct int
	result  chan Outcome
}

// QuizGate approves a spend when the player answers a random question correctly.
type QuizGate struct {
	mu      sync.Mutex
	bank    *Bank
	rng     *rand.Rand
	pending map[string]*pendingPrompt
	opts    QuizOptions
}

// NewQuizGate creates a gate drawing from bank.
func NewQuizGate(bank *Bank, opts QuizOptions) *QuizGate {
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if opts.EmptyPolicy == "" {
		opts.EmptyPolicy = EmptyApprove
	}
	return &QuizGate{
		bank:    bank,
		rng:     opts.Rand,
		pending: make(map[string]*pendingPrompt),
		opts:    opts,
	}
}

// SetBank swaps the question bank, e.g. after a language change. Open prompts keep their question.
func (g *QuizGate) SetBank(bank *Bank) {
	g.mu.Lock()
	g.bank = bank
	g.mu.Unlock()
}

// RequestApproval issues a prompt and blocks until it is answered or ctx is done.
func (g *QuizGate) RequestApproval(ctx context.Context, req Request) (Outcome, error) {
	g.mu.Lock()
	if g.bank.Len() == 0 {
		g.mu.Unlock()
		switch g.opts.EmptyPolicy {
		case EmptyReject:
			return Rejected, nil
		case EmptyPending:
			<-ctx.Done()
			return "", ctx.Err()
		default:
			return Approved, nil
		}
	}

	q := g.bank.Questions[g.rng.Intn(len(g.bank.Questions))]
	p := &pendingPrompt{
		prompt: Prompt{
			ID:       uuid.New().String(),
			Question: q.Question,
			Options:  append([]string(nil), q.Options...),
			Request:  req,
			IssuedAt: time.Now(),
		},
		correct: q.Answer(),
		result:  make(chan Outcome, 1),
	}
	g.pending[p.prompt.ID] = p
	g.mu.Unlock()

	if g.opts.OnPrompt != nil {
		g.opts.OnPrompt(p.prompt)
	}

	select {
	case outcome := <-p.result:
		if g.opts.AnswerDelay > 0 {
			timer := time.NewTimer(g.opts.AnswerDelay)
			defer timer.Stop()
			<-timer.C
		}
		return outcome, nil
	case <-ctx.Done():
		g.mu.Lock()
		delete(g.pending, p.prompt.ID)
		g.mu.Unlock()
		// An answer may have raced the cancellation.
		select {
		case outcome := <-p.result:
			return outcome, nil
		default:
		}
		return "", ctx.Err()
	}
}

// Answer resolves an open prompt with the chosen option index.
func (g *QuizGate) Answer(promptID string, choice int) (Resolution, error) {
	g.mu.Lock()
	p, ok := g.pending[promptID]
	if !ok {
		g.mu.Unlock()
		return Resolution{}, ErrPromptNotFound
	}
	if choice < 0 || choice >= len(p.prompt.Options) {
		g.mu.Unlock()
		return Resolution{}, ErrInvalidChoice
	}
	delete(g.pending, promptID)
	g.mu.Unlock()

	res := Resolution{PromptID: promptID, Choice: choice, Correct: p.correct, Outcome: Rejected}
	if choice == p.correct {
		res.Outcome = Approved
	}
	p.result <- res.Outcome

	if g.opts.OnResolve != nil {
		g.opts.OnResolve(res)
	}
	return res, nil
}

// Pending returns open prompts, oldest first.
func (g *QuizGate) Pending() []Prompt {
	g.mu.Lock()
	out := make([]Prompt, 0, len(g.pending))
	for _, p := range g.pending {
		out = append(out, p.prompt)
	}
	g.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.Before(out[j].IssuedAt) })
	return out
}
