// Package engine contains the economy ledger, the bonus scheduler and the tick loop.
//
// ARCHITECTURAL RULE: only the Ledger mutates player state. Every other system
// (ticker, bonus scheduler, transports) goes through its operations, and every
// mutation is announced on the EventLog.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math/rand"
	"regexp"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MRamiBalles/CheeseClicker/server/internal/events"
	"github.com/MRamiBalles/CheeseClicker/server/internal/gate"
	"github.com/MRamiBalles/CheeseClicker/server/internal/infra/storage"
	"github.com/MRamiBalles/CheeseClicker/server/internal/platform/config"
	"github.com/MRamiBalles/CheeseClicker/server/internal/platform/logger"
	"github.com/MRamiBalles/CheeseClicker/server/internal/platform/metrics"
)

// Options wires an Engine. Only Config is required in practice.
type Options struct {
	Config     *config.Config
	Repository storage.StateRepository   // nil keeps progress in memory
	Journal    storage.JournalRepository // nil disables the history
	Gate       gate.Gate                 // Overrides Config.Gate.Mode
	EventLog   *events.EventLog
	Logger     *logger.Logger
	Metrics    *metrics.Collector
}

// Engine is the central orchestrator that wires the ledger to its clocks, gate and storage.
type Engine struct {
	cfg      *config.Config
	eventLog *events.EventLog
	logger   *logger.Logger
	metrics  *metrics.Collector

	// Sub-systems
	ledger  *Ledger
	bonus   *BonusSystem
	ticker  *Ticker
	saver   *Saver
	journal *Journal
	quiz    *gate.QuizGate // nil unless the gate runs in quiz mode
}

// NewEngine initializes the economy systems and their dependencies.
func NewEngine(opts Options) (*Engine, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	catalog, err := cfg.UpgradeCatalog()
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		eventLog: opts.EventLog,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
	if e.eventLog == nil {
		e.eventLog = events.NewEventLog(cfg.Server.EventLogCapacity)
	}
	if e.logger == nil {
		e.logger = logger.NewNop()
	}
	if e.metrics == nil {
		e.metrics = metrics.New()
	}

	seed := cfg.Bonus.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	g := opts.Gate
	if g == nil {
		g = e.buildGate(rand.New(rand.NewSource(seed + 2)))
	}

	repo := opts.Repository
	if repo == nil {
		repo = storage.NewMemoryStateRepository()
	}
	e.saver = NewSaver(repo, cfg.Storage.Slot, cfg.Storage.SaveTimeout, e.logger, e.metrics)

	e.ledger = NewLedger(LedgerOptions{
		Catalog:     catalog,
		Params:      cfg.Economy,
		Gate:        g,
		GateTimeout: cfg.Gate.Timeout,
		EventLog:    e.eventLog,
		Logger:      e.logger,
		Metrics:     e.metrics,
		Saver:       e.saver,
		Rand:        rand.New(rand.NewSource(seed + 1)),
	})
	e.bonus = NewBonusSystem(cfg.Bonus, e.ledger, rand.New(rand.NewSource(seed)), e.eventLog, e.logger, e.metrics)
	e.ticker = NewTicker(e.ledger, cfg.Tick, e.logger, e.metrics)
	if opts.Journal != nil {
		e.journal = NewJournal(opts.Journal, cfg.Storage.Slot, e.logger)
	}
	return e, nil
}

func (e *Engine) buildGate(rng *rand.Rand) gate.Gate {
	switch e.cfg.Gate.Mode {
	case config.GateModeApprove:
		return gate.Static(gate.Approved)
	case config.GateModeReject:
		return gate.Static(gate.Rejected)
	}

	bank := gate.DefaultBank()
	if dir := e.cfg.Gate.QuestionsDir; dir != "" {
		loaded, err := gate.LoadBank(dir, e.cfg.Gate.Language)
		if err != nil {
			e.logger.Warnf("Using built-in questions: %v", err)
		} else {
			bank = loaded
		}
	}
	e.logger.Infof("Quiz gate ready with %d %s questions", bank.Len(), bank.Language)

	e.quiz = gate.NewQuizGate(bank, gate.QuizOptions{
		EmptyPolicy: gate.EmptyPolicy(e.cfg.Gate.EmptyPolicy),
		AnswerDelay: e.cfg.Gate.AnswerDelay,
		Rand:        rng,
		OnPrompt: func(p gate.Prompt) {
			e.eventLog.Emit(events.EventTypeGatePrompt, events.ActorGate, p.ID, p)
		},
		OnResolve: func(r gate.Resolution) {
			e.eventLog.Emit(events.EventTypeGateResolved, events.ActorPlayer, r.PromptID, r)
		},
	})
	return e.quiz
}

// Load restores the configured save slot. A missing or unreadable slot starts a fresh game;
// it reports whether saved progress was applied.
func (e *Engine) Load(ctx context.Context) bool {
	saved, err := e.saver.Load(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		e.logger.Info("No saved progress for slot " + e.cfg.Storage.Slot + ", starting fresh")
		return false
	case err != nil:
		e.metrics.RecordLoadError()
		e.logger.Errorf("Failed to load slot %s, starting fresh: %v", e.cfg.Storage.Slot, err)
		return false
	}
	restoreSaved(e.ledger, saved)
	return true
}

// Run drives the ticker, the bonus scheduler and the journal until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("Starting economy engine...")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		e.ticker.Start(ctx)
		return nil
	})
	if e.cfg.Bonus.Enabled {
		g.Go(func() error {
			e.bonus.Start(ctx)
			return nil
		})
	}
	if e.journal != nil {
		g.Go(func() error {
			e.journal.Run(ctx, e.eventLog)
			return nil
		})
	}
	return g.Wait()
}

// AnswerGate answers an open quiz prompt.
func (e *Engine) AnswerGate(promptID string, choice int) (gate.Resolution, error) {
	if e.quiz == nil {
		return gate.Resolution{}, ErrGateUnavailable
	}
	return e.quiz.Answer(promptID, choice)
}

// LanguageResult is returned for CmdSetLanguage.
type LanguageResult struct {
	Language  string `json:"language"`
	Questions int    `json:"questions"`
}

// languagePattern keeps language codes out of path syntax.
var languagePattern = regexp.MustCompile(`^[a-z]{2,3}(-[A-Za-z0-9]{2,8})?$`)

// SetLanguage switches the quiz to questions_<lang>.json from the questions directory.
// English falls back to the built-in bank. Open prompts keep their question.
func (e *Engine) SetLanguage(lang string) (LanguageResult, error) {
	if e.quiz == nil {
		return LanguageResult{}, ErrGateUnavailable
	}
	if !languagePattern.MatchString(lang) {
		return LanguageResult{}, fmt.Errorf("%w: %q", ErrUnknownLanguage, lang)
	}

	var bank *gate.Bank
	if dir := e.cfg.Gate.QuestionsDir; dir != "" {
		loaded, err := gate.LoadBank(dir, lang)
		switch {
		case err == nil:
			bank = loaded
		case !errors.Is(err, fs.ErrNotExist):
			return LanguageResult{}, err
		}
	}
	if bank == nil {
		if lang != gate.DefaultLanguage {
			return LanguageResult{}, fmt.Errorf("%w: %q", ErrUnknownLanguage, lang)
		}
		bank = gate.DefaultBank()
	}

	e.quiz.SetBank(bank)
	e.logger.Infof("Quiz gate switched to %d %s questions", bank.Len(), bank.Language)
	return LanguageResult{Language: bank.Language, Questions: bank.Len()}, nil
}

// GatePrompts lists open quiz prompts.
func (e *Engine) GatePrompts() []gate.Prompt {
	if e.quiz == nil {
		return []gate.Prompt{}
	}
	return e.quiz.Pending()
}

// Ledger exposes the economy ledger.
func (e *Engine) Ledger() *Ledger {
	return e.ledger
}

// Bonus exposes the bonus scheduler for API endpoints.
func (e *Engine) Bonus() *BonusSystem {
	return e.bonus
}

// Journal exposes the economy history, nil when disabled.
func (e *Engine) Journal() *Journal {
	return e.journal
}

// Ticker exposes the tick loop.
func (e *Engine) Ticker() *Ticker {
	return e.ticker
}

// GetEventLog exposes the event log for the transports.
func (e *Engine) GetEventLog() *events.EventLog {
	return e.eventLog
}

// Metrics exposes the collector the engine records into.
func (e *Engine) Metrics() *metrics.Collector {
	return e.metrics
}

// Config returns the configuration the engine was built with.
func (e *Engine) Config() *config.Config {
	return e.cfg
}
