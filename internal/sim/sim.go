// Package sim runs the economy headless in virtual time so balance changes can be judged
// without playing. A bot clicks at a fixed rate and spends according to a Strategy.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/MRamiBalles/CheeseClicker/server/internal/domain/rules"
	"github.com/MRamiBalles/CheeseClicker/server/internal/domain/upgrade"
	"github.com/MRamiBalles/CheeseClicker/server/internal/engine"
	"github.com/MRamiBalles/CheeseClicker/server/internal/events"
	"github.com/MRamiBalles/CheeseClicker/server/internal/gate"
	"github.com/MRamiBalles/CheeseClicker/server/internal/platform/config"
	"github.com/MRamiBalles/CheeseClicker/server/internal/platform/logger"
)

// Strategy decides what the bot buys next.
type Strategy string

const (
	// StrategyCheapest buys whatever is cheapest, level-ups included.
	StrategyCheapest Strategy = "cheapest"
	// StrategyRatio saves for the best income gained per cheese spent.
	StrategyRatio Strategy = "ratio"
)

// maxSpendsPerStep stops a rich bot from looping forever inside one step.
const maxSpendsPerStep = 64

// Options configures a run. Zero values get defaults.
type Options struct {
	Config          *config.Config
	Duration        time.Duration // Virtual time to simulate
	Step            time.Duration // Virtual time per tick, default 1s
	ClicksPerSecond float64
	Strategy        Strategy
	Gate            gate.Gate // Default approves everything
	Seed            int64
	Logger          *logger.Logger
}

// Milestone records reaching a level.
type Milestone struct {
	At    time.Duration `json:"at"`
	Level int           `json:"level"`
	CPS   int64         `json:"cps"`
	CPC   int64         `json:"cpc"`
}

// Report summarizes a run.
type Report struct {
	Strategy   Strategy            `json:"strategy"`
	Duration   time.Duration       `json:"duration"`
	Steps      int64               `json:"steps"`
	Clicks     int64               `json:"clicks"`
	Purchases  map[upgrade.Key]int `json:"purchases"`
	LevelUps   int                 `json:"level_ups"`
	Rejections int                 `json:"rejections"`
	Spent      int64               `json:"spent"`
	Penalties  float64             `json:"penalties"`
	Final      engine.Snapshot     `json:"final"`
	Milestones []Milestone         `json:"milestones"`
}

// candidate is one thing the bot could spend on.
type candidate struct {
	levelUp bool
	key     upgrade.Key
	cost    int64
	gain    float64 // Cheese per second added by buying it
}

// Run simulates opts.Duration of play and returns the report. It stops early with ctx's
// error if ctx ends.
func Run(ctx context.Context, opts Options) (*Report, error) {
	if opts.Config == nil {
		opts.Config = config.DefaultConfig()
	}
	if opts.Step <= 0 {
		opts.Step = time.Second
	}
	if opts.Strategy == "" {
		opts.Strategy = StrategyCheapest
	}
	if opts.Strategy != StrategyCheapest && opts.Strategy != StrategyRatio {
		return nil, fmt.Errorf("unknown strategy %q", opts.Strategy)
	}
	if opts.Gate == nil {
		opts.Gate = gate.Static(gate.Approved)
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.ClicksPerSecond < 0 {
		return nil, errors.New("clicks per second must not be negative")
	}

	catalog, err := opts.Config.UpgradeCatalog()
	if err != nil {
		return nil, err
	}
	ledger := engine.NewLedger(engine.LedgerOptions{
		Catalog:  catalog,
		Params:   opts.Config.Economy,
		Gate:     opts.Gate,
		EventLog: events.NewEventLog(16),
		Logger:   opts.Logger,
		Rand:     rand.New(rand.NewSource(opts.Seed)),
	})

	b := &bot{
		ledger:   ledger,
		params:   opts.Config.Economy,
		strategy: opts.Strategy,
		cps:      opts.ClicksPerSecond,
		report: &Report{
			Strategy:  opts.Strategy,
			Duration:  opts.Duration,
			Purchases: make(map[upgrade.Key]int),
		},
	}

	step := opts.Step.Seconds()
	var clickDebt float64
	for elapsed := time.Duration(0); elapsed < opts.Duration; elapsed += opts.Step {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		clickDebt += opts.ClicksPerSecond * step
		for clickDebt >= 1 {
			ledger.RegisterClick()
			b.report.Clicks++
			clickDebt--
		}
		ledger.Tick(step)
		b.report.Steps++

		if err := b.spend(ctx, elapsed+opts.Step); err != nil {
			return nil, err
		}
	}

	b.report.Final = ledger.Snapshot()
	opts.Logger.Infof("Simulated %v with %s: level %d, %s cheese", opts.Duration, opts.Strategy,
		b.report.Final.Level, humanize.Comma(int64(b.report.Final.Score)))
	return b.report, nil
}

type bot struct {
	ledger   *engine.Ledger
	params   rules.Params
	strategy Strategy
	cps      float64 // Clicks per second
	report   *Report
}

// spend buys until the chosen candidate is unaffordable or the gate refuses.
func (b *bot) spend(ctx context.Context, at time.Duration) error {
	for i := 0; i < maxSpendsPerStep; i++ {
		snap := b.ledger.Snapshot()
		c, ok := b.choose(snap)
		if !ok || snap.Score < float64(c.cost) {
			return nil
		}

		var res engine.SpendResult
		var err error
		if c.levelUp {
			res, err = b.ledger.LevelUp(ctx)
		} else {
			res, err = b.ledger.BuyUpgrade(ctx, c.key)
		}
		if err != nil {
			return fmt.Errorf("failed to spend at %v: %w", at, err)
		}

		if res.Outcome == gate.Rejected {
			b.report.Rejections++
			b.report.Penalties += res.Penalty
			return nil
		}
		b.report.Spent += res.Cost
		if c.levelUp {
			b.report.LevelUps++
			after := b.ledger.Snapshot()
			b.report.Milestones = append(b.report.Milestones, Milestone{
				At: at, Level: after.Level, CPS: after.CPS, CPC: after.CPC,
			})
		} else {
			b.report.Purchases[c.key]++
		}
	}
	return nil
}

func (b *bot) choose(snap engine.Snapshot) (candidate, bool) {
	cands := b.candidates(snap)
	if len(cands) == 0 {
		return candidate{}, false
	}
	best := cands[0]
	for _, c := range cands[1:] {
		switch b.strategy {
		case StrategyRatio:
			if c.gain*float64(best.cost) > best.gain*float64(c.cost) {
				best = c
			}
		default:
			if c.cost < best.cost {
				best = c
			}
		}
	}
	return best, true
}

func (b *bot) candidates(snap engine.Snapshot) []candidate {
	level := candidate{
		levelUp: true,
		cost:    snap.LevelCost,
		gain: float64(rules.CalculateCPS(b.params, snap.Level+1, 0)-rules.CalculateCPS(b.params, snap.Level, 0)) +
			b.cps*float64(rules.CalculateCPC(b.params, snap.Level+1, 0)-rules.CalculateCPC(b.params, snap.Level, 0)),
	}
	out := []candidate{level}
	for _, v := range snap.Upgrades {
		if v.Maxed || v.NextCost <= 0 {
			continue
		}
		out = append(out, candidate{
			key:  v.Key,
			cost: v.NextCost,
			gain: float64(v.NextCPS) + b.cps*float64(v.NextCPC),
		})
	}
	return out
}

// Format renders the report for a terminal.
func (r *Report) Format() string {
	var sb strings.Builder
	line := strings.Repeat("=", 48)

	fmt.Fprintln(&sb, line)
	fmt.Fprintf(&sb, "BALANCE SIMULATION (%s, %v)\n", r.Strategy, r.Duration)
	fmt.Fprintln(&sb, line)
	fmt.Fprintf(&sb, "Steps:       %s\n", humanize.Comma(r.Steps))
	fmt.Fprintf(&sb, "Clicks:      %s\n", humanize.Comma(r.Clicks))
	fmt.Fprintf(&sb, "Level:       %d (%d level-ups)\n", r.Final.Level, r.LevelUps)
	fmt.Fprintf(&sb, "Score:       %s\n", humanize.Comma(int64(r.Final.Score)))
	fmt.Fprintf(&sb, "CPS / CPC:   %s / %s\n", humanize.Comma(r.Final.CPS), humanize.Comma(r.Final.CPC))
	fmt.Fprintf(&sb, "Spent:       %s\n", humanize.Comma(r.Spent))
	if r.Rejections > 0 {
		fmt.Fprintf(&sb, "Rejections:  %d (%s lost)\n", r.Rejections, humanize.Commaf(r.Penalties))
	}

	keys := make([]string, 0, len(r.Purchases))
	for k := range r.Purchases {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	if len(keys) > 0 {
		fmt.Fprintln(&sb, "\nPurchases:")
		for _, k := range keys {
			fmt.Fprintf(&sb, "  %-18s %d\n", k, r.Purchases[upgrade.Key(k)])
		}
	}
	if len(r.Milestones) > 0 {
		fmt.Fprintln(&sb, "\nLevels:")
		for _, m := range r.Milestones {
			fmt.Fprintf(&sb, "  %-4d at %-10v cps %s, cpc %s\n", m.Level, m.At,
				humanize.Comma(m.CPS), humanize.Comma(m.CPC))
		}
	}
	fmt.Fprintln(&sb, line)
	return sb.String()
}
