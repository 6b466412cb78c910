package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"scalp-core/internal/signal"
)

// Preset is one named strategy policy: entry sizing and splitting, the exit
// policy, pending-signal confirmation, daily risk limits and the signal
// evaluator. Near-duplicate strategy variants are values of this struct.
type Preset struct {
	Name    string        `yaml:"name"`
	Entry   EntryPreset   `yaml:"entry"`
	Exit    ExitPreset    `yaml:"exit"`
	Confirm ConfirmPreset `yaml:"confirm"`
	Risk    RiskPreset    `yaml:"risk"`
	Signal  signal.Config `yaml:"signal"`
}

type EntryPreset struct {
	Leverage         int           `yaml:"leverage"`
	Fraction         float64       `yaml:"fraction"`
	SplitCount       int           `yaml:"split_count"`
	OffsetPct        float64       `yaml:"offset_pct"`
	SpacingPct       float64       `yaml:"spacing_pct"`
	FillTimeout      time.Duration `yaml:"fill_timeout"`
	GraceTimeout     time.Duration `yaml:"grace_timeout"`
	LowFillThreshold float64       `yaml:"low_fill_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

type RatchetStep struct {
	TriggerPct float64 `yaml:"trigger_pct"`
	LockPct    float64 `yaml:"lock_pct"`
}

type ExitPreset struct {
	StopLossPct      float64       `yaml:"stop_loss_pct"`
	Ratchet          []RatchetStep `yaml:"ratchet"`
	MaxHold          time.Duration `yaml:"max_hold"`
	TakeProfitQuote  float64       `yaml:"take_profit_quote"`
	PartialFraction  float64       `yaml:"partial_fraction"`
	LadderCount      int           `yaml:"ladder_count"`
	LadderFirstPct   float64       `yaml:"ladder_first_pct"`
	LadderSpacingPct float64       `yaml:"ladder_spacing_pct"`
	LadderTimeout    time.Duration `yaml:"ladder_timeout"`
	FeeBufferPct     float64       `yaml:"fee_buffer_pct"`
	MakerFee         float64       `yaml:"maker_fee"`
	TakerFee         float64       `yaml:"taker_fee"`
}

// ConfirmPreset governs how a detected signal becomes an entry.
type ConfirmPreset struct {
	// ConfirmTicks agreeing evaluations confirm a pending signal; 0 enters at once.
	ConfirmTicks   int           `yaml:"confirm_ticks"`
	PendingTimeout time.Duration `yaml:"pending_timeout"`
	// MaxDriftPct cancels the pending signal when price runs away from detection.
	MaxDriftPct float64 `yaml:"max_drift_pct"`
	MinStrength float64 `yaml:"min_strength"`
}

type RiskPreset struct {
	MaxDailyTrades int     `yaml:"max_daily_trades"`
	MaxDailyLoss   float64 `yaml:"max_daily_loss"`
}

// Validate checks ranges the engine relies on.
func (p Preset) Validate() error {
	var errs []error
	if p.Entry.Leverage < 1 || p.Entry.Leverage > 125 {
		errs = append(errs, fmt.Errorf("entry.leverage %d out of [1,125]", p.Entry.Leverage))
	}
	if p.Entry.Fraction <= 0 || p.Entry.Fraction > 1 {
		errs = append(errs, fmt.Errorf("entry.fraction %v out of (0,1]", p.Entry.Fraction))
	}
	if p.Entry.SplitCount < 1 {
		errs = append(errs, fmt.Errorf("entry.split_count must be >= 1"))
	}
	if p.Entry.FillTimeout <= 0 {
		errs = append(errs, fmt.Errorf("entry.fill_timeout must be positive"))
	}
	if p.Entry.LowFillThreshold < 0 || p.Entry.LowFillThreshold > 1 {
		errs = append(errs, fmt.Errorf("entry.low_fill_threshold %v out of [0,1]", p.Entry.LowFillThreshold))
	}
	if p.Exit.StopLossPct <= 0 {
		errs = append(errs, fmt.Errorf("exit.stop_loss_pct must be positive"))
	}
	if p.Exit.MaxHold <= 0 {
		errs = append(errs, fmt.Errorf("exit.max_hold must be positive"))
	}
	if p.Exit.TakeProfitQuote <= 0 {
		errs = append(errs, fmt.Errorf("exit.take_profit_quote must be positive"))
	}
	if p.Exit.PartialFraction <= 0 || p.Exit.PartialFraction >= 1 {
		errs = append(errs, fmt.Errorf("exit.partial_fraction %v out of (0,1)", p.Exit.PartialFraction))
	}
	if p.Exit.LadderCount < 1 {
		errs = append(errs, fmt.Errorf("exit.ladder_count must be >= 1"))
	}
	if p.Exit.LadderTimeout <= 0 {
		errs = append(errs, fmt.Errorf("exit.ladder_timeout must be positive"))
	}
	if p.Confirm.ConfirmTicks < 0 {
		errs = append(errs, fmt.Errorf("confirm.confirm_ticks must be >= 0"))
	}
	if _, err := signal.Build(p.Signal); err != nil {
		errs = append(errs, fmt.Errorf("signal: %w", err))
	}
	return errors.Join(errs...)
}

// Builtin returns the named built-in preset.
func Builtin(name string) (Preset, bool) {
	switch name {
	case "scalp":
		return scalpPreset(), true
	case "conservative":
		p := scalpPreset()
		p.Name = "conservative"
		p.Entry.Leverage = 5
		p.Entry.SplitCount = 10
		p.Entry.FillTimeout = 10 * time.Second
		p.Entry.LowFillThreshold = 0.4
		p.Entry.Cooldown = time.Minute
		p.Exit.StopLossPct = 0.4
		p.Exit.TakeProfitQuote = 1.5
		p.Exit.MaxHold = 4 * time.Minute
		p.Confirm.ConfirmTicks = 3
		p.Risk.MaxDailyTrades = 20
		p.Risk.MaxDailyLoss = 30
		p.Signal.Strategy = "confluence"
		p.Signal.Confluence = signal.ConfluenceConfig{Base: "bollinger", Intervals: []string{"1m", "5m"}, MinVotes: 2}
		p.Signal.Wall.Enabled = true
		p.Signal.Trend.Enabled = true
		return p, true
	case "aggressive":
		p := scalpPreset()
		p.Name = "aggressive"
		p.Entry.Leverage = 20
		p.Entry.SplitCount = 3
		p.Entry.LowFillThreshold = 0.2
		p.Entry.Cooldown = 10 * time.Second
		p.Exit.StopLossPct = 0.6
		p.Exit.TakeProfitQuote = 3
		p.Exit.LadderCount = 2
		p.Exit.MaxHold = 3 * time.Minute
		p.Confirm.ConfirmTicks = 1
		p.Risk.MaxDailyTrades = 100
		p.Risk.MaxDailyLoss = 200
		p.Signal.Strategy = "momentum"
		return p, true
	case "breakout":
		p := scalpPreset()
		p.Name = "breakout"
		p.Entry.SplitCount = 1
		p.Entry.OffsetPct = 0
		p.Exit.TakeProfitQuote = 4
		p.Exit.LadderFirstPct = 0.1
		p.Exit.LadderSpacingPct = 0.1
		p.Exit.MaxHold = 10 * time.Minute
		p.Signal.Strategy = "momentum"
		p.Signal.Momentum.MinROCPct = 0.25
		p.Signal.Trend.Enabled = true
		return p, true
	default:
		return Preset{}, false
	}
}

// BuiltinNames lists the built-in presets.
func BuiltinNames() []string {
	return []string{"aggressive", "breakout", "conservative", "scalp"}
}

func scalpPreset() Preset {
	return Preset{
		Name: "scalp",
		Entry: EntryPreset{
			Leverage:         10,
			Fraction:         0.95,
			SplitCount:       5,
			OffsetPct:        0.02,
			SpacingPct:       0.02,
			FillTimeout:      8 * time.Second,
			GraceTimeout:     4 * time.Second,
			LowFillThreshold: 0.3,
			Cooldown:         30 * time.Second,
		},
		Exit: ExitPreset{
			StopLossPct: 0.5,
			Ratchet: []RatchetStep{
				{TriggerPct: 0.3, LockPct: 0.05},
				{TriggerPct: 0.6, LockPct: 0.3},
				{TriggerPct: 1.0, LockPct: 0.6},
			},
			MaxHold:          5 * time.Minute,
			TakeProfitQuote:  2,
			PartialFraction:  0.2,
			LadderCount:      4,
			LadderFirstPct:   0.05,
			LadderSpacingPct: 0.05,
			LadderTimeout:    10 * time.Second,
			FeeBufferPct:     0.1,
			MakerFee:         0.0002,
			TakerFee:         0.0005,
		},
		Confirm: ConfirmPreset{
			ConfirmTicks:   2,
			PendingTimeout: 15 * time.Second,
			MaxDriftPct:    0.15,
			MinStrength:    0.5,
		},
		Risk: RiskPreset{
			MaxDailyTrades: 50,
			MaxDailyLoss:   100,
		},
		Signal: signal.DefaultConfig(),
	}
}

// presetFile is the YAML layout of PRESETS_PATH.
type presetFile struct {
	Presets []yaml.Node `yaml:"presets"`
}

// LoadPresets returns the built-in presets overlaid with those in path.
// A file preset starts from the built-in named by its "base" key (default
// "scalp"), so a file only lists what it changes. An empty path or a missing
// file yields the built-ins.
func LoadPresets(path string) (map[string]Preset, error) {
	out := make(map[string]Preset, 4)
	for _, name := range BuiltinNames() {
		p, _ := Builtin(name)
		out[name] = p
	}
	if path == "" {
		return out, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}

	var file presetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for i := range file.Presets {
		node := &file.Presets[i]
		var head struct {
			Name string `yaml:"name"`
			Base string `yaml:"base"`
		}
		if err := node.Decode(&head); err != nil {
			return nil, fmt.Errorf("preset #%d: %w", i, err)
		}
		if head.Name == "" {
			return nil, fmt.Errorf("preset #%d: name is required", i)
		}
		base := head.Base
		if base == "" {
			base = "scalp"
		}
		p, ok := out[base]
		if !ok {
			return nil, fmt.Errorf("preset %s: unknown base %q", head.Name, base)
		}
		p.Exit.Ratchet = append([]RatchetStep(nil), p.Exit.Ratchet...)
		if err := node.Decode(&p); err != nil {
			return nil, fmt.Errorf("preset %s: %w", head.Name, err)
		}
		p.Name = head.Name
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("preset %s: %w", head.Name, err)
		}
		out[head.Name] = p
	}
	return out, nil
}

// SelectPreset loads presets and returns the one named name.
func SelectPreset(path, name string) (Preset, error) {
	all, err := LoadPresets(path)
	if err != nil {
		return Preset{}, err
	}
	p, ok := all[name]
	if !ok {
		names := make([]string, 0, len(all))
		for n := range all {
			names = append(names, n)
		}
		sort.Strings(names)
		return Preset{}, fmt.Errorf("unknown preset %q (have %v)", name, names)
	}
	return p, nil
}
