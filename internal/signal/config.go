package signal

import "fmt"

// Config selects an evaluator and the optional filters. It is embedded in
// every named preset.
type Config struct {
	// Strategy is "bollinger", "momentum" or "confluence".
	Strategy   string           `yaml:"strategy"`
	Bollinger  BollingerConfig  `yaml:"bollinger"`
	Momentum   MomentumConfig   `yaml:"momentum"`
	Confluence ConfluenceConfig `yaml:"confluence"`
	Wall       WallConfig       `yaml:"wall"`
	Trend      TrendConfig      `yaml:"trend"`
}

// DefaultConfig is Bollinger touch with no filters.
func DefaultConfig() Config {
	return Config{
		Strategy:  "bollinger",
		Bollinger: DefaultBollinger(),
		Momentum:  DefaultMomentum(),
		Wall:      WallConfig{Levels: 10, MaxRatio: 3},
		Trend:     TrendConfig{Intervals: []string{"5m", "15m"}, FastEMA: 9, SlowEMA: 21},
	}
}

// Build assembles the evaluator chain described by cfg.
func Build(cfg Config) (Chain, error) {
	ev, err := buildEvaluator(cfg.Strategy, cfg, "")
	if err != nil {
		return Chain{}, err
	}
	chain := Chain{Evaluator: ev}
	if cfg.Wall.Enabled {
		f, err := NewOrderBookWall(cfg.Wall)
		if err != nil {
			return Chain{}, err
		}
		chain.Filters = append(chain.Filters, f)
	}
	if cfg.Trend.Enabled {
		f, err := NewTrendVote(cfg.Trend)
		if err != nil {
			return Chain{}, err
		}
		chain.Filters = append(chain.Filters, f)
	}
	return chain, nil
}

// buildEvaluator makes strategy; interval, when set, overrides the
// configured candle interval.
func buildEvaluator(strategy string, cfg Config, interval string) (Evaluator, error) {
	switch strategy {
	case "", "bollinger":
		bc := cfg.Bollinger
		if interval != "" {
			bc.Interval = interval
		}
		return NewBollingerTouch(bc)
	case "momentum":
		mc := cfg.Momentum
		if interval != "" {
			mc.Interval = interval
		}
		return NewMomentum(mc)
	case "confluence":
		if interval != "" {
			return nil, fmt.Errorf("confluence cannot vote inside confluence")
		}
		cc := cfg.Confluence
		if cc.Base == "confluence" {
			return nil, fmt.Errorf("confluence base must be bollinger or momentum")
		}
		voters := make([]Evaluator, 0, len(cc.Intervals))
		for _, iv := range cc.Intervals {
			v, err := buildEvaluator(cc.Base, cfg, iv)
			if err != nil {
				return nil, err
			}
			voters = append(voters, v)
		}
		return NewConfluence(voters, cc.MinVotes)
	default:
		return nil, fmt.Errorf("unknown strategy %q", strategy)
	}
}
