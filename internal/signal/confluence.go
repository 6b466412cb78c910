package signal

import (
	"fmt"
	"strings"

	"scalp-core/internal/position"
)

// ConfluenceConfig parameterizes Confluence.
type ConfluenceConfig struct {
	// Base is the evaluator run on each interval: "bollinger" or "momentum".
	Base      string   `yaml:"base"`
	Intervals []string `yaml:"intervals"`
	MinVotes  int      `yaml:"min_votes"`
}

// Confluence runs one evaluator per interval and fires when at least
// MinVotes intervals agree on a direction and none disagree.
type Confluence struct {
	voters   []Evaluator
	minVotes int
}

// NewConfluence builds a vote over voters.
func NewConfluence(voters []Evaluator, minVotes int) (*Confluence, error) {
	if len(voters) == 0 {
		return nil, fmt.Errorf("confluence: no voters")
	}
	if minVotes <= 0 || minVotes > len(voters) {
		return nil, fmt.Errorf("confluence: min_votes must be in [1,%d], got %d", len(voters), minVotes)
	}
	return &Confluence{voters: voters, minVotes: minVotes}, nil
}

func (c *Confluence) Name() string {
	names := make([]string, len(c.voters))
	for i, v := range c.voters {
		names[i] = v.Name()
	}
	return fmt.Sprintf("confluence_%d[%s]", c.minVotes, strings.Join(names, ","))
}

func (c *Confluence) Intervals() []string {
	var out []string
	for _, v := range c.voters {
		if n, ok := v.(interface{ Intervals() []string }); ok {
			out = append(out, n.Intervals()...)
		}
	}
	return out
}

func (c *Confluence) Evaluate(in Input) (Candidate, bool) {
	var longs, shorts []Candidate
	for _, v := range c.voters {
		cand, ok := v.Evaluate(in)
		if !ok {
			continue
		}
		if cand.Direction == position.Long {
			longs = append(longs, cand)
		} else {
			shorts = append(shorts, cand)
		}
	}

	var agree []Candidate
	switch {
	case len(longs) >= c.minVotes && len(shorts) == 0:
		agree = longs
	case len(shorts) >= c.minVotes && len(longs) == 0:
		agree = shorts
	default:
		return Candidate{}, false
	}

	var sum float64
	for _, a := range agree {
		sum += a.Strength
	}
	side := agree[0].Direction
	strength := sum / float64(len(c.voters))
	return Candidate{
		Direction: side,
		Strength:  clamp01(strength),
		Price:     agree[0].Price,
		Reason:    describe(c.Name(), side, "%d/%d votes", len(agree), len(c.voters)),
	}, true
}
