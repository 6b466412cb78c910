// paper_demo replays a few simulated hours of a random-walk market through
// the full engine against the paper exchange, on a simulated clock. It does
// not touch the network or the database.
//
// Usage:
//
//	go run ./scripts/paper_demo -preset aggressive -hours 6 -seed 7
package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"go.uber.org/zap"

	"scalp-core/internal/engine"
	"scalp-core/internal/events"
	"scalp-core/internal/market"
	"scalp-core/internal/order"
	"scalp-core/internal/risk"
	"scalp-core/internal/timers"
	"scalp-core/pkg/config"
)

func main() {
	presetName := flag.String("preset", "scalp", "builtin preset name")
	hours := flag.Float64("hours", 4, "simulated hours")
	seed := flag.Int64("seed", 42, "random walk seed")
	balance := flag.Float64("balance", 1000, "paper wallet in USDT")
	verbose := flag.Bool("v", false, "log engine internals")
	flag.Parse()

	log := zap.NewNop()
	if *verbose {
		log, _ = zap.NewDevelopment()
	}

	preset, ok := config.Builtin(*presetName)
	if !ok {
		fmt.Printf("unknown preset %q (have %v)\n", *presetName, config.BuiltinNames())
		return
	}
	settings, err := engine.FromPreset(preset, "BTCUSDT", time.UTC)
	if err != nil {
		fmt.Println(err)
		return
	}
	// One simulated day must not hit the daily gate before the demo ends.
	settings.Risk.MaxDailyTrades = 0

	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	clock := timers.NewManual(start)

	pc := order.DefaultPaperConfig()
	pc.InitialBalance = *balance
	paper := order.NewPaperExchange(pc, log.Named("paper"))

	feed := &market.MockFeed{
		Symbol:     settings.Symbol,
		Intervals:  settings.Chain.Intervals(),
		StartPrice: 60000,
		StepPct:    0.03,
		Seed:       *seed,
		Bus:        events.NewBus(),
	}

	riskMgr := risk.NewInMemory(settings.Risk)
	riskMgr.SetClock(clock.Now)

	eng, err := engine.New(settings, engine.Deps{
		Exchange:     paper,
		Market:       feed,
		Risk:         riskMgr,
		TickObserver: paper.OnPrice,
		Scheduler:    clock,
		Now:          clock.Now,
		Logger:       log,
	})
	if err != nil {
		fmt.Println(err)
		return
	}

	ctx := context.Background()
	eng.SetEnabled(ctx, true)

	steps := int(*hours * 3600)
	for i := 0; i < steps; i++ {
		clock.Advance(time.Second)
		eng.OnTick(ctx, feed.Step(clock.Now()))
	}

	stats := eng.Stats()
	snap := eng.Snapshot()
	bal, _ := paper.GetBalance(ctx)
	fmt.Printf("preset=%s simulated=%.1fh seed=%d\n", preset.Name, *hours, *seed)
	fmt.Printf("trades=%d wins=%d losses=%d win_rate=%.1f%% net_pnl=%.4f fees=%.4f\n",
		stats.Trades, stats.Wins, stats.Losses, stats.WinRate()*100, stats.TotalPnL, stats.Fees)
	fmt.Printf("wallet=%.4f paper_fills=%d open_position=%v\n", bal.Total, len(paper.Fills()), snap.Position != nil)

	trades, _ := eng.RecentTrades(ctx, 20)
	for _, t := range trades {
		fmt.Printf("  %s %-5s %.2f -> %.2f qty=%.4f pnl=%+.4f reason=%s\n",
			t.ClosedAt.Format("15:04:05"), t.Side, t.EntryPrice, t.ExitPrice, t.Qty, t.RealizedPnL, t.Reason)
	}
}
