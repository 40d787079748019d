package syncer

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"polymarket-copytrader/config"
	"polymarket-copytrader/models"
)

// TraderSource lists candidate traders meeting performance thresholds.
type TraderSource interface {
	ListTopTraders(ctx context.Context, minWinRate, minPnl float64, count int) ([]models.TraderInfo, error)
}

// TraderRefresher periodically pulls the discovery leaderboard and adds
// qualifying traders to the monitor's watch list, up to the configured
// auto-trader cap. Config-listed traders are never removed by a refresh.
type TraderRefresher struct {
	source  TraderSource
	monitor *Monitor
	cfg     config.AnalyticsConfig
	cron    *cron.Cron
}

// NewTraderRefresher wires the discovery source to the monitor.
func NewTraderRefresher(source TraderSource, monitor *Monitor, cfg config.AnalyticsConfig) *TraderRefresher {
	return &TraderRefresher{
		source:  source,
		monitor: monitor,
		cfg:     cfg,
		cron:    cron.New(),
	}
}

// Start runs one refresh immediately, then schedules repeats every
// update_interval_hours. No-op when auto updates are disabled.
func (r *TraderRefresher) Start(ctx context.Context) error {
	if !r.cfg.Enabled || !r.cfg.AutoUpdateTraders {
		log.Printf("[Discovery] auto trader updates disabled")
		return nil
	}

	if err := r.Refresh(ctx); err != nil {
		// Discovery is best-effort; the engine runs on without it.
		log.Printf("[Discovery] initial refresh: %v", err)
	}

	spec := fmt.Sprintf("@every %dh", r.cfg.UpdateIntervalHours)
	if _, err := r.cron.AddFunc(spec, func() {
		refreshCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := r.Refresh(refreshCtx); err != nil {
			log.Printf("[Discovery] refresh: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule trader refresh: %w", err)
	}

	r.cron.Start()
	log.Printf("[Discovery] trader refresh scheduled %s", spec)
	return nil
}

// Stop halts the schedule and waits for a running refresh to finish.
func (r *TraderRefresher) Stop() {
	<-r.cron.Stop().Done()
}

// Refresh pulls the leaderboard once and registers qualifying traders.
func (r *TraderRefresher) Refresh(ctx context.Context) error {
	traders, err := r.source.ListTopTraders(ctx, r.cfg.MinWinRate, r.cfg.MinPNL, r.cfg.MaxAutoTraders)
	if err != nil {
		return fmt.Errorf("list top traders: %w", err)
	}

	autoWatched := 0
	for _, t := range r.monitor.Traders() {
		if t.AutoAdded {
			autoWatched++
		}
	}

	added := 0
	for _, t := range traders {
		if autoWatched+added >= r.cfg.MaxAutoTraders {
			break
		}
		if r.monitor.AddTrader(t.Address, true) {
			added++
			log.Printf("[Discovery] added %s (win rate %.0f%%, pnl $%.0f)",
				shortAddr(t.Address), t.WinRate*100, t.PNL)
		}
	}

	if added == 0 {
		log.Printf("[Discovery] refresh complete, no new traders (%d candidates)", len(traders))
	}
	return nil
}
