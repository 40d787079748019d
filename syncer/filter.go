package syncer

import (
	"polymarket-copytrader/config"
	"polymarket-copytrader/models"
)

// Reject reasons produced by the filter pipeline. Stable strings: they
// are persisted in the statistics store and asserted in tests.
const (
	ReasonBlacklisted    = "market blacklisted"
	ReasonNotWhitelisted = "market not whitelisted"
	ReasonBuysDisabled   = "buy copying disabled"
	ReasonSellsDisabled  = "sell copying disabled"
	ReasonBelowMinimum   = "below minimum"
	ReasonPositionLimit  = "position limit"
	ReasonTradeLimit     = "daily trade limit"
	ReasonAmountLimit    = "daily amount limit"
)

// Decision is the outcome of the filter pipeline for one observed trade.
type Decision struct {
	Outcome     string  // models.OutcomeAccepted, OutcomeRejected, or OutcomeSimulated
	Reason      string  // set on rejection
	SizedAmount float64 // USDC; set on acceptance and simulation
}

// Accepted reports whether the trade should produce a copy intent.
func (d Decision) Accepted() bool { return d.Outcome == models.OutcomeAccepted }

// pipelineCtx carries one trade through the stages.
type pipelineCtx struct {
	trade   models.ObservedTrade
	cfg     config.CopyConfig
	risk    *RiskTracker
	closing bool
	sized   float64
}

// A stage inspects the context and either short-circuits with a terminal
// decision or returns nil to pass the trade to the next stage.
type stage func(*pipelineCtx) *Decision

// stages run in order; the first non-nil decision wins, so every
// rejection has one deterministic, reproducible reason.
var stages = []stage{
	checkMarketLists,
	checkSide,
	checkTradingActive,
	computeSize,
	reserveLimits,
}

// Decide maps an observed trade plus the cycle's config snapshot and the
// shared risk tracker to an accept/reject/simulate decision. On
// acceptance the risk counters have already been reserved atomically;
// there is no separate commit step that could be skipped.
func Decide(trade models.ObservedTrade, cfg config.CopyConfig, risk *RiskTracker, closing bool) Decision {
	ctx := &pipelineCtx{trade: trade, cfg: cfg, risk: risk, closing: closing}
	for _, s := range stages {
		if d := s(ctx); d != nil {
			return *d
		}
	}
	return Decision{Outcome: models.OutcomeAccepted, SizedAmount: ctx.sized}
}

func checkMarketLists(ctx *pipelineCtx) *Decision {
	for _, m := range ctx.cfg.BlacklistedMarkets {
		if m == ctx.trade.MarketID {
			return &Decision{Outcome: models.OutcomeRejected, Reason: ReasonBlacklisted}
		}
	}
	if ctx.cfg.WhitelistOnly {
		for _, m := range ctx.cfg.WhitelistedMarkets {
			if m == ctx.trade.MarketID {
				return nil
			}
		}
		return &Decision{Outcome: models.OutcomeRejected, Reason: ReasonNotWhitelisted}
	}
	return nil
}

func checkSide(ctx *pipelineCtx) *Decision {
	switch ctx.trade.Side {
	case models.SideBuy:
		if !ctx.cfg.CopyBuys {
			return &Decision{Outcome: models.OutcomeRejected, Reason: ReasonBuysDisabled}
		}
	case models.SideSell:
		if !ctx.cfg.CopySells {
			return &Decision{Outcome: models.OutcomeRejected, Reason: ReasonSellsDisabled}
		}
	}
	return nil
}

// checkTradingActive turns trades that pass the market and side filters
// into simulated records while global trading is off. Simulation is a
// distinct terminal outcome, not a rejection, and consumes no risk
// budget since no order will be submitted. A trade that would have been
// rejected by sizing keeps that reason on the simulated row, so the
// dry-run log matches what live trading would decide.
func checkTradingActive(ctx *pipelineCtx) *Decision {
	if ctx.cfg.TradingActive {
		return nil
	}
	d := &Decision{Outcome: models.OutcomeSimulated}
	if sized, ok := sizeCopy(ctx.trade.Value(), ctx.cfg); ok {
		d.SizedAmount = sized
	} else {
		d.Reason = ReasonBelowMinimum
	}
	return d
}

func computeSize(ctx *pipelineCtx) *Decision {
	sized, ok := sizeCopy(ctx.trade.Value(), ctx.cfg)
	if !ok {
		return &Decision{Outcome: models.OutcomeRejected, Reason: ReasonBelowMinimum}
	}
	ctx.sized = sized
	return nil
}

// sizeCopy applies the percentage and the min/max clamp. A raw product
// below the floor means the original trade was too small to copy.
func sizeCopy(tradeValue float64, cfg config.CopyConfig) (float64, bool) {
	raw := tradeValue * cfg.CopyPercentage
	if raw <= 0 || raw < cfg.MinAmountToCopy {
		return 0, false
	}
	if raw > cfg.MaxAmountToCopy {
		raw = cfg.MaxAmountToCopy
	}
	return raw, true
}

// reserveLimits is the single risk gate: position cap, daily trade
// count, and daily notional are checked and consumed in one atomic
// reservation. Closing trades bypass the position cap.
func reserveLimits(ctx *pipelineCtx) *Decision {
	opening := !ctx.closing
	err := ctx.risk.TryReserve(ctx.trade.MarketID, ctx.sized, opening)
	switch err {
	case nil:
		return nil
	case ErrPositionLimit:
		return &Decision{Outcome: models.OutcomeRejected, Reason: ReasonPositionLimit}
	case ErrDailyTradeLimit:
		return &Decision{Outcome: models.OutcomeRejected, Reason: ReasonTradeLimit}
	case ErrDailyAmountLimit:
		return &Decision{Outcome: models.OutcomeRejected, Reason: ReasonAmountLimit}
	default:
		return &Decision{Outcome: models.OutcomeRejected, Reason: err.Error()}
	}
}
