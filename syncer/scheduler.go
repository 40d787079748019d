package syncer

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"polymarket-copytrader/models"
)

// ExecutionResult is reported for every intent that reaches a terminal
// state.
type ExecutionResult struct {
	Intent    models.CopyIntent
	OrderID   string
	FillPrice float64
	FillSize  float64
	Err       error
}

// Scheduler owns copy intents from acceptance to their terminal state.
// Each intent gets an independent timer for its randomized delay, so
// intents never block each other; firing order follows scheduled time,
// not submission order.
type Scheduler struct {
	executor OrderExecutor
	onDone   func(ExecutionResult)

	minDelay time.Duration
	maxDelay time.Duration

	mu      sync.Mutex
	pending map[string]*scheduledIntent
	closed  bool

	execWG sync.WaitGroup // in-flight executor calls
	rand   *rand.Rand
	now    func() time.Time
}

type scheduledIntent struct {
	intent models.CopyIntent
	timer  *time.Timer
}

// NewScheduler creates a scheduler delivering terminal results to onDone
// (called from intent goroutines; must be safe for concurrent use).
func NewScheduler(executor OrderExecutor, minDelay, maxDelay time.Duration, onDone func(ExecutionResult)) *Scheduler {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &Scheduler{
		executor: executor,
		onDone:   onDone,
		minDelay: minDelay,
		maxDelay: maxDelay,
		pending:  make(map[string]*scheduledIntent),
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
	}
}

// SetDelayBounds updates the delay window for future intents.
func (s *Scheduler) SetDelayBounds(minDelay, maxDelay time.Duration) {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	s.mu.Lock()
	s.minDelay, s.maxDelay = minDelay, maxDelay
	s.mu.Unlock()
}

// Schedule accepts a trade decision and arms its delay timer. Returns
// the scheduled intent, or false when the scheduler is shutting down.
func (s *Scheduler) Schedule(trade models.ObservedTrade, sizedAmount float64, closing bool) (models.CopyIntent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return models.CopyIntent{}, false
	}

	delay := s.minDelay
	if span := s.maxDelay - s.minDelay; span > 0 {
		delay += time.Duration(s.rand.Int63n(int64(span) + 1))
	}

	now := s.now()
	intent := models.CopyIntent{
		ID:            uuid.NewString(),
		Trade:         trade,
		SizedAmount:   sizedAmount,
		Closing:       closing,
		DecisionTime:  now,
		ScheduledTime: now.Add(delay),
		Status:        models.IntentScheduled,
	}

	si := &scheduledIntent{intent: intent}
	si.timer = time.AfterFunc(delay, func() { s.fire(intent.ID) })
	s.pending[intent.ID] = si

	log.Printf("[Scheduler] intent %s: copy %s %s $%.2f in %v",
		intent.ID[:8], trade.Side, trade.MarketID, sizedAmount, delay.Round(time.Second))
	return intent, true
}

// fire moves an intent to Executing and runs the executor. Timers that
// go off during shutdown find their intent already removed and drain
// without executing.
func (s *Scheduler) fire(id string) {
	s.mu.Lock()
	si, ok := s.pending[id]
	if !ok || s.closed {
		s.mu.Unlock()
		return
	}
	delete(s.pending, id)
	si.intent.Status = models.IntentExecuting
	s.execWG.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.execWG.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		intent := si.intent
		orderID, price, size, err := s.executor.Execute(ctx, intent)
		if err != nil {
			intent.Status = models.IntentFailed
			log.Printf("[Scheduler] intent %s failed: %v", intent.ID[:8], err)
		} else {
			intent.Status = models.IntentExecuted
			log.Printf("[Scheduler] intent %s executed: order=%s price=%.4f size=%.2f",
				intent.ID[:8], orderID, price, size)
		}

		s.onDone(ExecutionResult{
			Intent:    intent,
			OrderID:   orderID,
			FillPrice: price,
			FillSize:  size,
			Err:       err,
		})
	}()
}

// Cancel stops one intent before it begins executing. Returns false if
// the intent is unknown or already executing.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	si, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
		si.timer.Stop()
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	si.intent.Status = models.IntentCancelled
	s.onDone(ExecutionResult{Intent: si.intent})
	return true
}

// PendingCount reports intents still waiting on their timer.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Shutdown cancels every scheduled intent, reports each as cancelled,
// and waits for in-flight executions to complete or fail. No intent is
// silently dropped.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancelled := make([]*scheduledIntent, 0, len(s.pending))
	for id, si := range s.pending {
		si.timer.Stop()
		cancelled = append(cancelled, si)
		delete(s.pending, id)
	}
	s.mu.Unlock()

	for _, si := range cancelled {
		si.intent.Status = models.IntentCancelled
		s.onDone(ExecutionResult{Intent: si.intent})
	}

	s.execWG.Wait()
	log.Printf("[Scheduler] drained (%d intents cancelled)", len(cancelled))
}
