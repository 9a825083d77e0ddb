package round

import (
	"context"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/menta2k/sketch-scorer/pkg/types"
)

// Scorer scores one submission against the round's original
type Scorer interface {
	ScoreSubmission(original, submission types.Source) types.ScoringResult
}

// Result is published to subscribers each time a submission is scored
type Result struct {
	RoundID  string              `json:"round_id"`
	PlayerID string              `json:"player_id"`
	Result   types.ScoringResult `json:"result"`
	Elapsed  time.Duration       `json:"elapsed"`
}

// Options controls a Queue
type Options struct {
	// Concurrency bounds how many submissions are scored at once
	Concurrency int
	// Buffer is the capacity of each subscriber channel; results are dropped
	// for subscribers that fall this far behind
	Buffer int
	Logger *zap.Logger
}

// DefaultOptions scores one submission per CPU
func DefaultOptions() Options {
	return Options{
		Concurrency: runtime.GOMAXPROCS(0),
		Buffer:      64,
		Logger:      zap.NewNop(),
	}
}

// Queue feeds a round's submissions to the scorer as they arrive and applies
// each result to the round record. Results may complete in any order.
type Queue struct {
	scorer Scorer
	round  *Round
	opts   Options

	mu      sync.Mutex
	pending []string
	closed  bool
	wake    chan struct{}

	subMu  sync.Mutex
	subs   map[int]chan Result
	nextID int
}

// NewQueue creates a queue for round
func NewQueue(scorer Scorer, round *Round, opts Options) *Queue {
	def := DefaultOptions()
	if opts.Concurrency < 1 {
		opts.Concurrency = def.Concurrency
	}
	if opts.Buffer < 1 {
		opts.Buffer = def.Buffer
	}
	if opts.Logger == nil {
		opts.Logger = def.Logger
	}
	return &Queue{
		scorer: scorer,
		round:  round,
		opts:   opts,
		wake:   make(chan struct{}, 1),
		subs:   make(map[int]chan Result),
	}
}

// Round returns the record the queue updates
func (q *Queue) Round() *Round {
	return q.round
}

// Submit records the player's drawing and queues it for scoring
func (q *Queue) Submit(playerID string, image types.Source) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if err := q.round.Add(playerID, image); err != nil {
		return err
	}
	q.pending = append(q.pending, playerID)
	q.signal()
	return nil
}

// Close stops accepting submissions. Run scores what is already queued and
// then returns.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		q.signal()
	}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// next pops the oldest pending submission. done is true once the queue is
// closed and drained.
func (q *Queue) next() (playerID string, ok, done bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return "", false, q.closed
	}
	playerID = q.pending[0]
	q.pending = q.pending[1:]
	return playerID, true, false
}

// Run scores queued submissions until the queue is closed and drained or ctx
// is cancelled. Scoring calls already started finish before Run returns;
// subscriber channels are closed on return.
func (q *Queue) Run(ctx context.Context) error {
	sem := make(chan struct{}, q.opts.Concurrency)
	var wg sync.WaitGroup
	defer q.closeSubscribers()
	defer wg.Wait()

	logger := q.opts.Logger.With(zap.String("round", q.round.ID))
	for {
		playerID, ok, done := q.next()
		if done {
			return nil
		}
		if !ok {
			select {
			case <-q.wake:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}

		wg.Add(1)
		go func(playerID string) {
			defer wg.Done()
			defer func() { <-sem }()
			q.score(logger, playerID)
		}(playerID)
	}
}

func (q *Queue) score(logger *zap.Logger, playerID string) {
	sub, ok := q.round.Submission(playerID)
	if !ok {
		return
	}

	start := time.Now()
	res := q.scorer.ScoreSubmission(q.round.Original, sub.Image)
	elapsed := time.Since(start)

	q.round.Apply(playerID, res)
	logger.Info("submission scored",
		zap.String("player", playerID),
		zap.Int("score", res.Score),
		zap.Duration("elapsed", elapsed))

	q.publish(Result{RoundID: q.round.ID, PlayerID: playerID, Result: res, Elapsed: elapsed}, logger)
}

// Subscribe returns a channel of results and a function that cancels the
// subscription. The channel is closed when Run returns or on cancel.
func (q *Queue) Subscribe() (<-chan Result, func()) {
	q.subMu.Lock()
	defer q.subMu.Unlock()

	ch := make(chan Result, q.opts.Buffer)
	if q.subs == nil {
		close(ch)
		return ch, func() {}
	}
	id := q.nextID
	q.nextID++
	q.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			q.subMu.Lock()
			defer q.subMu.Unlock()
			if c, ok := q.subs[id]; ok {
				delete(q.subs, id)
				close(c)
			}
		})
	}
}

func (q *Queue) publish(r Result, logger *zap.Logger) {
	q.subMu.Lock()
	defer q.subMu.Unlock()

	for id, ch := range q.subs {
		select {
		case ch <- r:
		default:
			logger.Warn("subscriber too slow, dropping result",
				zap.Int("subscriber", id), zap.String("player", r.PlayerID))
		}
	}
}

func (q *Queue) closeSubscribers() {
	q.subMu.Lock()
	defer q.subMu.Unlock()

	for id, ch := range q.subs {
		close(ch)
		delete(q.subs, id)
	}
	q.subs = nil
}
