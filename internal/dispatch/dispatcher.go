// Package dispatch fans a notification out to a unit's subscriber set with
// bounded per-recipient retries and auto-unsubscribe on confirmed delivery.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"prospect.org/internal/ids"
	"prospect.org/internal/obs"
	"prospect.org/internal/push"
)

// Sender delivers one subscribe message. A nil error with a non-success code
// is an application-level rejection; push.ErrUnreachable and
// push.ErrMalformedResponse classify the rest.
type Sender interface {
	SendSubscribe(ctx context.Context, accessToken string, msg push.SubscribeMessage) (push.Code, error)
}

// Credentials supplies the outbound access token.
type Credentials interface {
	Token(ctx context.Context) (string, error)
}

// Roster is the slice of the directory the dispatcher touches: the snapshot
// read and the retire-on-success write-back.
type Roster interface {
	Subscribers(ctx context.Context, orgID, unitID int64) ([]string, error)
	Retire(ctx context.Context, orgID, unitID int64, userID string) error
}

// Content is the template payload of one notification.
type Content struct {
	TemplateID string
	Title      string
	Date       string
	State      string
	Lang       string
}

const (
	defaultAttempts = 5
	defaultWorkers  = 4

	outcomeDelivered = "delivered"
	outcomeRetryable = "retryable"
	outcomeRejected  = "rejected"
	outcomeMalformed = "malformed"
	outcomeStorage   = "storage"
)

// Dispatcher runs notify fan-outs.
type Dispatcher struct {
	roster   Roster
	creds    Credentials
	sender   Sender
	workers  int
	attempts int
	limiter  *rate.Limiter
}

// Option configures Dispatcher.
type Option func(*Dispatcher)

// WithWorkers bounds delivery concurrency.
func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithAttemptBudget overrides the per-recipient attempt budget.
func WithAttemptBudget(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.attempts = n
		}
	}
}

// WithRateLimit paces outbound calls to the provider.
func WithRateLimit(perSecond int) Option {
	return func(d *Dispatcher) {
		if perSecond > 0 {
			d.limiter = rate.NewLimiter(rate.Limit(perSecond), perSecond)
		}
	}
}

// New creates a dispatcher over the given collaborators.
func New(roster Roster, creds Credentials, sender Sender, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		roster:   roster,
		creds:    creds,
		sender:   sender,
		workers:  defaultWorkers,
		attempts: defaultAttempts,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// item is one queued subscriber with its remaining attempt budget. An item is
// either in the queue or held by exactly one worker, so no two attempts for
// the same subscriber are ever in flight at once.
type item struct {
	userID string
	budget int
}

// Notify fans content out to every current subscriber of the unit. Partial
// failure is reported, not returned as an error; the call only errors when
// the directory read fails or no outbound credential can be obtained.
func (d *Dispatcher) Notify(ctx context.Context, orgID, unitID int64, content Content) (Report, error) {
	subs, err := d.roster.Subscribers(ctx, orgID, unitID)
	if err != nil {
		obs.ObserveDispatch("aborted")
		return Report{}, fmt.Errorf("dispatch: read subscribers of %d/%d: %w", orgID, unitID, err)
	}
	rep := Report{ID: ids.New()}
	if len(subs) == 0 {
		return rep, nil
	}

	token, err := d.creds.Token(ctx)
	if err != nil {
		// Abort before any attempt; no partial delivery on a dead credential.
		obs.ObserveDispatch("aborted")
		return Report{}, fmt.Errorf("dispatch: %w", err)
	}

	// Every item is requeued at most budget-1 times and never while held by
	// a worker, so the queue never exceeds its initial length.
	queue := make(chan item, len(subs))
	for _, u := range subs {
		queue <- item{userID: u, budget: d.attempts}
	}

	var (
		mu      sync.Mutex
		pending atomic.Int64
		done    = make(chan struct{})
	)
	pending.Store(int64(len(subs)))

	settle := func(mutate func(*Report)) {
		mu.Lock()
		mutate(&rep)
		mu.Unlock()
		if pending.Add(-1) == 0 {
			close(done)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				case <-ctx.Done():
					return
				case it := <-queue:
					d.attempt(ctx, token, orgID, unitID, content, it, queue, settle)
				}
			}
		}()
	}
	wg.Wait()

	// Workers bailed on cancellation; account for whatever never ran.
	if pending.Load() > 0 {
		rep.Truncated = true
		for {
			select {
			case it := <-queue:
				rep.Skipped = append(rep.Skipped, it.userID)
			default:
				obs.ObserveDispatch("truncated")
				return rep, nil
			}
		}
	}

	if rep.Clean() {
		obs.ObserveDispatch("clean")
	} else {
		obs.ObserveDispatch("partial")
	}
	return rep, nil
}

// attempt runs one delivery try for one held item and either finalizes it or
// puts it back on the queue.
func (d *Dispatcher) attempt(ctx context.Context, token string, orgID, unitID int64, content Content, it item, queue chan item, settle func(func(*Report))) {
	requeue := func() { queue <- it }

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			// Cancelled while pacing: the attempt never started.
			requeue()
			return
		}
	}

	msg := push.SubscribeMessage{
		TemplateID: content.TemplateID,
		ToUser:     it.userID,
		Data:       push.TemplateData(content.Title, content.Date),
		State:      content.State,
		Lang:       content.Lang,
	}

	code, err := d.sender.SendSubscribe(ctx, token, msg)
	switch {
	case err != nil && ctx.Err() != nil:
		// Cut short by the caller, not refused by the provider.
		requeue()

	case errors.Is(err, push.ErrMalformedResponse):
		obs.ObserveAttempt(outcomeMalformed)
		settle(func(r *Report) {
			r.Failures = append(r.Failures, Failure{
				UserID: it.userID, Code: push.CodeInvalidJSON, Reason: push.CodeInvalidJSON.String(),
			})
		})

	case err != nil:
		// Transport-level failure; spend one attempt.
		it.budget--
		if it.budget > 0 {
			obs.ObserveAttempt(outcomeRetryable)
			requeue()
			return
		}
		obs.ObserveAttempt(outcomeRetryable)
		settle(func(r *Report) {
			r.Failures = append(r.Failures, Failure{
				UserID: it.userID, Code: push.CodeNetwork, Reason: "unreachable",
			})
		})

	case code.IsSuccess():
		// Retiring is part of the success path: a delivered user must not
		// remain subscribed once the report says succeeded.
		if rerr := d.roster.Retire(ctx, orgID, unitID, it.userID); rerr != nil {
			obs.ObserveAttempt(outcomeStorage)
			settle(func(r *Report) {
				r.Failures = append(r.Failures, Failure{
					UserID: it.userID, Code: push.CodeStorage, Reason: push.CodeStorage.String(),
				})
			})
			return
		}
		obs.ObserveAttempt(outcomeDelivered)
		settle(func(r *Report) { r.Succeeded++ })

	default:
		// Application-level rejection: recorded verbatim, never retried.
		obs.ObserveAttempt(outcomeRejected)
		settle(func(r *Report) {
			r.Failures = append(r.Failures, Failure{
				UserID: it.userID, Code: code, Reason: code.String(),
			})
		})
	}
}
