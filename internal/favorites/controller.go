// Package favorites applies favorite toggles optimistically and persists them
// in the background, one mutation at a time per property.
package favorites

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/stwalsh4118/homefinder/api/internal/auth"
	"github.com/stwalsh4118/homefinder/api/internal/logger"
	"github.com/stwalsh4118/homefinder/api/internal/metrics"
)

// MutationTimeout bounds a single add or remove call.
const MutationTimeout = 10 * time.Second

// Notice messages.
const (
	MsgSaveFailed   = "Could not save favorite. Please try again."
	MsgRemoveFailed = "Could not remove favorite. Please try again."
)

var (
	// ErrUnauthenticated is returned when a toggle has no signed-in principal.
	ErrUnauthenticated = errors.New("favorites: sign in required")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("favorites: controller closed")
)

// Mutator persists favorites. Adding an existing favorite and removing an
// absent one both succeed.
type Mutator interface {
	AddFavorite(ctx context.Context, subject string, propertyID int) error
	RemoveFavorite(ctx context.Context, subject string, propertyID int) error
}

// Observer is told whenever the displayed favorite flag of a property changes.
type Observer interface {
	SetFavorite(propertyID int, favorite bool)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(propertyID int, favorite bool)

// SetFavorite implements Observer.
func (f ObserverFunc) SetFavorite(propertyID int, favorite bool) { f(propertyID, favorite) }

// Notice is a user-facing message about a failed mutation.
type Notice struct {
	PropertyID int    `json:"propertyId"`
	Level      string `json:"level"`
	Message    string `json:"message"`
}

// NoticeListener receives notices.
type NoticeListener func(n Notice)

// Result is the outcome of one toggle once its mutation has run.
type Result struct {
	PropertyID int
	// Favorite is the confirmed value after the mutation.
	Favorite bool
	// Noop is set when the confirmed value already matched and nothing was sent.
	Noop bool
	Err  error
}

type job struct {
	subject string
	target  bool
	done    chan Result
}

type entry struct {
	confirmed  bool
	optimistic bool
	queue      []job
	draining   bool
}

// Controller is safe for concurrent use. Observers and notice listeners run
// synchronously and must not call back into the Controller.
type Controller struct {
	mut     Mutator
	log     *logger.Logger
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// pubMu orders flag changes with their notifications.
	pubMu sync.Mutex

	mu        sync.Mutex
	closed    bool
	entries   map[int]*entry
	observers []Observer
	notices   []NoticeListener
}

// NewController creates a Controller persisting through mut.
func NewController(mut Mutator, log *logger.Logger) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		mut:     mut,
		log:     log.WithComponent("favorites"),
		timeout: MutationTimeout,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[int]*entry),
	}
}

// Observe registers an observer.
func (c *Controller) Observe(o Observer) {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	c.observers = append(c.observers, o)
}

// OnNotice registers a notice listener.
func (c *Controller) OnNotice(l NoticeListener) {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	c.notices = append(c.notices, l)
}

// Seed replaces the confirmed favorites with ids, as loaded for the signed-in
// user. Properties with mutations still queued keep their pending flag.
func (c *Controller) Seed(ids []int) {
	want := make(map[int]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	c.mu.Lock()
	changed := map[int]bool{}
	for id, en := range c.entries {
		if en.draining || want[id] {
			continue
		}
		if en.optimistic {
			changed[id] = false
		}
		delete(c.entries, id)
	}
	for id := range want {
		en := c.entryLocked(id)
		if en.draining {
			continue
		}
		if !en.optimistic {
			changed[id] = true
		}
		en.confirmed, en.optimistic = true, true
	}
	c.mu.Unlock()

	ordered := make([]int, 0, len(changed))
	for id := range changed {
		ordered = append(ordered, id)
	}
	sort.Ints(ordered)
	for _, id := range ordered {
		c.notifyLocked(id, changed[id])
	}
}

// Toggle flips the displayed favorite flag of propertyID and queues the
// mutation behind any in flight for the same property. It does not wait for
// the network; the returned channel receives the outcome.
func (c *Controller) Toggle(ctx context.Context, p auth.Principal, propertyID int) (<-chan Result, error) {
	if p.Subject == "" {
		return nil, ErrUnauthenticated
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	en := c.entryLocked(propertyID)
	en.optimistic = !en.optimistic
	j := job{subject: p.Subject, target: en.optimistic, done: make(chan Result, 1)}
	en.queue = append(en.queue, j)
	start := !en.draining
	if start {
		en.draining = true
		c.wg.Add(1)
	}
	c.mu.Unlock()

	c.notifyLocked(propertyID, j.target)
	if start {
		go c.drain(propertyID)
	}
	return j.done, nil
}

// IsFavorite returns the displayed flag.
func (c *Controller) IsFavorite(propertyID int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	en, ok := c.entries[propertyID]
	return ok && en.optimistic
}

// Favorites returns the displayed favorite ids in ascending order.
func (c *Controller) Favorites() []int {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := []int{}
	for id, en := range c.entries {
		if en.optimistic {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

// Close cancels queued and in-flight mutations and waits for them to finish.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

// drain runs the queue of one property until it is empty.
func (c *Controller) drain(propertyID int) {
	defer c.wg.Done()

	for {
		c.mu.Lock()
		en := c.entries[propertyID]
		if len(en.queue) == 0 {
			en.draining = false
			c.mu.Unlock()
			return
		}
		j := en.queue[0]
		confirmed := en.confirmed
		c.mu.Unlock()

		noop := j.target == confirmed
		var err error
		if !noop {
			err = c.mutate(j, propertyID)
		}
		c.finish(propertyID, j, noop, err)
	}
}

func (c *Controller) mutate(j job, propertyID int) error {
	ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
	defer cancel()

	if j.target {
		if err := c.mut.AddFavorite(ctx, j.subject, propertyID); err != nil {
			return fmt.Errorf("add favorite %d: %w", propertyID, err)
		}
		return nil
	}
	if err := c.mut.RemoveFavorite(ctx, j.subject, propertyID); err != nil {
		return fmt.Errorf("remove favorite %d: %w", propertyID, err)
	}
	return nil
}

func (c *Controller) finish(propertyID int, j job, noop bool, err error) {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	c.mu.Lock()
	en := c.entries[propertyID]
	en.queue = en.queue[1:]

	if err == nil {
		en.confirmed = j.target
		confirmed := en.confirmed
		c.mu.Unlock()

		outcome := "confirmed"
		if noop {
			outcome = "noop"
		}
		metrics.ObserveFavorite(outcome)
		j.done <- Result{PropertyID: propertyID, Favorite: confirmed, Noop: noop}
		return
	}

	revert := en.confirmed
	if n := len(en.queue); n > 0 {
		revert = en.queue[n-1].target
	}
	changed := en.optimistic != revert
	en.optimistic = revert
	confirmed := en.confirmed
	c.mu.Unlock()

	metrics.ObserveFavorite("failed")
	c.log.Warn("Favorite mutation failed", map[string]interface{}{
		"property_id": propertyID,
		"target":      j.target,
		"error":       err.Error(),
	})

	if changed {
		c.notifyLocked(propertyID, revert)
	}
	msg := MsgSaveFailed
	if !j.target {
		msg = MsgRemoveFailed
	}
	notice := Notice{PropertyID: propertyID, Level: "error", Message: msg}
	for _, l := range c.notices {
		l(notice)
	}
	j.done <- Result{PropertyID: propertyID, Favorite: confirmed, Err: err}
}

// notifyLocked must be called with pubMu held.
func (c *Controller) notifyLocked(propertyID int, favorite bool) {
	for _, o := range c.observers {
		o.SetFavorite(propertyID, favorite)
	}
}

func (c *Controller) entryLocked(propertyID int) *entry {
	en, ok := c.entries[propertyID]
	if !ok {
		en = &entry{}
		c.entries[propertyID] = en
	}
	return en
}
