package inbox

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pysugar/tempmail-nexus/internal/logging"
	"github.com/pysugar/tempmail-nexus/internal/mailapi"
	"github.com/pysugar/tempmail-nexus/internal/providers/catalog"
	"github.com/pysugar/tempmail-nexus/internal/session"
	"github.com/sirupsen/logrus"
)

// DefaultInterval is the poll interval used when none is configured.
const DefaultInterval = time.Second

// EventType distinguishes poller events.
type EventType string

const (
	EventUpdate     EventType = "update"
	EventNewMessage EventType = "new_message"
)

// Event is emitted by the poller. Update events carry the full snapshot; new
// message events carry one message.
type Event struct {
	Type     EventType         `json:"type"`
	Account  string            `json:"account"`
	Messages []mailapi.Message `json:"messages,omitempty"`
	Message  *mailapi.Message  `json:"message,omitempty"`
}

// Poller fetches the first inbox page on an interval and reports messages
// that were not in the previous snapshot. The first fetch after enabling or
// after an account change only establishes the snapshot.
type Poller struct {
	svc      *Service
	session  SessionView
	interval time.Duration
	log      logrus.FieldLogger

	inFlight atomic.Bool

	mu         sync.Mutex
	enabled    bool
	primed     bool
	snapshot   []mailapi.Message
	accountKey string
	gen        uint64
	stop       chan struct{}
	baseCtx    context.Context

	listenersMu sync.RWMutex
	listeners   map[int]func(Event)
	nextID      int

	unsubscribe func()
}

// NewPoller creates a stopped poller.
func NewPoller(svc *Service, interval time.Duration, log logrus.FieldLogger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	p := &Poller{
		svc:       svc,
		session:   svc.session,
		interval:  interval,
		log:       logging.OrDiscard(log),
		listeners: make(map[int]func(Event)),
	}
	p.unsubscribe = p.session.Subscribe(p.onSession)
	return p
}

// Subscribe registers fn for poller events.
func (p *Poller) Subscribe(fn func(Event)) (unsubscribe func()) {
	p.listenersMu.Lock()
	defer p.listenersMu.Unlock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	return func() {
		p.listenersMu.Lock()
		defer p.listenersMu.Unlock()
		delete(p.listeners, id)
	}
}

// Interval returns the configured poll interval.
func (p *Poller) Interval() time.Duration { return p.interval }

// Enabled reports whether the poller is running.
func (p *Poller) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// Start enables polling. The priming fetch runs before Start returns unless an
// earlier fetch is still outstanding, in which case that check primes once it
// lands. Later ticks run in the background until Stop. Fetches use ctx and are
// not aborted by Stop.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.enabled {
		p.mu.Unlock()
		return
	}
	p.enabled = true
	p.resetLocked()
	p.baseCtx = ctx
	stop := make(chan struct{})
	p.stop = stop
	p.mu.Unlock()

	p.log.Infof("📬 Mail polling started (interval: %v)", p.interval)
	p.Check(ctx)

	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Check(ctx)
			}
		}
	}()
}

// Stop disables polling and clears the primed flag. A fetch in flight
// completes but its result is dropped.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.enabled {
		return
	}
	p.enabled = false
	p.resetLocked()
	close(p.stop)
	p.stop = nil
	p.log.Info("📭 Mail polling stopped")
}

// Close stops the poller and detaches it from the session.
func (p *Poller) Close() {
	p.Stop()
	if p.unsubscribe != nil {
		p.unsubscribe()
	}
}

func (p *Poller) resetLocked() {
	p.primed = false
	p.snapshot = nil
	p.accountKey = ""
	p.gen++
}

// Check runs one poll. It is skipped when another check is still outstanding,
// when polling is disabled, or when no account is authenticated. A check whose
// result went stale while the poller needs priming polls again at once, so a
// restart or account switch during a fetch still primes immediately.
func (p *Poller) Check(ctx context.Context) {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.log.Debug("⏭️ Previous mail check still running, skipping tick")
		return
	}
	defer p.inFlight.Store(false)

	for ctx != nil {
		ctx = p.checkOnce(ctx)
	}
}

// checkOnce polls once and returns the context for an immediate re-check, or
// nil when none is needed.
func (p *Poller) checkOnce(ctx context.Context) context.Context {
	p.mu.Lock()
	if !p.enabled {
		p.mu.Unlock()
		return nil
	}
	st := p.session.Snapshot()
	if !st.IsAuthenticated {
		p.mu.Unlock()
		return nil
	}
	key := accountKey(st)
	if key != p.accountKey {
		p.resetLocked()
		p.accountKey = key
	}
	gen := p.gen
	p.mu.Unlock()

	page, err := p.svc.ListMessages(ctx, 1)

	p.mu.Lock()
	if gen != p.gen {
		retry := p.repollLocked()
		p.mu.Unlock()
		p.log.Debug("🗑️ Discarding stale mail check result")
		return retry
	}
	if err != nil {
		p.mu.Unlock()
		p.log.WithError(err).Warn("⚠️ Mail check failed")
		return nil
	}
	if !p.enabled {
		p.mu.Unlock()
		return nil
	}
	events := p.diffLocked(key, page.Messages)
	p.mu.Unlock()

	p.emit(events)
	return nil
}

// repollLocked returns the poller context when a discarded result left an
// enabled poller unprimed.
func (p *Poller) repollLocked() context.Context {
	if !p.enabled || p.primed || p.baseCtx == nil || p.baseCtx.Err() != nil {
		return nil
	}
	return p.baseCtx
}

// diffLocked replaces the snapshot with current and returns the events to emit.
func (p *Poller) diffLocked(account string, current []mailapi.Message) []Event {
	current = append([]mailapi.Message{}, current...)
	update := Event{Type: EventUpdate, Account: account, Messages: current}

	if !p.primed {
		p.primed = true
		p.snapshot = current
		return []Event{update}
	}

	known := make(map[string]struct{}, len(p.snapshot))
	for _, m := range p.snapshot {
		known[m.ID] = struct{}{}
	}

	var events []Event
	for i := range current {
		if _, ok := known[current[i].ID]; !ok {
			msg := current[i]
			events = append(events, Event{Type: EventNewMessage, Account: account, Message: &msg})
		}
	}
	if snapshotChanged(p.snapshot, current) {
		events = append(events, update)
	}
	p.snapshot = current
	return events
}

func snapshotChanged(prev, next []mailapi.Message) bool {
	if len(prev) != len(next) {
		return true
	}
	for i := range prev {
		if prev[i].ID != next[i].ID {
			return true
		}
	}
	return false
}

// onSession resets the snapshot when the active account changes and primes
// right away if polling is on.
func (p *Poller) onSession(st session.State) {
	key := ""
	if st.IsAuthenticated {
		key = accountKey(st)
	}

	p.mu.Lock()
	if key == p.accountKey {
		p.mu.Unlock()
		return
	}
	p.resetLocked()
	enabled := p.enabled
	ctx := p.baseCtx
	p.mu.Unlock()

	if enabled && key != "" && ctx != nil {
		go p.Check(ctx)
	}
}

func (p *Poller) emit(events []Event) {
	if len(events) == 0 {
		return
	}
	p.listenersMu.RLock()
	fns := make([]func(Event), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.listenersMu.RUnlock()

	for _, ev := range events {
		if ev.Type == EventNewMessage {
			p.log.Infof("📨 New message for %s: %s", ev.Account, ev.Message.Subject)
		}
		for _, fn := range fns {
			fn(ev)
		}
	}
}

func accountKey(st session.State) string {
	if st.CurrentAccount == nil {
		return ""
	}
	provider := st.CurrentAccount.ProviderID
	if provider == "" {
		provider = catalog.DefaultProviderID
	}
	return st.CurrentAccount.Address + "|" + provider
}
