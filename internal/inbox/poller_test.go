package inbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pysugar/tempmail-nexus/internal/auth/token"
	"github.com/pysugar/tempmail-nexus/internal/mailapi"
	"github.com/pysugar/tempmail-nexus/internal/mailapi/mailapitest"
	"github.com/pysugar/tempmail-nexus/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) record(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) take() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func countType(events []Event, typ EventType) int {
	n := 0
	for _, ev := range events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

type pollerFixture struct {
	h      *mailapitest.Harness
	store  *session.Store
	svc    *Service
	poller *Poller
	rec    *recorder
}

func newPollerFixture(t *testing.T) *pollerFixture {
	t.Helper()
	h := mailapitest.NewHarness(t)
	tokens := token.NewManager(h.API, nil)
	h.Client.SetRefresher(tokens)

	store, err := session.New(context.Background(), session.Options{
		Storage:  h.Store,
		Registry: h.Registry,
		Tokens:   tokens,
		API:      h.API,
	})
	require.NoError(t, err)
	t.Cleanup(store.Close)

	svc := NewService(h.API, store, tokens.TokenSource(context.Background()), nil)
	p := NewPoller(svc, time.Hour, nil)
	t.Cleanup(p.Close)

	rec := &recorder{}
	p.Subscribe(rec.record)
	return &pollerFixture{h: h, store: store, svc: svc, poller: p, rec: rec}
}

func (f *pollerFixture) login(t *testing.T, address string, ids ...string) {
	t.Helper()
	if !f.h.Backend.HasAccount(address) {
		f.h.Backend.AddAccount(address, "pw")
	}
	f.h.Backend.SetMessages(address, ids...)
	_, err := f.store.Login(context.Background(), address, "pw")
	require.NoError(t, err)
}

func TestPoller_PrimingEmitsOnlyUpdate(t *testing.T) {
	f := newPollerFixture(t)
	f.login(t, "a@duck.test", "A", "B", "C")

	f.poller.Start(context.Background())

	events := f.rec.take()
	require.Len(t, events, 1)
	assert.Equal(t, EventUpdate, events[0].Type)
	assert.Len(t, events[0].Messages, 3)
	assert.Equal(t, 0, countType(events, EventNewMessage))
}

func TestPoller_DiffCorrectness(t *testing.T) {
	f := newPollerFixture(t)
	ctx := context.Background()
	f.login(t, "a@duck.test", "A", "B", "C")
	f.poller.Start(ctx)
	f.rec.take()

	f.h.Backend.SetMessages("a@duck.test", "A", "B", "C", "D")
	f.poller.Check(ctx)
	events := f.rec.take()
	require.Equal(t, 1, countType(events, EventNewMessage))
	assert.Equal(t, 1, countType(events, EventUpdate))
	assert.Equal(t, EventNewMessage, events[0].Type)
	assert.Equal(t, "D", events[0].Message.ID)

	f.h.Backend.SetMessages("a@duck.test", "B", "C")
	f.poller.Check(ctx)
	events = f.rec.take()
	assert.Equal(t, 0, countType(events, EventNewMessage))
	assert.Equal(t, 1, countType(events, EventUpdate))

	f.poller.Check(ctx)
	assert.Empty(t, f.rec.take(), "unchanged inbox emits nothing")

	f.h.Backend.SetMessages("a@duck.test", "E", "F", "B", "C")
	f.poller.Check(ctx)
	events = f.rec.take()
	require.Equal(t, 2, countType(events, EventNewMessage))
	assert.Equal(t, "E", events[0].Message.ID)
	assert.Equal(t, "F", events[1].Message.ID)

	f.h.Backend.SetMessages("a@duck.test", "F", "E", "B", "C")
	f.poller.Check(ctx)
	events = f.rec.take()
	assert.Equal(t, 0, countType(events, EventNewMessage))
	assert.Equal(t, 1, countType(events, EventUpdate), "reorder at same length is an update")
}

func TestPoller_IdleWhenDisabledOrUnauthenticated(t *testing.T) {
	f := newPollerFixture(t)
	ctx := context.Background()
	f.login(t, "a@duck.test", "A")

	f.poller.Check(ctx)
	assert.Equal(t, int32(0), f.h.Backend.MessagesCalls.Load(), "disabled poller makes no calls")

	f.store.Logout(ctx)
	f.poller.Start(ctx)
	f.poller.Check(ctx)
	assert.Equal(t, int32(0), f.h.Backend.MessagesCalls.Load(), "unauthenticated poller makes no calls")
	assert.Zero(t, f.rec.count())
}

func TestPoller_SkipsOverlappingTicks(t *testing.T) {
	f := newPollerFixture(t)
	ctx := context.Background()
	f.login(t, "a@duck.test", "A")
	f.poller.Start(ctx)
	f.rec.take()
	calls := f.h.Backend.MessagesCalls.Load()

	release := f.h.Backend.BlockPath("/messages")
	done := make(chan struct{})
	go func() {
		f.poller.Check(ctx)
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for f.h.Backend.MessagesCalls.Load() == calls {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the first check to reach the backend")
		}
		time.Sleep(5 * time.Millisecond)
	}

	f.poller.Check(ctx)
	assert.Equal(t, calls+1, f.h.Backend.MessagesCalls.Load(), "overlapping tick must not fetch")

	release()
	<-done
}

func TestPoller_StopDiscardsInFlightAndReprimes(t *testing.T) {
	f := newPollerFixture(t)
	ctx := context.Background()
	f.login(t, "a@duck.test", "A")
	f.poller.Start(ctx)
	f.rec.take()

	f.h.Backend.SetMessages("a@duck.test", "A", "B")
	calls := f.h.Backend.MessagesCalls.Load()
	release := f.h.Backend.BlockPath("/messages")
	done := make(chan struct{})
	go func() {
		f.poller.Check(ctx)
		close(done)
	}()
	for f.h.Backend.MessagesCalls.Load() == calls {
		time.Sleep(5 * time.Millisecond)
	}
	f.poller.Stop()
	release()
	<-done
	assert.Empty(t, f.rec.take(), "result after stop is discarded")

	f.h.Backend.SetMessages("a@duck.test", "A", "B", "C")
	f.poller.Start(ctx)
	events := f.rec.take()
	require.Len(t, events, 1)
	assert.Equal(t, EventUpdate, events[0].Type, "restart primes again")
}

func TestPoller_RestartDuringFetchPrimes(t *testing.T) {
	f := newPollerFixture(t)
	ctx := context.Background()
	f.login(t, "a@duck.test", "A")
	f.poller.Start(ctx)
	f.rec.take()

	f.h.Backend.SetMessages("a@duck.test", "A", "B")
	calls := f.h.Backend.MessagesCalls.Load()
	release := f.h.Backend.BlockPath("/messages")
	done := make(chan struct{})
	go func() {
		f.poller.Check(ctx)
		close(done)
	}()
	for f.h.Backend.MessagesCalls.Load() == calls {
		time.Sleep(5 * time.Millisecond)
	}

	// Start cannot prime while the old fetch holds the check slot.
	f.poller.Stop()
	f.poller.Start(ctx)
	assert.Empty(t, f.rec.take())

	release()
	<-done
	events := f.rec.take()
	require.Len(t, events, 1, "stale result is replaced by a fresh priming fetch")
	assert.Equal(t, EventUpdate, events[0].Type)
	assert.Len(t, events[0].Messages, 2)
	assert.Equal(t, calls+2, f.h.Backend.MessagesCalls.Load())
}

func TestAccountKey_DefaultsProvider(t *testing.T) {
	st := session.State{CurrentAccount: &mailapi.Account{Address: "a@duck.test"}}
	assert.Equal(t, "a@duck.test|duckmail", accountKey(st))

	st.CurrentAccount.ProviderID = "mailtm"
	assert.Equal(t, "a@duck.test|mailtm", accountKey(st))
	assert.Equal(t, "", accountKey(session.State{}))
}

func TestPoller_AccountSwitchReprimes(t *testing.T) {
	f := newPollerFixture(t)
	ctx := context.Background()
	f.login(t, "a@duck.test", "A")
	f.poller.Start(ctx)
	f.rec.take()

	f.login(t, "b@duck.test", "X", "Y")

	deadline := time.Now().Add(5 * time.Second)
	var events []Event
	for countType(events, EventUpdate) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for priming fetch of the new account")
		}
		time.Sleep(5 * time.Millisecond)
		events = append(events, f.rec.take()...)
	}
	assert.Equal(t, 0, countType(events, EventNewMessage))
	assert.Equal(t, "b@duck.test|duckmail", events[0].Account)
	assert.Len(t, events[0].Messages, 2)
}

func TestService_ReadMarksSeen(t *testing.T) {
	f := newPollerFixture(t)
	ctx := context.Background()
	f.login(t, "a@duck.test", "A")

	msg, err := f.svc.ReadMessage(ctx, "A")
	require.NoError(t, err)
	assert.True(t, msg.Seen)

	again, err := f.svc.GetMessage(ctx, "A")
	require.NoError(t, err)
	assert.True(t, again.Seen)

	require.NoError(t, f.svc.DeleteMessage(ctx, "A"))
	page, err := f.svc.ListMessages(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
}

func TestService_RequiresSession(t *testing.T) {
	f := newPollerFixture(t)
	_, err := f.svc.ListMessages(context.Background(), 1)
	require.Error(t, err)
	assert.Equal(t, int32(0), f.h.Backend.MessagesCalls.Load())
}
