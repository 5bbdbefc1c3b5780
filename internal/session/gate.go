// Package session tracks whether the auth check has completed and whether a
// user is signed in, and decides what a protected view should do.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/boost/internal/model"
)

// Event is an auth state change notification.
type Event string

const (
	EventInitialSession Event = "INITIAL_SESSION"
	EventSignedIn       Event = "SIGNED_IN"
	EventSignedOut      Event = "SIGNED_OUT"
	EventTokenRefreshed Event = "TOKEN_REFRESHED"
	EventUserUpdated    Event = "USER_UPDATED"
)

// Listener receives auth events. session may be nil, e.g. for a sign-out
// reported by a client that no longer holds the session.
type Listener func(event Event, session *model.Session)

// Subscription is returned by OnAuthStateChange.
type Subscription interface {
	Unsubscribe()
}

// Authenticator is the part of the auth collaborator the gate needs.
type Authenticator interface {
	GetSession(ctx context.Context) (*model.Session, error)
	OnAuthStateChange(fn Listener) Subscription
}

// Decision is what a protected view should do right now.
type Decision int

const (
	// Loading means the initial session check has not resolved yet.
	Loading Decision = iota
	// Redirect means nobody is signed in; send the user to the login view.
	Redirect
	// Allow means the protected content may be rendered.
	Allow
)

func (d Decision) String() string {
	switch d {
	case Loading:
		return "loading"
	case Redirect:
		return "redirect"
	case Allow:
		return "allow"
	}
	return "unknown"
}

// Gate holds the initialized/authenticated flag pair.
type Gate struct {
	auth Authenticator

	mu            sync.Mutex
	initialized   bool
	authenticated bool
	alive         bool
	sub           Subscription

	initOnce     sync.Once
	teardownOnce sync.Once
	ready        chan struct{}

	life   context.Context
	cancel context.CancelFunc
}

// NewGate creates a gate with both flags false.
func NewGate(auth Authenticator) *Gate {
	life, cancel := context.WithCancel(context.Background())
	return &Gate{
		auth:   auth,
		alive:  true,
		ready:  make(chan struct{}),
		life:   life,
		cancel: cancel,
	}
}

// Start subscribes to auth events and runs the initial session check.
func (g *Gate) Start(ctx context.Context) {
	sub := g.auth.OnAuthStateChange(g.OnAuthEvent)
	g.mu.Lock()
	if !g.alive {
		g.mu.Unlock()
		sub.Unsubscribe()
		return
	}
	g.sub = sub
	g.mu.Unlock()

	g.Initialize(ctx)
}

// Initialize asks the authenticator for an existing session. A failed check
// counts as signed out. Only the first call does any work; later and
// concurrent calls wait for it.
func (g *Gate) Initialize(ctx context.Context) {
	g.initOnce.Do(func() {
		defer close(g.ready)

		sess, err := g.auth.GetSession(ctx)

		g.mu.Lock()
		defer g.mu.Unlock()
		if !g.alive {
			return
		}
		if err != nil {
			slog.Error("session check failed", "error", err)
			g.authenticated = false
		} else {
			g.authenticated = sess != nil
		}
		g.initialized = true
		slog.Debug("session gate initialized", "authenticated", g.authenticated)
	})
}

// OnAuthEvent applies an auth notification. Only sign-in and sign-out
// change state; other events are ignored.
func (g *Gate) OnAuthEvent(event Event, sess *model.Session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.alive {
		return
	}
	switch event {
	case EventSignedIn:
		if sess != nil {
			g.authenticated = true
		}
	case EventSignedOut:
		g.authenticated = false
	default:
		return
	}
	slog.Debug("auth event", "event", event, "authenticated", g.authenticated)
}

// SetAuthenticated records an explicit login or logout.
func (g *Gate) SetAuthenticated(v bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.alive {
		g.authenticated = v
	}
}

// Teardown unsubscribes from auth events and freezes the gate. Safe to call
// more than once.
func (g *Gate) Teardown() {
	g.teardownOnce.Do(func() {
		g.mu.Lock()
		g.alive = false
		sub := g.sub
		g.sub = nil
		g.mu.Unlock()

		g.cancel()
		if sub != nil {
			sub.Unsubscribe()
		}
	})
}

// Initialized reports whether the initial session check has resolved.
func (g *Gate) Initialized() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.initialized
}

// Authenticated reports whether a user is signed in.
func (g *Gate) Authenticated() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.authenticated
}

// Decide maps the flag pair onto what a protected view should do.
func (g *Gate) Decide() Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch {
	case !g.initialized:
		return Loading
	case !g.authenticated:
		return Redirect
	default:
		return Allow
	}
}

// Ready is closed once the initial session check has returned.
func (g *Gate) Ready() <-chan struct{} {
	return g.ready
}

// WaitReady runs the initial session check and a minimum-duration timer
// side by side and returns when both are done. Cancelling ctx or tearing
// down the gate stops the timer early.
func (g *Gate) WaitReady(ctx context.Context, minDuration time.Duration) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(g.life, cancel)
	defer stop()

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		t := time.NewTimer(minDuration)
		defer t.Stop()
		select {
		case <-t.C:
			return nil
		case <-egCtx.Done():
			return egCtx.Err()
		}
	})
	eg.Go(func() error {
		g.Initialize(egCtx)
		return nil
	})
	return eg.Wait()
}
