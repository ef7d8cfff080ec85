package session

import (
	"context"
	"sync"
)

// Navigator moves the user agent. In edge mode the proxy, not this process,
// performs the login challenge and logout, so the session can only ask for a
// reload or a redirect.
type Navigator interface {
	Reload()
	Redirect(url string)
}

// NopNavigator ignores navigation requests.
type NopNavigator struct{}

func (NopNavigator) Reload()         {}
func (NopNavigator) Redirect(string) {}

// RecordingNavigator remembers the last request. HTTP handlers use one per
// request and turn it into a response body.
type RecordingNavigator struct {
	mu       sync.Mutex
	reload   bool
	redirect string
}

func (r *RecordingNavigator) Reload() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reload = true
}

func (r *RecordingNavigator) Redirect(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.redirect = url
}

// Result returns whether a reload was asked for and the redirect target.
func (r *RecordingNavigator) Result() (reload bool, redirect string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reload, r.redirect
}

type navigatorKey struct{}

// WithNavigator overrides the manager's navigator for calls made with ctx.
func WithNavigator(ctx context.Context, nav Navigator) context.Context {
	return context.WithValue(ctx, navigatorKey{}, nav)
}

func navigatorFrom(ctx context.Context, fallback Navigator) Navigator {
	if nav, ok := ctx.Value(navigatorKey{}).(Navigator); ok && nav != nil {
		return nav
	}
	return fallback
}
