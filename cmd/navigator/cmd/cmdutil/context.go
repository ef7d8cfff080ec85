package cmdutil

import (
	"context"
	"log/slog"

	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/config"
)

type contextKey string

const globalsKey contextKey = "navigator-globals"

// Globals holds what the root command resolves for every subcommand.
type Globals struct {
	Config *config.Config
	Logger *slog.Logger
}

// Inject adds globals to the cobra command context.
func Inject(ctx context.Context, g *Globals) context.Context {
	return context.WithValue(ctx, globalsKey, g)
}

// FromContext retrieves globals from the command context.
func FromContext(ctx context.Context) (*Globals, bool) {
	g, ok := ctx.Value(globalsKey).(*Globals)
	return g, ok
}

// MustFromContext retrieves globals or panics. Only for RunE functions
// running under the root command.
func MustFromContext(ctx context.Context) *Globals {
	g, ok := FromContext(ctx)
	if !ok {
		panic("navigator: globals not found in context - this is a bug in navigator")
	}
	return g
}
