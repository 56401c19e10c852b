package security

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/SatoKazuma1/wake-on-lan-bot/internal/domain"
)

// Guard decides whether a caller may use the bot at all. It is evaluated
// before every other dispatch step.
//
// The operator is a single person, known by one identity per transport
// (the raw Telegram user ID, "discord:<id>", "slack:<id>", "console").
//
// With no authorized identity configured the guard runs in OPEN MODE and
// admits every caller. Anyone who finds the bot can then power off the host.
type Guard struct {
	authorized map[domain.CallerID]struct{}
	logger     *slog.Logger
}

// NewGuard builds a guard for the operator's identities. Empty values are
// ignored; no identity at all selects open mode, which is logged as a warning.
func NewGuard(logger *slog.Logger, authorized ...string) *Guard {
	g := &Guard{
		authorized: make(map[domain.CallerID]struct{}),
		logger:     logger,
	}
	for _, id := range authorized {
		if id = strings.TrimSpace(id); id != "" {
			g.authorized[domain.CallerID(id)] = struct{}{}
		}
	}
	if g.Open() {
		logger.Warn("authorization is OPEN: no authorized user configured, every caller is allowed",
			"hint", "set telegram.authorizedUser or AUTHORIZED_USER_ID",
		)
	} else {
		logger.Info("authorization restricted", "identities", g.Identities())
	}
	return g
}

// Open reports whether the guard admits everyone.
func (g *Guard) Open() bool { return len(g.authorized) == 0 }

// IsAuthorized reports whether caller may issue intents.
func (g *Guard) IsAuthorized(caller domain.CallerID) bool {
	if g.Open() {
		return true
	}
	_, ok := g.authorized[caller]
	return ok
}

// Identities lists the configured identities in sorted order.
func (g *Guard) Identities() []string {
	out := make([]string, 0, len(g.authorized))
	for id := range g.authorized {
		out = append(out, string(id))
	}
	sort.Strings(out)
	return out
}
