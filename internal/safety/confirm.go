package safety

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const tokenTTL = 5 * time.Minute

// pendingConfirmation is an outstanding request to run one tool against one
// Metabase object.
type pendingConfirmation struct {
	tool      string
	target    string
	createdAt time.Time
}

// ConfirmationTracker issues single-use, time-limited tokens that gate
// destructive tools such as delete_card or remove_card_from_dashboard. A
// token is bound to the tool and target it was issued for.
type ConfirmationTracker struct {
	destructive map[string]struct{}
	now         func() time.Time

	mu     sync.Mutex
	tokens map[string]pendingConfirmation
}

// NewConfirmationTracker returns a tracker gating destructiveTools. A nil or
// empty slice disables confirmation entirely.
func NewConfirmationTracker(destructiveTools []string) *ConfirmationTracker {
	ct := &ConfirmationTracker{
		destructive: make(map[string]struct{}, len(destructiveTools)),
		now:         time.Now,
		tokens:      make(map[string]pendingConfirmation),
	}
	for _, tool := range destructiveTools {
		ct.destructive[tool] = struct{}{}
	}
	return ct
}

// NeedsConfirmation reports whether tool is gated. A nil tracker gates nothing.
func (ct *ConfirmationTracker) NeedsConfirmation(tool string) bool {
	if ct == nil {
		return false
	}
	_, ok := ct.destructive[tool]
	return ok
}

// sweepExpired drops tokens older than tokenTTL. The caller must hold ct.mu.
func (ct *ConfirmationTracker) sweepExpired() {
	now := ct.now()
	for token, p := range ct.tokens {
		if now.Sub(p.createdAt) > tokenTTL {
			delete(ct.tokens, token)
		}
	}
}

// RequestConfirmation records a pending run of tool against target and
// returns the token that authorises it.
func (ct *ConfirmationTracker) RequestConfirmation(tool, target string) string {
	token := uuid.NewString()

	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.sweepExpired()
	ct.tokens[token] = pendingConfirmation{tool: tool, target: target, createdAt: ct.now()}
	return token
}

// Confirm consumes token and reports whether it was issued for tool and
// target and has not expired. A token is removed on first use whether or not
// it matched.
func (ct *ConfirmationTracker) Confirm(token, tool, target string) bool {
	if token == "" {
		return false
	}

	ct.mu.Lock()
	defer ct.mu.Unlock()

	p, ok := ct.tokens[token]
	if !ok {
		return false
	}
	delete(ct.tokens, token)

	if ct.now().Sub(p.createdAt) > tokenTTL {
		return false
	}
	return p.tool == tool && p.target == target
}

// Pending returns the number of unexpired tokens.
func (ct *ConfirmationTracker) Pending() int {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.sweepExpired()
	return len(ct.tokens)
}
