package conflict

import (
	"slices"

	"github.com/roach88/fieldsync/internal/document"
)

// TaskCompletionRule lets a remote completion beat a stale local edit.
//
// When the remote version is strictly newer and in a terminal status while
// the local version is not, remote wins. Every other case defers to
// last-write-wins.
type TaskCompletionRule struct {
	// Kind is the entity kind the rule applies to. Defaults to "tasks".
	Kind string
	// StatusField names the status field. Defaults to "status".
	StatusField string
	// Terminal lists terminal status values. Defaults to ["completed"].
	Terminal []string
}

// ReasonRemoteCompleted is reported when TaskCompletionRule decides.
const ReasonRemoteCompleted = "remote completed"

func (r TaskCompletionRule) kind() string {
	if r.Kind == "" {
		return "tasks"
	}
	return r.Kind
}

func (r TaskCompletionRule) statusField() string {
	if r.StatusField == "" {
		return "status"
	}
	return r.StatusField
}

func (r TaskCompletionRule) terminal(doc document.Document) bool {
	status, _ := doc[r.statusField()].(string)
	if status == "" {
		return false
	}
	terminal := r.Terminal
	if len(terminal) == 0 {
		terminal = []string{"completed"}
	}
	return slices.Contains(terminal, status)
}

// Decide implements Rule.
func (r TaskCompletionRule) Decide(kind string, local, remote document.Document) (Decision, bool) {
	if kind != r.kind() {
		return Decision{}, false
	}
	if !r.terminal(remote) || r.terminal(local) {
		return Decision{}, false
	}
	rt, rok := remote.UpdatedAt()
	if !rok {
		return Decision{}, false
	}
	if lt, lok := local.UpdatedAt(); lok && !rt.After(lt) {
		return Decision{}, false
	}
	return Decision{Winner: Remote, Reason: ReasonRemoteCompleted}, true
}

// DefaultRules returns the rules enabled in production.
func DefaultRules() []Rule {
	return []Rule{TaskCompletionRule{}}
}
