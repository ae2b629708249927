// Package conflict decides which of two versions of an entity survives when
// the local and remote copies have both changed.
//
// The policy is whole-document last-write-wins on the updatedAt field:
//
//   - remote wins iff remote.updatedAt > local.updatedAt, or local carries
//     no timestamp and remote does
//   - everything else, ties included, goes to local
//
// Kind-specific Rules may override the generic decision (see
// TaskCompletionRule). Merge layers an explicit list of locally owned
// fields on top of the winner. Nothing in this package performs I/O.
package conflict

import (
	"github.com/roach88/fieldsync/internal/document"
)

// Winner identifies which side a resolution picked.
type Winner int

const (
	Local Winner = iota
	Remote
)

func (w Winner) String() string {
	if w == Remote {
		return "remote"
	}
	return "local"
}

// Decision is a resolution outcome with the reason it was reached.
type Decision struct {
	Winner Winner
	Reason string
}

// Reasons reported by the generic rule.
const (
	ReasonRemoteNewer      = "remote newer"
	ReasonRemoteOnlyStamp  = "local has no timestamp"
	ReasonLocalNewerOrTied = "local newer or tied"
)

// Rule is a kind-specific override consulted before last-write-wins.
// It returns ok=false to defer to the generic rule.
type Rule interface {
	Decide(kind string, local, remote document.Document) (d Decision, ok bool)
}

// Resolver applies kind rules and then last-write-wins.
// The zero value has no rules and is ready to use.
type Resolver struct {
	rules []Rule
}

// NewResolver creates a resolver with the given rules, consulted in order.
func NewResolver(rules ...Rule) *Resolver {
	return &Resolver{rules: rules}
}

// Decide resolves local against remote for an entity of the given kind.
func (r *Resolver) Decide(kind string, local, remote document.Document) Decision {
	for _, rule := range r.rules {
		if d, ok := rule.Decide(kind, local, remote); ok {
			return d
		}
	}
	return decideLWW(local, remote)
}

// Resolve returns the winning document (not a copy).
func (r *Resolver) Resolve(kind string, local, remote document.Document) document.Document {
	if r.Decide(kind, local, remote).Winner == Remote {
		return remote
	}
	return local
}

// Merge resolves local against remote, then copies each preserved field
// that local carries onto the winner. The result is a new document.
func (r *Resolver) Merge(kind string, local, remote document.Document, preserveFields []string) document.Document {
	merged := r.Resolve(kind, local, remote).Clone()
	if merged == nil {
		merged = document.Document{}
	}
	for _, f := range preserveFields {
		if v, ok := local[f]; ok {
			merged[f] = cloneField(v)
		}
	}
	return merged
}

func cloneField(v any) any {
	return document.Document{"v": v}.Clone()["v"]
}

// Resolve applies plain last-write-wins and returns the winning document.
func Resolve(local, remote document.Document) document.Document {
	if decideLWW(local, remote).Winner == Remote {
		return remote
	}
	return local
}

// Merge is Resolver.Merge without kind rules.
func Merge(local, remote document.Document, preserveFields []string) document.Document {
	var r Resolver
	return r.Merge("", local, remote, preserveFields)
}

func decideLWW(local, remote document.Document) Decision {
	lt, lok := local.UpdatedAt()
	rt, rok := remote.UpdatedAt()
	switch {
	case !lok && rok:
		return Decision{Winner: Remote, Reason: ReasonRemoteOnlyStamp}
	case lok && rok && rt.After(lt):
		return Decision{Winner: Remote, Reason: ReasonRemoteNewer}
	default:
		return Decision{Winner: Local, Reason: ReasonLocalNewerOrTied}
	}
}

// HasConflict reports whether the two versions differ. They agree only when
// their updatedAt values are equal (both absent counts as equal) and every
// other field is equal under canonical JSON. Timestamps that do not parse
// are compared as raw values.
func HasConflict(local, remote document.Document) bool {
	lt, lok := local.UpdatedAt()
	rt, rok := remote.UpdatedAt()
	if lok != rok || (lok && !lt.Equal(rt)) {
		return true
	}
	if !lok && !document.Equal(rawUpdatedAt(local), rawUpdatedAt(remote)) {
		return true
	}
	return !document.Equal(
		local.Without(document.UpdatedAtKey),
		remote.Without(document.UpdatedAtKey),
	)
}

func rawUpdatedAt(d document.Document) document.Document {
	return document.Document{document.UpdatedAtKey: d[document.UpdatedAtKey]}
}
