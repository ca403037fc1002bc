package query

import (
	"regexp"
	"strings"

	"github.com/warpdb/warp/internal/apperrors"
	"github.com/warpdb/warp/internal/crdt"
)

// Observer is a read-only, optionally redacted view over a Layer's cached
// state, scoped to nodes matching a glob-style pattern. The pattern compiler
// is used only by observers; Watcher does not filter by pattern.
type Observer struct {
	layer   *Layer
	pattern *regexp.Regexp

	// exposeProps, if non-nil, is the only set of node/edge property keys
	// visible through this observer. redactProps always wins over exposeProps
	// for a key present in both.
	exposeProps map[string]struct{}
	redactProps map[string]struct{}
}

// ObserverOptions configures an Observer's visibility.
type ObserverOptions struct {
	// ExposeProps, if non-empty, restricts visible properties to this set.
	ExposeProps []string
	// RedactProps removes these keys from every props result, regardless of
	// ExposeProps.
	RedactProps []string
}

// compilePattern turns a glob-style pattern (only `*` is special, matching
// zero or more characters) into an anchored regexp, escaping every other
// regex metacharacter literally.
func compilePattern(pattern string) (*regexp.Regexp, error) {
	var sb strings.Builder
	sb.WriteString("^")
	for _, r := range pattern {
		if r == '*' {
			sb.WriteString(".*")
			continue
		}
		sb.WriteString(regexp.QuoteMeta(string(r)))
	}
	sb.WriteString("$")
	return regexp.Compile(sb.String())
}

// NewObserver returns an Observer over layer scoped to nodes whose id matches
// pattern.
func NewObserver(layer *Layer, pattern string, opts ObserverOptions) (*Observer, error) {
	re, err := compilePattern(pattern)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidPattern, "compile observer pattern", err)
	}
	o := &Observer{layer: layer, pattern: re}
	if len(opts.ExposeProps) > 0 {
		o.exposeProps = toSet(opts.ExposeProps)
	}
	if len(opts.RedactProps) > 0 {
		o.redactProps = toSet(opts.RedactProps)
	}
	return o, nil
}

func toSet(vals []string) map[string]struct{} {
	out := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		out[v] = struct{}{}
	}
	return out
}

// Matches reports whether node id is within this observer's scope.
func (o *Observer) Matches(node string) bool { return o.pattern.MatchString(node) }

func (o *Observer) filterProps(props map[string]crdt.Value) map[string]crdt.Value {
	out := make(map[string]crdt.Value, len(props))
	for k, v := range props {
		if o.exposeProps != nil {
			if _, ok := o.exposeProps[k]; !ok {
				continue
			}
		}
		if o.redactProps != nil {
			if _, ok := o.redactProps[k]; ok {
				continue
			}
		}
		out[k] = v
	}
	return out
}

// Nodes returns every node id in the cached state matching this observer's
// pattern, sorted.
func (o *Observer) Nodes() ([]string, error) {
	state, err := o.layer.State()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, id := range state.SortedNodeIDs() {
		if o.Matches(id) {
			out = append(out, id)
		}
	}
	return out, nil
}

// NodeProps returns node's properties filtered by this observer's
// expose/redact lists, or OUT_OF_SCOPE (apperrors.CodeOutOfScope) if node
// doesn't match the pattern.
func (o *Observer) NodeProps(node string) (map[string]crdt.Value, error) {
	if !o.Matches(node) {
		return nil, apperrors.New(apperrors.CodeOutOfScope, "node not in observer scope")
	}
	props, err := o.layer.GetNodeProps(node)
	if err != nil {
		return nil, err
	}
	return o.filterProps(props), nil
}

// Edges returns every edge incident to node in the given direction whose
// owning node (the endpoint used to scope visibility) matches this
// observer's pattern.
func (o *Observer) Edges(node string, dir Direction) ([]Edge, error) {
	if !o.Matches(node) {
		return nil, apperrors.New(apperrors.CodeOutOfScope, "node not in observer scope")
	}
	return o.layer.GetEdges(node, dir)
}

// EdgeProps returns an edge's properties filtered by this observer's
// expose/redact lists. Both endpoints must be in scope.
func (o *Observer) EdgeProps(from, to, label string) (map[string]crdt.Value, error) {
	if !o.Matches(from) || !o.Matches(to) {
		return nil, apperrors.New(apperrors.CodeOutOfScope, "edge endpoint not in observer scope")
	}
	props, err := o.layer.GetEdgeProps(from, to, label)
	if err != nil {
		return nil, err
	}
	return o.filterProps(props), nil
}
