// Package router implements the parameterised trie router of spec.md
// §4.4: segments split on '/', {name} or {name:type} become typed
// parameters, everything else is a constant (or the '*' wildcard), and
// matching walks the path and the trie in lock-step, backtracking
// through a thread-local parameter scratch.
//
// No example repo in the corpus implements a parameterised trie router,
// so the node/match algorithm is built directly from spec.md rather than
// adapted from a teacher analog; badu-http/mux's ServeMux supplies only
// the general "pattern table, longest/most-specific match wins" shape.
package router

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Method is an HTTP method, stored as a single bit in a node's method set.
type Method uint8

const (
	GET Method = 1 << iota
	POST
	PUT
	PATCH
	DELETE
	HEAD
	OPTIONS
)

// ErrNotFound is returned by Match when no route matches the path at all.
var ErrNotFound = errors.New("router: no matching route")

// ErrMethodNotAllowed is returned by Match when the path matches a node
// but not for the requested method.
var ErrMethodNotAllowed = errors.New("router: method not allowed for path")

type segmentKind uint8

const (
	kindConstant segmentKind = iota
	kindParamInt
	kindParamFloat
	kindParamString
)

type node struct {
	kind     segmentKind
	literal  string // constant text, or the wildcard "*"
	wildcard bool
	param    string // parameter name, for kind != kindConstant

	children []*node
	methods  map[Method]int // method -> route index, for routes terminal at this node
}

// Param is one resolved path parameter: its name and raw string value.
type Param struct {
	Name  string
	Value string
}

// Router is a trie of path segments mapping (method, path) to a route
// index previously returned by Register.
type Router struct {
	root    *node
	rootIdx map[Method]int // routes terminal at "/" itself
	scratch []Param        // reused across calls; router usage is single-threaded per worker
}

// New returns an empty Router.
func New() *Router {
	return &Router{root: &node{}, rootIdx: map[Method]int{}}
}

// Register inserts pattern (e.g. "/api/{id:int}/messages/{to:int}/{text}")
// for method, associating it with routeIdx — typically an index into the
// caller's handler table. Register panics on a malformed pattern segment,
// since routes are registered at startup, not from untrusted input.
func (r *Router) Register(method Method, pattern string, routeIdx int) {
	pattern = strings.Trim(pattern, "/")
	if pattern == "" {
		r.rootIdx[method] = routeIdx
		return
	}
	cur := r.root
	for _, seg := range strings.Split(pattern, "/") {
		cur = cur.child(seg)
	}
	if cur.methods == nil {
		cur.methods = map[Method]int{}
	}
	cur.methods[method] = routeIdx
}

func (n *node) child(seg string) *node {
	kind, literal, param, wildcard := parseSegment(seg)
	for _, c := range n.children {
		if c.kind == kind && c.literal == literal && c.param == param {
			return c
		}
	}
	child := &node{kind: kind, literal: literal, param: param, wildcard: wildcard}
	n.children = append(n.children, child)
	return child
}

func parseSegment(seg string) (kind segmentKind, literal, param string, wildcard bool) {
	if seg == "*" {
		return kindConstant, "*", "", true
	}
	if len(seg) >= 2 && seg[0] == '{' && seg[len(seg)-1] == '}' {
		inner := seg[1 : len(seg)-1]
		name, typ, hasType := strings.Cut(inner, ":")
		if !hasType {
			return kindParamString, "", name, false
		}
		switch typ {
		case "int":
			return kindParamInt, "", name, false
		case "float":
			return kindParamFloat, "", name, false
		case "string":
			return kindParamString, "", name, false
		default:
			panic("router: unknown parameter type " + typ)
		}
	}
	return kindConstant, seg, "", false
}

// Match walks path segment-by-segment against the trie. On success it
// returns the registered route index and the matched parameters, in
// trie-insertion order. Params is a slice into the router's reused
// scratch buffer — valid only until the next call to Match on this
// Router (callers on the same worker goroutine never overlap, per
// spec.md §4.4's single-threaded-routing invariant).
func (r *Router) Match(method Method, path string) (routeIdx int, params []Param, err error) {
	trimmed := strings.Trim(path, "/")
	r.scratch = r.scratch[:0]
	if trimmed == "" {
		if idx, ok := r.rootIdx[method]; ok {
			return idx, r.scratch, nil
		}
		if len(r.rootIdx) > 0 {
			return 0, nil, ErrMethodNotAllowed
		}
		return 0, nil, ErrNotFound
	}
	segs := strings.Split(trimmed, "/")
	idx, matchedAnyNode, err := r.matchNode(r.root, segs, method)
	if err != nil {
		if matchedAnyNode {
			return 0, nil, ErrMethodNotAllowed
		}
		return 0, nil, ErrNotFound
	}
	return idx, r.scratch, nil
}

// matchNode tries n's children against the remaining path segments,
// trying child nodes before accepting a node's own terminal match (first
// success wins), and popping scratch on backtrack.
func (r *Router) matchNode(n *node, segs []string, method Method) (idx int, matchedNode bool, err error) {
	if len(segs) == 0 {
		if n.methods == nil {
			return 0, false, ErrNotFound
		}
		if rv, ok := n.methods[method]; ok {
			return rv, true, nil
		}
		return 0, true, ErrMethodNotAllowed
	}

	seg, rest := segs[0], segs[1:]
	var anyTerminal bool
	for _, c := range n.children {
		mark := len(r.scratch)
		ok, value := c.matches(seg)
		if !ok {
			continue
		}
		if c.kind != kindConstant {
			r.scratch = append(r.scratch, Param{Name: c.param, Value: value})
		}
		rv, childMatched, cerr := r.matchNode(c, rest, method)
		if cerr == nil {
			return rv, true, nil
		}
		if childMatched {
			anyTerminal = true
		}
		r.scratch = r.scratch[:mark] // backtrack
	}
	if anyTerminal {
		return 0, true, ErrMethodNotAllowed
	}
	return 0, false, ErrNotFound
}

func (n *node) matches(seg string) (ok bool, value string) {
	switch n.kind {
	case kindConstant:
		if n.wildcard {
			return seg != "", seg
		}
		return n.literal == seg, seg
	case kindParamInt:
		if seg == "" {
			return false, ""
		}
		for i := 0; i < len(seg); i++ {
			if seg[i] < '0' || seg[i] > '9' {
				return false, ""
			}
		}
		return true, seg
	case kindParamFloat:
		if seg == "" {
			return false, ""
		}
		dots := 0
		for i := 0; i < len(seg); i++ {
			c := seg[i]
			if c == '.' {
				dots++
				if dots > 1 {
					return false, ""
				}
				continue
			}
			if c < '0' || c > '9' {
				return false, ""
			}
		}
		return true, seg
	case kindParamString:
		return seg != "", seg
	}
	return false, ""
}

// ParamInt parses a matched int-typed parameter's value. It is provided
// for handler convenience; the router itself never needs the parsed
// form, only the validated raw string.
func ParamInt(params []Param, name string) (int64, bool) {
	for _, p := range params {
		if p.Name == name {
			v, err := strconv.ParseInt(p.Value, 10, 64)
			return v, err == nil
		}
	}
	return 0, false
}

// Lookup returns the raw string value of a matched parameter by name.
func Lookup(params []Param, name string) (string, bool) {
	for _, p := range params {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}
