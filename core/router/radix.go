// Package router is a radix tree router with parameter support. It maps
// request paths to values of any type; the engine stores handlers in it.
package router

import (
	"strings"
)

type nodeType uint8

const (
	static   nodeType = iota // default
	param                    // :param
	catchAll                 // *param
)

// Param is one captured path parameter.
type Param struct {
	Key   string
	Value string
}

// Params holds the parameters captured by a match, in path order.
type Params []Param

// Get returns the value of the named parameter.
func (ps Params) Get(name string) (string, bool) {
	for i := range ps {
		if ps[i].Key == name {
			return ps[i].Value, true
		}
	}
	return "", false
}

// ByName returns the value of the named parameter or "".
func (ps Params) ByName(name string) string {
	v, _ := ps.Get(name)
	return v
}

type node[V any] struct {
	path      string
	indices   string
	children  []*node[V] // static children, parallel to indices
	wild      *node[V]   // :param child
	catchAll  *node[V]   // *param child
	nType     nodeType
	paramName string // parameter name for :param or *param nodes

	value V
	set   bool
}

// Tree is a radix tree keyed by path patterns. Static segments take
// precedence over :param segments, which take precedence over *catchall.
// A Tree is safe for concurrent lookups once all routes are added.
type Tree[V any] struct {
	root *node[V]
	size int
}

// New creates an empty tree.
func New[V any]() *Tree[V] {
	return &Tree[V]{root: &node[V]{}}
}

// Len returns the number of registered patterns.
func (t *Tree[V]) Len() int {
	return t.size
}

// Add registers v under pattern, replacing any earlier value for the same
// pattern. It panics on malformed or conflicting patterns.
func (t *Tree[V]) Add(pattern string, v V) {
	if pattern == "" || pattern[0] != '/' {
		panic("router: path must begin with '/' in path '" + pattern + "'")
	}

	n := t.root.insert(pattern, pattern)
	if !n.set {
		t.size++
	}
	n.value = v
	n.set = true
}

// Find returns the value registered for the pattern matching path.
func (t *Tree[V]) Find(path string) (V, Params, bool) {
	var ps Params
	if n := t.root.lookup(path, &ps); n != nil {
		return n.value, ps, true
	}
	var zero V
	return zero, nil, false
}

// insert walks down from n, whose own path is already consumed, creating
// nodes for path and returning the terminal node.
func (n *node[V]) insert(path, fullPath string) *node[V] {
	for len(path) > 0 {
		if c := path[0]; c == ':' || c == '*' {
			wildcard, valid := findWildcard(path)
			if !valid {
				panic("router: only one wildcard per path segment is allowed in path '" + fullPath + "'")
			}
			if len(wildcard) < 2 {
				panic("router: wildcards must be named in path '" + fullPath + "'")
			}

			if c == '*' {
				if len(wildcard) != len(path) {
					panic("router: catch-all routes are only allowed at the end of the path '" + fullPath + "'")
				}
				if n.catchAll == nil {
					n.catchAll = &node[V]{nType: catchAll, path: wildcard, paramName: wildcard[1:]}
				} else if n.catchAll.path != wildcard {
					panic("router: '" + wildcard + "' conflicts with existing '" + n.catchAll.path + "' in path '" + fullPath + "'")
				}
				return n.catchAll
			}

			if n.wild == nil {
				n.wild = &node[V]{nType: param, path: wildcard, paramName: wildcard[1:]}
			} else if n.wild.path != wildcard {
				panic("router: '" + wildcard + "' conflicts with existing '" + n.wild.path + "' in path '" + fullPath + "'")
			}
			n = n.wild
			path = path[len(wildcard):]
			continue
		}

		// static run up to the next wildcard
		end := strings.IndexAny(path, ":*")
		if end < 0 {
			end = len(path)
		}
		lit := path[:end]

		i := strings.IndexByte(n.indices, lit[0])
		if i < 0 {
			child := &node[V]{path: lit}
			n.indices += string([]byte{lit[0]})
			n.children = append(n.children, child)
			n = child
			path = path[end:]
			continue
		}

		child := n.children[i]
		l := longestCommonPrefix(lit, child.path)

		// Split edge
		if l < len(child.path) {
			rest := &node[V]{}
			*rest = *child
			rest.path = child.path[l:]
			*child = node[V]{
				path:     child.path[:l],
				indices:  string([]byte{rest.path[0]}),
				children: []*node[V]{rest},
			}
		}

		n = child
		path = path[l:]
	}
	return n
}

// lookup matches path below n, whose own path is already consumed,
// backtracking from static to param to catch-all children.
func (n *node[V]) lookup(path string, ps *Params) *node[V] {
	if path == "" {
		if n.set {
			return n
		}
		return nil
	}

	if i := strings.IndexByte(n.indices, path[0]); i >= 0 {
		child := n.children[i]
		if strings.HasPrefix(path, child.path) {
			if m := child.lookup(path[len(child.path):], ps); m != nil {
				return m
			}
		}
	}

	if n.wild != nil {
		end := strings.IndexByte(path, '/')
		if end < 0 {
			end = len(path)
		}
		if end > 0 {
			*ps = append(*ps, Param{Key: n.wild.paramName, Value: path[:end]})
			if m := n.wild.lookup(path[end:], ps); m != nil {
				return m
			}
			*ps = (*ps)[:len(*ps)-1]
		}
	}

	if n.catchAll != nil {
		*ps = append(*ps, Param{Key: n.catchAll.paramName, Value: path})
		return n.catchAll
	}
	return nil
}

// findWildcard returns the wildcard at the start of path, up to the next
// '/', and whether it is free of further ':' or '*'.
func findWildcard(path string) (wildcard string, valid bool) {
	valid = true
	for end, c := range []byte(path[1:]) {
		switch c {
		case '/':
			return path[:1+end], valid
		case ':', '*':
			valid = false
		}
	}
	return path, valid
}

func longestCommonPrefix(a, b string) int {
	i := 0
	max := len(a)
	if len(b) < max {
		max = len(b)
	}
	for i < max && a[i] == b[i] {
		i++
	}
	return i
}
