// Package tree is a minimal stand-in for the symbolic tree builder that
// spec.md explicitly places out of scope as an external collaborator. It
// exists only so the evaluator packages have something real to consume and
// so this repository is testable end-to-end: a hash-consed (so structurally
// identical subtrees share one Node — a minimal common-subexpression cache)
// immutable expression DAG with a topological ordering service.
//
// Evaluator code must only ever depend on the Node and Ordered surface
// documented here, never on Cache internals, to keep the collaborator
// boundary spec.md describes intact.
package tree

import (
	"fmt"
	"sort"

	"github.com/solidkernel/fieldvm/internal/opcode"
)

// ID is a stable identity for a Node, usable as a map key. Nodes minted
// from the same Cache with structurally identical content share an ID.
type ID int

// Node is one vertex of the expression DAG: an operator with up to two
// children, or a leaf (constant, variable, or axis).
type Node struct {
	id    ID
	op    opcode.Opcode
	value float64 // meaningful only when op == CONST
	varID string   // meaningful only when op == VAR
	lhs   *Node
	rhs   *Node // nil for unary/leaf nodes
	rank  int
}

// ID returns the node's stable identity.
func (n *Node) ID() ID { return n.id }

// Op returns the node's opcode.
func (n *Node) Op() opcode.Opcode { return n.op }

// Value returns the constant value. Only meaningful when Op() == CONST.
func (n *Node) Value() float64 { return n.value }

// VarID returns the free-variable identifier. Only meaningful when
// Op() == VAR.
func (n *Node) VarID() string { return n.varID }

// LHS returns the left (or sole, for unary ops) child, nil for leaves.
func (n *Node) LHS() *Node { return n.lhs }

// RHS returns the right child, nil for unary ops and leaves.
func (n *Node) RHS() *Node { return n.rhs }

// Rank is 0 for leaves and one more than the maximum rank of its children
// otherwise; it is the "rank" collaborator field spec.md §4.1 step 3 checks
// (interior node: rank > 0).
func (n *Node) Rank() int { return n.rank }

// Cache hash-conses nodes: building the same expression twice (by content,
// not by Go pointer) returns the same *Node. This is the minimal
// common-subexpression cache spec.md's "out of scope" tree module is
// assumed to provide.
type Cache struct {
	nodes  map[string]*Node
	nextID ID
}

// NewCache returns an empty hash-consing cache.
func NewCache() *Cache {
	return &Cache{nodes: make(map[string]*Node)}
}

func (c *Cache) intern(key string, n *Node) *Node {
	if existing, ok := c.nodes[key]; ok {
		return existing
	}
	c.nextID++
	n.id = c.nextID
	c.nodes[key] = n
	return n
}

// X, Y, Z return the (shared, cached) axis leaves.
func (c *Cache) X() *Node { return c.leaf(opcode.VAR_X, "x") }
func (c *Cache) Y() *Node { return c.leaf(opcode.VAR_Y, "y") }
func (c *Cache) Z() *Node { return c.leaf(opcode.VAR_Z, "z") }

func (c *Cache) leaf(op opcode.Opcode, key string) *Node {
	return c.intern("leaf:"+key, &Node{op: op})
}

// Const returns a (shared) constant leaf.
func (c *Cache) Const(v float64) *Node {
	key := fmt.Sprintf("const:%x", v)
	return c.intern(key, &Node{op: opcode.CONST, value: v})
}

// Var returns a (shared) free-variable leaf identified by id.
func (c *Cache) Var(id string) *Node {
	return c.intern("var:"+id, &Node{op: opcode.VAR, varID: id})
}

// Unary returns the (shared) node for op applied to a.
func (c *Cache) Unary(op opcode.Opcode, a *Node) *Node {
	if !op.IsUnary() {
		panic(fmt.Sprintf("tree: %s is not a unary opcode", op))
	}
	key := fmt.Sprintf("u:%d:%d", op, a.id)
	return c.intern(key, &Node{op: op, lhs: a, rank: a.rank + 1})
}

// Binary returns the (shared) node for op applied to a, b.
func (c *Cache) Binary(op opcode.Opcode, a, b *Node) *Node {
	if !op.IsBinary() {
		panic(fmt.Sprintf("tree: %s is not a binary opcode", op))
	}
	key := fmt.Sprintf("b:%d:%d:%d", op, a.id, b.id)
	rank := a.rank
	if b.rank > rank {
		rank = b.rank
	}
	return c.intern(key, &Node{op: op, lhs: a, rhs: b, rank: rank + 1})
}

// Ordered returns every node reachable from root, sorted so that every
// child precedes its parents (rank 0 first) — the "topological ordering
// service" spec.md §6 requires as a collaborator. Ties within a rank are
// broken by ID for determinism.
func Ordered(root *Node) []*Node {
	seen := make(map[ID]*Node)
	var walk func(n *Node)
	walk = func(n *Node) {
		if n == nil {
			return
		}
		if _, ok := seen[n.id]; ok {
			return
		}
		seen[n.id] = n
		walk(n.lhs)
		walk(n.rhs)
	}
	walk(root)

	out := make([]*Node, 0, len(seen))
	for _, n := range seen {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].rank != out[j].rank {
			return out[i].rank < out[j].rank
		}
		return out[i].id < out[j].id
	})
	return out
}
