package page

import (
	"fmt"
	"strconv"
)

// Ref addresses a page without holding it. NullRef addresses nothing.
type Ref uint64

const NullRef Ref = 0

func (r Ref) String() string {
	return fmt.Sprintf("%016x", uint64(r))
}

// ParseRef parses the 16 digit hex form produced by String.
func ParseRef(s string) (Ref, error) {
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return NullRef, fmt.Errorf("page: parse ref %q: %w", s, err)
	}
	return Ref(v), nil
}

// Kind discriminates the page roles.
type Kind uint8

const (
	KindLeaf Kind = iota + 1
	KindInner
	KindDescriptor
)

func (k Kind) String() string {
	switch k {
	case KindLeaf:
		return "leaf"
	case KindInner:
		return "inner"
	case KindDescriptor:
		return "descriptor"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Node is a leaf or inner page of the tree.
//
// Leaves use Items (parallel to Keys) and the Prev/Next sibling links. Inner
// pages use Children, which always holds len(Keys)+1 references; child i
// covers keys in [Keys[i-1], Keys[i]). Level is 0 for leaves and grows by one
// per inner layer; it never changes for the lifetime of a page.
type Node[K, V any] struct {
	Ref   Ref
	Kind  Kind
	Level uint16

	Keys     []K
	Items    []V
	Children []Ref

	Prev Ref
	Next Ref

	encoded int64
}

// NewLeaf returns an empty leaf without a reference.
func NewLeaf[K, V any](capacity int) *Node[K, V] {
	return &Node[K, V]{
		Kind:  KindLeaf,
		Keys:  make([]K, 0, capacity),
		Items: make([]V, 0, capacity),
	}
}

// NewInner returns an empty inner page at level.
func NewInner[K, V any](level uint16, capacity int) *Node[K, V] {
	return &Node[K, V]{
		Kind:     KindInner,
		Level:    level,
		Keys:     make([]K, 0, capacity),
		Children: make([]Ref, 0, capacity+1),
	}
}

// IsLeaf reports whether n is a leaf.
func (n *Node[K, V]) IsLeaf() bool { return n.Kind == KindLeaf }

// Len returns the number of keys.
func (n *Node[K, V]) Len() int { return len(n.Keys) }

// PageRef returns n.Ref. It is the cache key of a node.
func (n *Node[K, V]) PageRef() Ref { return n.Ref }

// Size is the encoded size of the page when known, otherwise an estimate.
func (n *Node[K, V]) Size() int64 {
	if n.encoded > 0 {
		return n.encoded
	}
	return int64(headerSize + 32 + 24*len(n.Keys) + 8*len(n.Children))
}

func (n *Node[K, V]) String() string {
	return fmt.Sprintf("%s page %s (level %d, %d keys)", n.Kind, n.Ref, n.Level, len(n.Keys))
}
