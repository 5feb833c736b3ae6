package selection

// Node is a single selector within a tree. A flat selector names one field
// of the entity being resolved; a nested selector pairs a field name with
// the sub-tree that applies to the related entity.
type Node struct {
	Name     string
	Children Tree // nil for flat selectors
}

// IsNested reports whether the node carries its own sub-tree.
func (n Node) IsNested() bool { return n.Children != nil }

// Tree is an ordered set of selectors. Names within one tree are unique;
// builders are responsible for enforcing that.
type Tree []Node

// Names returns every selector name in tree order.
func (t Tree) Names() []string {
	names := make([]string, len(t))
	for i, n := range t {
		names[i] = n.Name
	}
	return names
}

// Lookup finds a node by name.
func (t Tree) Lookup(name string) (Node, bool) {
	for _, n := range t {
		if n.Name == name {
			return n, true
		}
	}
	return Node{}, false
}

// Flatten maps every selector name to its sub-tree. Flat selectors map to
// nil. The flat/nested distinction is intentionally dropped: consumers such
// as the load planner only care about presence and recursive children.
func (t Tree) Flatten() map[string]Tree {
	out := make(map[string]Tree, len(t))
	for _, n := range t {
		out[n.Name] = n.Children
	}
	return out
}

// Flat returns a leaf node.
func Flat(name string) Node { return Node{Name: name} }

// Nested returns a node with its own sub-tree. An empty (non-nil) tree is
// kept distinct from a flat selector.
func Nested(name string, children Tree) Node {
	if children == nil {
		children = Tree{}
	}
	return Node{Name: name, Children: children}
}
