package planner

import "strings"

// Node is one step of a query plan. Plans are pure data: they carry no
// references to the executor or the network.
type Node interface{ isPlanNode() }

// RootNode is the root of a plan: a query/mutation Node, or a SubscribeNode.
type RootNode interface{ isRootNode() }

// SequenceNode runs its children in order; later children observe the
// response accumulated by earlier ones.
type SequenceNode struct {
	Nodes []Node
}

// ParallelNode runs its children independently.
type ParallelNode struct {
	Nodes []Node
}

// FetchNode sends one rewritten query to a subgraph.
type FetchNode struct {
	Service   string
	Variables map[string]any
	Query     string
}

// ToRequest builds the subgraph request for this fetch.
func (n *FetchNode) ToRequest() *Request {
	return NewRequest(n.Query).WithVariables(n.Variables)
}

// FlattenNode re-fetches entities found at Path through the _entities
// resolver of Service, then splices the results back in place. Prefix is the
// alias prefix under which the parent fetch exposed the key fields.
type FlattenNode struct {
	Path      ResponsePath
	Prefix    int
	Service   string
	Variables map[string]any
	Query     string
}

// ToRequest builds the subgraph request carrying the given representations.
func (n *FlattenNode) ToRequest(representations []any) *Request {
	req := NewRequest(n.Query).WithVariables(map[string]any{
		"representations": representations,
	})
	return req.ExtendVariables(n.Variables)
}

// IntrospectionNode resolves __schema/__type selections locally.
type IntrospectionNode struct {
	SelectionSet IntrospectionSelectionSet
}

// SubscribeNode opens one subscription per entry of SubscribeNodes and runs
// FlattenNode (if any) against every received event payload.
type SubscribeNode struct {
	SubscribeNodes []*FetchNode
	FlattenNode    Node
}

func (*SequenceNode) isPlanNode()      {}
func (*ParallelNode) isPlanNode()      {}
func (*FetchNode) isPlanNode()         {}
func (*FlattenNode) isPlanNode()       {}
func (*IntrospectionNode) isPlanNode() {}

func (*SequenceNode) isRootNode()      {}
func (*ParallelNode) isRootNode()      {}
func (*FetchNode) isRootNode()         {}
func (*FlattenNode) isRootNode()       {}
func (*IntrospectionNode) isRootNode() {}
func (*SubscribeNode) isRootNode()     {}

// flattenNode collapses single-child Sequence/Parallel wrappers.
func flattenNode(n Node) Node {
	switch n := n.(type) {
	case *SequenceNode:
		if len(n.Nodes) == 1 {
			return n.Nodes[0]
		}
	case *ParallelNode:
		if len(n.Nodes) == 1 {
			return n.Nodes[0]
		}
	}
	return n
}

// PathSegment addresses one step into the response tree. PossibleType
// restricts the segment to entities of one concrete type under an abstract
// field.
type PathSegment struct {
	Name         string
	IsList       bool
	PossibleType string
}

// ResponsePath addresses a location in the response tree.
type ResponsePath []PathSegment

func (p ResponsePath) Clone() ResponsePath {
	out := make(ResponsePath, len(p))
	copy(out, p)
	return out
}

func (p ResponsePath) String() string {
	var b strings.Builder
	for i, segment := range p {
		if i > 0 {
			b.WriteString(".")
		}
		if segment.IsList {
			b.WriteString("[")
			b.WriteString(segment.Name)
			b.WriteString("]")
		} else {
			b.WriteString(segment.Name)
		}
		if segment.PossibleType != "" {
			b.WriteString("(")
			b.WriteString(segment.PossibleType)
			b.WriteString(")")
		}
	}
	return b.String()
}

// IntrospectionField is one introspection selection, with arguments already
// resolved to constants.
type IntrospectionField struct {
	Name         string
	Alias        string
	Arguments    map[string]any
	SelectionSet IntrospectionSelectionSet
}

// ResponseKey returns the key the field occupies in the response.
func (f *IntrospectionField) ResponseKey() string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}

type IntrospectionSelectionSet []*IntrospectionField
