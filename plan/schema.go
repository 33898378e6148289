package plan

import "fmt"

// AttributeID is the stable identity of an Attribute, independent of its
// position within a Schema or the name it is currently bound to. Two
// Attributes produced by different QueryStageInputs over the same
// underlying data carry different AttributeIDs even though they name the
// same column, which is why upward propagation of outputPartitioning and
// outputOrdering across a QueryStageInput requires an explicit rewrite map.
type AttributeID uint64

// Attribute is a single named, typed slot in a Schema, with an identity
// that survives renaming.
type Attribute struct {
	ID       AttributeID
	Name     string
	DataType string
}

// String renders an Attribute for debugging and canonicalization.
func (a Attribute) String() string {
	return fmt.Sprintf("%s#%d:%s", a.Name, a.ID, a.DataType)
}

// WithName returns a copy of this Attribute bound to a new name, keeping
// its identity.
func (a Attribute) WithName(name string) Attribute {
	a.Name = name
	return a
}

var nextAttributeID AttributeID = 1

// NewAttribute allocates a fresh Attribute with a globally unique ID.
// Real query engines intern attributes during analysis; AQSE only needs
// uniqueness, so a package-level counter is sufficient.
func NewAttribute(name, dataType string) Attribute {
	id := nextAttributeID
	nextAttributeID++
	return Attribute{ID: id, Name: name, DataType: dataType}
}

// Schema is the ordered sequence of named attributes produced by a PlanNode.
type Schema []Attribute

// Names returns the ordered attribute names in this Schema.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, a := range s {
		names[i] = a.Name
	}
	return names
}

// IDs returns the ordered AttributeIDs in this Schema.
func (s Schema) IDs() []AttributeID {
	ids := make([]AttributeID, len(s))
	for i, a := range s {
		ids[i] = a.ID
	}
	return ids
}

// RewriteMap maps an AttributeID appearing in a child stage's output to the
// Attribute a QueryStageInput exposes for it. Applying a RewriteMap is how
// outputPartitioning and outputOrdering are propagated upward across a
// QueryStageInput whose own output attributes differ from its child
// stage's, per spec.md §3.
type RewriteMap map[AttributeID]Attribute

// Rewrite returns attr as seen through this RewriteMap, or attr unchanged
// if it is not present.
func (m RewriteMap) Rewrite(attr Attribute) Attribute {
	if replacement, ok := m[attr.ID]; ok {
		return replacement
	}
	return attr
}

// BuildRewriteMap constructs a RewriteMap from a child stage's output
// Schema to this input's own output Schema, matched positionally (the
// two schemas always have equal length and the same underlying data,
// just possibly different Attribute identities/names).
func BuildRewriteMap(from, to Schema) RewriteMap {
	m := make(RewriteMap, len(from))
	n := len(from)
	if len(to) < n {
		n = len(to)
	}
	for i := 0; i < n; i++ {
		m[from[i].ID] = to[i]
	}
	return m
}
