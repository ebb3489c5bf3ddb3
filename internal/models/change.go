package models

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Op is a partial-update operator.
type Op uint8

const (
	OpSet Op = iota + 1
	OpUnset
	OpPush
	OpPull
)

func (o Op) String() string {
	switch o {
	case OpSet:
		return "set"
	case OpUnset:
		return "unset"
	case OpPush:
		return "push"
	case OpPull:
		return "pull"
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// Field names addressable by a Change.
const (
	FieldParentID     = "parentId"
	FieldName         = "name"
	FieldClass        = "class"
	FieldChildren     = "childrenIds"
	FieldMaterialized = "materialized"
	FieldLinks        = "linkedIds"
	FieldRefID        = "refId"
	FieldContentURL   = "contentUrl"
	FieldContentTime  = "contentTime"
	FieldUpdateID     = "updateId"
	FieldPath         = "path"
	FieldVirtual      = "virtual"
	FieldAttributes   = "attributes"

	// AttrPrefix addresses a single attribute, e.g. "attributes.title".
	AttrPrefix = FieldAttributes + "."
)

// Mutation is one operator applied to one field.
type Mutation struct {
	Op    Op
	Field string
	Value any
}

// Change describes a partial update of a node. An empty change means the
// whole node is written.
type Change []Mutation

// Set assigns a field.
func Set(field string, v any) Mutation { return Mutation{Op: OpSet, Field: field, Value: v} }

// Unset clears a field.
func Unset(field string) Mutation { return Mutation{Op: OpUnset, Field: field} }

// Push appends to a list field.
func Push(field string, v any) Mutation { return Mutation{Op: OpPush, Field: field, Value: v} }

// Pull removes every occurrence of a value from a list field.
func Pull(field string, v any) Mutation { return Mutation{Op: OpPull, Field: field, Value: v} }

// SetAttr assigns a single attribute.
func SetAttr(key string, v any) Mutation { return Set(AttrPrefix+key, v) }

// Fields returns the distinct field names touched by the change.
func (c Change) Fields() []string {
	var out []string
	for _, m := range c {
		if !slices.Contains(out, m.Field) {
			out = append(out, m.Field)
		}
	}
	return out
}

func (c Change) String() string {
	parts := make([]string, len(c))
	for i, m := range c {
		parts[i] = m.Op.String() + ":" + m.Field
	}
	return strings.Join(parts, ",")
}

// ApplyChange interprets the change against a record. Backends that store
// whole documents use it to replay partial updates.
func ApplyChange(r *Record, c Change) error {
	for _, m := range c {
		if err := applyMutation(r, m); err != nil {
			return fmt.Errorf("models: %s %s: %w", m.Op, m.Field, err)
		}
	}
	return nil
}

func applyMutation(r *Record, m Mutation) error {
	if key, ok := strings.CutPrefix(m.Field, AttrPrefix); ok {
		switch m.Op {
		case OpSet:
			if r.Attributes == nil {
				r.Attributes = Attributes{}
			}
			r.Attributes[key] = m.Value
		case OpUnset:
			delete(r.Attributes, key)
		default:
			return fmt.Errorf("unsupported operator on attribute")
		}
		return nil
	}

	switch m.Field {
	case FieldChildren:
		return applyIDList(&r.ChildrenIDs, m)
	case FieldLinks:
		return applyIDList(&r.LinkedIDs, m)
	}

	if m.Op == OpUnset {
		return unsetField(r, m.Field)
	}
	if m.Op != OpSet {
		return fmt.Errorf("operator requires a list field")
	}

	switch m.Field {
	case FieldParentID:
		id, err := toNodeID(m.Value)
		if err != nil {
			return err
		}
		r.ParentID = id
	case FieldRefID:
		id, err := toNodeID(m.Value)
		if err != nil {
			return err
		}
		r.RefID = id
	case FieldName:
		return assign(&r.Name, m.Value)
	case FieldClass:
		return assign(&r.Class, m.Value)
	case FieldContentURL:
		return assign(&r.ContentURL, m.Value)
	case FieldPath:
		return assign(&r.Path, m.Value)
	case FieldMaterialized:
		return assign(&r.Materialized, m.Value)
	case FieldVirtual:
		return assign(&r.Virtual, m.Value)
	case FieldContentTime:
		return assign(&r.ContentTime, m.Value)
	case FieldUpdateID:
		return assign(&r.UpdateID, m.Value)
	case FieldAttributes:
		attrs, ok := m.Value.(Attributes)
		if !ok {
			return fmt.Errorf("want Attributes, got %T", m.Value)
		}
		r.Attributes = attrs.Clone()
	default:
		return fmt.Errorf("unknown field")
	}
	return nil
}

func unsetField(r *Record, field string) error {
	switch field {
	case FieldParentID:
		r.ParentID = NoID
	case FieldRefID:
		r.RefID = NoID
	case FieldContentURL:
		r.ContentURL = ""
	case FieldContentTime:
		r.ContentTime = time.Time{}
	case FieldPath:
		r.Path = ""
	case FieldAttributes:
		r.Attributes = Attributes{}
	default:
		return fmt.Errorf("field cannot be unset")
	}
	return nil
}

func applyIDList(list *[]NodeID, m Mutation) error {
	switch m.Op {
	case OpSet:
		ids, ok := m.Value.([]NodeID)
		if !ok {
			return fmt.Errorf("want []NodeID, got %T", m.Value)
		}
		*list = slices.Clone(ids)
	case OpUnset:
		*list = nil
	case OpPush:
		id, err := toNodeID(m.Value)
		if err != nil {
			return err
		}
		*list = append(*list, id)
	case OpPull:
		id, err := toNodeID(m.Value)
		if err != nil {
			return err
		}
		*list = slices.DeleteFunc(*list, func(v NodeID) bool { return v == id })
	}
	return nil
}

func toNodeID(v any) (NodeID, error) {
	switch t := v.(type) {
	case NodeID:
		return t, nil
	case int:
		return NodeID(t), nil
	case int64:
		return NodeID(t), nil
	case float64:
		return NodeID(t), nil
	}
	return NoID, fmt.Errorf("want NodeID, got %T", v)
}

func assign[T any](dst *T, v any) error {
	t, ok := v.(T)
	if !ok {
		return fmt.Errorf("want %T, got %T", *dst, v)
	}
	*dst = t
	return nil
}
