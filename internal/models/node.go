// Package models defines the domain types for the media catalog.
package models

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"
)

// NodeID identifies a catalog node. It is allocated by the registry.
type NodeID int64

const (
	// RootID is the fixed identifier of the catalog root.
	RootID NodeID = 0
	// NoID marks an absent parent or reference.
	NoID NodeID = -1
)

func (id NodeID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseNodeID parses the decimal form produced by NodeID.String.
func ParseNodeID(s string) (NodeID, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		return NoID, fmt.Errorf("models: invalid node id %q", s)
	}
	return NodeID(v), nil
}

// Record holds the persisted state of a node.
type Record struct {
	ID           NodeID     `json:"id"`
	ParentID     NodeID     `json:"parentId"`
	Name         string     `json:"name"`
	Class        string     `json:"class"`
	Attributes   Attributes `json:"attributes,omitempty"`
	ChildrenIDs  []NodeID   `json:"childrenIds,omitempty"`
	Materialized bool       `json:"materialized,omitempty"`
	LinkedIDs    []NodeID   `json:"linkedIds,omitempty"`
	RefID        NodeID     `json:"refId"`
	ContentURL   string     `json:"contentUrl,omitempty"`
	ContentTime  time.Time  `json:"contentTime"`
	UpdateID     uint64     `json:"updateId"`
	Path         string     `json:"path,omitempty"`
	Virtual      bool       `json:"virtual,omitempty"`
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	out := r
	out.Attributes = r.Attributes.Clone()
	out.ChildrenIDs = slices.Clone(r.ChildrenIDs)
	out.LinkedIDs = slices.Clone(r.LinkedIDs)
	return out
}

// Title returns the display title: the "title" attribute when set, otherwise Name.
func (r *Record) Title() string {
	if t := r.Attributes.String(AttrTitle); t != "" {
		return t
	}
	return r.Name
}

// Node is a live catalog entry shared between the cache and the tree.
// Fields are guarded by the node mutex; use View and Update to access them
// from concurrent code.
type Node struct {
	mu sync.RWMutex
	Record
}

// NewNode returns a detached node with no parent and no reference.
func NewNode(id NodeID, name, class string, attrs Attributes) *Node {
	if attrs == nil {
		attrs = Attributes{}
	}
	return &Node{Record: Record{
		ID:         id,
		ParentID:   NoID,
		RefID:      NoID,
		Name:       name,
		Class:      class,
		Attributes: attrs,
	}}
}

// FromRecord wraps a record in a live node.
func FromRecord(r Record) *Node {
	return &Node{Record: r}
}

// View calls fn with the node read-locked.
func (n *Node) View(fn func(r *Record)) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	fn(&n.Record)
}

// Update calls fn with the node write-locked.
func (n *Node) Update(fn func(r *Record)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	fn(&n.Record)
}

// Snapshot returns a deep copy of the node state.
func (n *Node) Snapshot() Record {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.Record.Clone()
}

// Clone returns an independent live node with the same state.
func (n *Node) Clone() *Node {
	return FromRecord(n.Snapshot())
}

// NodeTitle returns the display title.
func (n *Node) NodeTitle() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.Record.Title()
}

// Ref returns the reference target, or NoID.
func (n *Node) Ref() NodeID {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.RefID
}

// IsRef reports whether the node is an alias.
func (n *Node) IsRef() bool {
	return n.Ref() != NoID
}

// Parent returns the structural parent id.
func (n *Node) Parent() NodeID {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.ParentID
}

// Version returns the current update counter.
func (n *Node) Version() uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.UpdateID
}

// Children returns a copy of the children ids and whether they are materialized.
func (n *Node) Children() ([]NodeID, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return slices.Clone(n.ChildrenIDs), n.Materialized
}

// Links returns a copy of the alias ids pointing at this node.
func (n *Node) Links() []NodeID {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return slices.Clone(n.LinkedIDs)
}

// Content returns the backing resource locator and its modification stamp.
func (n *Node) Content() (string, time.Time) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.ContentURL, n.ContentTime
}

// MarshalJSON encodes the node state.
func (n *Node) MarshalJSON() ([]byte, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return json.Marshal(n.Record)
}

// UnmarshalJSON decodes the node state.
func (n *Node) UnmarshalJSON(data []byte) error {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	n.mu.Lock()
	n.Record = r
	n.mu.Unlock()
	return nil
}

// DecodeNode decodes a persisted node document.
func DecodeNode(data []byte) (*Node, error) {
	n := &Node{}
	if err := n.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("models: decode node: %w", err)
	}
	return n, nil
}
