package pipeline

import (
	"time"

	"github.com/starford/mediacat/internal/didl"
	"github.com/starford/mediacat/internal/models"
)

// Topic names.
const (
	TopicPrepare = "prepare"
	TopicRender  = "toJXML"
	TopicBrowse  = "browse"
	TopicUpdate  = "update"
)

// Event names for nodes that carry no content type.
const (
	EventContainer = "inode/directory"
	EventNode      = "node"
)

// ContentInfo describes a discovered resource being prepared.
type ContentInfo struct {
	Path     string
	URL      string
	Name     string
	MimeType string
	Size     int64
	ModTime  time.Time
}

// PrepareEvent collects the attribute patch for a newly discovered resource.
type PrepareEvent struct {
	Info  ContentInfo
	Patch models.Attributes
}

// NewPrepareEvent returns an event with an empty patch.
func NewPrepareEvent(info ContentInfo) *PrepareEvent {
	return &PrepareEvent{Info: info, Patch: models.Attributes{}}
}

// Fill merges one attribute into the patch. See MergeAttribute.
func (e *PrepareEvent) Fill(key string, value any) {
	MergeAttribute(e.Patch, key, value)
}

// RenderEvent lets handlers augment a serialized object.
type RenderEvent struct {
	Node        models.Record
	Object      *didl.Object
	Filter      didl.Filter
	ContentBase string
}

// BrowseEvent asks handlers to materialize the children of Node. The
// publisher holds the node's scanner lock for the duration.
type BrowseEvent struct {
	Node    *models.Node
	Handled bool
}

// UpdateEvent notifies that a node changed.
type UpdateEvent struct {
	ID       models.NodeID
	UpdateID uint64
	Fields   []string
}

// Bus bundles the catalog topics.
type Bus struct {
	Prepare *Topic[*PrepareEvent]
	Render  *Topic[*RenderEvent]
	Browse  *Topic[*BrowseEvent]
	Update  *Topic[UpdateEvent]
}

// NewBus returns a bus with no subscribers.
func NewBus() *Bus {
	return &Bus{
		Prepare: NewTopic[*PrepareEvent](TopicPrepare),
		Render:  NewTopic[*RenderEvent](TopicRender),
		Browse:  NewTopic[*BrowseEvent](TopicBrowse),
		Update:  NewTopic[UpdateEvent](TopicUpdate),
	}
}

// EventName returns the event name for a node: its content type when known,
// EventContainer for containers, EventNode otherwise.
func EventName(r *models.Record) string {
	if mime := r.Attributes.String(models.AttrMimeType); mime != "" {
		return mime
	}
	if didl.IsContainer(r.Class) {
		return EventContainer
	}
	return EventNode
}
