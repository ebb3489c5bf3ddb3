package didl

import "strings"

// Namespace URIs of the catalog wire shape.
const (
	NSDIDL = "urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/"
	NSDC   = "http://purl.org/dc/elements/1.1/"
	NSUPnP = "urn:schemas-upnp-org:metadata-1-0/upnp/"
	NSDLNA = "urn:schemas-dlna-org:metadata-1-0/"
	NSSec  = "http://www.sec.co.kr/"
)

// DefaultNamespaces maps the well-known prefixes to their URIs. The empty
// prefix is the DIDL-Lite namespace itself (e.g. "res").
var DefaultNamespaces = map[string]string{
	"":     NSDIDL,
	"didl": NSDIDL,
	"dc":   NSDC,
	"upnp": NSUPnP,
	"dlna": NSDLNA,
	"sec":  NSSec,
}

// Property is one optional element of a serialized object.
type Property struct {
	// Name is the prefixed element name, e.g. "upnp:artist" or "res".
	Name  string            `json:"name"`
	Value string            `json:"value"`
	Attrs map[string]string `json:"attrs,omitempty"`
}

// Object is a serialized catalog entry.
type Object struct {
	ID         string     `json:"id"`
	ParentID   string     `json:"parentID"`
	RefID      string     `json:"refID,omitempty"`
	Restricted bool       `json:"restricted"`
	Container  bool       `json:"container"`
	ChildCount *int       `json:"childCount,omitempty"`
	Title      string     `json:"dc:title"`
	Class      string     `json:"upnp:class"`
	Properties []Property `json:"properties,omitempty"`
}

// SplitName splits a prefixed element name into its namespace URI and local
// name. Unknown prefixes resolve to an empty URI.
func SplitName(name string) (ns, element string) {
	prefix, local, ok := strings.Cut(name, ":")
	if !ok {
		return NSDIDL, name
	}
	return DefaultNamespaces[prefix], local
}

// Add appends a property when f admits its element. Attributes the filter
// does not admit are dropped. Empty values are skipped.
func (o *Object) Add(f Filter, name, value string, attrs map[string]string) bool {
	if value == "" {
		return false
	}
	ns, element := SplitName(name)
	if !f.Admits(ns, element, "") {
		return false
	}
	var kept map[string]string
	for k, v := range attrs {
		if v == "" || !f.Admits(ns, element, k) {
			continue
		}
		if kept == nil {
			kept = make(map[string]string, len(attrs))
		}
		kept[k] = v
	}
	o.Properties = append(o.Properties, Property{Name: name, Value: value, Attrs: kept})
	return true
}

// Values returns every value stored under name, in order.
func (o *Object) Values(name string) []string {
	var out []string
	for _, p := range o.Properties {
		if p.Name == name {
			out = append(out, p.Value)
		}
	}
	return out
}

// Get returns the first property named name.
func (o *Object) Get(name string) (Property, bool) {
	for _, p := range o.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}
