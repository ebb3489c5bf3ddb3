package enrich

import (
	"context"
	"net/url"
	"strconv"

	"github.com/starford/mediacat/internal/didl"
	"github.com/starford/mediacat/internal/models"
	"github.com/starford/mediacat/internal/pipeline"
)

// Resource maintains the primary resource descriptor and renders it as the
// "res" property.
type Resource struct{}

// Prepare records the content type and size and seeds the primary resource.
func (r *Resource) Prepare(_ context.Context, _ string, ev *pipeline.PrepareEvent) error {
	if ev.Info.MimeType != "" {
		ev.Fill(models.AttrMimeType, ev.Info.MimeType)
	}
	if ev.Info.Size > 0 {
		ev.Fill(models.AttrSize, ev.Info.Size)
	}
	ev.Fill(models.AttrResources, []models.Resource{{
		MimeType:   ev.Info.MimeType,
		Size:       ev.Info.Size,
		Duration:   ev.Patch.String(models.AttrDuration),
		Resolution: ev.Patch.String(models.AttrResolution),
	}})
	return nil
}

// Render emits one "res" property per resource. Local content is served
// through the content endpoint under ContentBase; remote URLs are kept.
func (r *Resource) Render(_ context.Context, _ string, ev *pipeline.RenderEvent) error {
	node := ev.Node
	if node.ContentURL == "" || didl.IsContainer(node.Class) {
		return nil
	}
	resources := node.Attributes.Resources()
	if len(resources) == 0 {
		resources = []models.Resource{{
			MimeType: node.Attributes.String(models.AttrMimeType),
			Duration: node.Attributes.String(models.AttrDuration),
		}}
	}
	for i, res := range resources {
		loc := res.URL
		if loc == "" || i == 0 {
			loc = ContentLocation(ev.ContentBase, node.ID, node.ContentURL)
		}
		mime := res.MimeType
		if mime == "" {
			mime = node.Attributes.String(models.AttrMimeType)
		}
		attrs := map[string]string{
			"protocolInfo": "http-get:*:" + orDefault(mime, "application/octet-stream") + ":*",
			"duration":     res.Duration,
			"resolution":   res.Resolution,
		}
		if res.Size > 0 {
			attrs["size"] = strconv.FormatInt(res.Size, 10)
		}
		if res.Bitrate > 0 {
			attrs["bitrate"] = strconv.Itoa(res.Bitrate)
		}
		ev.Object.Add(ev.Filter, "res", loc, attrs)
	}
	return nil
}

// ContentLocation returns the URL clients use to fetch the content of id.
// Remote content URLs are returned unchanged.
func ContentLocation(base string, id models.NodeID, contentURL string) string {
	if u, err := url.Parse(contentURL); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return contentURL
	}
	return base + "/content/" + id.String()
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
