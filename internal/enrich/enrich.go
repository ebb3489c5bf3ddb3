// Package enrich holds the content-type handlers registered on the
// enrichment bus.
package enrich

import (
	"log/slog"

	"github.com/starford/mediacat/internal/pipeline"
)

// Handler priorities. Lower runs first, so earlier handlers win scalar fields.
const (
	PrioritySidecar  = 10
	PriorityProbe    = 20
	PriorityFilename = 50
	PriorityResource = 100
)

// Register subscribes every built-in handler on bus and returns a func that
// removes them.
func Register(bus *pipeline.Bus, logger *slog.Logger) func() {
	audio := &Audio{logger: logger}
	image := &Image{logger: logger}
	res := &Resource{}

	unsubs := []func(){
		bus.Prepare.Subscribe("audio/*", PrioritySidecar, "audio.sidecar", audio.Sidecar),
		bus.Prepare.Subscribe("video/*", PrioritySidecar, "video.sidecar", audio.Sidecar),
		bus.Prepare.Subscribe("audio/*", PriorityFilename, "audio.filename", audio.Filename),
		bus.Prepare.Subscribe("image/*", PriorityProbe, "image.dimensions", image.Dimensions),
		bus.Prepare.Subscribe("*", PriorityResource, "resource.prepare", res.Prepare),
		bus.Render.Subscribe("*", PriorityResource, "resource.render", res.Render),
		bus.Render.Subscribe("audio/*", PriorityProbe, "audio.render", audio.Render),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
