package enrich

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"

	"github.com/starford/mediacat/internal/models"
	"github.com/starford/mediacat/internal/pipeline"
)

// Image reads picture dimensions.
type Image struct {
	logger *slog.Logger
}

// Dimensions sets the resolution attribute from the image header. Formats
// without a registered decoder are skipped.
func (i *Image) Dimensions(_ context.Context, _ string, ev *pipeline.PrepareEvent) error {
	if ev.Info.Path == "" {
		return nil
	}
	f, err := os.Open(ev.Info.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		i.logger.Debug("enrich: no image decoder", slog.String("path", ev.Info.Path), slog.Any("error", err))
		return nil
	}
	res := fmt.Sprintf("%dx%d", cfg.Width, cfg.Height)
	ev.Fill(models.AttrResolution, res)
	ev.Fill(models.AttrResources, []models.Resource{{Resolution: res}})
	i.logger.Debug("enrich: image probed", slog.String("path", ev.Info.Path), slog.String("format", format), slog.String("resolution", res))
	return nil
}
