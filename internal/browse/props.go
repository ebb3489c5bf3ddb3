package browse

import (
	"strconv"
	"strings"

	"github.com/starford/mediacat/internal/models"
)

// numeric lists properties compared as numbers.
var numeric = map[string]bool{
	"upnp:originalTrackNumber": true,
	"res@size":                 true,
	"res@bitrate":              true,
	"dc:year":                  true,
	"@childCount":              true,
}

// Values returns the values of a property (as used in sort and search
// criteria) for a record. Unknown prefixed names fall back to the attribute
// named by their local part.
func Values(r *models.Record, prop string) []string {
	a := r.Attributes
	switch prop {
	case "dc:title":
		return []string{r.Title()}
	case "upnp:class":
		return []string{r.Class}
	case "@id":
		return []string{r.ID.String()}
	case "@parentID":
		return []string{r.ParentID.String()}
	case "@refID":
		if r.RefID == models.NoID {
			return nil
		}
		return []string{r.RefID.String()}
	case "@childCount":
		if !r.Materialized {
			return nil
		}
		return []string{strconv.Itoa(len(r.ChildrenIDs))}
	case "upnp:artist", "dc:creator":
		return a.Strings(models.AttrArtists)
	case "upnp:genre":
		return a.Strings(models.AttrGenres)
	case "upnp:album":
		return single(a.String(models.AttrAlbum))
	case "dc:date":
		if d := a.String(models.AttrDate); d != "" {
			return []string{d}
		}
		return single(a.String(models.AttrYear))
	case "dc:year":
		return single(a.String(models.AttrYear))
	case "dc:description":
		return single(a.String(models.AttrDescription))
	case "upnp:originalTrackNumber":
		return single(a.String(models.AttrTrack))
	case "upnp:albumArtURI":
		return single(a.String(models.AttrAlbumArtURI))
	case "res@protocolInfo", "res@mimeType":
		return single(a.String(models.AttrMimeType))
	case "res@size":
		return single(a.String(models.AttrSize))
	case "res@duration":
		return single(a.String(models.AttrDuration))
	case "res@resolution":
		return single(a.String(models.AttrResolution))
	case "res@bitrate":
		var out []string
		for _, res := range a.Resources() {
			if res.Bitrate > 0 {
				out = append(out, strconv.Itoa(res.Bitrate))
			}
		}
		return out
	}
	_, local, _ := strings.Cut(prop, ":")
	if local == "" {
		local = prop
	}
	if vals := a.Strings(local); len(vals) > 0 {
		return vals
	}
	return single(a.String(local))
}

func single(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}
