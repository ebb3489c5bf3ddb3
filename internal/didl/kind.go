// Package didl describes the catalog wire shape: serialized objects, the
// closed class taxonomy and the client filter predicate.
package didl

import (
	"strings"
)

// Class tags used by the catalog.
const (
	ClassObject         = "object"
	ClassContainer      = "object.container"
	ClassStorageFolder  = "object.container.storageFolder"
	ClassMusicArtist    = "object.container.person.musicArtist"
	ClassMusicGenre     = "object.container.genre.musicGenre"
	ClassMusicAlbum     = "object.container.album.musicAlbum"
	ClassPlaylist       = "object.container.playlistContainer"
	ClassItem           = "object.item"
	ClassAudioItem      = "object.item.audioItem"
	ClassMusicTrack     = "object.item.audioItem.musicTrack"
	ClassAudioBroadcast = "object.item.audioItem.audioBroadcast"
	ClassVideoItem      = "object.item.videoItem"
	ClassMovie          = "object.item.videoItem.movie"
	ClassImageItem      = "object.item.imageItem"
	ClassPhoto          = "object.item.imageItem.photo"
	ClassTextItem       = "object.item.textItem"
)

// Kind is the capability record of a class tag.
type Kind struct {
	Class     string
	Container bool
	// MimePrefixes lists the content types served by items of this kind.
	MimePrefixes []string
}

var kinds = map[string]Kind{
	ClassObject:         {Class: ClassObject},
	ClassContainer:      {Class: ClassContainer, Container: true},
	ClassStorageFolder:  {Class: ClassStorageFolder, Container: true},
	ClassMusicArtist:    {Class: ClassMusicArtist, Container: true},
	ClassMusicGenre:     {Class: ClassMusicGenre, Container: true},
	ClassMusicAlbum:     {Class: ClassMusicAlbum, Container: true},
	ClassPlaylist:       {Class: ClassPlaylist, Container: true},
	ClassItem:           {Class: ClassItem},
	ClassAudioItem:      {Class: ClassAudioItem, MimePrefixes: []string{"audio/"}},
	ClassMusicTrack:     {Class: ClassMusicTrack, MimePrefixes: []string{"audio/"}},
	ClassAudioBroadcast: {Class: ClassAudioBroadcast, MimePrefixes: []string{"audio/"}},
	ClassVideoItem:      {Class: ClassVideoItem, MimePrefixes: []string{"video/"}},
	ClassMovie:          {Class: ClassMovie, MimePrefixes: []string{"video/"}},
	ClassImageItem:      {Class: ClassImageItem, MimePrefixes: []string{"image/"}},
	ClassPhoto:          {Class: ClassPhoto, MimePrefixes: []string{"image/"}},
	ClassTextItem:       {Class: ClassTextItem, MimePrefixes: []string{"text/"}},
}

// KindOf resolves class by its longest registered prefix. Vendor extensions
// such as "object.item.audioItem.musicTrack.x-custom" inherit from the
// nearest known ancestor; anything unknown is a plain object.
func KindOf(class string) Kind {
	for c := class; c != ""; {
		if k, ok := kinds[c]; ok {
			return k
		}
		i := strings.LastIndexByte(c, '.')
		if i < 0 {
			break
		}
		c = c[:i]
	}
	return kinds[ClassObject]
}

// IsContainer reports whether nodes of class may have children.
func IsContainer(class string) bool {
	return KindOf(class).Container
}

// ClassForMime picks the item class for a content type.
func ClassForMime(mime string) string {
	switch {
	case strings.HasPrefix(mime, "audio/"):
		return ClassMusicTrack
	case strings.HasPrefix(mime, "video/"):
		return ClassMovie
	case strings.HasPrefix(mime, "image/"):
		return ClassPhoto
	case strings.HasPrefix(mime, "text/"):
		return ClassTextItem
	}
	return ClassItem
}

// Serves reports whether items of class serve mime.
func (k Kind) Serves(mime string) bool {
	for _, p := range k.MimePrefixes {
		if strings.HasPrefix(mime, p) {
			return true
		}
	}
	return false
}
