package resolver

import (
	"encoding/json"
	"fmt"
)

// defaultTitle stands in when the tool gives us a URL but no title.
const defaultTitle = "Video Media"

// document is the subset of the tool's single-JSON metadata output that the
// resolver consumes. Everything else in the (often multi-megabyte) document
// is ignored.
type document struct {
	Title     string       `json:"title"`
	URL       string       `json:"url"`
	Thumbnail string       `json:"thumbnail"`
	Uploader  string       `json:"uploader"`
	Duration  float64      `json:"duration"`
	Formats   []formatInfo `json:"formats"`
}

type formatInfo struct {
	URL    string `json:"url"`
	VCodec string `json:"vcodec"`
	ACodec string `json:"acodec"`
}

// playable reports whether the format carries both a video and an audio
// track. The tool marks missing tracks with the literal string "none".
func (f formatInfo) playable() bool {
	return f.URL != "" &&
		f.VCodec != "" && f.VCodec != "none" &&
		f.ACodec != "" && f.ACodec != "none"
}

// parseMetadata extracts a ResolvedMedia from the tool's metadata document.
// Selection order: a top-level direct URL, then the last format combining
// video and audio, then the thumbnail as a non-playable preview.
func parseMetadata(doc []byte) (ResolvedMedia, error) {
	var d document
	if err := json.Unmarshal(doc, &d); err != nil {
		return ResolvedMedia{}, fmt.Errorf("parse metadata document: %w", err)
	}

	media := ResolvedMedia{
		Title:       d.Title,
		Uploader:    d.Uploader,
		DurationSec: d.Duration,
	}
	if media.Title == "" {
		media.Title = defaultTitle
	}

	if d.URL != "" {
		media.DirectURL = d.URL
		media.CanPreview = true
		return media, nil
	}
	for i := len(d.Formats) - 1; i >= 0; i-- {
		if d.Formats[i].playable() {
			media.DirectURL = d.Formats[i].URL
			media.CanPreview = true
			return media, nil
		}
	}
	if d.Thumbnail != "" {
		media.DirectURL = d.Thumbnail
		media.CanPreview = false
		return media, nil
	}
	return ResolvedMedia{}, fmt.Errorf("metadata document for %q offers no usable media", media.Title)
}
