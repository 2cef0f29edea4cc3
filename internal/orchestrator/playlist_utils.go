package orchestrator

import (
	"bufio"
	"encoding/xml"
	"errors"
	"fmt"
	"math"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/grafov/m3u8"
)

// verifyHLSOutput checks that dir holds a finished media playlist whose
// segments all exist relative to the playlist's directory.
func verifyHLSOutput(dir string) error {
	f, err := os.Open(filepath.Join(dir, HLSPlaylistName))
	if err != nil {
		return err
	}
	defer f.Close()

	p, listType, err := m3u8.DecodeFrom(bufio.NewReader(f), false)
	if err != nil {
		return fmt.Errorf("parse playlist: %w", err)
	}
	if listType != m3u8.MEDIA {
		return errors.New("playlist is not a media playlist")
	}
	media := p.(*m3u8.MediaPlaylist)
	if !media.Closed {
		return errors.New("playlist has no end marker")
	}

	uris := make([]string, 0, len(media.Segments))
	maxDur := 0.0
	for _, seg := range media.Segments {
		if seg == nil {
			continue
		}
		uris = append(uris, seg.URI)
		maxDur = math.Max(maxDur, seg.Duration)
	}
	if len(uris) == 0 {
		return errors.New("playlist lists no segments")
	}
	if media.TargetDuration > 0 && maxDur > math.Ceil(media.TargetDuration) {
		return fmt.Errorf("segment duration %.3f exceeds target %.0f", maxDur, media.TargetDuration)
	}
	return checkRelativeFiles(dir, uris)
}

// mpd is the subset of an MPEG-DASH manifest needed to locate init segments.
type mpd struct {
	XMLName xml.Name `xml:"MPD"`
	Periods []struct {
		AdaptationSets []struct {
			ContentType     string           `xml:"contentType,attr"`
			Template        *segmentTemplate `xml:"SegmentTemplate"`
			Representations []struct {
				ID       string           `xml:"id,attr"`
				Template *segmentTemplate `xml:"SegmentTemplate"`
			} `xml:"Representation"`
		} `xml:"AdaptationSet"`
	} `xml:"Period"`
}

type segmentTemplate struct {
	Initialization string `xml:"initialization,attr"`
	Media          string `xml:"media,attr"`
}

// verifyDASHOutput checks that dir holds a manifest with one video and one
// audio adaptation set, and that every representation's init segment exists.
func verifyDASHOutput(dir string) error {
	data, err := os.ReadFile(filepath.Join(dir, DASHManifestName))
	if err != nil {
		return err
	}
	var doc mpd
	if err := xml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse manifest: %w", err)
	}
	if len(doc.Periods) == 0 {
		return errors.New("manifest has no period")
	}

	var inits []string
	sets := doc.Periods[0].AdaptationSets
	if len(sets) != 2 {
		return fmt.Errorf("manifest has %d adaptation sets, want 2", len(sets))
	}
	for _, as := range sets {
		if len(as.Representations) == 0 {
			return fmt.Errorf("adaptation set %q has no representation", as.ContentType)
		}
		for _, rep := range as.Representations {
			tmpl := rep.Template
			if tmpl == nil {
				tmpl = as.Template
			}
			name := dashInitSegment
			if tmpl != nil && tmpl.Initialization != "" {
				name = tmpl.Initialization
			}
			inits = append(inits, strings.ReplaceAll(name, "$RepresentationID$", rep.ID))
		}
	}
	return checkRelativeFiles(dir, inits)
}

// checkRelativeFiles requires every uri to be a local relative path naming an
// existing regular file under dir.
func checkRelativeFiles(dir string, uris []string) error {
	for _, uri := range uris {
		clean := path.Clean(uri)
		if uri == "" || path.IsAbs(uri) || strings.Contains(uri, "://") || !filepath.IsLocal(filepath.FromSlash(clean)) {
			return fmt.Errorf("reference %q is not relative to the manifest", uri)
		}
		info, err := os.Stat(filepath.Join(dir, filepath.FromSlash(clean)))
		if err != nil {
			return fmt.Errorf("referenced file %q: %w", uri, err)
		}
		if !info.Mode().IsRegular() {
			return fmt.Errorf("referenced file %q is not a regular file", uri)
		}
	}
	return nil
}
