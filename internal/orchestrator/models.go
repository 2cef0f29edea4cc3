package orchestrator

import (
	"errors"
	"time"
)

// AssetID uniquely identifies one uploaded source video and everything derived from it.
type AssetID string

// Format is a streaming output format. Its value is also the name of the
// format's subdirectory under an asset's output root.
type Format string

const (
	FormatHLS  Format = "hls"
	FormatDASH Format = "dash"
)

// Formats lists every output format in the order jobs are reported.
var Formats = []Format{FormatHLS, FormatDASH}

const (
	HLSPlaylistName  = "playlist.m3u8"
	DASHManifestName = "manifest.mpd"
)

// ParseFormat accepts only the known format names, case-sensitively, since
// they double as directory names.
func ParseFormat(s string) (Format, bool) {
	switch Format(s) {
	case FormatHLS, FormatDASH:
		return Format(s), true
	}
	return "", false
}

// ManifestName is the entry file a player loads for the format.
func (f Format) ManifestName() string {
	if f == FormatDASH {
		return DASHManifestName
	}
	return HLSPlaylistName
}

// StreamURL is the public URL of the format's manifest for id.
func StreamURL(id AssetID, f Format) string {
	return "/stream/" + string(id) + "/" + string(f) + "/" + f.ManifestName()
}

// PlayerURL is the front end page for id.
func PlayerURL(id AssetID) string {
	return "/player/" + string(id)
}

// Asset is an allocated identifier together with its on-disk directories.
type Asset struct {
	ID         AssetID
	RawDir     string // uploads/<id>
	OutputRoot string // streams/<id>
}

// Upload is an accepted raw file belonging to an Asset. It is the value the
// receiver hands to the coordinator.
type Upload struct {
	Asset    Asset
	RawPath  string
	Filename string // original client-supplied name
	Size     int64  // bytes written
}

// Outcome is the result of one format's transcode job.
type Outcome struct {
	Format   Format
	Err      error
	Duration time.Duration
}

// OK reports whether the job succeeded.
func (o Outcome) OK() bool { return o.Err == nil }

// CombinedOutcome joins the per-format outcomes for one asset.
type CombinedOutcome struct {
	AssetID  AssetID
	Outcomes []Outcome
}

// OK is true only when every job ran and succeeded.
func (c CombinedOutcome) OK() bool {
	if len(c.Outcomes) == 0 {
		return false
	}
	for _, o := range c.Outcomes {
		if !o.OK() {
			return false
		}
	}
	return true
}

// Failed returns the formats whose job failed.
func (c CombinedOutcome) Failed() []Format {
	var out []Format
	for _, o := range c.Outcomes {
		if !o.OK() {
			out = append(out, o.Format)
		}
	}
	return out
}

// Succeeded returns the formats whose output tree is complete and servable.
func (c CombinedOutcome) Succeeded() []Format {
	var out []Format
	for _, o := range c.Outcomes {
		if o.OK() {
			out = append(out, o.Format)
		}
	}
	return out
}

// Err joins the failing jobs' errors, or returns nil on success.
func (c CombinedOutcome) Err() error {
	var errs []error
	for _, o := range c.Outcomes {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	return errors.Join(errs...)
}
