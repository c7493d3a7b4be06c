package internal

import (
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// ResolutionProfile is one rung of the resolution ladder.
type ResolutionProfile struct {
	Name         string `toml:"name"`
	Width        int    `toml:"width"`
	Height       int    `toml:"height"`
	BandwidthBps int    `toml:"bandwidth"`
}

// DefaultBandwidth is used for profiles missing from the bandwidth table.
const DefaultBandwidth = 200000

var ErrInvalidLadder = errors.New("invalid resolution ladder")

// DefaultLadder lists candidate renditions from largest to smallest.
func DefaultLadder() []ResolutionProfile {
	return []ResolutionProfile{
		{Name: "1080p", Width: 1920, Height: 1080, BandwidthBps: 5000000},
		{Name: "720p", Width: 1280, Height: 720, BandwidthBps: 2800000},
		{Name: "480p", Width: 854, Height: 480, BandwidthBps: 1400000},
		{Name: "360p", Width: 640, Height: 360, BandwidthBps: 800000},
		{Name: "240p", Width: 426, Height: 240, BandwidthBps: 400000},
		{Name: "144p", Width: 256, Height: 144, BandwidthBps: 200000},
	}
}

// DefaultBandwidths is the name to bitrate table used by the master playlist.
func DefaultBandwidths() map[string]int {
	table := make(map[string]int)
	for _, p := range DefaultLadder() {
		table[p.Name] = p.BandwidthBps
	}
	return table
}

// Plan keeps the ladder entries that do not upscale the source, in ladder order.
func Plan(meta SourceMetadata, ladder []ResolutionProfile) ([]ResolutionProfile, error) {
	var target []ResolutionProfile
	for _, p := range ladder {
		if p.Height <= meta.Height {
			target = append(target, p)
		}
	}
	if len(target) == 0 {
		return nil, fmt.Errorf("%w: source height %d is below every ladder entry", ErrNoTargetResolution, meta.Height)
	}
	return target, nil
}

type ladderFile struct {
	Resolutions []ResolutionProfile `toml:"resolution"`
}

// LoadLadderFile reads a TOML ladder:
//
//	[[resolution]]
//	name = "720p"
//	width = 1280
//	height = 720
//	bandwidth = 2800000
func LoadLadderFile(path string) ([]ResolutionProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ladder file: %w", err)
	}
	var f ladderFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLadder, err)
	}
	if err := validateLadder(f.Resolutions); err != nil {
		return nil, err
	}
	return f.Resolutions, nil
}

func validateLadder(ladder []ResolutionProfile) error {
	if len(ladder) == 0 {
		return fmt.Errorf("%w: no entries", ErrInvalidLadder)
	}
	seen := make(map[string]bool, len(ladder))
	for i, p := range ladder {
		if p.Name == "" {
			return fmt.Errorf("%w: entry %d has no name", ErrInvalidLadder, i)
		}
		if seen[p.Name] {
			return fmt.Errorf("%w: duplicate entry %q", ErrInvalidLadder, p.Name)
		}
		seen[p.Name] = true
		if p.Width <= 0 || p.Height <= 0 {
			return fmt.Errorf("%w: entry %q has non-positive size %dx%d", ErrInvalidLadder, p.Name, p.Width, p.Height)
		}
		// libx264 rejects odd dimensions.
		if p.Width%2 != 0 || p.Height%2 != 0 {
			return fmt.Errorf("%w: entry %q has odd size %dx%d", ErrInvalidLadder, p.Name, p.Width, p.Height)
		}
	}
	return nil
}

// BandwidthTable builds the manifest bitrate table for a ladder: the defaults
// plus every ladder entry that declares its own bandwidth.
func BandwidthTable(ladder []ResolutionProfile) map[string]int {
	table := DefaultBandwidths()
	for _, p := range ladder {
		if p.BandwidthBps > 0 {
			table[p.Name] = p.BandwidthBps
		}
	}
	return table
}
