package internal

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

const MasterPlaylistName = "master.m3u8"

// ManifestBuilder writes the adaptive-bitrate master playlist.
type ManifestBuilder struct {
	// Bandwidths maps profile names to BANDWIDTH values. Names missing from
	// the table use DefaultBandwidth.
	Bandwidths map[string]int
}

// NewManifestBuilder returns a builder backed by the bandwidth table of ladder.
func NewManifestBuilder(ladder []ResolutionProfile) *ManifestBuilder {
	return &ManifestBuilder{Bandwidths: BandwidthTable(ladder)}
}

// Bandwidth looks up the advertised bitrate for a profile name.
func (b *ManifestBuilder) Bandwidth(name string) int {
	if bw, ok := b.Bandwidths[name]; ok {
		return bw
	}
	return DefaultBandwidth
}

// Render returns the master playlist for target, one variant per profile in
// the given order.
func (b *ManifestBuilder) Render(target []ResolutionProfile) string {
	var sb strings.Builder
	sb.WriteString("#EXTM3U\n")
	for _, p := range target {
		fmt.Fprintf(&sb, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d\n", b.Bandwidth(p.Name), p.Width, p.Height)
		sb.WriteString(path.Join(p.Name, VariantPlaylistName))
		sb.WriteString("\n")
	}
	return sb.String()
}

// Build writes master.m3u8 into outputDir.
func (b *ManifestBuilder) Build(outputDir string, target []ResolutionProfile) error {
	dest := filepath.Join(outputDir, MasterPlaylistName)
	if err := os.WriteFile(dest, []byte(b.Render(target)), 0o644); err != nil {
		return fmt.Errorf("failed to write master playlist: %w", err)
	}
	return nil
}
