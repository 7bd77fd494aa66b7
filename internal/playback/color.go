package playback

import "context"

// ColorFor derives the widget colour for a snapshot. Without a track the
// colour is NoTrackColor. A track without album art also falls back to
// NoTrackColor. Extraction failures are returned as EnrichmentError and the
// caller keeps its previous colour.
func ColorFor(ctx context.Context, extractor ColorExtractor, s Snapshot) (string, error) {
	if s.Track == nil {
		return NoTrackColor, nil
	}
	url := s.Track.ImageURL()
	if url == "" {
		return NoTrackColor, nil
	}
	rgb, err := extractor.Extract(ctx, url)
	if err != nil {
		return "", EnrichmentError("extract color", err)
	}
	return rgb.String(), nil
}
