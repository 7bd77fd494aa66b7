package playback

import "fmt"

// FormatDuration renders milliseconds as m:ss.
func FormatDuration(ms int) string {
	if ms < 0 {
		ms = 0
	}
	seconds := ms / 1000
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

// FillProgress computes the derived elapsed/remaining strings and the
// progress ratio from ProgressMs and the track duration.
func (s *Snapshot) FillProgress() {
	duration := 0
	if s.Track != nil {
		duration = s.Track.DurationMs
	}
	progress := s.Details.ProgressMs

	s.Details.Elapsed = FormatDuration(progress)
	s.Details.Remains = FormatDuration(duration - progress)
	s.Details.ProgressPercent = 0
	if duration > 0 {
		s.Details.ProgressPercent = float64(progress) / float64(duration)
	}
}
