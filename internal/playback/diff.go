package playback

// StateTracker decides whether a newly observed snapshot differs meaningfully
// from the cached one. It owns the session's tracked player category, which is
// itself one of the comparison inputs.
type StateTracker struct {
	category PlayerState
}

// NewStateTracker starts tracking from the given category.
func NewStateTracker(initial PlayerState) *StateTracker {
	return &StateTracker{category: initial}
}

// Category returns the currently tracked player category.
func (t *StateTracker) Category() PlayerState {
	return t.category
}

// Reset forces the tracked category, e.g. LOADING on start or OFFLINE on stop.
func (t *StateTracker) Reset(category PlayerState) {
	t.category = category
}

// InSync reports whether current carries no meaningful change relative to
// cached (nil when nothing is cached yet). A change is meaningful when the
// player category, the track identity or the device identity differs;
// progress alone never is.
//
// The comparison uses the category tracked before this call, and the tracked
// category is then advanced to current's category whatever the outcome.
func (t *StateTracker) InSync(cached *Snapshot, current Snapshot) bool {
	var prevTrack *Track
	var prevDevice *Device
	if cached != nil {
		prevTrack = cached.Track
		prevDevice = cached.Device
	}

	inSync := current.Details.PlayerState == t.category &&
		sameTrack(prevTrack, current.Track) &&
		sameDevice(prevDevice, current.Device)

	t.category = current.Details.PlayerState
	return inSync
}

func sameTrack(a, b *Track) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ID == b.ID
}

func sameDevice(a, b *Device) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ID == b.ID
}
