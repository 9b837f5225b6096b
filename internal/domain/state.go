package domain

// transitions lists the valid outward moves for every lifecycle state.
// Complete is terminal except for removal from the history view; Removed is
// terminal.
var transitions = map[DownloadState][]DownloadState{
	DownloadStateWaiting:  {DownloadStateActive, DownloadStatePaused, DownloadStateComplete, DownloadStateError, DownloadStateRemoved},
	DownloadStateActive:   {DownloadStatePaused, DownloadStateComplete, DownloadStateError, DownloadStateRemoved},
	DownloadStatePaused:   {DownloadStateActive, DownloadStateWaiting, DownloadStateRemoved},
	DownloadStateError:    {DownloadStateActive, DownloadStateWaiting, DownloadStateRemoved},
	DownloadStateComplete: {DownloadStateRemoved},
	DownloadStateRemoved:  nil,
}

// CanTransition reports whether a record may move from one state to another.
// Staying in the same state is always allowed.
func CanTransition(from, to DownloadState) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanPause reports whether a user pause is valid from the given state.
func CanPause(s DownloadState) bool {
	return s == DownloadStateActive || s == DownloadStateWaiting
}

// CanResume reports whether a user resume is valid from the given state.
func CanResume(s DownloadState) bool {
	return s == DownloadStatePaused || s == DownloadStateError
}
