package domain

import "fmt"

const (
	kib = 1024
	mib = kib * 1024
	gib = mib * 1024
	tib = gib * 1024
)

// FormatBytes renders a byte count with binary units.
func FormatBytes(b int64) string {
	switch {
	case b >= tib:
		return fmt.Sprintf("%.2f TB", float64(b)/tib)
	case b >= gib:
		return fmt.Sprintf("%.2f GB", float64(b)/gib)
	case b >= mib:
		return fmt.Sprintf("%.2f MB", float64(b)/mib)
	case b >= kib:
		return fmt.Sprintf("%.2f KB", float64(b)/kib)
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// FormatSpeed renders a bytes/sec rate.
func FormatSpeed(bytesPerSec int64) string {
	if bytesPerSec <= 0 {
		return "0 B/s"
	}
	return FormatBytes(bytesPerSec) + "/s"
}

// FormatETA renders the remaining time at the current speed, or "--".
func FormatETA(remaining, speed int64) string {
	if speed <= 0 || remaining <= 0 {
		return "--"
	}
	seconds := remaining / speed
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours%24)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes%60)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds%60)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

// Progress returns completed/total clamped to [0, 1].
func Progress(completed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	p := float64(completed) / float64(total)
	if p > 1 {
		return 1
	}
	return p
}
