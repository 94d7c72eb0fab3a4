package core

// Health classifies an agent's availability. The health monitor is the only
// writer; transitions always move one level at a time to avoid flapping.
type Health int

const (
	// Healthy agents are preferred candidates for dispatch.
	Healthy Health = iota
	// Degraded agents remain eligible but rank after healthy ones.
	Degraded
	// Unavailable agents are excluded from candidate selection entirely.
	Unavailable
)

// String returns the lowercase wire/logging form of the health level.
func (h Health) String() string {
	switch h {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Unavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}
