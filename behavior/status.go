// Package behavior - Motion smoothing and sliding-window behavior classification.
package behavior

// Status is the behavior label assigned to the tracked subject.
type Status int

const (
	// Normal means recent motion looks ordinary.
	Normal Status = iota
	// Abnormal means recent motion is frozen, idle, or erratic.
	Abnormal
)

// String returns the human-readable label.
func (s Status) String() string {
	switch s {
	case Normal:
		return "Normal"
	case Abnormal:
		return "Abnormal"
	default:
		return "Unknown"
	}
}

// Majority returns the most common status in labels.
//
// Ties go to the label that appears first when scanning labels from index 0,
// so the result is stable for a given insertion order. An empty slice yields
// Normal.
//
// Arguments:
//   - labels: Statuses ordered oldest first.
//
// Returns:
//   - Status: The majority label.
func Majority(labels []Status) Status {
	if len(labels) == 0 {
		return Normal
	}

	counts := make(map[Status]int, 2)
	order := make([]Status, 0, 2)
	for _, s := range labels {
		if _, seen := counts[s]; !seen {
			order = append(order, s)
		}
		counts[s]++
	}

	best := order[0]
	for _, s := range order[1:] {
		if counts[s] > counts[best] {
			best = s
		}
	}
	return best
}
