package session

const loopSteeringText = "Loop detected: the last %d tool calls follow a repeating pattern. Try a different approach."

// detectLoop inspects the trailing window (spec.md §4.7, default size 10)
// of tool-call names issued within the current user-input horizon and
// reports whether they follow an AA or ABAB repeating pattern (period 1 or
// 2).
func detectLoop(names []string, window int) bool {
	if window <= 0 {
		window = 10
	}
	if len(names) < window {
		return false
	}
	recent := names[len(names)-window:]
	return hasPeriod(recent, 1) || hasPeriod(recent, 2)
}

// hasPeriod reports whether recent is fully explained by repeating its
// first `period` elements.
func hasPeriod(recent []string, period int) bool {
	if len(recent) < period*2 {
		return false
	}
	for i := period; i < len(recent); i++ {
		if recent[i] != recent[i-period] {
			return false
		}
	}
	return true
}
