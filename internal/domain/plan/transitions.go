package plan

// legalTransitions encodes the DAG from spec §3:
//
//	planning → planned → running → {stopped, paused}
//	planned  → scheduled → running
//	planning → stopped   (planning failure, partial steps)
//	paused   → running   (resume)
//	running  → running   (reassignment writes a new history event)
var legalTransitions = map[Status]map[Status]bool{
	StatusPlanning: {
		StatusPlanned: true,
		StatusStopped: true,
	},
	StatusPlanned: {
		StatusScheduled: true,
		StatusRunning:   true,
	},
	StatusScheduled: {
		StatusRunning: true,
	},
	StatusRunning: {
		StatusRunning: true, // reassignment: same state, new history event
		StatusStopped: true,
		StatusPaused:  true,
	},
	StatusPaused: {
		StatusRunning: true,
	},
	StatusStopped: {}, // terminal: spec §8 property 3, conservation of plan state
}

// CanTransition reports whether moving a plan from "from" to "to" is legal.
// It never permits leaving StatusStopped, and is the single gate the
// coordinator and invalidator use before writing a new plan state.
func CanTransition(from, to Status) bool {
	next, ok := legalTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}
