package rules

// DefaultHistoryLimit caps the number of snapshots kept for undo/redo.
const DefaultHistoryLimit = 50

// history is a bounded list of immutable rule snapshots plus a cursor.
//
// steps[cursor] is always the current state. push drops every step after the
// cursor before appending and evicts the oldest step once limit is reached.
type history struct {
	steps  []RuleSet
	cursor int
	limit  int
}

func newHistory(limit int, initial RuleSet) *history {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &history{
		steps:  []RuleSet{initial.Clone()},
		cursor: 0,
		limit:  limit,
	}
}

func (h *history) reset(initial RuleSet) {
	h.steps = []RuleSet{initial.Clone()}
	h.cursor = 0
}

func (h *history) push(rs RuleSet) {
	h.steps = append(h.steps[:h.cursor+1], rs.Clone())
	if over := len(h.steps) - h.limit; over > 0 {
		h.steps = append([]RuleSet(nil), h.steps[over:]...)
	}
	h.cursor = len(h.steps) - 1
}

func (h *history) current() RuleSet {
	return h.steps[h.cursor].Clone()
}

func (h *history) undo() (RuleSet, bool) {
	if h.cursor == 0 {
		return RuleSet{}, false
	}
	h.cursor--
	return h.current(), true
}

func (h *history) redo() (RuleSet, bool) {
	if h.cursor >= len(h.steps)-1 {
		return RuleSet{}, false
	}
	h.cursor++
	return h.current(), true
}

func (h *history) len() int { return len(h.steps) }
