package universe

import "sort"

// Candidate is a market that just broke into the ranked set. It gets
// exactly one evaluation, on the round after it was registered; after
// that it expires whether or not it qualified.
type Candidate struct {
	Instrument   string `json:"instrument"`
	BaselineRank int    `json:"baseline_rank"`
	BornRound    int64  `json:"born_round"`
}

// Window tracks newcomers across ranking rounds. It is not safe for
// concurrent use; the live loop owns it.
type Window struct {
	candidates map[string]Candidate
	prevRanks  map[string]int
	round      int64
	primed     bool
}

func NewWindow() *Window {
	return &Window{
		candidates: make(map[string]Candidate),
		prevRanks:  make(map[string]int),
	}
}

// Advance feeds one ranking round into the window and returns the
// instruments whose momentum qualified this round, sorted by code.
//
// Evaluation happens strictly on the round after registration: a
// candidate born at round R is checked at R+1 and qualifies only if its
// rank improved over the baseline. A skipped or late round expires the
// candidate without evaluation. A cold-start round (no previous ranking
// observed) registers nothing: being ranked at startup is not breaking
// into the ranking.
func (w *Window) Advance(round int64, ranks map[string]int) []string {
	var eligible []string
	for instr, c := range w.candidates {
		rank, present := ranks[instr]
		if round == c.BornRound+1 && present && rank < c.BaselineRank {
			eligible = append(eligible, instr)
		}
		delete(w.candidates, instr)
	}
	sort.Strings(eligible)

	// Register markets that were absent from the previous round's set.
	if w.primed {
		for instr, rank := range ranks {
			if _, seen := w.prevRanks[instr]; !seen {
				w.candidates[instr] = Candidate{
					Instrument:   instr,
					BaselineRank: rank,
					BornRound:    round,
				}
			}
		}
	}

	w.prevRanks = make(map[string]int, len(ranks))
	for instr, rank := range ranks {
		w.prevRanks[instr] = rank
	}
	w.round = round
	w.primed = true
	return eligible
}

// Round returns the last round fed through Advance.
func (w *Window) Round() int64 { return w.round }

// Pending returns the currently registered candidates, sorted by
// instrument, for durable snapshots.
func (w *Window) Pending() []Candidate {
	out := make([]Candidate, 0, len(w.candidates))
	for _, c := range w.candidates {
		out = append(out, c)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Instrument < out[k].Instrument })
	return out
}

// Restore reloads candidates and the round counter from a snapshot.
// Candidates whose evaluation round has already passed are dropped on
// the next Advance rather than here. The window stays unprimed: the
// first post-restore round evaluates restored candidates but registers
// no newcomers, since the previous ranking did not survive the restart.
func (w *Window) Restore(round int64, candidates []Candidate) {
	w.round = round
	w.primed = false
	w.prevRanks = make(map[string]int)
	w.candidates = make(map[string]Candidate, len(candidates))
	for _, c := range candidates {
		w.candidates[c.Instrument] = c
	}
}
