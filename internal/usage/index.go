package usage

import (
	"sort"
	"time"

	"usageprep/internal/event"
)

// terminatorIndex holds, per stop-trigger kind, the ascending row positions
// that can end an interval, so each resume is answered by binary search
// instead of a forward scan.
type terminatorIndex struct {
	rows    []Row
	same    map[string][]int
	stopped map[string][]int
	other   []int
}

func newTerminatorIndex(rows []Row, same, other event.TypeSet, stopped event.InteractionType) *terminatorIndex {
	ix := &terminatorIndex{
		rows:    rows,
		same:    make(map[string][]int),
		stopped: make(map[string][]int),
	}
	for i, r := range rows {
		if same.Has(r.Type) {
			ix.same[r.AppPackageName] = append(ix.same[r.AppPackageName], i)
		}
		if other.Has(r.Type) {
			ix.other = append(ix.other, i)
		}
		if r.Type == stopped {
			ix.stopped[r.AppPackageName] = append(ix.stopped[r.AppPackageName], i)
		}
	}
	return ix
}

type candidate struct {
	pos   int
	delta time.Duration
	ok    bool
}

func (ix *terminatorIndex) at(i, j int) candidate {
	return candidate{pos: j, delta: ix.rows[j].Timestamp.Sub(ix.rows[i].Timestamp), ok: true}
}

func (ix *terminatorIndex) nextSameApp(i int) candidate {
	return ix.next(ix.same[ix.rows[i].AppPackageName], i)
}

func (ix *terminatorIndex) nextStopped(i int) candidate {
	return ix.next(ix.stopped[ix.rows[i].AppPackageName], i)
}

func (ix *terminatorIndex) next(positions []int, i int) candidate {
	k := sort.SearchInts(positions, i+1)
	if k == len(positions) {
		return candidate{}
	}
	return ix.at(i, positions[k])
}

// nextOtherApp returns the first other-app trigger after i belonging to a
// different package.
func (ix *terminatorIndex) nextOtherApp(i int) candidate {
	app := ix.rows[i].AppPackageName
	for k := sort.SearchInts(ix.other, i+1); k < len(ix.other); k++ {
		if j := ix.other[k]; ix.rows[j].AppPackageName != app {
			return ix.at(i, j)
		}
	}
	return candidate{}
}

// chooseTerminator picks the end of an interval. The nearer of the same-app
// and other-app triggers wins (same-app on a tie) if it is under cutoff;
// otherwise an ActivityStopped under cutoff is used; otherwise none.
func chooseTerminator(same, other, stopped candidate, cutoff time.Duration) candidate {
	primary := same
	if other.ok && (!same.ok || other.delta < same.delta) {
		primary = other
	}
	if primary.ok && primary.delta < cutoff {
		return primary
	}
	if stopped.ok && stopped.delta < cutoff {
		return stopped
	}
	return candidate{}
}
