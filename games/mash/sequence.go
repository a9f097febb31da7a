/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package mash

import (
	"iter"
)

type slot struct {
	catIdx int
	optIdx int
}

type phase int

const (
	phaseTop phase = iota
	phaseTick
	phaseLand
	phaseLock
	phaseRewrap
	phaseFinish
	phaseExhausted
)

// Sequence produces the events of a single run, one per call to Next.
// It owns a private copy of the categories it was created with.
// A Sequence is not safe for concurrent use and cannot be restarted.
type Sequence struct {
	cats   []Category
	step   int
	cursor int

	phase   phase
	tick    int
	landing int
	lockIdx int
}

// Generate validates step and prepares a run over a copy of categories.
// No events are produced until Next is called.
func Generate(categories []Category, step int) (*Sequence, error) {
	if err := validateStep(step); err != nil {
		return nil, err
	}

	cats := make([]Category, len(categories))
	for i, c := range categories {
		cats[i] = c.Clone()
	}

	return &Sequence{
		cats:  cats,
		step:  step,
		phase: phaseTop,
	}, nil
}

// ring lists every surviving option of every category that still has more
// than one survivor, category-major.
func (s *Sequence) ring() []slot {
	var r []slot
	for ci, c := range s.cats {
		if c.Remaining() <= 1 {
			continue
		}
		for oi, o := range c.Options {
			if !o.Eliminated {
				r = append(r, slot{catIdx: ci, optIdx: oi})
			}
		}
	}

	return r
}

func (s *Sequence) allLocked() bool {
	for _, c := range s.cats {
		if c.Remaining() != 1 {
			return false
		}
	}

	return true
}

// Next returns the next event of the run. The second result is false once
// the DoneEvent has been returned.
func (s *Sequence) Next() (Event, bool) {
	for {
		switch s.phase {
		case phaseTop:
			if s.allLocked() || len(s.ring()) == 0 {
				s.phase = phaseFinish
				continue
			}
			s.tick = 1
			s.phase = phaseTick

		case phaseTick:
			if s.tick >= s.step {
				s.phase = phaseLand
				continue
			}

			r := s.ring()
			if len(r) == 0 {
				s.phase = phaseFinish
				continue
			}

			pos := (s.cursor + 1) % len(r)
			s.cursor = pos
			ev := CursorEvent{
				Type:   EventCursor,
				CatIdx: r[pos].catIdx,
				OptIdx: r[pos].optIdx,
				Tick:   s.tick,
				Step:   s.step,
			}
			s.tick++

			return ev, true

		case phaseLand:
			r := s.ring()
			if len(r) == 0 {
				s.phase = phaseFinish
				continue
			}

			s.landing = (s.cursor + 1) % len(r)
			target := r[s.landing]

			cat := &s.cats[target.catIdx]
			cat.Options[target.optIdx].Eliminated = true

			s.phase = phaseRewrap
			if cat.Remaining() == 1 {
				cat.Locked = true
				s.lockIdx = target.catIdx
				s.phase = phaseLock
			}

			return EliminateEvent{
				Type:   EventEliminate,
				CatIdx: target.catIdx,
				OptIdx: target.optIdx,
				Option: cat.Options[target.optIdx],
			}, true

		case phaseLock:
			s.phase = phaseRewrap

			return LockEvent{Type: EventLock, CatIdx: s.lockIdx}, true

		case phaseRewrap:
			r := s.ring()
			if len(r) == 0 {
				s.phase = phaseFinish
				continue
			}

			// Same absolute slot, wrapped onto the shorter ring.
			s.cursor = s.landing % len(r)
			s.phase = phaseTop

		case phaseFinish:
			s.phase = phaseExhausted

			return DoneEvent{Type: EventDone, Winners: s.winners()}, true

		default:
			return nil, false
		}
	}
}

func (s *Sequence) winners() map[string]Option {
	w := make(map[string]Option, len(s.cats))
	for _, c := range s.cats {
		if o, ok := c.Survivor(); ok {
			w[c.ID] = o
		}
	}

	return w
}

// All adapts the sequence for range-over-func. Breaking out of the loop
// abandons the remaining events.
func (s *Sequence) All() iter.Seq[Event] {
	return func(yield func(Event) bool) {
		for {
			ev, ok := s.Next()
			if !ok || !yield(ev) {
				return
			}
		}
	}
}

// Collect drains the remaining events.
func (s *Sequence) Collect() []Event {
	var events []Event
	for ev := range s.All() {
		events = append(events, ev)
	}

	return events
}

// Elimination records one eliminated option and the category it came from.
type Elimination struct {
	CategoryID string `json:"categoryId"`
	Option     Option `json:"option"`
}

// Result summarizes a finished run.
type Result struct {
	Winners          map[string]Option `json:"winners"`
	EliminationOrder []Elimination     `json:"eliminationOrder"`
}

// Summarize folds a complete event stream into a Result. categories must be
// the slice the events were generated from.
func Summarize(categories []Category, events []Event) Result {
	res := Result{
		Winners:          map[string]Option{},
		EliminationOrder: []Elimination{},
	}

	for _, ev := range events {
		switch e := ev.(type) {
		case EliminateEvent:
			var id string
			if e.CatIdx < len(categories) {
				id = categories[e.CatIdx].ID
			}
			res.EliminationOrder = append(res.EliminationOrder, Elimination{
				CategoryID: id,
				Option:     e.Option,
			})
		case DoneEvent:
			res.Winners = e.Winners
		}
	}

	return res
}

// Run plays a whole run and returns its summary.
func Run(categories []Category, step int) (Result, error) {
	seq, err := Generate(categories, step)
	if err != nil {
		return Result{}, err
	}

	return Summarize(categories, seq.Collect()), nil
}
