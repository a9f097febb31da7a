/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package mash

type EventType string

const (
	EventCursor    EventType = "cursor"
	EventEliminate EventType = "eliminate"
	EventLock      EventType = "lock"
	EventDone      EventType = "done"
)

// Event is one step of a run. The concrete types are CursorEvent,
// EliminateEvent, LockEvent and DoneEvent.
//
// Category and option indices always refer to positions in the categories
// passed to Generate, never to positions in the ring.
type Event interface {
	Kind() EventType
}

// CursorEvent is an intermediate position reached while stepping.
type CursorEvent struct {
	Type   EventType `json:"type"`   // "cursor"
	CatIdx int       `json:"catIdx"` // category of the visited option
	OptIdx int       `json:"optIdx"` // visited option within that category
	Tick   int       `json:"tick"`   // 1-based, runs 1..step-1
	Step   int       `json:"step"`   // configured step size
}

// EliminateEvent reports the option the cursor landed on.
type EliminateEvent struct {
	Type   EventType `json:"type"` // "eliminate"
	CatIdx int       `json:"catIdx"`
	OptIdx int       `json:"optIdx"`
	Option Option    `json:"option"` // copy, with Eliminated set
}

// LockEvent reports that a category is down to one survivor.
type LockEvent struct {
	Type   EventType `json:"type"` // "lock"
	CatIdx int       `json:"catIdx"`
}

// DoneEvent is always the last event of a run.
type DoneEvent struct {
	Type    EventType         `json:"type"`    // "done"
	Winners map[string]Option `json:"winners"` // category ID -> surviving option
}

func (CursorEvent) Kind() EventType    { return EventCursor }
func (EliminateEvent) Kind() EventType { return EventEliminate }
func (LockEvent) Kind() EventType      { return EventLock }
func (DoneEvent) Kind() EventType      { return EventDone }
