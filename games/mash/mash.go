/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package mash implements the elimination procedure of the MASH
// fortune-telling game.
//
// A cursor walks a ring made of every surviving option of every category
// that still has more than one survivor. Each landing eliminates the option
// underneath the cursor, and a category locks once a single option is left.
// The run ends when every category is locked.
package mash

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidArgument is returned when a run is requested with an unusable step.
var ErrInvalidArgument = errors.New("invalid argument")

type Option struct {
	ID         string `json:"id"`
	Label      string `json:"label"`
	Eliminated bool   `json:"eliminated,omitempty"`
}

type Category struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Options []Option `json:"options"`
	Locked  bool     `json:"locked,omitempty"`
}

// Remaining counts the options of c that have not been eliminated.
func (c Category) Remaining() int {
	n := 0
	for _, o := range c.Options {
		if !o.Eliminated {
			n++
		}
	}

	return n
}

// Survivor returns the first option of c that has not been eliminated.
func (c Category) Survivor() (Option, bool) {
	for _, o := range c.Options {
		if !o.Eliminated {
			return o, true
		}
	}

	return Option{}, false
}

// Clone returns a deep copy of c with every flag reset, so the copy starts
// a run fully alive.
func (c Category) Clone() Category {
	out := Category{
		ID:      c.ID,
		Name:    c.Name,
		Options: make([]Option, len(c.Options)),
	}

	for i, o := range c.Options {
		out.Options[i] = Option{ID: o.ID, Label: o.Label}
	}

	return out
}

func validateStep(step int) error {
	if step < 1 {
		return fmt.Errorf("%w: step must be >= 1, got %d", ErrInvalidArgument, step)
	}

	return nil
}

// StepFromFloat converts a step that arrived as a JSON number. NaN, infinities,
// fractional values and anything below 1 are rejected.
func StepFromFloat(f float64) (int, error) {
	switch {
	case math.IsNaN(f), math.IsInf(f, 0):
		return 0, fmt.Errorf("%w: step must be finite, got %v", ErrInvalidArgument, f)
	case f != math.Trunc(f):
		return 0, fmt.Errorf("%w: step must be a whole number, got %v", ErrInvalidArgument, f)
	case f < 1:
		return 0, fmt.Errorf("%w: step must be >= 1, got %v", ErrInvalidArgument, f)
	case f > math.MaxInt32:
		return 0, fmt.Errorf("%w: step too large, got %v", ErrInvalidArgument, f)
	}

	return int(f), nil
}
