/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package mash

import (
	"crypto/rand"
)

const idLength = 6

// uid returns prefix followed by an underscore and six lowercase base36
// characters, e.g. "opt_k3j9x0".
func uid(prefix string) string {
	const letters = "0123456789abcdefghijklmnopqrstuvwxyz"
	const max = byte(255 - (256 % len(letters)))

	out := make([]byte, 0, idLength)
	buf := make([]byte, idLength*2)

	for len(out) < idLength {
		if _, err := rand.Read(buf); err != nil {
			panic(err)
		}

		for _, b := range buf {
			if b <= max {
				out = append(out, letters[int(b)%len(letters)])
				if len(out) == idLength {
					break
				}
			}
		}
	}

	return prefix + "_" + string(out)
}

func NewOption(label string) Option {
	return Option{ID: uid("opt"), Label: label}
}

// NewCategory builds a category with one fresh option per label, in order.
func NewCategory(name string, labels []string) Category {
	c := Category{
		ID:      uid("cat"),
		Name:    name,
		Options: make([]Option, 0, len(labels)),
	}

	for _, l := range labels {
		c.Options = append(c.Options, NewOption(l))
	}

	return c
}
