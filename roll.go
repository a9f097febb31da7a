/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"strings"

	"github.com/Seednode/mashbox/games/mash"
	"github.com/spf13/cobra"
)

type rollOptions struct {
	presets    []string
	categories []string
	count      int
	step       int
	seed       uint64
}

// parseCategoryFlag turns "Pets=Dog,Cat,Fish" into a name and its labels.
func parseCategoryFlag(s string) (string, []string, error) {
	name, list, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return "", nil, fmt.Errorf("invalid --category %q (want name=option,option,...)", s)
	}

	labels := cleanLabels(strings.Split(list, ","))
	if len(labels) == 0 {
		return "", nil, fmt.Errorf("invalid --category %q: no options", s)
	}

	return name, labels, nil
}

func (o *rollOptions) board(rng *rand.Rand) ([]mash.Category, error) {
	var cats []mash.Category

	for _, id := range o.presets {
		p, ok := mash.LookupPreset(id)
		if !ok {
			return nil, fmt.Errorf("unknown preset %q", id)
		}
		cats = append(cats, p.Category(o.count, rng))
	}

	for _, s := range o.categories {
		name, labels, err := parseCategoryFlag(s)
		if err != nil {
			return nil, err
		}
		cats = append(cats, mash.NewCategory(name, labels))
	}

	if len(cats) == 0 {
		return nil, errors.New("nothing to roll: pass at least one --preset or --category")
	}

	return cats, nil
}

func describe(cats []mash.Category, ev mash.Event) string {
	label := func(ci, oi int) string {
		return cats[ci].Name + ": " + cats[ci].Options[oi].Label
	}

	switch e := ev.(type) {
	case mash.CursorEvent:
		return fmt.Sprintf("  %d/%d  %s", e.Tick, e.Step, label(e.CatIdx, e.OptIdx))
	case mash.EliminateEvent:
		return fmt.Sprintf("  ✗    %s", label(e.CatIdx, e.OptIdx))
	case mash.LockEvent:
		return fmt.Sprintf("  ✓    %s is settled", cats[e.CatIdx].Name)
	case mash.DoneEvent:
		var b strings.Builder
		b.WriteString("\nYour future:\n")
		for _, c := range cats {
			if w, ok := e.Winners[c.ID]; ok {
				fmt.Fprintf(&b, "  %s: %s\n", c.Name, w.Label)
			}
		}
		return strings.TrimSuffix(b.String(), "\n")
	}

	return ""
}

func roll(cfg *Config, o *rollOptions, w io.Writer) error {
	seed := o.seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed, seed))

	cats, err := o.board(rng)
	if err != nil {
		return err
	}

	step := o.step
	if step == 0 {
		step = cfg.minStep + rng.IntN(cfg.maxStep-cfg.minStep+1)
	}

	seq, err := mash.Generate(cats, step)
	if err != nil {
		return err
	}

	logf(cfg, "ROLL: %d categories, step %d, seed %d", len(cats), step, seed)

	fmt.Fprintf(w, "Step %d (seed %d)\n", step, seed)
	for ev := range seq.All() {
		if !cfg.verbose && ev.Kind() == mash.EventCursor {
			continue
		}
		fmt.Fprintln(w, describe(cats, ev))
	}

	return nil
}

func newRollCmd(cfg *Config) *cobra.Command {
	o := &rollOptions{}

	cmd := &cobra.Command{
		Use:   "roll",
		Short: "Play one game of MASH in the terminal",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return roll(cfg, o, cmd.OutOrStdout())
		},
	}

	fs := cmd.Flags()
	fs.SetNormalizeFunc(normalizeFlags)

	fs.StringArrayVar(&o.presets, "preset", nil, "preset to draw a category from (repeatable)")
	fs.StringArrayVar(&o.categories, "category", nil, "custom category as name=option,option,... (repeatable)")
	fs.IntVarP(&o.count, "count", "n", 4, "options to draw for each preset")
	fs.IntVarP(&o.step, "step", "s", 0, "step size (0 picks one between --min-step and --max-step)")
	fs.Uint64Var(&o.seed, "seed", 0, "seed for sampling and step selection (0 picks one)")

	return cmd
}
