/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Mashbox MASH Game
//
// The host builds a board of categories (typed in by hand or drawn from the
// presets), then spins. The server runs the elimination and streams every
// cursor move, elimination and lock to everyone watching, pausing
// --tick-delay between events so clients can animate them.
//
// Features:
// - WebSockets per game ID: /mash/:gameid and /mash/:gameid/ws
// - First connection to a game becomes host (identified by cookie)
// - Only the host may edit the board or spin
// - Spinning without a step picks one between --min-step and --max-step
// - Editing the board or resetting cancels a spin in progress
// - Games auto-reaped after configurable idle timeout
// - In-browser QR button to share the current session, backed by go-qrcode

package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/Seednode/mashbox/games/mash"
	"github.com/gorilla/websocket"
)

const maxLabelLength = 64

// Messages coming from clients
type ClientMessage struct {
	Type   string   `json:"type"`             // "add_category", "add_preset", "remove_category", "spin", "reset"
	Name   string   `json:"name,omitempty"`   // add_category
	Labels []string `json:"labels,omitempty"` // add_category
	Preset string   `json:"preset,omitempty"` // add_preset
	Count  int      `json:"count,omitempty"`  // add_preset
	Index  *int     `json:"index,omitempty"`  // remove_category
	Step   *float64 `json:"step,omitempty"`   // spin; omitted picks a random step
}

// SessionInfoMessage is sent immediately on connect.
type SessionInfoMessage struct {
	Type    string        `json:"type"` // "session_info"
	GameID  string        `json:"game_id"`
	IsHost  bool          `json:"is_host"`
	MinStep int           `json:"min_step"`
	MaxStep int           `json:"max_step"`
	Presets []mash.Preset `json:"presets"`
}

// BoardMessage is the full board, sent whenever it changes shape.
type BoardMessage struct {
	Type       string                 `json:"type"` // "board"
	Categories []mash.Category        `json:"categories"`
	Running    bool                   `json:"running"`
	Step       int                    `json:"step,omitempty"`
	Winners    map[string]mash.Option `json:"winners,omitempty"`
}

// EventMessage wraps one event of a spin in progress.
type EventMessage struct {
	Type  string     `json:"type"` // "event"
	Event mash.Event `json:"event"`
}

// SimpleMessage is for generic notifications ("error", etc.)
type SimpleMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type Client struct {
	conn     *websocket.Conn
	send     chan any
	playerID string
}

type command struct {
	client *Client
	msg    ClientMessage
}

type playbackEvent struct {
	run   int
	event mash.Event
}

type Hub struct {
	id      string
	cfg     *Config
	clients map[*Client]bool

	register chan *Client
	unreg    chan *Client
	commands chan command
	playback chan playbackEvent
	quit     chan struct{}
	stopOnce sync.Once

	mu         sync.RWMutex
	createdAt  time.Time
	lastActive time.Time

	hostPlayerID string

	categories []mash.Category
	step       int
	winners    map[string]mash.Option
	running    bool
	spinID     int
	cancel     context.CancelFunc
}

func newHub(cfg *Config, gameID string) *Hub {
	now := time.Now()
	return &Hub{
		id:         gameID,
		cfg:        cfg,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unreg:      make(chan *Client),
		commands:   make(chan command),
		playback:   make(chan playbackEvent),
		quit:       make(chan struct{}),
		createdAt:  now,
		lastActive: now,
	}
}

func (h *Hub) touch() {
	h.mu.Lock()
	h.lastActive = time.Now()
	h.mu.Unlock()
}

func (h *Hub) idleSince() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastActive
}

// stop ends the hub loop; run disconnects every client on its way out.
func (h *Hub) stop() {
	h.stopOnce.Do(func() {
		close(h.quit)
	})
}

func (h *Hub) run() {
	defer h.shutdown()

	for {
		select {
		case c := <-h.register:
			h.touch()

			// First connection becomes host
			if h.hostPlayerID == "" {
				h.hostPlayerID = c.playerID
			}

			h.clients[c] = true

			h.sendTo(c, SessionInfoMessage{
				Type:    "session_info",
				GameID:  h.id,
				IsHost:  c.playerID == h.hostPlayerID,
				MinStep: h.cfg.minStep,
				MaxStep: h.cfg.maxStep,
				Presets: mash.Presets(),
			})
			h.sendTo(c, h.boardMessage())

		case c := <-h.unreg:
			h.touch()

			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}

		case cmd := <-h.commands:
			h.touch()
			h.handleCommand(cmd)

		case pe := <-h.playback:
			if pe.run != h.spinID {
				continue
			}
			h.touch()
			h.applyEvent(pe.event)

		case <-h.quit:
			return
		}
	}
}

func (h *Hub) shutdown() {
	h.cancelPlayback()

	for c := range h.clients {
		close(c.send)
		_ = c.conn.Close()
		delete(h.clients, c)
	}

	logf(h.cfg, "GAMES: Closed game %s", h.id)
}

// sendTo queues msg for c, dropping the client if its buffer is full.
func (h *Hub) sendTo(c *Client, msg any) {
	if _, ok := h.clients[c]; !ok {
		return
	}

	select {
	case c.send <- msg:
	default:
		logf(h.cfg, "GAMES: Dropped slow client %s from game %s", c.playerID, h.id)
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) broadcast(msg any) {
	for c := range h.clients {
		h.sendTo(c, msg)
	}
}

func (h *Hub) sendError(c *Client, format string, args ...any) {
	h.sendTo(c, SimpleMessage{Type: "error", Message: fmt.Sprintf(format, args...)})
}

func (h *Hub) boardMessage() BoardMessage {
	cats := make([]mash.Category, len(h.categories))
	for i, c := range h.categories {
		cats[i] = c
		cats[i].Options = append([]mash.Option(nil), c.Options...)
	}

	return BoardMessage{
		Type:       "board",
		Categories: cats,
		Running:    h.running,
		Step:       h.step,
		Winners:    h.winners,
	}
}

func (h *Hub) cancelPlayback() {
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	h.spinID++
	h.running = false
}

// clearResults returns the board to its unplayed state.
func (h *Hub) clearResults() {
	h.cancelPlayback()
	for i, c := range h.categories {
		h.categories[i] = c.Clone()
	}
	h.step = 0
	h.winners = nil
}

func (h *Hub) handleCommand(cmd command) {
	c := cmd.client
	msg := cmd.msg

	// Only the host may issue commands
	if h.hostPlayerID == "" || c.playerID != h.hostPlayerID {
		h.sendError(c, "Only the host can change the board.")
		return
	}

	switch msg.Type {
	case "add_category":
		if err := h.addCategory(msg.Name, msg.Labels); err != nil {
			h.sendError(c, "%v", err)
			return
		}

	case "add_preset":
		p, ok := mash.LookupPreset(msg.Preset)
		if !ok {
			h.sendError(c, "Unknown preset %q.", msg.Preset)
			return
		}
		count := msg.Count
		if count <= 0 || count > h.cfg.maxOptions {
			count = h.cfg.maxOptions
		}
		cat := p.Category(count, nil)
		if err := h.addCategory(cat.Name, labelsOf(cat)); err != nil {
			h.sendError(c, "%v", err)
			return
		}

	case "remove_category":
		if msg.Index == nil || *msg.Index < 0 || *msg.Index >= len(h.categories) {
			h.sendError(c, "No such category.")
			return
		}
		h.clearResults()
		h.categories = append(h.categories[:*msg.Index], h.categories[*msg.Index+1:]...)

	case "spin":
		if err := h.spin(msg.Step); err != nil {
			h.sendError(c, "%v", err)
			return
		}

	case "reset":
		h.clearResults()

	default:
		return
	}

	h.broadcast(h.boardMessage())
}

func labelsOf(c mash.Category) []string {
	labels := make([]string, len(c.Options))
	for i, o := range c.Options {
		labels[i] = o.Label
	}
	return labels
}

// cleanLabels trims labels and drops empty or duplicate ones, keeping order.
func cleanLabels(labels []string) []string {
	out := make([]string, 0, len(labels))
	seen := make(map[string]bool, len(labels))
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}

func (h *Hub) addCategory(name string, labels []string) error {
	name = strings.TrimSpace(name)
	labels = cleanLabels(labels)

	switch {
	case name == "":
		return errors.New("category name is required")
	case utf8.RuneCountInString(name) > maxLabelLength:
		return fmt.Errorf("category names are limited to %d characters", maxLabelLength)
	case len(h.categories) >= h.cfg.maxCategories:
		return fmt.Errorf("boards are limited to %d categories", h.cfg.maxCategories)
	case len(labels) < 2:
		return errors.New("a category needs at least two different options")
	case len(labels) > h.cfg.maxOptions:
		return fmt.Errorf("categories are limited to %d options", h.cfg.maxOptions)
	}

	for _, l := range labels {
		if utf8.RuneCountInString(l) > maxLabelLength {
			return fmt.Errorf("options are limited to %d characters", maxLabelLength)
		}
	}

	h.clearResults()
	h.categories = append(h.categories, mash.NewCategory(name, labels))

	return nil
}

// pickStep resolves the step for a spin: a requested step must be valid and
// no larger than --max-request-step, otherwise one is drawn from the
// configured range.
func pickStep(cfg *Config, requested *float64) (int, error) {
	if requested == nil {
		return cfg.minStep + rand.IntN(cfg.maxStep-cfg.minStep+1), nil
	}

	step, err := mash.StepFromFloat(*requested)
	if err != nil {
		return 0, err
	}
	if step > cfg.maxRequestStep {
		return 0, fmt.Errorf("%w: step is limited to %d, got %d", mash.ErrInvalidArgument, cfg.maxRequestStep, step)
	}

	return step, nil
}

func (h *Hub) spin(requested *float64) error {
	if len(h.categories) == 0 {
		return errors.New("add a category before spinning")
	}

	step, err := pickStep(h.cfg, requested)
	if err != nil {
		return err
	}

	h.clearResults()

	seq, err := mash.Generate(h.categories, step)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.running = true
	h.step = step

	go h.play(ctx, h.spinID, seq)

	logf(h.cfg, "GAMES: Spinning game %s with step %d", h.id, step)

	return nil
}

// play pulls events one at a time and hands them to the hub loop, pausing
// tickDelay between pulls. It stops as soon as ctx is cancelled.
func (h *Hub) play(ctx context.Context, run int, seq *mash.Sequence) {
	var timer *time.Timer
	if h.cfg.tickDelay > 0 {
		timer = time.NewTimer(h.cfg.tickDelay)
		defer timer.Stop()
	}

	for ev := range seq.All() {
		select {
		case h.playback <- playbackEvent{run: run, event: ev}:
		case <-ctx.Done():
			return
		case <-h.quit:
			return
		}

		if ev.Kind() == mash.EventDone || timer == nil {
			continue
		}

		timer.Reset(h.cfg.tickDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			return
		case <-h.quit:
			return
		}
	}
}

// applyEvent mirrors an event onto the board and forwards it to clients.
func (h *Hub) applyEvent(ev mash.Event) {
	switch e := ev.(type) {
	case mash.EliminateEvent:
		h.categories[e.CatIdx].Options[e.OptIdx].Eliminated = true
	case mash.LockEvent:
		h.categories[e.CatIdx].Locked = true
	}

	h.broadcast(EventMessage{Type: "event", Event: ev})

	if d, ok := ev.(mash.DoneEvent); ok {
		h.running = false
		h.winners = d.Winners
		if h.cancel != nil {
			h.cancel()
			h.cancel = nil
		}
		h.broadcast(h.boardMessage())

		logf(h.cfg, "GAMES: Game %s finished with %d winners", h.id, len(d.Winners))
	}
}
