/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"crypto/rand"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Seednode/mashbox/games/mash"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
	log "github.com/sirupsen/logrus"
)

const (
	playerCookieName = "mashbox_id"
	maxRequestBody   = 1 << 20

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func getOrSetPlayerID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(playerCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		log.Errorf("rand.Read error: %v", err)
		return ""
	}
	id := hex.EncodeToString(buf)

	http.SetCookie(w, &http.Cookie{
		Name:     playerCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

// GameManager holds a set of hubs keyed by game ID, so each $path/$gameid
// is its own isolated session.
type GameManager struct {
	cfg         *Config
	mu          sync.Mutex
	hubs        map[string]*Hub
	idleTimeout time.Duration
	done        chan struct{}
	closeOnce   sync.Once
}

func newGameManager(cfg *Config) *GameManager {
	gm := &GameManager{
		cfg:         cfg,
		hubs:        make(map[string]*Hub),
		idleTimeout: cfg.sessionTimeout,
		done:        make(chan struct{}),
	}

	if gm.idleTimeout > 0 {
		go gm.reaperLoop()
	}

	return gm
}

func (gm *GameManager) getHub(gameID string) *Hub {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	if hub, ok := gm.hubs[gameID]; ok {
		return hub
	}

	hub := newHub(gm.cfg, gameID)
	gm.hubs[gameID] = hub
	go hub.run()

	return hub
}

// newGameID generates a crypto-random game ID and ensures it doesn't
// collide with existing games.
func (gm *GameManager) newGameID() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	const max = byte(255 - (256 % len(letters)))

	for {
		out := make([]byte, 0, 8)
		buf := make([]byte, 16)

		for len(out) < 8 {
			if _, err := rand.Read(buf); err != nil {
				panic("crypto/rand failure: " + err.Error())
			}
			for _, b := range buf {
				if b <= max && len(out) < 8 {
					out = append(out, letters[int(b)%len(letters)])
				}
			}
		}

		id := string(out)

		gm.mu.Lock()
		_, exists := gm.hubs[id]
		gm.mu.Unlock()

		if !exists {
			return id
		}
	}
}

// reap removes hubs idle since before cutoff and reports how many went.
func (gm *GameManager) reap(cutoff time.Time) int {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	n := 0
	for id, hub := range gm.hubs {
		if hub.idleSince().Before(cutoff) {
			delete(gm.hubs, id)
			hub.stop()
			n++
		}
	}

	return n
}

// reaperLoop periodically removes hubs that have been idle longer than idleTimeout.
func (gm *GameManager) reaperLoop() {
	ticker := time.NewTicker(gm.idleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := gm.reap(time.Now().Add(-gm.idleTimeout)); n > 0 {
				logf(gm.cfg, "GAMES: Reaped %d idle games", n)
			}
		case <-gm.done:
			return
		}
	}
}

// Close stops the reaper and ends every game.
func (gm *GameManager) Close() {
	gm.closeOnce.Do(func() {
		close(gm.done)

		gm.mu.Lock()
		defer gm.mu.Unlock()
		for id, hub := range gm.hubs {
			delete(gm.hubs, id)
			hub.stop()
		}
	})
}

// WebSocket handler that picks the hub based on :gameid
func serveWSForManager(gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		gameID := ps.ByName("gameid")
		if gameID == "" {
			http.Error(w, "missing game id", http.StatusBadRequest)
			return
		}

		playerID := getOrSetPlayerID(w, r)
		if playerID == "" {
			http.Error(w, "unable to assign player id", http.StatusInternalServerError)
			return
		}

		hub := gm.getHub(gameID)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warnf("upgrade error: %v", err)
			return
		}

		client := &Client{
			conn:     conn,
			send:     make(chan any, 32),
			playerID: playerID,
		}

		select {
		case hub.register <- client:
		case <-hub.quit:
			_ = conn.Close()
			return
		}

		go client.writePump()
		client.readPump(hub)
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unreg <- c:
		case <-h.quit:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(64 << 10)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "add_category", "add_preset", "remove_category", "spin", "reset":
			select {
			case h.commands <- command{client: c, msg: msg}:
			case <-h.quit:
				return
			}
		default:
			// ignore unknown types
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// QR handler: generates a PNG QR code for the current game URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if ps.ByName("gameid") == "" {
		http.Error(w, "missing game id", http.StatusBadRequest)
		return
	}

	png, err := qrcode.Encode(gameURL(r), qrcode.Medium, 320)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// gameURL reconstructs the public URL of the game a /qr request belongs to,
// respecting TLS and X-Forwarded-Proto.
func gameURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	return scheme + "://" + r.Host + strings.TrimSuffix(r.URL.Path, "/qr")
}

// ---- Static file paths ----

//go:embed mash/index.html
var indexHTML []byte

//go:embed mash/app.css
var mashCSS []byte

//go:embed mash/app.js
var mashJS []byte

func serveStatic(cfg *Config, contentType string, data []byte, setCookie bool) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", contentType)
		cacheFor(w, time.Hour)
		securityHeaders(cfg, w)

		if setCookie {
			_ = getOrSetPlayerID(w, r)
		}

		_, _ = w.Write(data)
	}
}

// redirectNewGame handles GET /path by generating a new random game ID
// (with server-side collision detection) and redirecting to /path/:gameid.
func redirectNewGame(cfg *Config, path string, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		gameID := gm.newGameID()
		logf(cfg, "GAMES: Created game %s/%s", path, gameID)
		http.Redirect(w, r, path+"/"+gameID, http.StatusTemporaryRedirect)
	}
}

func writeJSON(cfg *Config, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	securityHeaders(cfg, w)
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logf(cfg, "ERROR: encode response: %v", err)
	}
}

func writeJSONError(cfg *Config, w http.ResponseWriter, status int, err error) {
	writeJSON(cfg, w, status, SimpleMessage{Type: "error", Message: err.Error()})
}

func servePresets(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		cacheFor(w, time.Hour)
		writeJSON(cfg, w, http.StatusOK, mash.Presets())
	}
}

type runRequest struct {
	Categories []mash.Category `json:"categories"`
	Step       *float64        `json:"step"`
}

type runResponse struct {
	Step             int                    `json:"step"`
	Events           []mash.Event           `json:"events"`
	Winners          map[string]mash.Option `json:"winners"`
	EliminationOrder []mash.Elimination     `json:"eliminationOrder"`
}

// prepareCategories applies the board limits to caller-supplied categories
// and fills in any missing IDs. Category IDs must be unique across the
// board, and option IDs unique within their category.
func prepareCategories(cfg *Config, in []mash.Category) ([]mash.Category, error) {
	if len(in) == 0 {
		return nil, errors.New("at least one category is required")
	}
	if len(in) > cfg.maxCategories {
		return nil, fmt.Errorf("at most %d categories are allowed", cfg.maxCategories)
	}

	out := make([]mash.Category, len(in))
	catIDs := make(map[string]bool, len(in))
	for i, c := range in {
		if len(c.Options) > cfg.maxOptions {
			return nil, fmt.Errorf("category %d: at most %d options are allowed", i, cfg.maxOptions)
		}

		c = c.Clone()
		if c.ID == "" {
			c.ID = mash.NewCategory(c.Name, nil).ID
		}
		if catIDs[c.ID] {
			return nil, fmt.Errorf("category %d: duplicate id %q", i, c.ID)
		}
		catIDs[c.ID] = true

		optIDs := make(map[string]bool, len(c.Options))
		for j := range c.Options {
			if c.Options[j].ID == "" {
				c.Options[j].ID = mash.NewOption(c.Options[j].Label).ID
			}
			if optIDs[c.Options[j].ID] {
				return nil, fmt.Errorf("category %d: duplicate option id %q", i, c.Options[j].ID)
			}
			optIDs[c.Options[j].ID] = true
		}
		out[i] = c
	}

	return out, nil
}

func serveRun(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

		var req runRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(cfg, w, http.StatusBadRequest, fmt.Errorf("malformed request: %w", err))
			return
		}

		cats, err := prepareCategories(cfg, req.Categories)
		if err != nil {
			writeJSONError(cfg, w, http.StatusBadRequest, err)
			return
		}

		step, err := pickStep(cfg, req.Step)
		if err != nil {
			writeJSONError(cfg, w, http.StatusBadRequest, err)
			return
		}

		seq, err := mash.Generate(cats, step)
		if errors.Is(err, mash.ErrInvalidArgument) {
			writeJSONError(cfg, w, http.StatusBadRequest, err)
			return
		} else if err != nil {
			writeJSONError(cfg, w, http.StatusInternalServerError, err)
			return
		}

		events := seq.Collect()
		res := mash.Summarize(cats, events)

		writeJSON(cfg, w, http.StatusOK, runResponse{
			Step:             step,
			Events:           events,
			Winners:          res.Winners,
			EliminationOrder: res.EliminationOrder,
		})

		logf(cfg, "SERVE: Ran %d categories with step %d (%d events) for %s in %s",
			len(cats),
			step,
			len(events),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

// registerMashGame sets up routes so that:
//   - $path                  → redirects to new random game (8-char ID)
//   - $path/:gameid          → HTML client
//   - $path/:gameid/ws       → WebSocket for that game
//   - $path/:gameid/qr       → PNG QR code for that game URL
//   - /api/mash/presets      → preset tables as JSON
//   - /api/mash/run          → one-shot run of a posted board
func registerMashGame(cfg *Config, path string, mux *httprouter.Router) *GameManager {
	gm := newGameManager(cfg)
	path = cfg.prefix + path

	mux.GET(path, redirectNewGame(cfg, path, gm))

	mux.GET(path+"/:gameid", serveStatic(cfg, "text/html; charset=utf-8", indexHTML, true))

	// Shared assets (no gameid in route)
	mux.GET(cfg.prefix+"/assets/mash/app.css", serveStatic(cfg, "text/css; charset=utf-8", mashCSS, false))
	mux.GET(cfg.prefix+"/assets/mash/app.js", serveStatic(cfg, "application/javascript; charset=utf-8", mashJS, false))

	mux.GET(path+"/:gameid/ws", serveWSForManager(gm))

	mux.GET(path+"/:gameid/qr", qrHandler)

	mux.GET(cfg.prefix+"/api/mash/presets", servePresets(cfg))
	mux.POST(cfg.prefix+"/api/mash/run", serveRun(cfg))

	return gm
}
