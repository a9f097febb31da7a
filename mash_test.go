/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Seednode/mashbox/games/mash"
	"github.com/gorilla/websocket"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T {
	return &v
}

// testHub returns a hub with one connected host whose outgoing messages
// land in the returned client's buffer. The hub loop is not started.
func testHub(t *testing.T) (*Hub, *Client) {
	t.Helper()

	h := newHub(testConfig(), "testgame")
	host := &Client{send: make(chan any, 64), playerID: "host"}
	h.hostPlayerID = host.playerID
	h.clients[host] = true

	t.Cleanup(h.stop)

	return h, host
}

func drain(c *Client) []any {
	var out []any
	for {
		select {
		case msg := <-c.send:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func lastBoard(t *testing.T, msgs []any) BoardMessage {
	t.Helper()
	for i := len(msgs) - 1; i >= 0; i-- {
		if b, ok := msgs[i].(BoardMessage); ok {
			return b
		}
	}
	t.Fatal("no board message")
	return BoardMessage{}
}

func errorsIn(msgs []any) []string {
	var out []string
	for _, m := range msgs {
		if s, ok := m.(SimpleMessage); ok && s.Type == "error" {
			out = append(out, s.Message)
		}
	}
	return out
}

func TestHub_AddCategory(t *testing.T) {
	h, host := testHub(t)

	h.handleCommand(command{client: host, msg: ClientMessage{
		Type:   "add_category",
		Name:   " Pets ",
		Labels: []string{"Dog", " Cat", "", "Dog", "Fish"},
	}})

	msgs := drain(host)
	assert.Empty(t, errorsIn(msgs))

	board := lastBoard(t, msgs)
	require.Len(t, board.Categories, 1)
	assert.Equal(t, "Pets", board.Categories[0].Name)
	assert.Equal(t, []string{"Dog", "Cat", "Fish"}, labelsOf(board.Categories[0]))
}

func TestHub_RejectsBadCommands(t *testing.T) {
	h, host := testHub(t)
	h.cfg.maxCategories = 1

	tests := []ClientMessage{
		{Type: "add_category", Name: "", Labels: []string{"a", "b"}},
		{Type: "add_category", Name: "One", Labels: []string{"a"}},
		{Type: "add_category", Name: "Dupes", Labels: []string{"a", "a"}},
		{Type: "add_category", Name: strings.Repeat("x", maxLabelLength+1), Labels: []string{"a", "b"}},
		{Type: "add_preset", Preset: "nope"},
		{Type: "remove_category", Index: ptr(0)},
		{Type: "remove_category"},
		{Type: "spin"},
	}

	for _, msg := range tests {
		h.handleCommand(command{client: host, msg: msg})
		assert.Len(t, errorsIn(drain(host)), 1, "%+v", msg)
	}

	h.handleCommand(command{client: host, msg: ClientMessage{Type: "add_preset", Preset: "home"}})
	assert.Empty(t, errorsIn(drain(host)))

	h.handleCommand(command{client: host, msg: ClientMessage{Type: "add_preset", Preset: "city"}})
	assert.Len(t, errorsIn(drain(host)), 1, "board is full")

	h.handleCommand(command{client: host, msg: ClientMessage{Type: "spin", Step: ptr(0.5)}})
	assert.Len(t, errorsIn(drain(host)), 1, "fractional step")

	h.handleCommand(command{client: host, msg: ClientMessage{Type: "spin", Step: ptr(2_000_000.0)}})
	assert.Len(t, errorsIn(drain(host)), 1, "step over --max-request-step")
	assert.False(t, h.running)
}

func TestHub_SlowClientDropIsLogged(t *testing.T) {
	h, host := testHub(t)
	h.cfg.verbose = true
	configureLogging(h.cfg)
	t.Cleanup(func() { configureLogging(testConfig()) })
	hook := logtest.NewGlobal()
	t.Cleanup(hook.Reset)

	slow := &Client{send: make(chan any, 1), playerID: "slow"}
	h.clients[slow] = true

	h.broadcast(SimpleMessage{Type: "info", Message: "one"})
	h.broadcast(SimpleMessage{Type: "info", Message: "two"})

	assert.NotContains(t, h.clients, slow)
	assert.Contains(t, h.clients, host)

	_, open := <-slow.send
	assert.True(t, open, "buffered message is still delivered")
	_, open = <-slow.send
	assert.False(t, open, "send channel is closed once dropped")

	require.NotNil(t, hook.LastEntry())
	assert.Contains(t, hook.LastEntry().Message, "Dropped slow client slow from game testgame")
}

func TestHub_OnlyHostCommands(t *testing.T) {
	h, _ := testHub(t)
	guest := &Client{send: make(chan any, 8), playerID: "guest"}
	h.clients[guest] = true

	h.handleCommand(command{client: guest, msg: ClientMessage{Type: "add_preset", Preset: "home"}})

	assert.Len(t, errorsIn(drain(guest)), 1)
	assert.Empty(t, h.categories)
}

func TestHub_AddPresetCapsCount(t *testing.T) {
	h, host := testHub(t)

	h.handleCommand(command{client: host, msg: ClientMessage{Type: "add_preset", Preset: "home", Count: 10}})
	h.handleCommand(command{client: host, msg: ClientMessage{Type: "add_preset", Preset: "city", Count: 5}})

	board := lastBoard(t, drain(host))
	require.Len(t, board.Categories, 2)
	assert.Len(t, board.Categories[0].Options, 4)
	assert.Len(t, board.Categories[1].Options, 5)
}

func TestHub_SpinPlaysToCompletion(t *testing.T) {
	h, host := testHub(t)

	h.handleCommand(command{client: host, msg: ClientMessage{Type: "add_category", Name: "A", Labels: []string{"a1", "a2"}}})
	h.handleCommand(command{client: host, msg: ClientMessage{Type: "add_category", Name: "B", Labels: []string{"b1", "b2"}}})
	h.handleCommand(command{client: host, msg: ClientMessage{Type: "spin", Step: ptr(2.0)}})

	board := lastBoard(t, drain(host))
	assert.True(t, board.Running)
	assert.Equal(t, 2, board.Step)

	var kinds []mash.EventType
	for {
		select {
		case pe := <-h.playback:
			require.Equal(t, h.spinID, pe.run)
			h.applyEvent(pe.event)
			kinds = append(kinds, pe.event.Kind())
		case <-time.After(5 * time.Second):
			t.Fatal("playback stalled")
		}
		if kinds[len(kinds)-1] == mash.EventDone {
			break
		}
	}

	assert.Equal(t, []mash.EventType{
		mash.EventCursor, mash.EventEliminate, mash.EventLock,
		mash.EventCursor, mash.EventEliminate, mash.EventLock,
		mash.EventDone,
	}, kinds)

	assert.False(t, h.running)
	require.Len(t, h.winners, 2)
	assert.Equal(t, "a2", h.winners[h.categories[0].ID].Label)
	assert.Equal(t, "b2", h.winners[h.categories[1].ID].Label)
	assert.True(t, h.categories[0].Locked)
	assert.True(t, h.categories[1].Options[0].Eliminated)

	h.handleCommand(command{client: host, msg: ClientMessage{Type: "reset"}})
	assert.Nil(t, h.winners)
	assert.False(t, h.categories[0].Locked)
	assert.False(t, h.categories[1].Options[0].Eliminated)
}

func TestHub_ResetDiscardsStalePlayback(t *testing.T) {
	h, host := testHub(t)

	h.handleCommand(command{client: host, msg: ClientMessage{Type: "add_preset", Preset: "home"}})
	h.handleCommand(command{client: host, msg: ClientMessage{Type: "spin", Step: ptr(3.0)}})
	staleRun := h.spinID

	h.handleCommand(command{client: host, msg: ClientMessage{Type: "reset"}})

	assert.NotEqual(t, staleRun, h.spinID)
	assert.False(t, h.running)
	assert.Nil(t, h.cancel)
}

func TestPickStep(t *testing.T) {
	cfg := testConfig()

	for range 100 {
		step, err := pickStep(cfg, nil)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, step, cfg.minStep)
		assert.LessOrEqual(t, step, cfg.maxStep)
	}

	step, err := pickStep(cfg, ptr(5.0))
	require.NoError(t, err)
	assert.Equal(t, 5, step)

	_, err = pickStep(cfg, ptr(-1.0))
	assert.ErrorIs(t, err, mash.ErrInvalidArgument)

	step, err = pickStep(cfg, ptr(float64(cfg.maxRequestStep)))
	require.NoError(t, err)
	assert.Equal(t, cfg.maxRequestStep, step)

	for _, f := range []float64{float64(cfg.maxRequestStep + 1), 2_000_000, 2147483647} {
		_, err = pickStep(cfg, ptr(f))
		assert.ErrorIs(t, err, mash.ErrInvalidArgument, "%v", f)
	}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	errs := make(chan error, 8)
	mux, gm := newRouter(testConfig(), errs)
	srv := httptest.NewServer(mux)

	t.Cleanup(func() {
		srv.Close()
		gm.Close()
	})

	return srv
}

func TestAPI_Run(t *testing.T) {
	srv := newTestServer(t)

	body := `{"step":2,"categories":[
		{"id":"A","name":"A","options":[{"id":"a1","label":"a1"},{"id":"a2","label":"a2","eliminated":true}]},
		{"id":"B","name":"B","options":[{"id":"b1","label":"b1"},{"id":"b2","label":"b2"}]}]}`

	resp, err := http.Post(srv.URL+"/api/mash/run", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got struct {
		Step             int                    `json:"step"`
		Events           []json.RawMessage      `json:"events"`
		Winners          map[string]mash.Option `json:"winners"`
		EliminationOrder []mash.Elimination     `json:"eliminationOrder"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))

	assert.Equal(t, 2, got.Step)
	require.Len(t, got.Events, 7)
	assert.JSONEq(t, `{"type":"cursor","catIdx":0,"optIdx":1,"tick":1,"step":2}`, string(got.Events[0]))
	assert.JSONEq(t, `{"type":"eliminate","catIdx":1,"optIdx":0,"option":{"id":"b1","label":"b1","eliminated":true}}`, string(got.Events[1]))
	assert.JSONEq(t, `{"type":"lock","catIdx":1}`, string(got.Events[2]))
	assert.JSONEq(t, `{"type":"done","winners":{"A":{"id":"a2","label":"a2"},"B":{"id":"b2","label":"b2"}}}`, string(got.Events[6]))

	assert.Equal(t, "a2", got.Winners["A"].Label)
	require.Len(t, got.EliminationOrder, 2)
	assert.Equal(t, "B", got.EliminationOrder[0].CategoryID)
}

func TestAPI_RunFillsMissingIDs(t *testing.T) {
	srv := newTestServer(t)

	body := `{"step":1,"categories":[{"name":"Pets","options":[{"label":"Dog"},{"label":"Cat"}]}]}`
	resp, err := http.Post(srv.URL+"/api/mash/run", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got struct {
		Winners map[string]mash.Option `json:"winners"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))

	require.Len(t, got.Winners, 1)
	for id, w := range got.Winners {
		assert.True(t, strings.HasPrefix(id, "cat_"))
		assert.True(t, strings.HasPrefix(w.ID, "opt_"))
		assert.Equal(t, "Dog", w.Label)
	}
}

func TestAPI_RunRejects(t *testing.T) {
	srv := newTestServer(t)

	bodies := map[string]string{
		"malformed":      `{"step":`,
		"zero step":      `{"step":0,"categories":[{"id":"A","options":[{"id":"a"},{"id":"b"}]}]}`,
		"negative step":  `{"step":-1,"categories":[{"id":"A","options":[{"id":"a"},{"id":"b"}]}]}`,
		"fractional":     `{"step":1.5,"categories":[{"id":"A","options":[{"id":"a"},{"id":"b"}]}]}`,
		"no categories":  `{"step":2,"categories":[]}`,
		"too many opts":  `{"step":2,"categories":[{"id":"A","options":[` + strings.Repeat(`{"label":"x"},`, 12) + `{"label":"y"}]}]}`,
		"non-json value": `{"step":"three","categories":[{"id":"A","options":[{"id":"a"},{"id":"b"}]}]}`,
		"step over cap":  `{"step":1001,"categories":[{"id":"A","options":[{"id":"a"},{"id":"b"}]}]}`,
		"huge step":      `{"step":2000000,"categories":[{"id":"A","options":[{"id":"a"},{"id":"b"}]},{"id":"B","options":[{"id":"c"},{"id":"d"}]}]}`,
		"dup category":   `{"step":2,"categories":[{"id":"X","options":[{"id":"a"},{"id":"b"}]},{"id":"X","options":[{"id":"c"},{"id":"d"}]}]}`,
		"dup option":     `{"step":2,"categories":[{"id":"A","options":[{"id":"a"},{"id":"a"}]}]}`,
	}

	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/api/mash/run", "application/json", bytes.NewBufferString(body))
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var msg SimpleMessage
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&msg))
			assert.Equal(t, "error", msg.Type)
			assert.NotEmpty(t, msg.Message)
		})
	}
}

func TestAPI_Presets(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/mash/presets")
	require.NoError(t, err)
	defer resp.Body.Close()

	var presets []mash.Preset
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&presets))
	require.NotEmpty(t, presets)
	assert.Equal(t, "home", presets[0].ID)
}

func TestRoutes(t *testing.T) {
	srv := newTestServer(t)
	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}

	resp, err := client.Get(srv.URL + "/mash")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode)
	assert.Regexp(t, `^/mash/[A-Za-z0-9]{8}$`, resp.Header.Get("Location"))

	for path, contentType := range map[string]string{
		"/":                   "text/html; charset=utf-8",
		"/healthz":            "text/plain; charset=utf-8",
		"/robots.txt":         "text/plain; charset=utf-8",
		"/version":            "text/plain; charset=utf-8",
		"/mash/abcdefgh":      "text/html; charset=utf-8",
		"/mash/abcdefgh/qr":   "image/png",
		"/assets/mash/app.js": "application/javascript; charset=utf-8",
	} {
		resp, err := client.Get(srv.URL + path)
		require.NoError(t, err, path)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Equal(t, contentType, resp.Header.Get("Content-Type"), path)
	}
}

func TestWebSocket_Game(t *testing.T) {
	srv := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/mash/wsgame1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() map[string]any {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	info := read()
	assert.Equal(t, "session_info", info["type"])
	assert.Equal(t, true, info["is_host"])
	assert.Equal(t, "board", read()["type"])

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "add_category", Name: "A", Labels: []string{"a1", "a2"}}))
	assert.Equal(t, "board", read()["type"])
	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "add_category", Name: "B", Labels: []string{"b1", "b2"}}))
	assert.Equal(t, "board", read()["type"])

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "spin", Step: ptr(2.0)}))
	running := read()
	assert.Equal(t, "board", running["type"])
	assert.Equal(t, true, running["running"])

	var kinds []string
	for {
		msg := read()
		require.Equal(t, "event", msg["type"])
		ev := msg["event"].(map[string]any)
		kinds = append(kinds, ev["type"].(string))
		if ev["type"] == "done" {
			break
		}
	}
	assert.Equal(t, []string{"cursor", "eliminate", "lock", "cursor", "eliminate", "lock", "done"}, kinds)

	final := read()
	assert.Equal(t, "board", final["type"])
	assert.Equal(t, false, final["running"])
	assert.Len(t, final["winners"], 2)
}

func TestGameManager_Reap(t *testing.T) {
	cfg := testConfig()
	cfg.sessionTimeout = 0

	gm := newGameManager(cfg)
	t.Cleanup(gm.Close)

	hub := gm.getHub("idle")
	assert.Same(t, hub, gm.getHub("idle"))

	assert.Equal(t, 0, gm.reap(time.Now().Add(-time.Hour)))
	assert.Equal(t, 1, gm.reap(time.Now().Add(time.Hour)))

	select {
	case <-hub.quit:
	case <-time.After(time.Second):
		t.Fatal("reaped hub was not stopped")
	}

	assert.NotSame(t, hub, gm.getHub("idle"))
}

func TestGameManager_NewGameID(t *testing.T) {
	gm := newGameManager(testConfig())
	t.Cleanup(gm.Close)

	seen := map[string]bool{}
	for range 50 {
		id := gm.newGameID()
		assert.Regexp(t, `^[A-Za-z0-9]{8}$`, id)
		assert.False(t, seen[id])
		seen[id] = true
	}
}
