package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/require"
)

// wireMessage decodes any server message.
type wireMessage struct {
	Type     string   `json:"type"`
	Item     Item     `json:"item"`
	Decision Decision `json:"decision"`
	ID       int      `json:"id"`
	URL      string   `json:"url"`
	Message  string   `json:"message"`
	Phase    Phase    `json:"phase"`
	Position int      `json:"position"`
	Total    int      `json:"total"`
	Summary  Summary  `json:"summary"`
}

func newTestGame(t *testing.T, configure func(cfg *Config)) (*httptest.Server, *GameManager, *fakeCataas) {
	t.Helper()

	fake := &fakeCataas{tags: []string{"cute"}}
	api := httptest.NewServer(fake)
	t.Cleanup(api.Close)

	cfg := testConfig(api.URL)
	if configure != nil {
		configure(cfg)
	}
	errs := make(chan error, 16)

	mux := httprouter.New()
	gm := registerSwipeGame(cfg, gamePath, mux, newCatSource(cfg), errs)

	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		gm.Close()
		srv.Close()
	})

	return srv, gm, fake
}

func dial(t *testing.T, srv *httptest.Server, gameID string) *websocket.Conn {
	t.Helper()

	u := "ws" + strings.TrimPrefix(srv.URL, "http") + gamePath + "/" + gameID + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg map[string]any) {
	t.Helper()

	require.NoError(t, conn.WriteJSON(msg))
}

// readUntil discards messages until one of type typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) wireMessage {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	for {
		var msg wireMessage
		require.NoError(t, conn.ReadJSON(&msg), "waiting for %q", typ)

		if msg.Type == typ {
			return msg
		}
	}
}

// like commits the visible card with the button and acknowledges its exit.
func like(t *testing.T, conn *websocket.Conn, id int) {
	t.Helper()

	send(t, conn, map[string]any{"type": "decide", "decision": "like"})
	msg := readUntil(t, conn, "exit_animate")
	require.Equal(t, id, msg.Item.ID)
	send(t, conn, map[string]any{"type": "animation_done", "id": id})
}

func drag(t *testing.T, conn *websocket.Conn, deltaX float64) {
	t.Helper()

	send(t, conn, map[string]any{"type": "pointer_down", "x": 10, "y": 10})
	send(t, conn, map[string]any{"type": "pointer_move", "x": 10 + deltaX, "y": 12})
	send(t, conn, map[string]any{"type": "pointer_up"})
}

func TestSwipeGameRound(t *testing.T) {
	t.Parallel()

	srv, gm, fake := newTestGame(t, nil)
	conn := dial(t, srv, "testgame")

	msg := readUntil(t, conn, "render")
	require.Equal(t, 1, msg.Item.ID)
	require.Equal(t, 3, msg.Total)
	require.Equal(t, "cute", msg.Item.Tag)

	send(t, conn, map[string]any{"type": "render_failed", "id": 1})
	msg = readUntil(t, conn, "locator")
	require.Equal(t, 1, msg.ID)
	require.Contains(t, msg.URL, "width=350")

	drag(t, conn, 30)
	msg = readUntil(t, conn, "snap_back")
	require.Equal(t, 1, msg.ID)

	for i, deltaX := range []float64{150, -150, 150} {
		drag(t, conn, deltaX)

		msg = readUntil(t, conn, "exit_animate")
		require.Equal(t, i+1, msg.Item.ID)
		if deltaX > 0 {
			require.Equal(t, Accepted, msg.Decision)
		} else {
			require.Equal(t, Rejected, msg.Decision)
		}

		send(t, conn, map[string]any{"type": "animation_done", "id": msg.Item.ID})

		if i < 2 {
			msg = readUntil(t, conn, "render")
			require.Equal(t, i+2, msg.Item.ID)
			require.Equal(t, i+1, msg.Position)
		}
	}

	msg = readUntil(t, conn, "session_complete")
	require.Equal(t, 3, msg.Summary.Total)
	require.Equal(t, 2, msg.Summary.AcceptedCount)
	require.Equal(t, 1, msg.Summary.RejectedCount)
	require.Contains(t, msg.Summary.ShareText, "2 out of 3 (67%)")
	require.Contains(t, msg.Summary.ShareText, srv.URL+"/swipe/testgame")

	resp, err := http.Get(srv.URL + "/swipe/testgame/summary")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "I liked 2 out of 3 (67%)")

	send(t, conn, map[string]any{"type": "reset"})
	msg = readUntil(t, conn, "toast")
	require.Contains(t, msg.Message, "New round started")
	msg = readUntil(t, conn, "render")
	require.Equal(t, 1, msg.Item.ID)
	require.Equal(t, Undecided, msg.Item.Decision)
	require.EqualValues(t, 3, fake.lookups.Load(), "cards are reused on reset")

	hub, ok := gm.lookup("testgame")
	require.True(t, ok)

	hub.mu.RLock()
	s := hub.engine.Session()
	accepted, rejected := s.Counts()
	cursor := s.Cursor()
	hub.mu.RUnlock()

	require.Zero(t, cursor)
	require.Zero(t, accepted)
	require.Zero(t, rejected)
}

func TestSwipeGameButtonsAndSharedView(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestGame(t, nil)
	first := dial(t, srv, "shared")

	readUntil(t, first, "render")

	send(t, first, map[string]any{"type": "decide", "decision": "like"})
	msg := readUntil(t, first, "exit_animate")
	require.Equal(t, 1, msg.Item.ID)
	require.Equal(t, Accepted, msg.Decision)

	// A second commit for the same card is refused while it is leaving.
	send(t, first, map[string]any{"type": "decide", "decision": "pass"})

	send(t, first, map[string]any{"type": "animation_done", "id": 1})
	msg = readUntil(t, first, "render")
	require.Equal(t, 2, msg.Item.ID)

	second := dial(t, srv, "shared")
	msg = readUntil(t, second, "render")
	require.Equal(t, 2, msg.Item.ID)
	require.Equal(t, 1, msg.Position)

	msg = readUntil(t, second, "state")
	require.Equal(t, PhasePlaying, msg.Phase)
	require.Equal(t, 1, msg.Position)
}

func TestSwipeGameRoutes(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestGame(t, nil)

	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := client.Get(srv.URL + "/swipe")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode)
	require.Regexp(t, `^/swipe/[A-Za-z0-9]{8}$`, resp.Header.Get("Location"))

	resp, err = client.Get(srv.URL + "/swipe/abcdefgh/qr")
	require.NoError(t, err)
	png, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	require.True(t, strings.HasPrefix(string(png), "\x89PNG"))

	resp, err = client.Get(srv.URL + "/swipe/unknown1/summary")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSwipeGameIgnoresMalformedMessages(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestGame(t, nil)
	conn := dial(t, srv, "malformed")

	readUntil(t, conn, "render")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	send(t, conn, map[string]any{"type": "decide", "decision": "maybe"})
	send(t, conn, map[string]any{"type": "animation_done", "id": "one"})
	send(t, conn, map[string]any{"type": "decide", "decision": "like"})

	msg := readUntil(t, conn, "exit_animate")
	require.Equal(t, 1, msg.Item.ID)
	require.Equal(t, Accepted, msg.Decision)
}

func TestSwipeGameRefetchOnReset(t *testing.T) {
	t.Parallel()

	srv, _, fake := newTestGame(t, func(cfg *Config) { cfg.refetchOnReset = true })
	conn := dial(t, srv, "refetch")

	readUntil(t, conn, "render")
	require.EqualValues(t, 3, fake.lookups.Load())

	send(t, conn, map[string]any{"type": "reset"})
	readUntil(t, conn, "loading")

	msg := readUntil(t, conn, "render")
	require.Equal(t, 1, msg.Item.ID)
	require.Equal(t, 0, msg.Position)
	require.EqualValues(t, 6, fake.lookups.Load())
}

func TestSwipeGameResetByAnotherPlayer(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestGame(t, nil)
	first := dial(t, srv, "together")
	second := dial(t, srv, "together")

	readUntil(t, first, "render")
	for id := 1; id <= 3; id++ {
		like(t, first, id)
		if id < 3 {
			readUntil(t, first, "render")
		}
	}
	readUntil(t, first, "session_complete")
	readUntil(t, second, "session_complete")

	send(t, second, map[string]any{"type": "reset"})
	msg := readUntil(t, first, "render")
	require.Equal(t, 1, msg.Item.ID)
	require.Equal(t, 0, msg.Position)
	require.NoError(t, second.Close())

	// The remaining player acknowledges the new round's cards on its own.
	like(t, first, 1)
	msg = readUntil(t, first, "render")
	require.Equal(t, 2, msg.Item.ID)
}

func TestHubDiscardsStaleLoad(t *testing.T) {
	t.Parallel()

	api := httptest.NewServer(&fakeCataas{tags: []string{"cute"}})
	t.Cleanup(api.Close)

	cfg := testConfig(api.URL)
	h := newHub(cfg, newCatSource(cfg), "stale")
	t.Cleanup(h.closeAll)

	h.mu.Lock()
	h.startLoadLocked(true)
	h.startLoadLocked(true)
	h.mu.Unlock()

	results := make(map[int]loadResult)
	for range 2 {
		select {
		case res := <-h.loaded:
			results[res.generation] = res
		case <-time.After(5 * time.Second):
			t.Fatal("load did not finish")
		}
	}
	require.Len(t, results, 2)

	h.mu.Lock()
	defer h.mu.Unlock()

	require.False(t, h.applyLoadLocked(results[1]))
	require.Equal(t, PhaseLoading, h.engine.Phase())
	require.Nil(t, h.cached)

	require.True(t, h.applyLoadLocked(results[2]))
	require.Equal(t, PhasePlaying, h.engine.Phase())
	require.Len(t, h.cached, 3)

	require.False(t, h.applyLoadLocked(results[1]))
	require.Equal(t, PhasePlaying, h.engine.Phase())
}

func TestGameManagerReapsIdleGames(t *testing.T) {
	t.Parallel()

	api := httptest.NewServer(&fakeCataas{tags: []string{"cute"}})
	t.Cleanup(api.Close)

	cfg := testConfig(api.URL)
	cfg.sessionTimeout = 40 * time.Millisecond

	gm := newGameManager(cfg, newCatSource(cfg))
	t.Cleanup(gm.Close)

	hub := gm.getHub("idle")
	_, ok := gm.lookup("idle")
	require.True(t, ok)

	require.Eventually(t, func() bool {
		_, ok := gm.lookup("idle")
		return !ok
	}, 5*time.Second, 10*time.Millisecond)

	select {
	case <-hub.quit:
	case <-time.After(5 * time.Second):
		t.Fatal("reaped hub was not stopped")
	}
}
