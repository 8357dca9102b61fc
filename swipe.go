// Swipebox Cat Game
//
// A round of cat pictures is fetched from the cat api and shown one card at a
// time. Dragging a card right likes it, dragging it left passes on it; once
// every card has been decided, a summary of the liked cats is shown.
//
// Features:
// - WebSockets per game ID: /path/:gameid and /path/:gameid/ws
// - The swipe state machine runs server-side; browsers forward pointer events
//   and acknowledge exit animations before the next card is shown
// - One gesture at a time per card, owned by the connection that started it
// - Every connection to a game sees the same cards, so a game can be shared
// - Games auto-reaped after configurable idle timeout
// - Random 8-char game IDs via nanoid, with server-side collision check
// - QR code and plain-text summary for sharing results, backed by go-qrcode

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	nanoid "github.com/matoous/go-nanoid/v2"
	"github.com/skip2/go-qrcode"
)

// Messages coming from clients
type ClientMessage struct {
	Type     string   `json:"type"`               // "pointer_down", "pointer_move", "pointer_up", "pointer_cancel", "decide", "animation_done", "render_failed", "reset"
	X        float64  `json:"x,omitempty"`        // pointer_down / pointer_move
	Y        float64  `json:"y,omitempty"`        // pointer_down / pointer_move
	ID       int      `json:"id,omitempty"`       // animation_done / render_failed
	Decision Decision `json:"decision,omitempty"` // decide
}

// StateMessage is broadcast whenever the round moves on.
type StateMessage struct {
	Type     string `json:"type"` // "state"
	Phase    Phase  `json:"phase"`
	Position int    `json:"position"`
	Total    int    `json:"total"`
	Accepted int    `json:"accepted"`
	Rejected int    `json:"rejected"`
	Clients  int    `json:"clients"`
}

// RenderMessage asks clients to show item as the active card.
type RenderMessage struct {
	Type     string `json:"type"` // "render"
	Item     Item   `json:"item"`
	Position int    `json:"position"`
	Total    int    `json:"total"`
}

type PreviewMessage struct {
	Type     string  `json:"type"` // "preview"
	ID       int     `json:"id"`
	Intent   Intent  `json:"intent"`
	Strength float64 `json:"strength"`
}

type SnapBackMessage struct {
	Type string `json:"type"` // "snap_back"
	ID   int    `json:"id"`
}

// ExitAnimateMessage must be answered with an "animation_done" carrying the
// same item ID.
type ExitAnimateMessage struct {
	Type     string   `json:"type"` // "exit_animate"
	Item     Item     `json:"item"`
	Decision Decision `json:"decision"`
}

type SessionCompleteMessage struct {
	Type    string  `json:"type"` // "session_complete"
	Summary Summary `json:"summary"`
}

// LocatorMessage replaces an image that failed to load on one client.
type LocatorMessage struct {
	Type string `json:"type"` // "locator"
	ID   int    `json:"id"`
	URL  string `json:"url"`
}

// SimpleMessage is for generic notifications ("toast", "loading")
type SimpleMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type Client struct {
	conn    *websocket.Conn
	send    chan any
	id      string
	playURL string
}

type clientInput struct {
	client *Client
	msg    ClientMessage
}

type loadResult struct {
	generation int
	items      []Item
}

type Hub struct {
	id      string
	cfg     *Config
	source  *catSource
	engine  *Engine
	clients map[*Client]bool

	register chan *Client
	unreg    chan *Client
	pointers chan clientInput
	commands chan clientInput
	loaded   chan loadResult
	quit     chan struct{}

	closeOnce sync.Once

	mu sync.RWMutex

	createdAt  time.Time
	lastActive time.Time
	generation int
	cached     []Item
}

func newHub(cfg *Config, source *catSource, gameID string) *Hub {
	now := time.Now()
	h := &Hub{
		id:         gameID,
		cfg:        cfg,
		source:     source,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unreg:      make(chan *Client),
		pointers:   make(chan clientInput),
		commands:   make(chan clientInput),
		loaded:     make(chan loadResult),
		quit:       make(chan struct{}),
		createdAt:  now,
		lastActive: now,
	}
	h.engine = newEngine(cfg.count, cfg.previewThreshold, cfg.decisionThreshold, h)

	return h
}

func (h *Hub) run() {
	h.mu.Lock()
	h.startLoadLocked(true)
	h.mu.Unlock()

	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.lastActive = time.Now()
			h.clients[c] = true

			if h.engine.shareURL == "" {
				h.engine.SetShareURL(c.playURL)
			}

			h.syncLocked(c)
			h.broadcastLocked(h.stateLocked())
			h.mu.Unlock()

			logf(h.cfg, "GAMES: Client %s joined %s", c.id, h.id)

		case c := <-h.unreg:
			h.mu.Lock()
			h.lastActive = time.Now()

			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}

			if err := h.engine.DropOwner(c.id); err != nil {
				logf(h.cfg, "GAMES: Dropping gesture of %s in %s: %v", c.id, h.id, err)
			}
			h.mu.Unlock()

		case in := <-h.pointers:
			h.handlePointer(in)

		case in := <-h.commands:
			h.handleCommand(in)

		case res := <-h.loaded:
			h.mu.Lock()
			h.applyLoadLocked(res)
			h.mu.Unlock()

		case <-h.quit:
			return
		}
	}
}

// startLoadLocked begins a new round. Unless refetch is set, the previous
// round's cards are reused with fresh pictures.
func (h *Hub) startLoadLocked(refetch bool) {
	h.generation++
	gen := h.generation

	h.engine.BeginLoading()
	h.broadcastLocked(SimpleMessage{
		Type:    "loading",
		Message: "Fetching cats...",
	})
	h.broadcastLocked(h.stateLocked())

	if !refetch && len(h.cached) == h.cfg.count {
		h.cached = h.source.Refresh(h.cached)
		if err := h.engine.Reset(h.cached); err != nil {
			logf(h.cfg, "GAMES: Reset of %s failed: %v", h.id, err)
		}
		return
	}

	go h.load(gen)
}

// applyLoadLocked starts the round res was fetched for, unless a newer load
// has been started since.
func (h *Hub) applyLoadLocked(res loadResult) bool {
	if res.generation != h.generation {
		logf(h.cfg, "GAMES: Discarded stale load %d of %s", res.generation, h.id)
		return false
	}

	h.cached = res.items
	if err := h.engine.Reset(res.items); err != nil {
		logf(h.cfg, "GAMES: Reset of %s failed: %v", h.id, err)
		return false
	}

	return true
}

func (h *Hub) load(gen int) {
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.fetchTimeout)
	defer cancel()

	go func() {
		select {
		case <-h.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	startTime := time.Now()
	items := h.source.Populate(ctx, h.cfg.count)

	logf(h.cfg, "FETCH: Loaded %d cats for %s in %s",
		len(items),
		h.id,
		time.Since(startTime).Round(time.Millisecond),
	)

	select {
	case h.loaded <- loadResult{generation: gen, items: items}:
	case <-h.quit:
	}
}

// handlePointer feeds raw pointer input to the gesture tracker.
func (h *Hub) handlePointer(in clientInput) {
	c := in.client
	msg := in.msg

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastActive = time.Now()

	var err error
	switch msg.Type {
	case "pointer_down":
		err = h.engine.BeginGesture(c.id, msg.X, msg.Y)
	case "pointer_move":
		// Movement during a transition is expected and dropped silently.
		_ = h.engine.UpdateGesture(c.id, msg.X, msg.Y)
	case "pointer_up":
		err = h.engine.EndGesture(c.id)
	case "pointer_cancel":
		err = h.engine.CancelGesture(c.id)
	}

	if err != nil {
		logf(h.cfg, "GAMES: Ignored %s from %s in %s: %v", msg.Type, c.id, h.id, err)
	}
}

// handleCommand processes decisions, animation acknowledgements, render
// failures and restarts.
func (h *Hub) handleCommand(in clientInput) {
	c := in.client
	msg := in.msg

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastActive = time.Now()

	var err error
	switch msg.Type {
	case "decide":
		err = h.engine.Commit(msg.Decision)

	case "animation_done":
		err = h.engine.AnimationDone(msg.ID)

	case "render_failed":
		if _, ok := h.engine.Session().Item(msg.ID); !ok {
			err = fmt.Errorf("%w: unknown item %d", ErrInvalidState, msg.ID)
			break
		}

		logf(h.cfg, "GAMES: Cat %d failed to load for %s in %s", msg.ID, c.id, h.id)

		h.sendLocked(c, LocatorMessage{
			Type: "locator",
			ID:   msg.ID,
			URL:  h.source.FallbackLocator(msg.ID),
		})

	case "reset":
		logf(h.cfg, "GAMES: New round in %s", h.id)

		h.broadcastLocked(SimpleMessage{
			Type:    "toast",
			Message: "New round started! Good luck! 🐾",
		})
		h.startLoadLocked(h.cfg.refetchOnReset)
	}

	if err != nil {
		logf(h.cfg, "GAMES: Ignored %s from %s in %s: %v", msg.Type, c.id, h.id, err)
	}
}

func (h *Hub) stateLocked() StateMessage {
	s := h.engine.Session()
	accepted, rejected := s.Counts()

	return StateMessage{
		Type:     "state",
		Phase:    h.engine.Phase(),
		Position: s.Cursor(),
		Total:    s.Len(),
		Accepted: accepted,
		Rejected: rejected,
		Clients:  len(h.clients),
	}
}

// syncLocked brings a newly connected client up to date. A pending exit is
// replayed so the new client can acknowledge it too.
func (h *Hub) syncLocked(c *Client) {
	s := h.engine.Session()

	switch h.engine.Phase() {
	case PhaseLoading:
		h.sendLocked(c, SimpleMessage{
			Type:    "loading",
			Message: "Fetching cats...",
		})

	case PhasePlaying:
		if item, ok := s.Current(); ok {
			h.sendLocked(c, RenderMessage{
				Type:     "render",
				Item:     item,
				Position: s.Cursor(),
				Total:    s.Len(),
			})
		}

	case PhaseExiting:
		if item, ok := h.engine.Pending(); ok {
			h.sendLocked(c, RenderMessage{
				Type:     "render",
				Item:     item,
				Position: s.Cursor(),
				Total:    s.Len(),
			})
			h.sendLocked(c, ExitAnimateMessage{
				Type:     "exit_animate",
				Item:     item,
				Decision: item.Decision,
			})
		}

	case PhaseComplete:
		h.sendLocked(c, SessionCompleteMessage{
			Type:    "session_complete",
			Summary: h.engine.Summary(),
		})
	}
}

func (h *Hub) sendLocked(c *Client, msg any) {
	if !h.clients[c] {
		return
	}

	select {
	case c.send <- msg:
	default:
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) broadcastLocked(msg any) {
	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
			delete(h.clients, client)
			close(client.send)
		}
	}
}

// The Presenter methods below are only invoked by the engine, which is only
// driven with h.mu held.

func (h *Hub) Render(item Item, position, total int) {
	h.broadcastLocked(RenderMessage{
		Type:     "render",
		Item:     item,
		Position: position,
		Total:    total,
	})
	h.broadcastLocked(h.stateLocked())
}

func (h *Hub) Preview(itemID int, intent Intent, strength float64) {
	h.broadcastLocked(PreviewMessage{
		Type:     "preview",
		ID:       itemID,
		Intent:   intent,
		Strength: strength,
	})
}

func (h *Hub) SnapBack(itemID int) {
	h.broadcastLocked(SnapBackMessage{
		Type: "snap_back",
		ID:   itemID,
	})
}

func (h *Hub) ExitAnimate(item Item, decision Decision) {
	h.broadcastLocked(ExitAnimateMessage{
		Type:     "exit_animate",
		Item:     item,
		Decision: decision,
	})

	text := fmt.Sprintf("You passed on Kitty #%d", item.ID)
	if decision == Accepted {
		text = fmt.Sprintf("You liked Kitty #%d! ❤️", item.ID)
	}
	h.broadcastLocked(SimpleMessage{
		Type:    "toast",
		Message: text,
	})

	h.broadcastLocked(h.stateLocked())
}

func (h *Hub) SessionComplete(summary Summary) {
	logf(h.cfg, "GAMES: Round in %s finished, liked %d of %d", h.id, summary.AcceptedCount, summary.Total)

	h.broadcastLocked(SessionCompleteMessage{
		Type:    "session_complete",
		Summary: summary,
	})
	h.broadcastLocked(h.stateLocked())
}

// closeAll stops the hub and disconnects all clients (used by reaper).
func (h *Hub) closeAll() {
	h.closeOnce.Do(func() {
		close(h.quit)
	})

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		close(c.send)
		_ = c.conn.Close()
		delete(h.clients, c)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// GameManager holds a set of hubs keyed by game ID, so each $path/$gameid
// is its own isolated round.
type GameManager struct {
	mu          sync.Mutex
	hubs        map[string]*Hub
	cfg         *Config
	source      *catSource
	idleTimeout time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

func newGameManager(cfg *Config, source *catSource) *GameManager {
	gm := &GameManager{
		hubs:        make(map[string]*Hub),
		cfg:         cfg,
		source:      source,
		idleTimeout: cfg.sessionTimeout,
		stop:        make(chan struct{}),
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

	hub := newHub(gm.cfg, gm.source, gameID)
	gm.hubs[gameID] = hub
	go hub.run()
	return hub
}

func (gm *GameManager) lookup(gameID string) (*Hub, bool) {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	hub, ok := gm.hubs[gameID]
	return hub, ok
}

const gameIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// newGameID generates a random game ID and ensures it doesn't collide with
// existing games.
func (gm *GameManager) newGameID() (string, error) {
	for {
		id, err := nanoid.Generate(gameIDAlphabet, 8)
		if err != nil {
			return "", fmt.Errorf("generating game id: %w", err)
		}

		gm.mu.Lock()
		_, exists := gm.hubs[id]
		gm.mu.Unlock()

		if !exists {
			return id, nil
		}
	}
}

// reaperLoop periodically removes hubs that have been idle longer than idleTimeout.
func (gm *GameManager) reaperLoop() {
	ticker := time.NewTicker(gm.idleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-gm.stop:
			return
		case <-ticker.C:
		}

		cutoff := time.Now().Add(-gm.idleTimeout)

		gm.mu.Lock()
		for id, hub := range gm.hubs {
			hub.mu.RLock()
			last := hub.lastActive
			hub.mu.RUnlock()

			if last.Before(cutoff) {
				delete(gm.hubs, id)
				go hub.closeAll()
				logf(gm.cfg, "GAMES: Reaped idle game %s", id)
			}
		}
		gm.mu.Unlock()
	}
}

// Close stops the reaper and every running game.
func (gm *GameManager) Close() {
	gm.stopOnce.Do(func() {
		close(gm.stop)
	})

	gm.mu.Lock()
	defer gm.mu.Unlock()

	for id, hub := range gm.hubs {
		delete(gm.hubs, id)
		hub.closeAll()
	}
}

// gameURL rebuilds the public URL of the game a request refers to.
func gameURL(r *http.Request, suffix string) string {
	return requestScheme(r) + "://" + r.Host + strings.TrimSuffix(r.URL.Path, suffix)
}

// WebSocket handler that picks the hub based on :gameid
func serveWSForManager(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		gameID := ps.ByName("gameid")
		if gameID == "" {
			http.Error(w, "missing game id", http.StatusBadRequest)
			return
		}

		hub := gm.getHub(gameID)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &Client{
			conn:    conn,
			send:    make(chan any, 64),
			id:      uuid.NewString(),
			playURL: gameURL(r, "/ws"),
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

	c.conn.SetReadLimit(4096)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logf(h.cfg, "GAMES: Ignored malformed message from %s in %s: %v", c.id, h.id, err)
			continue
		}

		var dst chan clientInput
		switch msg.Type {
		case "pointer_down", "pointer_move", "pointer_up", "pointer_cancel":
			dst = h.pointers
		case "decide", "animation_done", "render_failed", "reset":
			dst = h.commands
		default:
			// ignore unknown types
			continue
		}

		select {
		case dst <- clientInput{client: c, msg: msg}:
		case <-h.quit:
			return
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// QR handler: generates a PNG QR code for the current game URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	gameID := ps.ByName("gameid")
	if gameID == "" {
		http.Error(w, "missing game id", http.StatusBadRequest)
		return
	}

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(gameURL(r, "/qr"), qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// serveSummary returns the share text of a game as plain text.
func serveSummary(cfg *Config, gm *GameManager, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		hub, ok := gm.lookup(ps.ByName("gameid"))
		if !ok {
			http.Error(w, "no such game", http.StatusNotFound)
			return
		}

		hub.mu.RLock()
		summary := hub.engine.Summary()
		hub.mu.RUnlock()

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		securityHeaders(cfg, w)

		text := shareText(summary.AcceptedCount, summary.Total, gameURL(r, "/summary"))

		_, err := w.Write([]byte(text + "\n"))
		if err != nil {
			errs <- err

			return
		}
	}
}

func getIndexHandler(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		data, err := assets.ReadFile("assets/swipe/index.html")
		if err != nil {
			http.Error(w, "missing game page", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		gameSecurityHeaders(cfg, w)

		written, err := w.Write(data)
		if err != nil {
			errs <- err

			return
		}

		logf(cfg, "SERVE: Game page (%s) to %s in %s",
			humanReadableSize(int64(written)),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

// redirectNewGame handles GET /path by generating a new random game ID
// (with server-side collision detection) and redirecting to /path/:gameid.
func redirectNewGame(cfg *Config, path string, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		gameID, err := gm.newGameID()
		if err != nil {
			http.Error(w, "unable to create game", http.StatusInternalServerError)
			return
		}

		logf(cfg, "GAMES: Created game %s/%s", path, gameID)
		http.Redirect(w, r, cfg.prefix+path+"/"+gameID, http.StatusTemporaryRedirect)
	}
}

// registerSwipeGame sets up routes so that:
//   - $path                  → redirects to new random game (8-char ID)
//   - $path/:gameid          → HTML client
//   - $path/:gameid/ws       → WebSocket for that game
//   - $path/:gameid/qr       → PNG QR code for that game URL
//   - $path/:gameid/summary  → share text for that game
func registerSwipeGame(cfg *Config, path string, mux *httprouter.Router, source *catSource, errs chan<- error) *GameManager {
	gm := newGameManager(cfg, source)

	mux.GET(cfg.prefix+path, redirectNewGame(cfg, path, gm))

	mux.GET(cfg.prefix+path+"/:gameid", getIndexHandler(cfg, errs))

	mux.GET(cfg.prefix+path+"/:gameid/ws", serveWSForManager(cfg, gm))

	mux.GET(cfg.prefix+path+"/:gameid/qr", qrHandler)

	mux.GET(cfg.prefix+path+"/:gameid/summary", serveSummary(cfg, gm, errs))

	return gm
}
