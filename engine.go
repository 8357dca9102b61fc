/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"fmt"
)

// Presenter receives render requests and signals from the Engine. Each
// ExitAnimate must eventually be answered with Engine.AnimationDone.
type Presenter interface {
	Render(item Item, position, total int)
	Preview(itemID int, intent Intent, strength float64)
	SnapBack(itemID int)
	ExitAnimate(item Item, decision Decision)
	SessionComplete(summary Summary)
}

type Phase string

const (
	PhaseLoading  Phase = "loading"
	PhasePlaying  Phase = "playing"
	PhaseExiting  Phase = "exiting"
	PhaseComplete Phase = "complete"
)

// Engine applies decisions to a Session and sequences the card transitions.
// It is not safe for concurrent use; callers serialize access.
type Engine struct {
	count             int
	previewThreshold  float64
	decisionThreshold float64
	presenter         Presenter
	shareURL          string

	session   *Session
	gestures  map[int]*GestureTracker
	pending   int
	loading   bool
	completed bool
}

func newEngine(count int, previewThreshold, decisionThreshold float64, presenter Presenter) *Engine {
	return &Engine{
		count:             count,
		previewThreshold:  previewThreshold,
		decisionThreshold: decisionThreshold,
		presenter:         presenter,
		session:           newSession(nil),
		gestures:          make(map[int]*GestureTracker),
		loading:           true,
	}
}

func (e *Engine) SetShareURL(u string) {
	e.shareURL = u
}

func (e *Engine) Session() *Session {
	return e.session
}

func (e *Engine) Phase() Phase {
	switch {
	case e.loading:
		return PhaseLoading
	case e.pending != 0:
		return PhaseExiting
	case e.session.Done():
		return PhaseComplete
	default:
		return PhasePlaying
	}
}

// Busy reports whether new gestures and commits are currently refused.
func (e *Engine) Busy() bool {
	return e.loading || e.pending != 0
}

// Pending returns the item whose exit animation has not been acknowledged.
func (e *Engine) Pending() (Item, bool) {
	if e.pending == 0 {
		return Item{}, false
	}
	return e.session.Item(e.pending)
}

func (e *Engine) Summary() Summary {
	return e.session.Summary(e.shareURL)
}

// BeginLoading marks the engine busy while a new item sequence is fetched.
// Acknowledgements for the round being replaced are ignored from here on.
func (e *Engine) BeginLoading() {
	e.loading = true
	e.teardownGestures()
}

// Reset discards the current session and starts a new one from items, which
// must hold exactly the configured number of entries.
func (e *Engine) Reset(items []Item) error {
	if len(items) != e.count {
		return fmt.Errorf("%w: reset with %d items, expected %d", ErrInvalidState, len(items), e.count)
	}

	e.teardownGestures()
	e.session = newSession(items)
	e.pending = 0
	e.loading = false
	e.completed = false

	e.renderCurrent()

	return nil
}

func (e *Engine) renderCurrent() {
	item, ok := e.session.Current()
	if !ok {
		return
	}

	e.gestures[item.ID] = newGestureTracker(item.ID, e.previewThreshold, e.decisionThreshold)
	e.presenter.Render(item, e.session.Cursor(), e.session.Len())
}

func (e *Engine) teardownGestures() {
	for id, g := range e.gestures {
		g.Abort()
		delete(e.gestures, id)
	}
}

// tracker returns the gesture tracker of the visible card.
func (e *Engine) tracker() (*GestureTracker, error) {
	if e.Busy() {
		return nil, fmt.Errorf("%w: transition in progress", ErrInvalidState)
	}

	item, ok := e.session.Current()
	if !ok {
		return nil, fmt.Errorf("%w: no card on screen", ErrInvalidState)
	}

	g, ok := e.gestures[item.ID]
	if !ok {
		return nil, fmt.Errorf("%w: no gesture controller for item %d", ErrInvalidState, item.ID)
	}

	return g, nil
}

func (e *Engine) BeginGesture(owner string, x, y float64) error {
	g, err := e.tracker()
	if err != nil {
		return err
	}

	g.Begin(owner, x, y)

	return nil
}

func (e *Engine) UpdateGesture(owner string, x, y float64) error {
	g, err := e.tracker()
	if err != nil {
		return err
	}
	if !g.Active() || g.Owner() != owner {
		return nil
	}

	intent, strength, _ := g.Update(x, y)
	e.presenter.Preview(g.itemID, intent, strength)

	return nil
}

func (e *Engine) EndGesture(owner string) error {
	return e.release(owner, (*GestureTracker).End)
}

func (e *Engine) CancelGesture(owner string) error {
	return e.release(owner, (*GestureTracker).Cancel)
}

func (e *Engine) release(owner string, finish func(*GestureTracker) (Outcome, bool)) error {
	g, err := e.tracker()
	if err != nil {
		return err
	}
	if !g.Active() || g.Owner() != owner {
		return nil
	}

	outcome, _ := finish(g)

	d, ok := outcome.Decision()
	if !ok {
		e.presenter.SnapBack(g.itemID)
		return nil
	}

	return e.Commit(d)
}

// DropOwner cancels a gesture whose client went away mid-drag.
func (e *Engine) DropOwner(owner string) error {
	if e.Busy() {
		return nil
	}

	item, ok := e.session.Current()
	if !ok {
		return nil
	}

	g, ok := e.gestures[item.ID]
	if !ok || !g.Active() || g.Owner() != owner {
		return nil
	}

	return e.CancelGesture(owner)
}

// Commit records d for the current card and asks the presenter to animate it
// away. The cursor only moves once AnimationDone arrives.
func (e *Engine) Commit(d Decision) error {
	if e.Busy() {
		return fmt.Errorf("%w: commit while a transition is in progress", ErrInvalidState)
	}

	item, err := e.session.decide(d)
	if err != nil {
		return err
	}

	if g, ok := e.gestures[item.ID]; ok {
		g.Abort()
		delete(e.gestures, item.ID)
	}
	e.pending = item.ID

	e.presenter.ExitAnimate(item, d)

	return nil
}

// AnimationDone acknowledges the exit of itemID and advances the session.
func (e *Engine) AnimationDone(itemID int) error {
	if e.loading || e.pending == 0 || e.pending != itemID {
		return fmt.Errorf("%w: unexpected animation ack for item %d", ErrInvalidState, itemID)
	}

	if err := e.session.advance(); err != nil {
		return err
	}
	e.pending = 0

	if e.session.Done() {
		if !e.completed {
			e.completed = true
			e.presenter.SessionComplete(e.Summary())
		}
		return nil
	}

	e.renderCurrent()

	return nil
}
