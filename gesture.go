/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"math"
)

// Intent is the visual feedback shown while a card is being dragged.
type Intent int

const (
	IntentNone Intent = iota
	IntentAcceptPreview
	IntentRejectPreview
)

func (i Intent) String() string {
	switch i {
	case IntentAcceptPreview:
		return "accept"
	case IntentRejectPreview:
		return "reject"
	default:
		return "none"
	}
}

func (i Intent) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// Outcome is the result of releasing a card.
type Outcome int

const (
	OutcomeSnapBack Outcome = iota
	OutcomeAccept
	OutcomeReject
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccept:
		return "accept"
	case OutcomeReject:
		return "reject"
	default:
		return "snap_back"
	}
}

// Decision maps an outcome to the decision it commits, if any.
func (o Outcome) Decision() (Decision, bool) {
	switch o {
	case OutcomeAccept:
		return Accepted, true
	case OutcomeReject:
		return Rejected, true
	default:
		return Undecided, false
	}
}

const maxPreviewStrength = 0.9

type GestureState struct {
	Active  bool
	OriginX float64
	OriginY float64
	DeltaX  float64
	DeltaY  float64
}

// GestureTracker follows a single pointer interaction on one card.
type GestureTracker struct {
	itemID            int
	previewThreshold  float64
	decisionThreshold float64

	state GestureState
	owner string
}

func newGestureTracker(itemID int, previewThreshold, decisionThreshold float64) *GestureTracker {
	return &GestureTracker{
		itemID:            itemID,
		previewThreshold:  previewThreshold,
		decisionThreshold: decisionThreshold,
	}
}

func (g *GestureTracker) Active() bool {
	return g.state.Active
}

func (g *GestureTracker) State() GestureState {
	return g.state
}

// Owner returns the client that began the active gesture.
func (g *GestureTracker) Owner() string {
	return g.owner
}

// Begin starts a gesture at (x, y). A second pointer while a gesture is
// already active is ignored and Begin reports false.
func (g *GestureTracker) Begin(owner string, x, y float64) bool {
	if g.state.Active {
		return false
	}

	g.state = GestureState{
		Active:  true,
		OriginX: x,
		OriginY: y,
	}
	g.owner = owner

	return true
}

// Update records the pointer position and returns the intent to display along
// with the indicator strength in [0, maxPreviewStrength].
func (g *GestureTracker) Update(x, y float64) (Intent, float64, bool) {
	if !g.state.Active {
		return IntentNone, 0, false
	}

	g.state.DeltaX = x - g.state.OriginX
	g.state.DeltaY = y - g.state.OriginY

	intent := previewIntent(g.state.DeltaX, g.previewThreshold)
	if intent == IntentNone {
		return intent, 0, true
	}

	return intent, math.Min(math.Abs(g.state.DeltaX)/g.decisionThreshold, maxPreviewStrength), true
}

// End releases the gesture and reports the outcome. State is cleared on
// every branch.
func (g *GestureTracker) End() (Outcome, bool) {
	if !g.state.Active {
		return OutcomeSnapBack, false
	}

	outcome := releaseOutcome(g.state.DeltaX, g.decisionThreshold)

	g.state = GestureState{}
	g.owner = ""

	return outcome, true
}

// Cancel handles a lost pointer the same way as a release.
func (g *GestureTracker) Cancel() (Outcome, bool) {
	return g.End()
}

// Abort discards the gesture without evaluating it.
func (g *GestureTracker) Abort() {
	g.state = GestureState{}
	g.owner = ""
}

func previewIntent(deltaX, threshold float64) Intent {
	switch {
	case deltaX > threshold:
		return IntentAcceptPreview
	case deltaX < -threshold:
		return IntentRejectPreview
	default:
		return IntentNone
	}
}

func releaseOutcome(deltaX, threshold float64) Outcome {
	switch {
	case deltaX > threshold:
		return OutcomeAccept
	case deltaX < -threshold:
		return OutcomeReject
	default:
		return OutcomeSnapBack
	}
}
