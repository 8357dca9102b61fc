/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"fmt"
	"math"
)

// Decision is the outcome recorded for an Item.
type Decision int

const (
	Undecided Decision = iota
	Accepted
	Rejected
)

func (d Decision) String() string {
	switch d {
	case Undecided:
		return "undecided"
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

func (d Decision) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Decision) UnmarshalText(text []byte) error {
	switch string(text) {
	case "undecided", "":
		*d = Undecided
	case "accepted", "like":
		*d = Accepted
	case "rejected", "pass":
		*d = Rejected
	default:
		return fmt.Errorf("unknown decision %q", text)
	}
	return nil
}

// Item is one playable card.
type Item struct {
	ID       int      `json:"id"`
	URL      string   `json:"url"`
	Tag      string   `json:"tag"`
	Decision Decision `json:"decision"`
}

// Session is the state of one play-through. Accepted and rejected hold item
// IDs in commit order; items themselves live in the items slice at index ID-1.
type Session struct {
	items    []Item
	cursor   int
	accepted []int
	rejected []int
}

// newSession takes ownership of items, renumbering them 1..N and clearing any
// previous decisions.
func newSession(items []Item) *Session {
	owned := make([]Item, len(items))
	for i, item := range items {
		item.ID = i + 1
		item.Decision = Undecided
		owned[i] = item
	}

	return &Session{
		items:    owned,
		accepted: []int{},
		rejected: []int{},
	}
}

func (s *Session) Len() int {
	return len(s.items)
}

func (s *Session) Cursor() int {
	return s.cursor
}

func (s *Session) Done() bool {
	return s.cursor >= len(s.items)
}

// Current returns the item at the cursor.
func (s *Session) Current() (Item, bool) {
	if s.Done() {
		return Item{}, false
	}
	return s.items[s.cursor], true
}

func (s *Session) Item(id int) (Item, bool) {
	if id < 1 || id > len(s.items) {
		return Item{}, false
	}
	return s.items[id-1], true
}

// Counts returns the number of accepted and rejected items.
func (s *Session) Counts() (accepted, rejected int) {
	return len(s.accepted), len(s.rejected)
}

func (s *Session) Accepted() []Item {
	return s.collect(s.accepted)
}

func (s *Session) Rejected() []Item {
	return s.collect(s.rejected)
}

func (s *Session) collect(ids []int) []Item {
	out := make([]Item, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.items[id-1])
	}
	return out
}

// decide records d for the item at the cursor without moving the cursor.
func (s *Session) decide(d Decision) (Item, error) {
	if d != Accepted && d != Rejected {
		return Item{}, fmt.Errorf("%w: cannot commit %s", ErrInvalidState, d)
	}
	if s.Done() {
		return Item{}, fmt.Errorf("%w: cursor %d is past the last item", ErrInvalidState, s.cursor)
	}

	item := &s.items[s.cursor]
	if item.Decision != Undecided {
		return Item{}, fmt.Errorf("%w: item %d is already %s", ErrInvalidState, item.ID, item.Decision)
	}

	item.Decision = d
	switch d {
	case Accepted:
		s.accepted = append(s.accepted, item.ID)
	case Rejected:
		s.rejected = append(s.rejected, item.ID)
	}

	return *item, nil
}

// advance moves the cursor past the current item, which must be decided.
func (s *Session) advance() error {
	if s.Done() {
		return fmt.Errorf("%w: cannot advance past the last item", ErrInvalidState)
	}
	if s.items[s.cursor].Decision == Undecided {
		return fmt.Errorf("%w: item %d has no decision", ErrInvalidState, s.items[s.cursor].ID)
	}

	s.cursor++

	return nil
}

// check verifies that every item before the cursor is decided, every item from
// the cursor on is undecided, and the two collections account for exactly the
// decided items. pending allows the item at the cursor to be decided while its
// exit is in flight.
func (s *Session) check(pending bool) error {
	decided := s.cursor
	if pending {
		decided++
	}
	if decided > len(s.items) {
		return fmt.Errorf("cursor %d out of range for %d items", s.cursor, len(s.items))
	}
	if got := len(s.accepted) + len(s.rejected); got != decided {
		return fmt.Errorf("%d decisions recorded, expected %d", got, decided)
	}
	for i, item := range s.items {
		if i < decided && item.Decision == Undecided {
			return fmt.Errorf("item %d before cursor is undecided", item.ID)
		}
		if i >= decided && item.Decision != Undecided {
			return fmt.Errorf("item %d after cursor is %s", item.ID, item.Decision)
		}
	}
	return nil
}

// Summary is the read-only view rendered once every item has been decided.
type Summary struct {
	Total         int    `json:"total"`
	AcceptedCount int    `json:"accepted_count"`
	RejectedCount int    `json:"rejected_count"`
	Percent       int    `json:"percent"`
	Accepted      []Item `json:"accepted"`
	Rejected      []Item `json:"rejected"`
	ShareText     string `json:"share_text"`
}

func (s *Session) Summary(playURL string) Summary {
	accepted := s.Accepted()
	rejected := s.Rejected()

	return Summary{
		Total:         len(s.items),
		AcceptedCount: len(accepted),
		RejectedCount: len(rejected),
		Percent:       percent(len(accepted), len(s.items)),
		Accepted:      accepted,
		Rejected:      rejected,
		ShareText:     shareText(len(accepted), len(s.items), playURL),
	}
}

func percent(part, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(part) / float64(total) * 100))
}

func shareText(liked, total int, playURL string) string {
	text := fmt.Sprintf("I liked %d out of %d (%d%%) of the cats on Paws & Preferences!",
		liked, total, percent(liked, total))
	if playURL != "" {
		text += "\n\nCan you beat my score? Play at: " + playURL
	}
	return text
}
