/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	maxTags      = 50
	maxTagLength = 20

	fallbackWidth  = 350
	fallbackHeight = 500
)

var fallbackTags = []string{
	"cute", "kitten", "sleepy", "playing", "funny",
	"orange", "tabby", "white", "black", "gray",
	"small", "baby", "fun", "adorable", "pretty",
}

// catSource fetches cards from a cataas-compatible api.
type catSource struct {
	cfg     *Config
	client  *http.Client
	baseURL string
	width   int
	height  int
	delay   time.Duration

	now  func() time.Time
	intn func(int) int
}

func newCatSource(cfg *Config) *catSource {
	return &catSource{
		cfg:     cfg,
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimSuffix(cfg.apiURL, "/"),
		width:   cfg.imageWidth,
		height:  cfg.imageHeight,
		delay:   cfg.requestDelay,
		now:     time.Now,
		intn:    rand.IntN,
	}
}

func (s *catSource) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &statusError{endpoint: endpoint, status: resp.Status}
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// statusError is returned when the api answers with anything but 200 OK.
type statusError struct {
	endpoint string
	status   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %s", e.endpoint, e.status)
}

// unreachable reports whether err means the request never got a response.
func unreachable(err error) bool {
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// FetchTags returns the usable tags known to the api.
func (s *catSource) FetchTags(ctx context.Context) ([]string, error) {
	var raw []string
	if err := s.getJSON(ctx, s.baseURL+"/api/tags", &raw); err != nil {
		if unreachable(err) {
			return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
		}
		return nil, err
	}

	tags := make([]string, 0, maxTags)
	for _, tag := range raw {
		if strings.TrimSpace(tag) == "" || utf8.RuneCountInString(tag) >= maxTagLength {
			continue
		}
		tags = append(tags, tag)
		if len(tags) == maxTags {
			break
		}
	}

	if len(tags) == 0 {
		return nil, errors.New("api returned no usable tags")
	}

	return tags, nil
}

type catRecord struct {
	UnderscoreID string `json:"_id"`
	ID           string `json:"id"`
}

func (r catRecord) key() string {
	if r.UnderscoreID != "" {
		return r.UnderscoreID
	}
	return r.ID
}

func (s *catSource) lookup(ctx context.Context, tag string) (string, error) {
	q := url.Values{}
	q.Set("tags", tag)
	q.Set("limit", "1")

	var records []catRecord
	if err := s.getJSON(ctx, s.baseURL+"/api/cats?"+q.Encode(), &records); err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "", nil
	}

	return records[0].key(), nil
}

func (s *catSource) pickTag(tags []string) string {
	if len(tags) == 0 {
		return "cat"
	}
	return tags[s.intn(len(tags))]
}

func (s *catSource) catURL(id string) string {
	q := url.Values{}
	q.Set("width", strconv.Itoa(s.width))
	q.Set("height", strconv.Itoa(s.height))
	return s.baseURL + "/cat/" + url.PathEscape(id) + "?" + q.Encode()
}

func (s *catSource) randomURL(width, height int, param string, n int64) string {
	q := url.Values{}
	q.Set("width", strconv.Itoa(width))
	q.Set("height", strconv.Itoa(height))
	q.Set(param, strconv.FormatInt(n, 10))
	return s.baseURL + "/cat?" + q.Encode()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// FetchItems requests count cards one at a time, in order, pausing between
// requests. A lookup the api refuses falls back to a random cat; a lookup
// that fails outright is replaced by a random cat tagged "mystery". If no
// request reaches the api at all, ErrSourceUnavailable is returned.
func (s *catSource) FetchItems(ctx context.Context, count int, tags []string) ([]Item, error) {
	items := make([]Item, 0, count)
	used := make(map[string]bool)
	reached := 0

	for i := range count {
		id := i + 1

		if i > 0 {
			if err := sleepCtx(ctx, s.delay); err != nil {
				items = append(items, s.mysteryItem(id))
				continue
			}
		}

		tag := s.pickTag(tags)

		key, err := s.lookup(ctx, tag)

		var refused *statusError
		switch {
		case errors.As(err, &refused):
			logf(s.cfg, "FETCH: Cat %d (tag %q) refused: %v", id, tag, err)
			key, tag = "", s.pickTag(tags)
		case err != nil:
			if !unreachable(err) {
				reached++
			}
			logf(s.cfg, "FETCH: Cat %d (tag %q) failed: %v", id, tag, err)
			items = append(items, s.mysteryItem(id))
			continue
		}
		reached++

		var locator string
		if key != "" && !used[key] {
			used[key] = true
			locator = s.catURL(key)
		} else {
			locator = s.randomURL(s.width, s.height, "timestamp", s.now().UnixMilli()+int64(i))
		}

		items = append(items, Item{ID: id, URL: locator, Tag: tag})
	}

	if reached == 0 && count > 0 {
		return nil, ErrSourceUnavailable
	}

	return items, nil
}

func (s *catSource) mysteryItem(id int) Item {
	return Item{
		ID:  id,
		URL: s.randomURL(s.width, s.height, "cache", s.now().UnixMilli()+int64(id)),
		Tag: "mystery",
	}
}

// fallbackItems is the fixed list used when the api is unreachable.
func (s *catSource) fallbackItems(count int) []Item {
	items := make([]Item, count)
	for i := range items {
		items[i] = Item{
			ID:  i + 1,
			URL: s.randomURL(s.width, s.height, "cache", int64(i+1)),
			Tag: fallbackTags[i%len(fallbackTags)],
		}
	}
	return items
}

// Populate always returns exactly count items.
func (s *catSource) Populate(ctx context.Context, count int) []Item {
	tags, err := s.FetchTags(ctx)
	if err != nil {
		logf(s.cfg, "FETCH: Using built-in tags: %v", err)
		tags = fallbackTags
	}

	items, err := s.FetchItems(ctx, count, tags)
	if err != nil {
		logf(s.cfg, "FETCH: Using built-in cats: %v", err)
		return s.fallbackItems(count)
	}

	return items
}

// Refresh returns undecided copies of items pointing at new random cats.
func (s *catSource) Refresh(items []Item) []Item {
	stamp := s.now().UnixMilli()

	out := make([]Item, len(items))
	for i, item := range items {
		out[i] = Item{
			ID:  item.ID,
			URL: s.randomURL(s.width, s.height, "cache", stamp+int64(item.ID)),
			Tag: item.Tag,
		}
	}
	return out
}

// FallbackLocator is the image shown in place of one that failed to load.
func (s *catSource) FallbackLocator(id int) string {
	return s.randomURL(fallbackWidth, fallbackHeight, "cache", s.now().UnixMilli()+int64(id))
}
