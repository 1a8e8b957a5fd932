// Package reasoning keeps reasoning items produced by a response so they can
// be replayed when a tool result is sent back for that response.
package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/huandu/go-clone"
	"github.com/koscakluka/ema-relay/core/events"
	"github.com/koscakluka/ema-relay/core/llms"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"
)

var ErrNoFetcher = errors.New("no response fetcher configured")

// Fetcher retrieves a full response by id.
type Fetcher func(ctx context.Context, id llms.ResponseID) (*events.Response, error)

// Cache maps response ids to snapshots of their reasoning items.
type Cache struct {
	mu      sync.Mutex
	entries map[llms.ResponseID][]events.Item

	repairs singleflight.Group
}

func NewCache() *Cache {
	return &Cache{entries: map[llms.ResponseID][]events.Item{}}
}

// Store replaces the entry for id with the reasoning items among items.
// Non-reasoning items are ignored; an empty result removes the entry.
func (c *Cache) Store(id llms.ResponseID, items []events.Item) {
	if c == nil || id == "" {
		return
	}

	var reasoning []events.Item
	for _, item := range items {
		if item.Type == events.ItemTypeReasoning {
			reasoning = append(reasoning, item)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(reasoning) == 0 {
		delete(c.entries, id)
		return
	}
	c.entries[id] = clone.Clone(reasoning).([]events.Item)
}

// Append adds a single reasoning item to the entry for id, replacing an
// earlier snapshot of the same item.
func (c *Cache) Append(id llms.ResponseID, item events.Item) {
	if c == nil || id == "" || item.Type != events.ItemTypeReasoning {
		return
	}

	snapshot := clone.Clone(item).(events.Item)

	c.mu.Lock()
	defer c.mu.Unlock()
	entry := c.entries[id]
	for i := range entry {
		if entry[i].ID != "" && entry[i].ID == item.ID {
			entry[i] = snapshot
			return
		}
	}
	c.entries[id] = append(entry, snapshot)
}

func (c *Cache) Get(id llms.ResponseID) ([]events.Item, bool) {
	if c == nil {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	return clone.Clone(entry).([]events.Item), true
}

func (c *Cache) Remove(id llms.ResponseID) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

// Invalidate drops the entry for previous once current supersedes it.
func (c *Cache) Invalidate(previous, current llms.ResponseID) {
	if previous == "" || previous == current {
		return
	}
	c.Remove(previous)
}

func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// NeedsRepair reports whether any item lacks its encrypted content.
func NeedsRepair(items []events.Item) bool {
	for _, item := range items {
		if item.EncryptedContent == nil || *item.EncryptedContent == "" {
			return true
		}
	}
	return false
}

// Repair fetches the full response once and refreshes the entry for id.
// Concurrent repairs of the same id share a single fetch.
func (c *Cache) Repair(ctx context.Context, id llms.ResponseID, fetch Fetcher) ([]events.Item, error) {
	if fetch == nil {
		return nil, ErrNoFetcher
	}

	result, err, _ := c.repairs.Do(string(id), func() (any, error) {
		ctx, span := tracer.Start(ctx, "repair reasoning cache")
		defer span.End()
		span.SetAttributes(attribute.String("response.id", string(id)))

		response, err := fetch(ctx, id)
		if err != nil {
			err = fmt.Errorf("failed to fetch response %q: %w", id, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		c.Store(id, response.Output)
		items, _ := c.Get(id)
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	items, _ := result.([]events.Item)
	return items, nil
}

// Replay returns the reasoning items for id as replayable input. When
// requireContinuity is set and the cached items are missing or incomplete the
// cache is repaired first. Repair failures fall back to whatever is cached.
func (c *Cache) Replay(ctx context.Context, id llms.ResponseID, requireContinuity bool, fetch Fetcher) ([]llms.InputItem, error) {
	if c == nil || id == "" {
		return nil, nil
	}

	items, ok := c.Get(id)
	if requireContinuity && (!ok || NeedsRepair(items)) {
		repaired, err := c.Repair(ctx, id, fetch)
		if err != nil {
			logger.Warn("failed to repair reasoning cache", "response_id", id, "error", err)
		} else {
			items = repaired
		}
	}
	if len(items) == 0 {
		return nil, nil
	}

	raws, err := Sanitize(items)
	if err != nil {
		return nil, err
	}
	input := make([]llms.InputItem, 0, len(raws))
	for _, raw := range raws {
		input = append(input, llms.InputItem{Raw: raw})
	}
	return input, nil
}

// Sanitize encodes items for replay. A missing or null "summary" field is
// replaced with an empty list because the API requires the field.
func Sanitize(items []events.Item) ([]json.RawMessage, error) {
	raws := make([]json.RawMessage, 0, len(items))
	for _, item := range items {
		encoded, err := json.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("failed to encode reasoning item %q: %w", item.ID, err)
		}

		var fields map[string]json.RawMessage
		if err := json.Unmarshal(encoded, &fields); err != nil {
			return nil, fmt.Errorf("failed to decode reasoning item %q: %w", item.ID, err)
		}
		if summary, ok := fields["summary"]; !ok || string(summary) == "null" {
			fields["summary"] = json.RawMessage("[]")
		}

		sanitized, err := json.Marshal(fields)
		if err != nil {
			return nil, fmt.Errorf("failed to encode reasoning item %q: %w", item.ID, err)
		}
		raws = append(raws, sanitized)
	}
	return raws, nil
}
