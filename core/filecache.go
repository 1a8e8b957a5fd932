package orchestration

import (
	"fmt"

	"github.com/koscakluka/ema-relay/core/llms"
)

// fileCache holds fetched annotation files by container/file key. It is
// lane-owned and evicts the oldest entries beyond max.
type fileCache struct {
	max     int
	entries map[string][]byte
	order   []string
}

func newFileCache(max int) *fileCache {
	return &fileCache{max: max, entries: map[string][]byte{}}
}

func (c *fileCache) get(key string) ([]byte, bool) {
	data, ok := c.entries[key]
	return data, ok
}

func (c *fileCache) put(key string, data []byte) {
	if _, ok := c.entries[key]; !ok {
		c.order = append(c.order, key)
	}
	c.entries[key] = data
	c.prune()
}

func (c *fileCache) prune() {
	for len(c.order) > c.max {
		delete(c.entries, c.order[0])
		c.order = c.order[1:]
	}
}

func (c *fileCache) len() int {
	return len(c.entries)
}

// fetchAnnotation downloads a cited file off the lane and attaches its
// content once it arrives.
func (o *Orchestrator) fetchAnnotation(s *turnSession, messageID llms.MessageID, ref llms.MediaRef) {
	key := ref.Key()
	if data, ok := o.files.get(key); ok {
		o.attachFileData(messageID, key, data)
		return
	}

	fetcher, ok := o.transport.(FileFetcher)
	if !ok {
		return
	}

	ctx := s.ctx
	go func() {
		ctx, span := tracer.Start(ctx, "fetch annotation file")
		defer span.End()

		data, err := fetcher.FetchFile(ctx, ref.ContainerID, ref.FileID)
		if err != nil {
			if ctx.Err() == nil {
				o.recordError(ctx, fmt.Errorf("failed to fetch %s: %w", key, err))
			}
			return
		}

		o.lane.post(func() {
			o.files.put(key, data)
			o.attachFileData(messageID, key, data)
		})
	}()
}

func (o *Orchestrator) attachFileData(messageID llms.MessageID, key string, data []byte) {
	msg := o.message(messageID)
	if msg == nil {
		return
	}
	for i := range msg.Media {
		if msg.Media[i].Key() == key && len(msg.Media[i].Data) == 0 {
			msg.Media[i].Data = data
		}
	}
	o.commit()
}

