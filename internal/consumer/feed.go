package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/slotserve/slotserve/internal/ics"
)

// TopicFeedUpdated announces that an external calendar feed changed and its
// cached copy must not be served again.
const TopicFeedUpdated = "calendar.feed.updated.v1"

type feedUpdatedPayload struct {
	ICSFileURL string `json:"ics_file_url"`
}

// FeedUpdatedHandler drops the Redis-cached copy of the feed named in the
// event, so the next slot computation refetches it.
func FeedUpdatedHandler(fetcher *ics.Fetcher, logger *slog.Logger) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var payload feedUpdatedPayload
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			return fmt.Errorf("decode feed-updated payload: %w", err)
		}
		if payload.ICSFileURL == "" {
			logger.Warn("feed-updated event without a feed url, ignoring")
			return nil
		}
		if err := fetcher.Invalidate(ctx, payload.ICSFileURL); err != nil {
			return fmt.Errorf("invalidate feed cache: %w", err)
		}
		logger.Info("feed cache invalidated", "url", payload.ICSFileURL)
		return nil
	}
}
