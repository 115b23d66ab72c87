package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// RawMessage is an unprocessed message from the source topic.
type RawMessage struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// ListingMessage is a raw listing decoded from the source topic together with
// the prior state the ingestion collaborator attached to it.
type ListingMessage struct {
	Listing RawListing `json:"listing"`
	Prior   Prior      `json:"prior,omitempty"`
}

// ErrInvalidListing marks source messages that cannot be processed.
var ErrInvalidListing = errors.New("invalid listing message")

// ParseListingMessage decodes a source message. The value is either a
// ListingMessage envelope or a bare RawListing.
func ParseListingMessage(raw RawMessage) (ListingMessage, error) {
	var msg ListingMessage
	if err := json.Unmarshal(raw.Value, &msg); err != nil {
		return ListingMessage{}, fmt.Errorf("%w: %w", ErrInvalidListing, err)
	}
	if msg.Listing.ID == "" {
		if err := json.Unmarshal(raw.Value, &msg.Listing); err != nil {
			return ListingMessage{}, fmt.Errorf("%w: %w", ErrInvalidListing, err)
		}
	}
	if msg.Listing.ID == "" {
		msg.Listing.ID = string(raw.Key)
	}
	if strings.TrimSpace(msg.Listing.ID) == "" {
		return ListingMessage{}, fmt.Errorf("%w: missing id", ErrInvalidListing)
	}
	if msg.Listing.ReceivedAt.IsZero() {
		msg.Listing.ReceivedAt = raw.Timestamp
	}
	return msg, nil
}
