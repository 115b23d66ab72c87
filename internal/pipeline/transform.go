package pipeline

import (
	"context"
	"log/slog"

	"github.com/couchcryptid/listing-score-service/internal/domain"
)

// ListingTransformer implements Transformer on top of Service.EnrichAndScore.
type ListingTransformer struct {
	service *Service
	logger  *slog.Logger
}

// NewTransformer creates a ListingTransformer.
func NewTransformer(service *Service, logger *slog.Logger) *ListingTransformer {
	return &ListingTransformer{service: service, logger: logger}
}

// Transform decodes a source message and enriches it. Listings that could
// not be fully enriched or scored are still returned, marked incomplete, so
// downstream consumers never read a missing score as zero. Only undecodable
// messages and cancellation return an error.
func (t *ListingTransformer) Transform(ctx context.Context, raw domain.RawMessage) (domain.EnrichedListing, error) {
	msg, err := domain.ParseListingMessage(raw)
	if err != nil {
		return domain.EnrichedListing{}, err
	}

	out, err := t.service.EnrichAndScore(ctx, msg.Listing, msg.Prior)
	if err != nil {
		if ctx.Err() != nil {
			return domain.EnrichedListing{}, ctx.Err()
		}
		t.logger.Warn("listing enrichment incomplete",
			"listing_id", msg.Listing.ID,
			"error", err,
		)
	}
	return out, nil
}
