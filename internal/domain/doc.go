// Package domain models property listings as they move through enrichment
// and scoring.
//
// # Categories
//
// Every score is computed across seven categories, always visited in the
// order given by [Categories]:
//
//	infrastructure           utility presence and road access (mandatory)
//	infrastructure_extended  distance to everyday amenities
//	transport                transit stops, train stations, travel times (mandatory)
//	environment              green space and noise proxies
//	neighborhood             amenity counts around the listing
//	services_quality         average provider ratings of nearby services
//	legal_status             zoning flags taken from the listing itself
//
// A mandatory category that ends up entirely unavailable fails the listing:
// no score is produced and the listing is flagged for the next run.
//
// # Fragment status
//
// Providers return fragments tagged ok, partial or unavailable. An
// unavailable fragment never carries values. Missing data is excluded from
// normalization instead of being read as zero, and the scoring engine
// redistributes the missing weight across the siblings that are present.
//
// An amenity that was searched for and not found inside the search radius
// is a real observation and scores 0. A search that failed is missing data.
//
// # Recomputation
//
// [NormalizedMetrics] are derived from an [EnrichmentRecord] without network
// access, and a [ScoreResult] is a pure function of NormalizedMetrics and a
// [WeightSnapshot]. Changing weights therefore only needs a re-score pass.
package domain
