package service

import (
	"github.com/hiro/poi_service/internal/lookup"
	"github.com/hiro/poi_service/pkg/models"
)

// nullIfEmpty maps a missing or empty source value to an explicit absent
// value: the empty string becomes nil, anything else passes through unchanged.
// This is the single normalization point for optional scalar fields; empty
// lists are handled by their natural nil encoding.
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// usable reports whether a raw record carries everything a location row
// requires. Closed businesses and records missing the identifier, name,
// coordinates, rating, review count, or address block are discarded.
func usable(b lookup.Business) bool {
	if b.IsClosed {
		return false
	}
	return b.ID != "" &&
		b.Name != "" &&
		b.Coordinates != nil &&
		b.Rating != nil &&
		b.ReviewCount != nil &&
		b.Location != nil
}

// normalize turns the raw lookup records for one term into location values
// ready for storage. Unusable records are dropped; zero results is a valid
// outcome the caller reports as an empty term.
func normalize(raw []lookup.Business) []*models.Location {
	out := make([]*models.Location, 0, len(raw))
	for _, b := range raw {
		if !usable(b) {
			continue
		}
		loc := &models.Location{
			ID:          b.ID,
			Name:        b.Name,
			Alias:       nullIfEmpty(b.Alias),
			ImageURL:    nullIfEmpty(b.ImageURL),
			LookupURL:   b.URL,
			Latitude:    b.Coordinates.Latitude,
			Longitude:   b.Coordinates.Longitude,
			Rating:      *b.Rating,
			ReviewCount: *b.ReviewCount,
			Price:       nullIfEmpty(b.Price),
			Phone:       nullIfEmpty(b.Phone),
			Address1:    nullIfEmpty(b.Location.Address1),
			Address2:    nullIfEmpty(b.Location.Address2),
			Address3:    nullIfEmpty(b.Location.Address3),
			City:        b.Location.City,
			ZipCode:     b.Location.ZipCode,
		}
		for _, c := range b.Categories {
			loc.Categories = append(loc.Categories, models.Category{
				LocationID: b.ID,
				Category:   c.Title,
				Alias:      nullIfEmpty(c.Alias),
			})
		}
		out = append(out, loc)
	}
	return out
}
