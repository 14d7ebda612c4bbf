// Package planner turns a location selection into the ordered list of API
// queries to try, most specific tier first.
package planner

import (
	"fmt"
	"strings"

	"github.com/kjstillabower/cnweather/internal/apperrors"
	"github.com/kjstillabower/cnweather/internal/models"
)

// traceSeparator joins candidate labels in the strategy trace.
const traceSeparator = " → "

// Normalize trims whitespace and maps placeholder values to "".
func Normalize(sel models.LocationSelection) models.LocationSelection {
	return models.LocationSelection{
		Province: unset(sel.Province, models.UnsetProvince),
		City:     unset(sel.City, models.UnsetCity),
		District: unset(sel.District, models.UnsetDistrict),
	}
}

func unset(v, placeholder string) string {
	v = strings.TrimSpace(v)
	if v == placeholder {
		return ""
	}
	return v
}

// Validate returns an error wrapping apperrors.ErrValidation unless both
// province and city are set.
func Validate(sel models.LocationSelection) error {
	n := Normalize(sel)
	if n.Province == "" || n.City == "" {
		return fmt.Errorf("%w: select at least a province and a city", apperrors.ErrValidation)
	}
	return nil
}

// Plan builds the fallback candidates for sel: district (if set), then city,
// then the province queried with its own name as the place. Order governs
// fallback only; callers stop at the first success.
func Plan(sel models.LocationSelection) ([]models.QueryCandidate, error) {
	if err := Validate(sel); err != nil {
		return nil, err
	}
	n := Normalize(sel)

	cands := make([]models.QueryCandidate, 0, 3)
	if n.District != "" {
		cands = append(cands, candidate(n.Province, n.District, models.TierDistrict))
	}
	cands = append(cands, candidate(n.Province, n.City, models.TierCity))
	cands = append(cands, candidate(n.Province, n.Province, models.TierProvince))
	return cands, nil
}

func candidate(province, place string, tier models.Tier) models.QueryCandidate {
	return models.QueryCandidate{
		Province: province,
		Place:    place,
		Label:    Label(tier, place),
		Tier:     tier,
	}
}

// Label renders a tier and place for display, e.g. "city: 深圳市".
func Label(tier models.Tier, place string) string {
	return string(tier) + ": " + place
}

// StrategyTrace joins candidate labels in order, e.g.
// "district: 南山区 → city: 深圳市 → province: 广东省".
func StrategyTrace(cands []models.QueryCandidate) string {
	labels := make([]string, len(cands))
	for i, c := range cands {
		labels[i] = c.Label
	}
	return strings.Join(labels, traceSeparator)
}

// CacheKey derives the per-selection cache key "province-city-district",
// substituting each tier's placeholder for an unset value. Selections that
// differ only in whether the district is set get different keys even though
// they may resolve to the same tier.
func CacheKey(sel models.LocationSelection) string {
	n := Normalize(sel)
	return orPlaceholder(n.Province, models.UnsetProvince) + "-" +
		orPlaceholder(n.City, models.UnsetCity) + "-" +
		orPlaceholder(n.District, models.UnsetDistrict)
}

func orPlaceholder(v, placeholder string) string {
	if v == "" {
		return placeholder
	}
	return v
}
