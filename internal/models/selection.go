package models

// Placeholders shown in selection widgets before a tier is chosen. A field equal
// to its placeholder is treated the same as an empty field.
const (
	UnsetProvince = "--省份--"
	UnsetCity     = "--市区--"
	UnsetDistrict = "--区域--"
)

// Tier is a granularity level in the location hierarchy.
type Tier string

const (
	TierDistrict Tier = "district"
	TierCity     Tier = "city"
	TierProvince Tier = "province"
)

// LocationSelection is the user's current, possibly partial, choice.
type LocationSelection struct {
	Province string `json:"province"`
	City     string `json:"city,omitempty"`
	District string `json:"district,omitempty"`
}

// QueryCandidate is one fallback attempt against the weather API.
type QueryCandidate struct {
	Province string `json:"province"`
	Place    string `json:"place"`
	Label    string `json:"label"`
	Tier     Tier   `json:"tier"`
}
