package router

import "strings"

// Region is one entry of the host's somatic boundary map.
type Region struct {
	RegionID string `yaml:"region_id" json:"region_id"`
	NoFly    bool   `yaml:"no_fly" json:"no_fly"`
	// DensityMax is the allowed nano density fraction. Zero means the region
	// carries no density cap.
	DensityMax float64 `yaml:"density_max" json:"density_max"`
	// Dose limits in the region's dose unit. Zero means no limit on that window.
	SessionDoseLimit float64 `yaml:"session_dose_limit" json:"session_dose_limit"`
	DailyDoseLimit   float64 `yaml:"daily_dose_limit" json:"daily_dose_limit"`
}

// RegionMap resolves regions by id. Lookups are case-insensitive.
type RegionMap struct {
	regions map[string]Region
}

// NewRegionMap builds a map from a region list. Later duplicates win.
func NewRegionMap(regions []Region) *RegionMap {
	m := make(map[string]Region, len(regions))
	for _, r := range regions {
		m[normalizeRegion(r.RegionID)] = r
	}
	return &RegionMap{regions: m}
}

// Lookup returns the region for id and whether it is known.
func (m *RegionMap) Lookup(id string) (Region, bool) {
	if m == nil {
		return Region{}, false
	}
	r, ok := m.regions[normalizeRegion(id)]
	return r, ok
}

// Len returns the number of known regions.
func (m *RegionMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.regions)
}

func normalizeRegion(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// DoseFraction is the larger of the session and daily dose fractions.
// Windows without a limit contribute zero.
func (r Region) DoseFraction(sessionDose, dailyDose float64) float64 {
	var frac float64
	if r.SessionDoseLimit > 0 {
		frac = sessionDose / r.SessionDoseLimit
	}
	if r.DailyDoseLimit > 0 {
		if d := dailyDose / r.DailyDoseLimit; d > frac || d != d {
			frac = d
		}
	}
	return frac
}
