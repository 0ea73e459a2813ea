package network

import "math"

func kmBound(v float64) *float64 { return &v }

// Bands are the fallback sections used when a point carries no explicit
// section. They partition [0, +inf): each band is [KmStart, KmEnd).
var Bands = [4]Section{
	{ID: "S1", Name: "Tramo alto", Color: "#1f77b4", KmStart: 0, KmEnd: kmBound(25)},
	{ID: "S2", Name: "Tramo medio", Color: "#2ca02c", KmStart: 25, KmEnd: kmBound(50)},
	{ID: "S3", Name: "Tramo bajo", Color: "#ff7f0e", KmStart: 50, KmEnd: kmBound(80)},
	{ID: "S4", Name: "Tramo final", Color: "#d62728", KmStart: 80},
}

// SectionForKm buckets a river-km position into one of the fallback bands.
// Negative and NaN positions fall in the first band.
func SectionForKm(km float64) Section {
	if math.IsNaN(km) || km < 0 {
		return Bands[0]
	}
	for _, b := range Bands {
		if b.KmEnd == nil || km < *b.KmEnd {
			return b
		}
	}
	return Bands[len(Bands)-1]
}

// ResolveSection prefers an explicit section and falls back to the km band.
func ResolveSection(explicit *Section, km float64) Section {
	if explicit != nil && explicit.ID != "" {
		return *explicit
	}
	return SectionForKm(km)
}
