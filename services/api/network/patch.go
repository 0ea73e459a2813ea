package network

// PatchResult reports what ApplyMeasurement did with an event.
type PatchResult struct {
	Applied  bool
	Stale    bool
	ModuleID string
}

// ApplyMeasurement folds a newly inserted measurement into the tree and
// returns the new tree. The input is never mutated: the owning module, its
// point slice and the point itself are copied, everything else is shared.
//
// An unknown point id returns the input slice untouched. A measurement whose
// timestamp is not after the point's latest known sample is dropped as stale.
func ApplyMeasurement(modules []Module, m Measurement) ([]Module, PatchResult) {
	for mi := range modules {
		points := modules[mi].Points
		for pi := range points {
			if points[pi].ID != m.PointID {
				continue
			}
			res := PatchResult{ModuleID: modules[mi].ID}
			if isStale(points[pi], m) {
				res.Stale = true
				return modules, res
			}

			nextPoints := make([]DeliveryPoint, len(points))
			copy(nextPoints, points)
			nextPoints[pi] = patchPoint(points[pi], m)

			module := modules[mi]
			module.Points = nextPoints
			module.CurrentFlow = SumFlow(nextPoints)

			next := make([]Module, len(modules))
			copy(next, modules)
			next[mi] = module

			res.Applied = true
			return next, res
		}
	}
	return modules, PatchResult{}
}

func isStale(p DeliveryPoint, m Measurement) bool {
	if m.Timestamp.IsZero() || p.LastMeasuredAt.IsZero() {
		return false
	}
	return !m.Timestamp.After(p.LastMeasuredAt)
}

func patchPoint(p DeliveryPoint, m Measurement) DeliveryPoint {
	history := make([]Measurement, 0, len(p.Measurements)+1)
	history = append(history, m)
	history = append(history, p.Measurements...)

	p.CurrentQ = m.Flow
	p.Accumulated += m.Volume
	p.IsOpen = p.CurrentQ > 0
	if !m.Timestamp.IsZero() {
		p.LastMeasuredAt = m.Timestamp
	}
	p.Measurements = history
	return p
}
