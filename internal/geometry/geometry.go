package geometry

import "sort"

// ComputeIoU calculates Intersection over Union between two boxes in the
// same coordinate system.
func ComputeIoU(a, b Box) float64 {
	// Calculate intersection.
	x1 := max(a.X1, b.X1)
	y1 := max(a.Y1, b.Y1)
	x2 := min(a.X2, b.X2)
	y2 := min(a.Y2, b.Y2)

	if x2 <= x1 || y2 <= y1 {
		return 0 // No intersection
	}

	intersection := (x2 - x1) * (y2 - y1)
	union := a.Area() + b.Area() - intersection
	if union <= 0 {
		return 0
	}

	return intersection / union
}

// ScaleRegion converts a region from the detector's native processing
// resolution to the render surface resolution. Landmarks are scaled with
// the same factors. The region is returned unchanged if either size is invalid.
func ScaleRegion(r Region, from, to Size) Region {
	if !from.Valid() || !to.Valid() {
		return r
	}

	sx := float64(to.Width) / float64(from.Width)
	sy := float64(to.Height) / float64(from.Height)

	out := Region{
		Box: Box{
			X1: r.Box.X1 * sx,
			Y1: r.Box.Y1 * sy,
			X2: r.Box.X2 * sx,
			Y2: r.Box.Y2 * sy,
		},
		Score: r.Score,
	}
	if len(r.Landmarks) > 0 {
		out.Landmarks = make([]Point, len(r.Landmarks))
		for i, p := range r.Landmarks {
			out.Landmarks[i] = Point{X: p.X * sx, Y: p.Y * sy}
		}
	}
	return out
}

// ScaleRegions applies ScaleRegion to every region.
func ScaleRegions(regions []Region, from, to Size) []Region {
	out := make([]Region, len(regions))
	for i, r := range regions {
		out[i] = ScaleRegion(r, from, to)
	}
	return out
}

// ClampBox limits a box to [0, size].
func ClampBox(b Box, size Size) Box {
	w, h := float64(size.Width), float64(size.Height)
	return Box{
		X1: min(max(b.X1, 0), w),
		Y1: min(max(b.Y1, 0), h),
		X2: min(max(b.X2, 0), w),
		Y2: min(max(b.Y2, 0), h),
	}
}

// SuppressDuplicates drops regions below minScore and, among regions that
// overlap with IoU >= iouThreshold, keeps only the highest scoring one.
// The result is ordered by descending score.
func SuppressDuplicates(regions []Region, iouThreshold, minScore float64) []Region {
	candidates := make([]Region, 0, len(regions))
	for _, r := range regions {
		if r.Score >= minScore && r.Box.Area() > 0 {
			candidates = append(candidates, r)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	kept := make([]Region, 0, len(candidates))
	for _, c := range candidates {
		duplicate := false
		for _, k := range kept {
			if ComputeIoU(c.Box, k.Box) >= iouThreshold {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, c)
		}
	}
	return kept
}
