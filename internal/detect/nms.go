package detect

import (
	"sort"

	"github.com/kiranshivaraju/holdseg/internal/geometry"
)

// Suppress runs greedy NMS and returns the indices of kept detections,
// highest confidence first. Equal confidences keep their input order.
func Suppress(dets []Detection, iouThreshold float64) []int {
	order := make([]int, len(dets))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return dets[order[a]].Confidence > dets[order[b]].Confidence
	})

	removed := make([]bool, len(dets))
	kept := make([]int, 0, len(dets))
	for oi, i := range order {
		if removed[i] {
			continue
		}
		kept = append(kept, i)
		for _, j := range order[oi+1:] {
			if !removed[j] && geometry.IoU(dets[i].Box, dets[j].Box) > iouThreshold {
				removed[j] = true
			}
		}
	}
	return kept
}
