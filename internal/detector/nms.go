package detector

import "sort"

// face is a detected face with its eye pair before ranking.
type face struct {
	Box   NormalizedRect
	Eyes  EyePair
	Score float32
}

// nms performs Non-Maximum Suppression on detected faces, most confident first
func nms(faces []face, iouThreshold float64) []face {
	if len(faces) == 0 {
		return faces
	}

	// Sort by score (descending)
	sort.SliceStable(faces, func(i, j int) bool {
		return faces[i].Score > faces[j].Score
	})

	keep := make([]bool, len(faces))
	for i := range keep {
		keep[i] = true
	}

	for i := 0; i < len(faces); i++ {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(faces); j++ {
			if !keep[j] {
				continue
			}
			if iou(faces[i].Box, faces[j].Box) > iouThreshold {
				keep[j] = false
			}
		}
	}

	result := make([]face, 0, len(faces))
	for i, f := range faces {
		if keep[i] {
			result = append(result, f)
		}
	}

	return result
}

// iou calculates Intersection over Union of two rects
func iou(a, b NormalizedRect) float64 {
	x1 := max(a.Left, b.Left)
	y1 := max(a.Top, b.Top)
	x2 := min(a.Right, b.Right)
	y2 := min(a.Bottom, b.Bottom)

	if x1 >= x2 || y1 >= y2 {
		return 0
	}

	intersection := (x2 - x1) * (y2 - y1)
	union := a.Area() + b.Area() - intersection

	if union <= 0 {
		return 0
	}

	return intersection / union
}
