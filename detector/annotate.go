package detector

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"edgevision/model"
)

var (
	boxColor     = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	skeletonColor = color.RGBA{R: 0, G: 200, B: 255, A: 255}
)

// skeletonEdges is the COCO-17 bone list used to connect keypoints when
// drawing pose overlays.
var skeletonEdges = [][2]int{
	{5, 6}, {5, 7}, {7, 9}, {6, 8}, {8, 10},
	{5, 11}, {6, 12}, {11, 12},
	{11, 13}, {13, 15}, {12, 14}, {14, 16},
}

// Annotate copies frame into a new Mat and draws boxes/labels for
// detections whose class is in targetClasses (or all detections if
// targetClasses is empty), plus skeleton overlays for those drawn
// detections that carry keypoints (spec §4.4 step 3). The caller owns and must
// Close() the returned Mat.
func Annotate(frame gocv.Mat, det *model.Detections, targetClasses map[string]bool) gocv.Mat {
	out := gocv.NewMat()
	frame.CopyTo(&out)
	if det == nil {
		return out
	}

	for i, class := range det.Classes {
		if len(targetClasses) > 0 && !targetClasses[class] {
			continue
		}
		if i >= len(det.Boxes) {
			continue
		}
		b := det.Boxes[i]
		rect := image.Rect(int(b[0]), int(b[1]), int(b[2]), int(b[3]))
		gocv.Rectangle(&out, rect, boxColor, 2)

		score := float32(0)
		if i < len(det.Scores) {
			score = det.Scores[i]
		}
		label := fmt.Sprintf("%s %.2f", class, score)
		gocv.PutText(&out, label, image.Pt(rect.Min.X, rect.Min.Y-6),
			gocv.FontHersheySimplex, 0.5, boxColor, 1)

		if i < len(det.Keypoints) && det.Keypoints[i] != nil {
			drawSkeleton(&out, det.Keypoints[i])
		}
	}
	return out
}

func drawSkeleton(mat *gocv.Mat, kps []model.Keypoint) {
	for _, edge := range skeletonEdges {
		a, b := edge[0], edge[1]
		if a >= len(kps) || b >= len(kps) {
			continue
		}
		if kps[a][2] <= 0 || kps[b][2] <= 0 {
			continue // low-confidence keypoint, skip the bone
		}
		p1 := image.Pt(int(kps[a][0]), int(kps[a][1]))
		p2 := image.Pt(int(kps[b][0]), int(kps[b][1]))
		gocv.Line(mat, p1, p2, skeletonColor, 2)
	}
	for _, kp := range kps {
		if kp[2] <= 0 {
			continue
		}
		gocv.Circle(mat, image.Pt(int(kp[0]), int(kp[1])), 3, skeletonColor, -1)
	}
}
