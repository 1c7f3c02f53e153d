package gemini

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"math"
	"strings"

	// Registered for image.DecodeConfig; uploads are JPEG, PNG or WEBP.
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/google/uuid"

	"risk-assessment-service/internal/domain/assessment"
)

// rawDetection is one entry of the detection response, with all coordinates
// normalized to [0,1].
type rawDetection struct {
	Mask  [][]float64 `json:"mask"`
	Box2D []float64   `json:"box_2d"`
	Label string      `json:"label"`
}

// parseDetections parses the completion text into detection entries. Only a
// payload that is not a JSON array at all is an error; an entry that does
// not decode is dropped without failing the rest of the batch, same as the
// shape validation in toRegion. Returns the decoded entries and the number
// dropped.
func parseDetections(text string) ([]rawDetection, int, error) {
	cleaned := stripCodeFence(text)

	var entries []json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &entries); err != nil {
		return nil, 0, fmt.Errorf("%w: detection payload is not a JSON array: %v", ErrBadResponse, err)
	}

	raws := make([]rawDetection, 0, len(entries))
	dropped := 0
	for _, entry := range entries {
		var raw rawDetection
		if err := json.Unmarshal(entry, &raw); err != nil {
			dropped++
			continue
		}
		raws = append(raws, raw)
	}
	return raws, dropped, nil
}

// toRegion validates one detection entry and converts it into pixel space.
// Entries with an empty label or fewer than 3 usable polygon points are
// rejected; a missing or malformed bounding box is derived from the mask
// extent instead.
func (r rawDetection) toRegion(width, height int) (assessment.HazardRegion, bool) {
	label := strings.TrimSpace(r.Label)
	if label == "" {
		return assessment.HazardRegion{}, false
	}

	points := make([]assessment.Point, 0, len(r.Mask))
	for _, pair := range r.Mask {
		if len(pair) != 2 {
			continue
		}
		points = append(points, assessment.Point{
			X: toPixel(pair[0], width),
			Y: toPixel(pair[1], height),
		})
	}
	if len(points) < 3 {
		return assessment.HazardRegion{}, false
	}

	var box assessment.BoundingBox
	if len(r.Box2D) == 4 {
		xMin, xMax := ordered(toPixel(r.Box2D[0], width), toPixel(r.Box2D[2], width))
		yMin, yMax := ordered(toPixel(r.Box2D[1], height), toPixel(r.Box2D[3], height))
		box = assessment.BoundingBox{X: xMin, Y: yMin, Width: xMax - xMin, Height: yMax - yMin}
	} else {
		box = boxFromMask(points)
	}

	return assessment.HazardRegion{
		ID:          uuid.New(),
		Label:       label,
		MaskPoints:  points,
		BoundingBox: box,
	}, true
}

// toPixel converts one normalized coordinate to pixel space, clamping into
// image bounds first.
func toPixel(norm float64, dimension int) int {
	if norm < 0 {
		norm = 0
	}
	if norm > 1 {
		norm = 1
	}
	return int(math.Round(norm * float64(dimension)))
}

func ordered(a, b int) (int, int) {
	if a > b {
		return b, a
	}
	return a, b
}

func boxFromMask(points []assessment.Point) assessment.BoundingBox {
	minX, minY := points[0].X, points[0].Y
	maxX, maxY := minX, minY
	for _, p := range points[1:] {
		if p.X < minX {
			minX = p.X
		}
		if p.X > maxX {
			maxX = p.X
		}
		if p.Y < minY {
			minY = p.Y
		}
		if p.Y > maxY {
			maxY = p.Y
		}
	}
	return assessment.BoundingBox{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

// stripCodeFence removes a surrounding markdown code fence if the model
// wrapped its JSON in one.
func stripCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

func decodeImageSize(data []byte) (width, height int, err error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}
