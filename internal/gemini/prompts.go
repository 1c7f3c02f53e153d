package gemini

import "fmt"

// detectionPrompt asks the model for every visible workplace-safety hazard
// in the photo, each outlined by a normalized polygon and bounding box.
const detectionPrompt = `You are a workplace safety expert. Analyze this photograph and identify every potential safety hazard. For each detected hazard provide:
1. 'mask': an array of [x,y] coordinates forming a polygon that outlines the hazard area. Coordinates must be normalized between 0 and 1, where (0,0) is the top-left corner of the image and (1,1) is the bottom-right.
2. 'box_2d': a bounding rectangle [x_min, y_min, x_max, y_max] around the hazard, also with normalized coordinates.
3. 'label': a short hazard name or description (for example "unstable scaffolding", "tangled electrical cables", "working at height without fall protection").

Respond with a JSON array of objects only, each object having the keys 'mask', 'box_2d' and 'label'. If no hazards are found, respond with an empty array [].
Example output:
[
  {
    "mask": [[0.1,0.2], [0.3,0.2], [0.3,0.4], [0.1,0.4]],
    "box_2d": [0.1, 0.2, 0.3, 0.4],
    "label": "boxes stacked too high"
  }
]`

// detailPrompt asks for an ISO 45001 style risk assessment of one labeled
// hazard in the context of the same photo. The response keys mirror the
// detection service contract, including the Thai-law and Kubota reference
// lists the original assessment sheets carry.
func detailPrompt(label string) string {
	return fmt.Sprintf(`For the hazard "%[1]s" identified in this image, and given the context of the image:
Perform a detailed risk assessment following ISO 45001 principles and return the following information as JSON only:
{
  "risk_name": "%[1]s",
  "severity_score": <integer 1-5, where 1=negligible and 5=most severe/fatal>,
  "likelihood_score": <integer 1-5, where 1=very unlikely and 5=frequent/almost constant>,
  "risk_level_verbal_description": "a detailed explanation of the assessed risk level derived from severity and likelihood, with reasoning",
  "corrective_preventive_measures": ["measure 1 (consider the Hierarchy of Controls where possible: elimination, substitution, engineering controls, administrative controls, PPE)", "measure 2", "..."],
  "international_standards_references": ["relevant international standards such as ISO 45001, ISO 12100 (if applicable)", "..."],
  "relevant_thai_laws": ["relevant Thai legislation such as the Occupational Safety, Health and Environment Act B.E. 2554, section X", "..."],
  "kubota_standards_references": ["relevant Kubota standards (if known, otherwise state 'no specific reference')", "..."]
}
Make sure the output is valid JSON matching exactly this structure.`, label)
}
