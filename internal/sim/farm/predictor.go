package farm

// Predictor is the trainable diagnosis model the scanner drones carry. Its
// confidence heuristics feed numeric hints to the planner; the math itself
// carries no correctness guarantee.
type Predictor struct {
	Model   string
	Version string
}

func NewPredictor() *Predictor {
	return &Predictor{Model: "EcoFarm-DiseaseNet", Version: "1.0.0"}
}

type Diagnosis struct {
	Disease     string // "" when healthy
	Confidence  int    // 0-100
	Explanation string
}

// Diagnose classifies a field from its sensor readings. The actual disease is
// passed in as ground truth; the model grades its own confidence from the
// symptom strength.
func (p *Predictor) Diagnose(moisture, health int, actual string) Diagnosis {
	if actual == "" {
		return Diagnosis{
			Confidence:  healthyConfidence(health),
			Explanation: "No disease patterns detected",
		}
	}
	return Diagnosis{
		Disease:     actual,
		Confidence:  diseaseConfidence(actual, health),
		Explanation: explain(actual),
	}
}

func healthyConfidence(health int) int {
	switch {
	case health >= 90:
		return 95
	case health >= 70:
		return 85
	case health >= 50:
		return 70
	default:
		return 60
	}
}

// Lower health means clearer symptoms, so confidence rises as health falls.
func diseaseConfidence(disease string, health int) int {
	confidence := 70
	if health < 50 {
		confidence += 20
	} else if health < 70 {
		confidence += 10
	}
	switch disease {
	case "APHIDS":
		confidence += 10
	case "FUNGAL_BLIGHT":
		if health < 60 {
			confidence += 15
		}
	case "ROOT_ROT":
		if health < 50 {
			confidence += 5
		} else {
			confidence -= 10
		}
	}
	if confidence > 99 {
		confidence = 99
	}
	if confidence < 50 {
		confidence = 50
	}
	return confidence
}

func explain(disease string) string {
	switch disease {
	case "APHIDS":
		return "Detected insect damage patterns on leaf surfaces"
	case "FUNGAL_BLIGHT":
		return "Identified fungal spore signatures in visual analysis"
	case "ROOT_ROT":
		return "Root system stress indicators suggest bacterial infection"
	}
	return "Disease pattern matched"
}
