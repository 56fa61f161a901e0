package farm

import "testing"

func TestPredictorHealthyField(t *testing.T) {
	p := NewPredictor()
	cases := []struct {
		health int
		want   int
	}{
		{95, 95},
		{90, 95},
		{75, 85},
		{60, 70},
		{30, 60},
	}
	for _, tc := range cases {
		d := p.Diagnose(80, tc.health, "")
		if d.Disease != "" {
			t.Errorf("health %d: diagnosed %q on a healthy field", tc.health, d.Disease)
		}
		if d.Confidence != tc.want {
			t.Errorf("health %d: confidence = %d, want %d", tc.health, d.Confidence, tc.want)
		}
	}
}

func TestPredictorDiseaseConfidence(t *testing.T) {
	p := NewPredictor()
	cases := []struct {
		disease string
		health  int
		want    int
	}{
		{"APHIDS", 80, 80},         // 70 + 10 disease bias
		{"APHIDS", 40, 99},         // 70 + 20 + 10, capped at 99
		{"FUNGAL_BLIGHT", 80, 70},  // no bias above 60 health
		{"FUNGAL_BLIGHT", 55, 95},  // 70 + 10 + 15
		{"ROOT_ROT", 80, 60},       // 70 - 10
		{"ROOT_ROT", 40, 95},       // 70 + 20 + 5
		{"UNKNOWN_DISEASE", 80, 70},
	}
	for _, tc := range cases {
		d := p.Diagnose(50, tc.health, tc.disease)
		if d.Disease != tc.disease {
			t.Errorf("%s: echoed %q", tc.disease, d.Disease)
		}
		if d.Confidence != tc.want {
			t.Errorf("%s at health %d: confidence = %d, want %d",
				tc.disease, tc.health, d.Confidence, tc.want)
		}
		if d.Explanation == "" {
			t.Errorf("%s: empty explanation", tc.disease)
		}
	}
}
