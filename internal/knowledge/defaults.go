package knowledge

import (
	"time"

	"github.com/NevoLevi/mini-project-cdss/internal/domain"
)

// Canonical parameter codes tracked by the default installation. Lab codes
// are LOINC, observation codes are SNOMED.
const (
	CodeHemoglobin    = "30313-1"
	CodeWBC           = "26464-8"
	CodeFever         = "39106-0"
	CodeChills        = "427359001"
	CodeSkinLook      = "28214007"
	CodeAllergicState = "419199007"
	CodeTherapy       = "182836005"
)

// TherapyProtocolCCTG522 is the therapy code gating systemic toxicity
// grading in the default rule set.
const TherapyProtocolCCTG522 = "CCTG522"

func fptr(v float64) *float64 { return &v }

// DefaultDocument builds the knowledge base a fresh installation starts
// with: the three classification tables, the treatment protocols and the
// per-parameter validity periods.
func DefaultDocument() *domain.KnowledgeDocument {
	return &domain.KnowledgeDocument{
		ClassificationTables: map[string]*domain.ClassificationRuleSet{
			TableHemoglobinState: {
				Name:   TableHemoglobinState,
				Type:   domain.RuleSetRange,
				Inputs: []string{"Hemoglobin", "Gender"},
				Output: domain.StateHemoglobin.String(),
				Range: map[string][]domain.RangeRule{
					domain.Female.Key(): {
						{Min: 0, Max: fptr(8), State: "Severe Anemia"},
						{Min: 8, Max: fptr(10), State: "Moderate Anemia"},
						{Min: 10, Max: fptr(12), State: "Mild Anemia"},
						{Min: 12, Max: fptr(14), State: "Normal Hemoglobin"},
						{Min: 14, State: "Polycytemia"},
					},
					domain.Male.Key(): {
						{Min: 0, Max: fptr(9), State: "Severe Anemia"},
						{Min: 9, Max: fptr(11), State: "Moderate Anemia"},
						{Min: 11, Max: fptr(13), State: "Mild Anemia"},
						{Min: 13, Max: fptr(16), State: "Normal Hemoglobin"},
						{Min: 16, State: "Polyhemia"},
					},
				},
			},
			TableHematologicState: {
				Name:   TableHematologicState,
				Type:   domain.RuleSetMatrix,
				Inputs: []string{"Hemoglobin", "WBC", "Gender"},
				Output: domain.StateHematological.String(),
				Matrix: map[string]domain.MatrixRules{
					domain.Female.Key(): {
						RowPartitions: []string{"0-12", "12-14", "14+"},
						ColPartitions: []string{"0-4000", "4000-10000", "10000+"},
						States: [][]string{
							{"Pancytopenia", "Anemia", "Suspected Leukemia"},
							{"Leukopenia", "Normal", "Leukemoid reaction"},
							{"Suspected Polycytemia Vera", "Polycytemia", "Suspected Polycytemia Vera"},
						},
					},
					domain.Male.Key(): {
						RowPartitions: []string{"0-13", "13-16", "16+"},
						ColPartitions: []string{"0-4000", "4000-10000", "10000+"},
						States: [][]string{
							{"Pancytopenia", "Anemia", "Suspected Leukemia"},
							{"Leukopenia", "Normal", "Leukemoid reaction"},
							{"Suspected Polycytemia Vera", "Polyhemia", "Suspected Polycytemia Vera"},
						},
					},
				},
			},
			TableSystemicToxicity: {
				Name:   TableSystemicToxicity,
				Type:   domain.RuleSetMaximalOr,
				Inputs: []string{"Fever", "Chills", "Skin-look", "Allergic-state"},
				Output: domain.StateSystemicToxicity.String(),
				MaximalOr: &domain.MaximalOrRules{
					Precondition: domain.Precondition{
						Parameter: "Therapy",
						Value:     TherapyProtocolCCTG522,
					},
					Symptoms: []domain.SymptomRule{
						{
							Parameter: "Fever",
							Ranges: []domain.GradeRange{
								{Min: 37.5, Max: fptr(38.5), Grade: domain.GradeI},
								{Min: 38.5, Max: fptr(40.0), Grade: domain.GradeII},
								{Min: 40.0, Grade: domain.GradeIV},
							},
						},
						{
							Parameter: "Chills",
							Labels: []domain.GradeLabel{
								{Label: "None", Grade: domain.GradeUndefined},
								{Label: "Mild", Grade: domain.GradeI},
								{Label: "Shaking", Grade: domain.GradeII},
								{Label: "Rigor", Grade: domain.GradeIII},
							},
						},
						{
							Parameter: "Skin-look",
							Labels: []domain.GradeLabel{
								{Label: "Normal", Grade: domain.GradeUndefined},
								{Label: "Erythema", Grade: domain.GradeI},
								{Label: "Vesiculation", Grade: domain.GradeII},
								{Label: "Desquamation", Grade: domain.GradeIII},
								{Label: "Exfoliation", Grade: domain.GradeIV},
							},
						},
						{
							Parameter: "Allergic-state",
							Labels: []domain.GradeLabel{
								{Label: "None", Grade: domain.GradeUndefined},
								{Label: "Edema", Grade: domain.GradeI},
								{Label: "Bronchospasm", Grade: domain.GradeII},
								{Label: "Severe-Bronchospasm", Grade: domain.GradeIII},
								{Label: "Anaphylactic-Shock", Grade: domain.GradeIV},
							},
						},
					},
				},
			},
		},
		Treatments: domain.TreatmentRules{
			domain.Male.Key(): {
				"Severe Anemia + Pancytopenia + GRADE I":            "Measure BP once a week",
				"Moderate Anemia + Anemia + GRADE II":               "Measure BP every 3 days\nGive aspirin 5g twice a week",
				"Mild Anemia + Suspected Leukemia + GRADE III":      "Measure BP every day\nGive aspirin 15g every day\nDiet consultation",
				"Normal Hemoglobin + Leukemoid reaction + GRADE IV": "Measure BP twice a day\nGive aspirin 15g every day\nExercise consultation\nDiet consultation",
				"Polyhemia + Suspected Polycytemia Vera + GRADE IV": "Measure BP every hour\nGive 1 gr magnesium every hour\nExercise consultation\nCall family",
			},
			domain.Female.Key(): {
				"Severe Anemia + Pancytopenia + GRADE I":              "Measure BP every 3 days",
				"Moderate Anemia + Anemia + GRADE II":                 "Measure BP every 3 days\nGive Celectone 2g twice a day for two days drug treatment",
				"Mild Anemia + Suspected Leukemia + GRADE III":        "Measure BP every day\nGive 1 gr magnesium every 3 hours\nDiet consultation",
				"Normal Hemoglobin + Leukemoid reaction + GRADE IV":   "Measure BP twice a day\nGive 1 gr magnesium every hour\nExercise consultation\nDiet consultation",
				"Polycytemia + Suspected Polycytemia Vera + GRADE IV": "Measure BP every hour\nGive 1 gr magnesium every hour\nExercise consultation\nCall help",
			},
		},
		ValidityPeriods: map[string]domain.ValidityPeriodSpec{
			"Hemoglobin":     {BeforeGood: domain.Duration(7 * 24 * time.Hour), AfterGood: domain.Duration(7 * 24 * time.Hour)},
			"WBC":            {BeforeGood: domain.Duration(3 * 24 * time.Hour), AfterGood: domain.Duration(3 * 24 * time.Hour)},
			"Fever":          {BeforeGood: domain.Duration(12 * time.Hour), AfterGood: domain.Duration(12 * time.Hour)},
			"Chills":         {BeforeGood: domain.Duration(12 * time.Hour), AfterGood: domain.Duration(12 * time.Hour)},
			"Skin-look":      {BeforeGood: domain.Duration(2 * 24 * time.Hour), AfterGood: domain.Duration(2 * 24 * time.Hour)},
			"Allergic-state": {BeforeGood: domain.Duration(12 * time.Hour), AfterGood: domain.Duration(12 * time.Hour)},
			"Therapy":        {BeforeGood: domain.Duration(30 * 24 * time.Hour), AfterGood: domain.Duration(30 * 24 * time.Hour)},
		},
		Parameters: map[string]domain.ParameterSpec{
			CodeHemoglobin: {
				Name:     "Hemoglobin",
				LongName: "Hemoglobin [Mass/volume] in Blood",
				Aliases:  []string{"hemoglobin", "hgb", "hemoglobin-level"},
				Numeric:  true,
			},
			CodeWBC: {
				Name:     "WBC",
				LongName: "Leukocytes [#/volume] in Blood",
				Aliases:  []string{"wbc", "leukocytes", "wbc-level"},
				Numeric:  true,
			},
			CodeFever: {
				Name:     "Fever",
				LongName: "Body temperature",
				Aliases:  []string{"fever", "temperature", "temp"},
				Numeric:  true,
			},
			CodeChills: {
				Name:    "Chills",
				Aliases: []string{"chills"},
			},
			CodeSkinLook: {
				Name:     "Skin-look",
				LongName: "Skin appearance",
				Aliases:  []string{"skin-look", "skin appearance", "skin"},
			},
			CodeAllergicState: {
				Name:     "Allergic-state",
				LongName: "Allergic reaction state",
				Aliases:  []string{"allergic-state", "allergic reaction", "allergy"},
			},
			CodeTherapy: {
				Name:     "Therapy",
				LongName: "Therapeutic regimen",
				Aliases:  []string{"therapy", "therapy status"},
			},
		},
	}
}
