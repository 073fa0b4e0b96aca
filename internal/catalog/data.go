package catalog

// Default returns the built-in selection tree.
func Default() (*Tree, error) {
	return New(defaultOrgans())
}

func defaultOrgans() []Organ {
	return []Organ{
		{
			Name:  "Brain",
			Stats: OrganStats{Incidence: "25k/yr", Risk: "Low (1%)", FiveYearSurvival: "33%"},
			Types: []CancerType{
				{Name: "Oligodendroglioma", Record: Record{
					Grades:    []string{"WHO Grade 2", "WHO Grade 3"},
					Mutations: []string{"IDH1 Mutant", "1p/19q Co-deleted", "IDH Wildtype"},
					Outcomes:  map[string]string{"Grade 2": "12-15 yrs", "Grade 3": "6-9 yrs"},
				}},
				{Name: "Astrocytoma", Record: Record{
					Grades:    []string{"Grade 2", "Grade 3", "Grade 4 (GBM)"},
					Mutations: []string{"IDH1 Mutant", "ATRX Loss", "TP53 Mutant"},
					Outcomes:  map[string]string{"Grade 2": "8-10 yrs", "Grade 4": "1.5 yrs"},
				}},
			},
		},
		{
			Name:  "Breast",
			Stats: OrganStats{Incidence: "320k/yr", Risk: "High (13%)", FiveYearSurvival: "91%"},
			Types: []CancerType{
				{Name: "Invasive Ductal Carcinoma", Record: Record{
					Grades:    []string{"Grade 1", "Grade 2", "Grade 3"},
					Mutations: []string{"HER2+", "Triple Negative", "ER/PR+"},
					Outcomes:  map[string]string{"Grade 1": "High (95%)", "Grade 3": "Variable"},
				}},
			},
		},
		{
			Name:  "Lung",
			Stats: OrganStats{Incidence: "230k/yr", Risk: "Moderate (6%)", FiveYearSurvival: "28%"},
			Types: []CancerType{
				{Name: "Non-Small Cell (NSCLC)", Record: Record{
					Grades:    []string{"Stage I", "Stage II", "Stage III", "Stage IV"},
					Mutations: []string{"EGFR", "ALK", "KRAS", "PD-L1 High"},
					Outcomes:  map[string]string{"Stage I": "70%", "Stage IV": "10%"},
				}},
			},
		},
	}
}
