package catalog

import (
	"encoding/json"
	"strings"
	"testing"
)

func defaultTree(t *testing.T) *Tree {
	t.Helper()
	tree, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	return tree
}

func TestTypesEndWithOther(t *testing.T) {
	tree := defaultTree(t)
	for _, organ := range tree.Organs() {
		types := tree.Types(organ)
		if len(types) < 2 {
			t.Fatalf("organ %s: expected at least one type plus Other, got %v", organ, types)
		}
		if types[len(types)-1] != Other {
			t.Fatalf("organ %s: expected Other last, got %v", organ, types)
		}
	}
}

func TestTypesUnknownOrganOnlyOther(t *testing.T) {
	tree := defaultTree(t)
	got := tree.Types("Liver")
	if len(got) != 1 || got[0] != Other {
		t.Fatalf("expected [Other], got %v", got)
	}
}

func TestOrgansKeepDeclarationOrder(t *testing.T) {
	tree := defaultTree(t)
	got := strings.Join(tree.Organs(), ",")
	if got != "Brain,Breast,Lung" {
		t.Fatalf("unexpected organ order %s", got)
	}
}

func TestOutcomeLookupAndSentinel(t *testing.T) {
	tree := defaultTree(t)
	if got := tree.Outcome("Breast", "Invasive Ductal Carcinoma", "Grade 1"); got != "High (95%)" {
		t.Fatalf("expected stored outcome, got %q", got)
	}
	if got := tree.Outcome("Breast", "Invasive Ductal Carcinoma", "Grade 2"); got != ConsultSpecialist {
		t.Fatalf("expected sentinel for missing grade, got %q", got)
	}
	if got := tree.Outcome("Brain", "Oligodendroglioma", "WHO Grade 2"); got != ConsultSpecialist {
		t.Fatalf("expected sentinel for unmatched grade label, got %q", got)
	}
	if got := tree.Outcome("Liver", "Hepatocellular", "Grade 1"); got != ConsultSpecialist {
		t.Fatalf("expected sentinel for unknown organ, got %q", got)
	}
}

func TestOptionsOtherRequiresFreeText(t *testing.T) {
	tree := defaultTree(t)
	if _, ok := tree.Options("Lung", Other); ok {
		t.Fatal("expected Other type to have no options")
	}
	if _, ok := tree.Options("Lung", "Small Cell"); ok {
		t.Fatal("expected unknown type to have no options")
	}
	rec, ok := tree.Options("Lung", "Non-Small Cell (NSCLC)")
	if !ok || len(rec.Grades) != 4 || len(rec.Mutations) != 4 {
		t.Fatalf("unexpected options %+v ok=%v", rec, ok)
	}
	rec.Grades[0] = "mutated"
	again, _ := tree.Options("Lung", "Non-Small Cell (NSCLC)")
	if again.Grades[0] != "Stage I" {
		t.Fatal("expected Options to return a copy")
	}
}

func TestOptionsOutcomesAreCopied(t *testing.T) {
	tree := defaultTree(t)
	rec, ok := tree.Options("Breast", "Invasive Ductal Carcinoma")
	if !ok {
		t.Fatal("expected options")
	}
	rec.Outcomes["Grade 1"] = "mutated"
	delete(rec.Outcomes, "Grade 3")
	if got := tree.Outcome("Breast", "Invasive Ductal Carcinoma", "Grade 1"); got != "High (95%)" {
		t.Fatalf("tree outcome changed through Options: %q", got)
	}
	if got := tree.Outcome("Breast", "Invasive Ductal Carcinoma", "Grade 3"); got != "Variable" {
		t.Fatalf("tree outcome removed through Options: %q", got)
	}
}

func TestResolveFullyMatched(t *testing.T) {
	tree := defaultTree(t)
	p := tree.Resolve(Selection{Organ: "Breast", CancerType: "Invasive Ductal Carcinoma", Grade: "Grade 1", Mutation: "HER2+"})
	if p.IsFreeform() {
		t.Fatalf("expected resolved profile, got %+v", p)
	}
	if p.Label() != "Grade 1 (HER2+)" {
		t.Fatalf("unexpected label %q", p.Label())
	}
}

func TestResolveOtherOrganForcesFreeform(t *testing.T) {
	tree := defaultTree(t)
	p := tree.Resolve(Selection{
		Organ:            Other,
		CancerType:       "Invasive Ductal Carcinoma",
		Grade:            "Grade 1",
		Mutation:         "HER2+",
		CustomOrgan:      "Liver",
		CustomCancerType: "Hepatocellular Carcinoma",
	})
	if !p.IsFreeform() {
		t.Fatalf("expected freeform, got %+v", p)
	}
	if p.Organ != "Liver" || p.CancerType != "Hepatocellular Carcinoma" {
		t.Fatalf("expected custom organ/type, got %+v", p)
	}
}

func TestResolveUnknownOrganIsFreeform(t *testing.T) {
	tree := defaultTree(t)
	p := tree.Resolve(Selection{Organ: "Liver", CancerType: Other, CustomCancerType: "HCC", Grade: "Stage II"})
	if !p.IsFreeform() || p.Organ != "Liver" || p.CancerType != "HCC" || p.Grade != "Stage II" {
		t.Fatalf("unexpected profile %+v", p)
	}
}

func TestResolveOtherGradeKeepsUpperTiers(t *testing.T) {
	tree := defaultTree(t)
	p := tree.Resolve(Selection{Organ: "Lung", CancerType: "Non-Small Cell (NSCLC)", Grade: Other, CustomGrade: "Stage IIIB", Mutation: "EGFR"})
	if !p.IsFreeform() {
		t.Fatalf("expected freeform, got %+v", p)
	}
	if p.Organ != "Lung" || p.CancerType != "Non-Small Cell (NSCLC)" || p.Grade != "Stage IIIB" || p.Mutation != "EGFR" {
		t.Fatalf("unexpected profile %+v", p)
	}
}

func TestResolveOtherWithoutCustomTextIsBlank(t *testing.T) {
	tree := defaultTree(t)
	p := tree.Resolve(Selection{Organ: "Brain", CancerType: "Astrocytoma", Grade: "Grade 2", Mutation: Other})
	if !p.IsFreeform() || p.Mutation != "" {
		t.Fatalf("expected blank free-text mutation, got %+v", p)
	}
}

func TestProfileKindJSON(t *testing.T) {
	b, err := json.Marshal(Profile{Kind: Freeform, Organ: "Liver"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"kind":"freeform"`) {
		t.Fatalf("unexpected json %s", b)
	}
	var p Profile
	if err := json.Unmarshal(b, &p); err != nil {
		t.Fatal(err)
	}
	if !p.IsFreeform() {
		t.Fatal("expected freeform after decode")
	}
}

func TestNewRejectsMalformedEntries(t *testing.T) {
	cases := map[string][]Organ{
		"no organs":      nil,
		"no types":       {{Name: "Skin"}},
		"duplicate":      {{Name: "Skin", Types: []CancerType{{Name: "Melanoma"}}}, {Name: "Skin", Types: []CancerType{{Name: "Melanoma"}}}},
		"other organ":    {{Name: "other", Types: []CancerType{{Name: "Melanoma"}}}},
		"empty grade":    {{Name: "Skin", Types: []CancerType{{Name: "Melanoma", Record: Record{Grades: []string{" "}}}}}},
		"other type":     {{Name: "Skin", Types: []CancerType{{Name: Other}}}},
		"empty outcome":  {{Name: "Skin", Types: []CancerType{{Name: "Melanoma", Record: Record{Outcomes: map[string]string{"": "x"}}}}}},
		"empty mutation": {{Name: "Skin", Types: []CancerType{{Name: "Melanoma", Record: Record{Mutations: []string{""}}}}}},
	}
	for name, organs := range cases {
		if _, err := New(organs); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestNewAcceptsEmptyRecord(t *testing.T) {
	tree, err := New([]Organ{{Name: "Skin", Types: []CancerType{{Name: "Melanoma"}}}})
	if err != nil {
		t.Fatalf("expected empty record to be valid: %v", err)
	}
	rec, ok := tree.Options("Skin", "Melanoma")
	if !ok || rec.Grades == nil || len(rec.Grades) != 0 {
		t.Fatalf("expected empty non-nil grades, got %+v", rec)
	}
	p := tree.Resolve(Selection{Organ: "Skin", CancerType: "Melanoma", CustomGrade: "Stage II"})
	if !p.IsFreeform() || p.Grade != "Stage II" {
		t.Fatalf("expected free-text grade for empty record, got %+v", p)
	}
}
