// Package catalog holds the organ / cancer type selection tree that drives the
// cascading selectors, and resolves a user's selection into a Profile.
package catalog

import (
	"errors"
	"fmt"
	"maps"
	"strings"
)

const (
	// Other is the escape entry offered last at every tier.
	Other = "Other"
	// ConsultSpecialist is shown when no outcome is recorded for a grade.
	ConsultSpecialist = "Consult Specialist"
)

type OrganStats struct {
	Incidence        string `json:"incidence"`
	Risk             string `json:"risk"`
	FiveYearSurvival string `json:"five_year_survival"`
}

// Record lists the selectable grades and mutations of one cancer type. An
// empty Record is valid.
type Record struct {
	Grades    []string          `json:"grades"`
	Mutations []string          `json:"mutations"`
	Outcomes  map[string]string `json:"-"`
}

type CancerType struct {
	Name string
	Record
}

type Organ struct {
	Name  string
	Stats OrganStats
	Types []CancerType
}

// Tree is immutable after New returns.
type Tree struct {
	organs []Organ
	index  map[string]int
}

func New(organs []Organ) (*Tree, error) {
	t := &Tree{organs: make([]Organ, 0, len(organs)), index: make(map[string]int, len(organs))}
	var errs []error
	for _, o := range organs {
		name := strings.TrimSpace(o.Name)
		switch {
		case name == "":
			errs = append(errs, errors.New("organ with empty name"))
			continue
		case strings.EqualFold(name, Other):
			errs = append(errs, fmt.Errorf("organ %q collides with the %q sentinel", name, Other))
			continue
		}
		if _, dup := t.index[name]; dup {
			errs = append(errs, fmt.Errorf("duplicate organ %q", name))
			continue
		}
		if len(o.Types) == 0 {
			errs = append(errs, fmt.Errorf("organ %q has no cancer types", name))
			continue
		}
		clean := Organ{Name: name, Stats: o.Stats, Types: make([]CancerType, 0, len(o.Types))}
		seen := map[string]bool{}
		for _, ct := range o.Types {
			ctName := strings.TrimSpace(ct.Name)
			if ctName == "" || strings.EqualFold(ctName, Other) || seen[ctName] {
				errs = append(errs, fmt.Errorf("organ %q: invalid or duplicate cancer type %q", name, ct.Name))
				continue
			}
			seen[ctName] = true
			rec, err := normalizeRecord(ct.Record)
			if err != nil {
				errs = append(errs, fmt.Errorf("organ %q type %q: %w", name, ctName, err))
				continue
			}
			clean.Types = append(clean.Types, CancerType{Name: ctName, Record: rec})
		}
		t.index[name] = len(t.organs)
		t.organs = append(t.organs, clean)
	}
	if len(t.organs) == 0 && len(errs) == 0 {
		errs = append(errs, errors.New("catalog has no organs"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}
	return t, nil
}

func normalizeRecord(r Record) (Record, error) {
	out := Record{
		Grades:    make([]string, 0, len(r.Grades)),
		Mutations: make([]string, 0, len(r.Mutations)),
		Outcomes:  make(map[string]string, len(r.Outcomes)),
	}
	for _, g := range r.Grades {
		if strings.TrimSpace(g) == "" {
			return Record{}, errors.New("empty grade")
		}
		out.Grades = append(out.Grades, g)
	}
	for _, m := range r.Mutations {
		if strings.TrimSpace(m) == "" {
			return Record{}, errors.New("empty mutation")
		}
		out.Mutations = append(out.Mutations, m)
	}
	for g, v := range r.Outcomes {
		if strings.TrimSpace(g) == "" {
			return Record{}, errors.New("outcome with empty grade key")
		}
		out.Outcomes[g] = v
	}
	return out, nil
}

// Organs returns organ names in declaration order.
func (t *Tree) Organs() []string {
	out := make([]string, 0, len(t.organs))
	for _, o := range t.organs {
		out = append(out, o.Name)
	}
	return out
}

// Types returns the cancer types under organ followed by Other. Unknown
// organs yield only Other.
func (t *Tree) Types(organ string) []string {
	o, ok := t.organ(organ)
	if !ok {
		return []string{Other}
	}
	out := make([]string, 0, len(o.Types)+1)
	for _, ct := range o.Types {
		out = append(out, ct.Name)
	}
	return append(out, Other)
}

// Options returns the record for (organ, cancerType). ok is false when either
// tier is Other or absent; the caller then collects free text instead.
func (t *Tree) Options(organ, cancerType string) (Record, bool) {
	ct, ok := t.cancerType(organ, cancerType)
	if !ok {
		return Record{}, false
	}
	return Record{
		Grades:    append([]string{}, ct.Grades...),
		Mutations: append([]string{}, ct.Mutations...),
		Outcomes:  maps.Clone(ct.Outcomes),
	}, true
}

func (t *Tree) Stats(organ string) (OrganStats, bool) {
	o, ok := t.organ(organ)
	if !ok {
		return OrganStats{}, false
	}
	return o.Stats, true
}

// Outcome returns the stored outcome for grade, or ConsultSpecialist.
func (t *Tree) Outcome(organ, cancerType, grade string) string {
	ct, ok := t.cancerType(organ, cancerType)
	if !ok {
		return ConsultSpecialist
	}
	if v, ok := ct.Outcomes[grade]; ok && strings.TrimSpace(v) != "" {
		return v
	}
	return ConsultSpecialist
}

func (t *Tree) organ(name string) (Organ, bool) {
	i, ok := t.index[strings.TrimSpace(name)]
	if !ok {
		return Organ{}, false
	}
	return t.organs[i], true
}

func (t *Tree) cancerType(organ, name string) (CancerType, bool) {
	o, ok := t.organ(organ)
	if !ok {
		return CancerType{}, false
	}
	name = strings.TrimSpace(name)
	for _, ct := range o.Types {
		if ct.Name == name {
			return ct, true
		}
	}
	return CancerType{}, false
}

func contains(items []string, v string) bool {
	for _, item := range items {
		if item == v {
			return true
		}
	}
	return false
}
