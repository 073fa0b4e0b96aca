package catalog

import (
	"fmt"
	"strings"
)

type Kind int

const (
	// Resolved means every tier matched a catalog entry.
	Resolved Kind = iota
	// Freeform means at least one tier was Other or typed by the user.
	Freeform
)

func (k Kind) String() string {
	if k == Freeform {
		return "freeform"
	}
	return "resolved"
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "resolved":
		*k = Resolved
	case "freeform":
		*k = Freeform
	default:
		return fmt.Errorf("unknown profile kind %q", string(b))
	}
	return nil
}

// Profile is the selection resolved against the tree. Code that reads stats
// or builds prompts must branch on Kind.
type Profile struct {
	Kind       Kind   `json:"kind"`
	Organ      string `json:"organ"`
	CancerType string `json:"cancer_type"`
	Grade      string `json:"grade"`
	Mutation   string `json:"mutation"`
}

func (p Profile) IsFreeform() bool { return p.Kind == Freeform }

// Label is the short "grade (mutation)" text shown on the profile card.
func (p Profile) Label() string {
	return fmt.Sprintf("%s (%s)", p.Grade, p.Mutation)
}

// Selection is the raw widget state. The Custom* fields carry the free-text
// replacement typed for a tier once Other has been chosen at or above it.
type Selection struct {
	Organ      string `json:"organ"`
	CancerType string `json:"cancer_type"`
	Grade      string `json:"grade"`
	Mutation   string `json:"mutation"`

	CustomOrgan      string `json:"custom_organ,omitempty"`
	CustomCancerType string `json:"custom_cancer_type,omitempty"`
	CustomGrade      string `json:"custom_grade,omitempty"`
	CustomMutation   string `json:"custom_mutation,omitempty"`
}

// Resolve turns a selection into a Profile. Once a tier is Other or not in
// the tree, that tier and every tier below it are read as free text.
func (t *Tree) Resolve(sel Selection) Profile {
	organ := strings.TrimSpace(sel.Organ)
	if _, ok := t.organ(organ); !ok {
		return Profile{
			Kind:       Freeform,
			Organ:      freeText(organ, sel.CustomOrgan),
			CancerType: freeText(sel.CancerType, sel.CustomCancerType),
			Grade:      freeText(sel.Grade, sel.CustomGrade),
			Mutation:   freeText(sel.Mutation, sel.CustomMutation),
		}
	}

	rec, ok := t.Options(organ, sel.CancerType)
	if !ok {
		return Profile{
			Kind:       Freeform,
			Organ:      organ,
			CancerType: freeText(sel.CancerType, sel.CustomCancerType),
			Grade:      freeText(sel.Grade, sel.CustomGrade),
			Mutation:   freeText(sel.Mutation, sel.CustomMutation),
		}
	}
	cancerType := strings.TrimSpace(sel.CancerType)

	grade := strings.TrimSpace(sel.Grade)
	if !contains(rec.Grades, grade) {
		return Profile{
			Kind:       Freeform,
			Organ:      organ,
			CancerType: cancerType,
			Grade:      freeText(grade, sel.CustomGrade),
			Mutation:   freeText(sel.Mutation, sel.CustomMutation),
		}
	}

	mutation := strings.TrimSpace(sel.Mutation)
	if !contains(rec.Mutations, mutation) {
		return Profile{
			Kind:       Freeform,
			Organ:      organ,
			CancerType: cancerType,
			Grade:      grade,
			Mutation:   freeText(mutation, sel.CustomMutation),
		}
	}

	return Profile{Kind: Resolved, Organ: organ, CancerType: cancerType, Grade: grade, Mutation: mutation}
}

func freeText(choice, custom string) string {
	if c := strings.TrimSpace(custom); c != "" {
		return c
	}
	choice = strings.TrimSpace(choice)
	if strings.EqualFold(choice, Other) {
		return ""
	}
	return choice
}
