package keywords

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidTaxonomy is returned (and panicked with) when a registry breaks a rule.
var ErrInvalidTaxonomy = errors.New("invalid keyword taxonomy")

// Rule names a taxonomy invariant.
type Rule string

const (
	RuleDeclared           Rule = "declared"
	RuleEditableReadable   Rule = "editable-implies-readable"
	RuleExtensionsRequired Rule = "extensions-required"
)

// Violation is a single broken rule.
type Violation struct {
	Group   Group
	Rule    Rule
	Message string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s (%s)", v.Group, v.Message, v.Rule)
}

// pseudoGroups describe tool and filesystem data, not metadata embedded in the file,
// so they are allowed to be readable without extensions.
var pseudoGroups = map[Group]bool{
	GroupExifTool: true,
	GroupFile:     true,
}

// Validate checks every declared group of r and returns the broken rules.
// An empty result means the registry is usable.
func Validate(r Registry) []Violation {
	var violations []Violation

	for _, g := range Groups() {
		d, ok := r[g]
		if !ok || d.Tags == nil {
			violations = append(violations, Violation{
				Group:   g,
				Rule:    RuleDeclared,
				Message: "group has no descriptor",
			})
			continue
		}

		if d.Editable && !d.Readable {
			violations = append(violations, Violation{
				Group:   g,
				Rule:    RuleEditableReadable,
				Message: "group can not be editable and not readable at the same time",
			})
		}

		if (d.Readable || d.Editable) && len(d.Extensions) == 0 && !pseudoGroups[g] {
			violations = append(violations, Violation{
				Group:   g,
				Rule:    RuleExtensionsRequired,
				Message: "readable or editable group must list its compatible extensions",
			})
		}
	}

	return violations
}

// Check returns an error wrapping ErrInvalidTaxonomy when r has violations.
func Check(r Registry) error {
	violations := Validate(r)
	if len(violations) == 0 {
		return nil
	}

	msgs := make([]string, len(violations))
	for i, v := range violations {
		msgs[i] = v.String()
	}
	return fmt.Errorf("%w: %s", ErrInvalidTaxonomy, strings.Join(msgs, "; "))
}

// MustValidate panics if r is not a valid taxonomy. A broken taxonomy is a
// build defect, so callers run this once at start-up.
func MustValidate(r Registry) {
	if err := Check(r); err != nil {
		panic(err)
	}
}
