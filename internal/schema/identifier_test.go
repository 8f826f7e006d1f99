package schema

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestValidateTypeID(t *testing.T) {
	valid := []string{"widget", "a", "order_items", "v2", "a" + strings.Repeat("b", 62)}
	for _, id := range valid {
		if err := ValidateTypeID(id); err != nil {
			t.Errorf("ValidateTypeID(%q) = %v", id, err)
		}
	}

	invalid := []string{"", "Widget", "1widget", "_widget", "wid-get", "wid get", "widget;", "a" + strings.Repeat("b", 63)}
	for _, id := range invalid {
		if err := ValidateTypeID(id); err == nil {
			t.Errorf("ValidateTypeID(%q) should fail", id)
		}
	}
}

func TestValidateFieldName(t *testing.T) {
	for _, name := range []string{"foo", "Foo Bar", "user.agent", "naïve", `quo"te`} {
		if err := ValidateFieldName(name); err != nil {
			t.Errorf("ValidateFieldName(%q) = %v", name, err)
		}
	}
	for _, name := range []string{"", "tab\there", "nul\x00", strings.Repeat("x", 129), "\xff"} {
		if err := ValidateFieldName(name); err == nil {
			t.Errorf("ValidateFieldName(%q) should fail", name)
		}
	}
}

func TestProperty_TypeIDsAreSafeTableNames(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("valid ids contain only lowercase identifier characters", prop.ForAll(
		func(id string) bool {
			if ValidateTypeID(id) != nil {
				return true
			}
			return strings.ToLower(id) == id && !strings.ContainsAny(id, "\"'` ;-")
		},
		gen.AnyString(),
	))
	properties.Property("lowercase identifiers are accepted", prop.ForAll(
		func(id string) bool {
			return ValidateTypeID(id) == nil
		},
		gen.Identifier().Map(strings.ToLower).SuchThat(func(s string) bool {
			return len(s) > 0 && len(s) <= 63 && s[0] >= 'a' && s[0] <= 'z'
		}),
	))

	properties.TestingRun(t)
}
