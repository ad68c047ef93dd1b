package recipe

import (
	"testing"

	"github.com/refinio/one-core/errutil"
)

func personRecipe() Recipe {
	return Recipe{
		Name:      "Person",
		Versioned: true,
		Rules: []Rule{
			{Name: "email", IsId: true, Type: ValueString},
			{Name: "name", Type: ValueString},
		},
	}
}

func TestRegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(personRecipe()); err != nil {
		t.Fatalf("register: %v", err)
	}
	rec, ok := reg.Get("Person")
	if !ok {
		t.Fatal("expected Person recipe to be registered")
	}
	if !rec.Versioned {
		t.Fatal("expected Person to be versioned")
	}
}

func TestRegisterDuplicateFails(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(personRecipe()); err != nil {
		t.Fatalf("register: %v", err)
	}
	err := reg.Register(personRecipe())
	if code, ok := errutil.CodeOf(err); !ok || code != errutil.CodeDuplicateRecipe {
		t.Fatalf("expected DuplicateRecipe, got %v", err)
	}
}

func TestIdentityMustBeTopLevel(t *testing.T) {
	reg := NewRegistry()
	bad := Recipe{
		Name: "Bad",
		Rules: []Rule{
			{Name: "wrapper", Type: ValueNestedObject, Nested: []Rule{
				{Name: "inner", IsId: true, Type: ValueString},
			}},
		},
	}
	if err := reg.Register(bad); err == nil {
		t.Fatal("expected error for nested identity rule")
	}
}

func TestResolveRuleWithInheritance(t *testing.T) {
	reg := NewRegistry()
	base := Recipe{Name: "Base", Rules: []Rule{
		{Name: "label", Type: ValueString},
	}}
	derived := Recipe{Name: "Derived", Rules: []Rule{
		{Name: "label", InheritFrom: "Base.label"},
	}}
	if err := reg.Register(base); err != nil {
		t.Fatalf("register base: %v", err)
	}
	if err := reg.Register(derived); err != nil {
		t.Fatalf("register derived: %v", err)
	}
	rule, err := reg.ResolveRule("Derived", "label")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if rule.Type != ValueString {
		t.Fatalf("expected inherited type string, got %v", rule.Type)
	}
}

func TestInheritanceCycleDetected(t *testing.T) {
	reg := NewRegistry()
	a := Recipe{Name: "A", Rules: []Rule{{Name: "x", InheritFrom: "B.x"}}}
	b := Recipe{Name: "B", Rules: []Rule{{Name: "x", InheritFrom: "A.x"}}}
	if err := reg.Register(a); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(b); err != nil {
		t.Fatal(err)
	}
	_, err := reg.ResolveRule("A", "x")
	if code, ok := errutil.CodeOf(err); !ok || code != errutil.CodeInheritanceCycle {
		t.Fatalf("expected InheritanceCycle, got %v", err)
	}
}

func TestValidateRejectsUnknownReferredType(t *testing.T) {
	reg := NewRegistry()
	rec := Recipe{Name: "Post", Rules: []Rule{
		{Name: "author", Type: ValueReferenceId, ReferredTypes: []string{"Person"}},
	}}
	if err := reg.Register(rec); err != nil {
		t.Fatal(err)
	}
	if err := reg.Validate(); err == nil {
		t.Fatal("expected validation error for unregistered referred type")
	}
	if err := reg.Register(personRecipe()); err != nil {
		t.Fatal(err)
	}
	if err := reg.Validate(); err != nil {
		t.Fatalf("expected validation to pass once Person is registered: %v", err)
	}
}
