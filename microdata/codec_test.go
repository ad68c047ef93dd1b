package microdata

import (
	"strings"
	"testing"

	"github.com/refinio/one-core/hashing"
	"github.com/refinio/one-core/recipe"
)

func personRegistry(t *testing.T) *recipe.Registry {
	t.Helper()
	reg := recipe.NewRegistry()
	rec := recipe.Recipe{
		Name:      "Person",
		Versioned: true,
		Rules: []recipe.Rule{
			{Name: "email", IsId: true, Type: recipe.ValueString},
			{Name: "name", Type: recipe.ValueString},
			{Name: "age", Type: recipe.ValueInteger, Optional: true},
			{Name: "tags", Type: recipe.ValueSet, Nested: []recipe.Rule{{Name: "tag", Type: recipe.ValueString}}},
		},
	}
	if err := reg.Register(rec); err != nil {
		t.Fatalf("register: %v", err)
	}
	return reg
}

func TestSerializeParseRoundTrip(t *testing.T) {
	reg := personRegistry(t)
	obj := Object{
		Type: "Person",
		Fields: map[string]Value{
			"email": StringValue("alice@example.com"),
			"name":  StringValue("Alice <Wonderland> & Co"),
			"age":   IntegerValue(30),
			"tags":  SetValue([]Value{StringValue("b"), StringValue("a")}),
		},
	}

	text, err := Serialize(reg, obj)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}

	parsed, err := Parse(reg, text)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Fields["name"].Str != obj.Fields["name"].Str {
		t.Fatalf("round trip mismatch: got %q", parsed.Fields["name"].Str)
	}
	if parsed.Fields["age"].Int != 30 {
		t.Fatalf("expected age 30, got %d", parsed.Fields["age"].Int)
	}

	text2, err := Serialize(reg, parsed)
	if err != nil {
		t.Fatalf("re-serialize: %v", err)
	}
	if text != text2 {
		t.Fatalf("serialize is not idempotent:\n%s\n!=\n%s", text, text2)
	}
}

func TestSerializeDeterministicFieldOrderAndSetSort(t *testing.T) {
	reg := personRegistry(t)
	obj := Object{
		Type: "Person",
		Fields: map[string]Value{
			"email": StringValue("bob@example.com"),
			"name":  StringValue("Bob"),
			"tags":  SetValue([]Value{StringValue("zzz"), StringValue("aaa")}),
		},
	}
	a, err := Serialize(reg, obj)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	b, err := Serialize(reg, obj)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if a != b {
		t.Fatal("serialize should be deterministic across calls")
	}
	if !strings.Contains(a, "email") || strings.Index(a, "email") > strings.Index(a, "name") {
		t.Fatal("expected email field to precede name field, matching recipe rule order")
	}

	reordered := Object{
		Type: "Person",
		Fields: map[string]Value{
			"email": StringValue("bob@example.com"),
			"name":  StringValue("Bob"),
			"tags":  SetValue([]Value{StringValue("aaa"), StringValue("zzz")}),
		},
	}
	c, err := Serialize(reg, reordered)
	if err != nil {
		t.Fatalf("serialize reordered: %v", err)
	}
	if c != a {
		t.Fatal("set items should be emitted in hash order regardless of input order")
	}
}

func TestSetRejectsDuplicateItems(t *testing.T) {
	reg := personRegistry(t)
	obj := Object{
		Type: "Person",
		Fields: map[string]Value{
			"email": StringValue("c@example.com"),
			"name":  StringValue("C"),
			"tags":  SetValue([]Value{StringValue("dup"), StringValue("dup")}),
		},
	}
	if _, err := Serialize(reg, obj); err == nil {
		t.Fatal("expected duplicate set item to be rejected")
	}
}

func TestMissingMandatoryField(t *testing.T) {
	reg := personRegistry(t)
	obj := Object{Type: "Person", Fields: map[string]Value{"email": StringValue("d@example.com")}}
	if _, err := Serialize(reg, obj); err == nil {
		t.Fatal("expected missing mandatory field error for name")
	}
}

func TestExtractIdObjectIsDeterministicAndIdentityOnly(t *testing.T) {
	reg := personRegistry(t)
	obj := Object{
		Type: "Person",
		Fields: map[string]Value{
			"email": StringValue("eve@example.com"),
			"name":  StringValue("Eve"),
			"tags":  SetValue(nil),
		},
	}
	text, err := Serialize(reg, obj)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	idBytes, err := ExtractIdObject(reg, "Person", text)
	if err != nil {
		t.Fatalf("extract id object: %v", err)
	}
	if strings.Contains(string(idBytes), "Eve") {
		t.Fatal("id object must not include non-identity fields")
	}
	if !strings.Contains(string(idBytes), "eve@example.com") {
		t.Fatal("id object must include the identity field value")
	}

	idHash1 := hashing.OfIdObject(idBytes)
	idBytes2, err := ExtractIdObject(reg, "Person", text)
	if err != nil {
		t.Fatalf("extract id object second time: %v", err)
	}
	idHash2 := hashing.OfIdObject(idBytes2)
	if idHash1 != idHash2 {
		t.Fatal("id-hash must be deterministic across repeated extraction")
	}
}

func TestParseToJSONFastPath(t *testing.T) {
	reg := personRegistry(t)
	obj := Object{
		Type: "Person",
		Fields: map[string]Value{
			"email": StringValue("frank@example.com"),
			"name":  StringValue("Frank"),
			"tags":  SetValue([]Value{StringValue("x")}),
		},
	}
	text, err := Serialize(reg, obj)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	jsonBytes, err := ParseToJSON(text)
	if err != nil {
		t.Fatalf("parse to json: %v", err)
	}
	js := string(jsonBytes)
	if !strings.Contains(js, `"email":"frank@example.com"`) {
		t.Fatalf("expected email field in fast-path json, got %s", js)
	}
	if !strings.Contains(js, `"$type":"Person"`) {
		t.Fatalf("expected $type in fast-path json, got %s", js)
	}
}

func TestUnknownItempropRejected(t *testing.T) {
	reg := personRegistry(t)
	text := "<o t=Person><p n=email k=s>x@example.com</p><p n=name k=s>X</p>" +
		"<p n=tags k=set></p><p n=bogus k=s>y</p></o>"
	if _, err := Parse(reg, text); err == nil {
		t.Fatal("expected UnknownItemprop error")
	}
}
