package metadata

import (
	"testing"
	"time"
)

func TestCurrentGenerationRoundTrip(t *testing.T) {
	created := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	cases := []struct {
		department string
		count      int
	}{
		{"Operations", 2},
		{"Food, Beverage", 0},
		{"Sales & Marketing", 1200},
		{"Ops | Retail", 7},
		{"Küche-Nord", 3},
	}
	for _, tc := range cases {
		tok := Encode(created.UnixMilli(), tc.count, tc.department)
		m, ok := Decode(Input{ExternalID: tok.ExternalID, Teaser: tok.Teaser, Kicker: tok.Kicker, FallbackCount: 99})
		if !ok {
			t.Fatalf("%q: token not recognized", tc.department)
		}
		if m.Generation != GenerationCurrent {
			t.Fatalf("%q: unexpected generation %s", tc.department, m.Generation)
		}
		if !m.CreatedAt.Equal(created) || m.TargetCount != tc.count || m.Department != tc.department {
			t.Fatalf("%q: round trip mismatch: %+v", tc.department, m)
		}
	}
}

func TestDepartmentContainingTargetedWords(t *testing.T) {
	for _, dept := range []string{"R&D | Targeted", "Targeted Stores: 5 Team", "User Count Crew"} {
		tok := Encode(1700000000000, 3, dept)
		m, _ := Decode(Input{ExternalID: tok.ExternalID, Teaser: tok.Teaser, FallbackCount: 99})
		if m.Department != dept || m.TargetCount != 3 {
			t.Fatalf("%q: teaser decode gave %+v", dept, m)
		}
	}

	m, _ := Decode(Input{ExternalID: "adhoc-1700000000000", Teaser: "Category: R&D | Targeted", Kicker: "R&D | Targeted", FallbackCount: 2})
	if m.Department != "R&D | Targeted" {
		t.Fatalf("kicker should extend a cut teaser match, got %q", m.Department)
	}
	m, _ = Decode(Input{ExternalID: "adhoc-1700000000000", Teaser: "Department: Ops | Targeted Stores: 2", Kicker: "Logistics"})
	if m.Department != "Ops" {
		t.Fatalf("teaser should win over an unrelated kicker, got %q", m.Department)
	}
}

func TestTeaserFormat(t *testing.T) {
	tok := Encode(1, 2, "Operations")
	if tok.Teaser != "Department: Operations | Targeted Stores: 2" {
		t.Fatalf("unexpected teaser %q", tok.Teaser)
	}
	if tok.ExternalID != "adhoc-1" || tok.Kicker != "Operations" {
		t.Fatalf("unexpected token %+v", tok)
	}
}

func TestKickerAndBodyFallbacks(t *testing.T) {
	m, _ := Decode(Input{ExternalID: "adhoc-1700000000000", Kicker: " Logistics ", FallbackCount: 4})
	if m.Department != "Logistics" || m.TargetCount != 4 {
		t.Fatalf("kicker fallback: %+v", m)
	}

	m, _ = Decode(Input{
		ExternalID: "adhoc-1700000000000",
		BodyHTML:   "<p>Category: <b>Facilities</b></p><p>User Count: 9</p><script>Department: nope</script>",
	})
	if m.Department != "Facilities" || m.TargetCount != 9 {
		t.Fatalf("body fallback: %+v", m)
	}
}

func TestFallbackSafety(t *testing.T) {
	fallback := time.Date(2023, 1, 2, 3, 4, 5, 0, time.UTC)
	m, ok := Decode(Input{ExternalID: "adhoc-notanumber", Teaser: "nothing useful", FallbackCreatedAt: fallback, FallbackCount: 5})
	if !ok {
		t.Fatalf("expected recognition")
	}
	if m.Department != DefaultPlaceholder || m.TargetCount != 5 || !m.CreatedAt.Equal(fallback) {
		t.Fatalf("unexpected fallback metadata %+v", m)
	}

	m, _ = Decode(Input{ExternalID: "adhoc-1", Placeholder: "General"})
	if m.Department != "General" {
		t.Fatalf("custom placeholder ignored: %+v", m)
	}
}

func TestPipeLegacy(t *testing.T) {
	id, err := EncodeLegacy(GenerationPipeV2, 1700000000000, 3, "Ops|Retail")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if id != "adhoc_v2|1700000000000|3|Ops/Retail" {
		t.Fatalf("unexpected id %q", id)
	}
	m, ok := Decode(Input{ExternalID: id, Teaser: "Department: Ignored | Targeted Stores: 77"})
	if !ok || m.Generation != GenerationPipeV2 {
		t.Fatalf("pipe token not recognized: %+v", m)
	}
	if m.Department != "Ops/Retail" || m.TargetCount != 3 || m.CreatedAt.UnixMilli() != 1700000000000 {
		t.Fatalf("unexpected pipe metadata %+v", m)
	}
}

func TestHyphenLegacy(t *testing.T) {
	id, _ := EncodeLegacy(GenerationHyphenV2, 1700000000000, 12, "Food & Beverage")
	if id != "adhoc-v2-1700000000000-12-FoodBeverage" {
		t.Fatalf("unexpected id %q", id)
	}
	m, ok := Decode(Input{ExternalID: id})
	if !ok || m.Generation != GenerationHyphenV2 {
		t.Fatalf("hyphen token not recognized: %+v", m)
	}
	if m.Department != "FoodBeverage" || m.TargetCount != 12 {
		t.Fatalf("unexpected hyphen metadata %+v", m)
	}
	if m.NeedsPost() {
		t.Fatalf("identifier generations carry their own metadata")
	}
}

func TestExternalTitleLegacy(t *testing.T) {
	m, ok := Decode(Input{ExternalID: "", Title: "[external]news:12:post-9::Operations - Weekly Update", FallbackCount: 1})
	if !ok || m.Generation != GenerationExternalTitle {
		t.Fatalf("title token not recognized: %+v", m)
	}
	if m.Department != "Operations" || m.TargetCount != 12 || m.Title != "Weekly Update" {
		t.Fatalf("unexpected title metadata %+v", m)
	}
}

func TestUnrecognized(t *testing.T) {
	for _, in := range []Input{
		{ExternalID: "manual-123", Title: "Welcome"},
		{ExternalID: "", Title: "[external] malformed"},
		{},
	} {
		if _, ok := Decode(in); ok {
			t.Fatalf("expected %+v to be unrecognized", in)
		}
	}
}

func TestEncodeLegacyRejectsCurrent(t *testing.T) {
	if _, err := EncodeLegacy(GenerationCurrent, 1, 1, "x"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestPlainText(t *testing.T) {
	got := PlainText("<div><h1>Hello</h1>\n  <p>big   world</p><style>p{}</style></div>")
	if got != "Hello big world" {
		t.Fatalf("unexpected text %q", got)
	}
}
