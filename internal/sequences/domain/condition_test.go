package domain

import "testing"

func TestConditionMatchesFlatForms(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		tags []string
		want bool
	}{
		{"and all present", `{"type":"AND","tags":["lead","vip"]}`, []string{"lead", "vip", "extra"}, true},
		{"and one missing", `{"type":"AND","tags":["lead","vip"]}`, []string{"lead"}, false},
		{"or one present", `{"type":"OR","tags":["lead","vip"]}`, []string{"vip"}, true},
		{"or none present", `{"type":"OR","tags":["lead","vip"]}`, []string{"other"}, false},
		{"empty tag list never matches", `{"type":"AND","tags":[]}`, []string{"lead"}, false},
		{"empty tag list against empty set", `{"type":"OR","tags":[]}`, nil, false},
		{"lowercase operator", `{"type":"or","tags":["lead"]}`, []string{"lead"}, true},
	}

	for _, tc := range cases {
		cond, err := ParseCondition([]byte(tc.raw))
		if err != nil {
			t.Fatalf("%s: parse failed: %v", tc.name, err)
		}
		if got := cond.Matches(TagSet(tc.tags)); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestConditionMatchesNestedForms(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		tags []string
		want bool
	}{
		{
			"or across groups, and within",
			`{"operator":"OR","groups":[{"operator":"AND","tags":["lead","vip"]},{"operator":"AND","tags":["partner"]}]}`,
			[]string{"partner"},
			true,
		},
		{
			"and across groups requires every group",
			`{"operator":"AND","groups":[{"operator":"OR","tags":["lead"]},{"operator":"OR","tags":["vip"]}]}`,
			[]string{"lead"},
			false,
		},
		{
			"and across groups satisfied",
			`{"operator":"AND","groups":[{"operator":"OR","tags":["lead"]},{"operator":"OR","tags":["vip"]}]}`,
			[]string{"lead", "vip"},
			true,
		},
		{
			"zero groups never matches",
			`{"operator":"OR","groups":[]}`,
			[]string{"lead"},
			false,
		},
		{
			"group with empty tags never matches",
			`{"operator":"OR","groups":[{"operator":"AND","tags":[]}]}`,
			[]string{"lead"},
			false,
		},
	}

	for _, tc := range cases {
		cond, err := ParseCondition([]byte(tc.raw))
		if err != nil {
			t.Fatalf("%s: parse failed: %v", tc.name, err)
		}
		if got := cond.Matches(TagSet(tc.tags)); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

// For an identical tag list, an AND match implies the OR form matches too.
func TestParseConditionNormalizesGroupOperators(t *testing.T) {
	raw := `{"operator":"or","groups":[{"operator":"or","tags":["lead","vip"]},{"operator":"","tags":["partner"]}]}`
	cond, err := ParseCondition([]byte(raw))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cond.Operator != OperatorOr {
		t.Fatalf("expected top-level OR, got %q", cond.Operator)
	}
	if cond.Groups[0].Operator != OperatorOr {
		t.Fatalf("expected group operator normalized to OR, got %q", cond.Groups[0].Operator)
	}
	if cond.Groups[1].Operator != OperatorAnd {
		t.Fatalf("expected blank group operator to default to AND, got %q", cond.Groups[1].Operator)
	}
	if !cond.Matches(TagSet([]string{"vip"})) {
		t.Fatalf("expected lowercase group operator to behave as OR")
	}
}

func TestConditionAndImpliesOr(t *testing.T) {
	tagLists := [][]string{
		{"lead"},
		{"lead", "vip"},
		{"lead", "vip", "converted"},
	}
	contactTags := TagSet([]string{"lead", "vip", "converted"})

	for _, tags := range tagLists {
		and := Condition{Operator: OperatorAnd, Groups: []ConditionGroup{{Operator: OperatorAnd, Tags: tags}}}
		or := Condition{Operator: OperatorOr, Groups: []ConditionGroup{{Operator: OperatorOr, Tags: tags}}}
		if and.Matches(contactTags) && !or.Matches(contactTags) {
			t.Fatalf("AND matched but OR did not for tags %v", tags)
		}
	}
}

func TestConditionMatchesIsDeterministic(t *testing.T) {
	cond, err := ParseCondition([]byte(`{"operator":"OR","groups":[{"operator":"AND","tags":["a","b"]},{"operator":"OR","tags":["c"]}]}`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	tags := TagSet([]string{"a", "b"})

	first := cond.Matches(tags)
	for i := 0; i < 100; i++ {
		if cond.Matches(tags) != first {
			t.Fatalf("matches result changed between evaluations")
		}
	}
}

func TestParseConditionEmptyInput(t *testing.T) {
	for _, raw := range []string{"", "null", `{}`} {
		cond, err := ParseCondition([]byte(raw))
		if err != nil {
			t.Fatalf("parse %q failed: %v", raw, err)
		}
		if cond.Matches(TagSet([]string{"anything"})) {
			t.Fatalf("empty condition %q must never match", raw)
		}
		if !cond.IsEmpty() {
			t.Fatalf("expected %q to be empty", raw)
		}
	}
}
