package board

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBuildMatrixOrdering(t *testing.T) {
	records := []Record{
		{Category: "Internal", KPIName: "Safety Compliance"},
		{Category: "Client", KPIName: "New Jobs"},
		{Category: "Financial", KPIName: "Client Retention Rate"},
		{Category: "Client", KPIName: "Cancellations"},
		{Category: "Internal", KPIName: "Fleet Management"},
		{Category: "Client", KPIName: "Hot Properties"},
	}
	want := Matrix{Groups: []Group{
		{Category: "Client", Records: []Record{
			{Category: "Client", KPIName: "Cancellations"},
			{Category: "Client", KPIName: "Hot Properties"},
			{Category: "Client", KPIName: "New Jobs"},
		}},
		{Category: "Financial", Records: []Record{
			{Category: "Financial", KPIName: "Client Retention Rate"},
		}},
		{Category: "Internal", Records: []Record{
			{Category: "Internal", KPIName: "Fleet Management"},
			{Category: "Internal", KPIName: "Safety Compliance"},
		}},
	}}

	if diff := cmp.Diff(want, BuildMatrix(records)); diff != "" {
		t.Fatalf("BuildMatrix() mismatch (-want +got):\n%s", diff)
	}

	reversed := make([]Record, len(records))
	for i, record := range records {
		reversed[len(records)-1-i] = record
	}
	if diff := cmp.Diff(want, BuildMatrix(reversed)); diff != "" {
		t.Fatalf("BuildMatrix() depends on input order (-want +got):\n%s", diff)
	}
}

func TestApplyFieldEditIsPure(t *testing.T) {
	original := BuildMatrix([]Record{
		{Category: "Client", KPIName: "New Jobs", Target: "-", Status: StatusInProgress},
		{Category: "Client", KPIName: "Cancellations"},
	})
	before := original.Clone()

	edited := ApplyFieldEdit(original, "Client", "New Jobs", FieldActions, "**two** new starts")

	if diff := cmp.Diff(before, original); diff != "" {
		t.Fatalf("original matrix mutated (-before +after):\n%s", diff)
	}
	got, ok := edited.Find("Client", "New Jobs")
	if !ok {
		t.Fatal("edited record missing")
	}
	want := Record{Category: "Client", KPIName: "New Jobs", Target: "-", Status: StatusInProgress, Actions: "**two** new starts"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("edited record mismatch (-want +got):\n%s", diff)
	}

	unknown := ApplyFieldEdit(original, "Client", "Missing", FieldActual, "1")
	if diff := cmp.Diff(original, unknown); diff != "" {
		t.Fatalf("edit of unknown record changed matrix:\n%s", diff)
	}
}

func TestValidateEdit(t *testing.T) {
	cases := []struct {
		field Field
		value string
		ok    bool
	}{
		{FieldTarget, "45%", true},
		{FieldActual, "", true},
		{FieldActions, "- call client", true},
		{FieldStatus, "serious-issue", true},
		{FieldStatus, "", true},
		{FieldStatus, "done", false},
		{Field("explanation"), "x", false},
	}
	for _, tc := range cases {
		err := ValidateEdit(tc.field, tc.value)
		if tc.ok && err != nil {
			t.Fatalf("ValidateEdit(%s, %q) = %v", tc.field, tc.value, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidEdit) {
			t.Fatalf("ValidateEdit(%s, %q) = %v, want ErrInvalidEdit", tc.field, tc.value, err)
		}
	}
}

func TestMetadataClone(t *testing.T) {
	meta := Metadata{Facilitator: "Dana", ReadingList: []string{"Raving fans"}}
	clone := meta.Clone()
	clone.ReadingList[0] = "changed"
	if meta.ReadingList[0] != "Raving fans" {
		t.Fatal("Clone shares the reading list")
	}
	if got := (Metadata{}).Clone().ReadingList; got == nil {
		t.Fatal("Clone should normalize a nil reading list")
	}
}

func TestStatusLabels(t *testing.T) {
	seen := map[string]bool{}
	for _, status := range Statuses() {
		label := status.Label()
		if label == "" || seen[label] {
			t.Fatalf("status %q has empty or duplicate label %q", status, label)
		}
		seen[label] = true
	}
	if got := Status("custom").Label(); got != "custom" {
		t.Fatalf("unknown status label = %q", got)
	}
}
