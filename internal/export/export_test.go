package export

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"agendas/api/internal/board"
	"agendas/api/internal/catalogue"
	"agendas/api/internal/scope"
)

func testMinutes(t *testing.T) Minutes {
	t.Helper()
	registry, err := catalogue.Builtin()
	if err != nil {
		t.Fatalf("load catalogues: %v", err)
	}
	cat, err := registry.Lookup("bm-meeting")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	records := cat.DefaultRecords()
	matrix := board.BuildMatrix(records)
	matrix = board.ApplyFieldEdit(matrix, "Client", "Hot Properties", board.FieldActions,
		"**Chandler** <script>alert(1)</script>\n- walk-through")
	matrix = board.ApplyFieldEdit(matrix, "Client", "Hot Properties", board.FieldStatus, string(board.StatusOffTrack))
	return Minutes{
		Catalogue:   cat,
		Scope:       scope.NewKey("bm-meeting", "SE", scope.NewDate(2025, time.March, 4)),
		Matrix:      matrix,
		Metadata:    board.Metadata{Facilitator: "Dana", ReadingList: []string{"Raving fans"}},
		Editor:      "avery@encorelm.com",
		GeneratedAt: time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC),
	}
}

func TestRenderMinutesHTML(t *testing.T) {
	html, err := RenderMinutesHTML(NewTemplateData(testMinutes(t)))
	if err != nil {
		t.Fatalf("RenderMinutesHTML() error = %v", err)
	}

	for _, want := range []string{
		"Tuesday, March 4, 2025",
		"Facilitator: Dana",
		"Raving fans",
		"Hot Properties",
		"Off Track",
		"<strong>Chandler</strong>",
		"<li>walk-through</li>",
		"Identify and address high-risk properties",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("HTML missing %q", want)
		}
	}
	if strings.Contains(html, "<script>") {
		t.Error("raw script tag from actions reached the minutes")
	}
	if strings.Index(html, "Client") > strings.Index(html, "Financial") {
		t.Error("categories not in matrix order")
	}
}

func TestNewTemplateDataUsesCatalogueNames(t *testing.T) {
	data := NewTemplateData(testMinutes(t))
	if data.Branch == "SE" || data.Branch == "" {
		t.Fatalf("branch name not resolved: %q", data.Branch)
	}
	if data.Title == "bm-meeting" || data.Mission == "" {
		t.Fatalf("catalogue title/mission missing: %+v", data)
	}
	if len(data.Groups) == 0 || data.Groups[0].Objective == "" {
		t.Fatalf("category objectives missing: %+v", data.Groups)
	}

	bare := NewTemplateData(Minutes{Scope: scope.NewKey("adhoc", "X", scope.NewDate(2025, time.March, 4))})
	if bare.Title != "adhoc" || bare.Branch != "X" {
		t.Fatalf("fallback names = %q %q", bare.Title, bare.Branch)
	}
}

func TestExportFormats(t *testing.T) {
	var gotName string
	fake := func(format string) Converter {
		return func(ctx context.Context, html, name string) (*Result, error) {
			if _, ok := ctx.Deadline(); !ok {
				t.Errorf("%s converter called without deadline", format)
			}
			gotName = name
			return &Result{Data: []byte(format + ":" + html[:15]), Filename: name + "." + format}, nil
		}
	}
	svc := NewService(Options{PDF: fake("pdf"), DOCX: fake("docx")})
	minutes := testMinutes(t)

	html, err := svc.Export(context.Background(), minutes, FormatHTML)
	if err != nil {
		t.Fatalf("Export(html) error = %v", err)
	}
	if html.Filename != "bm-meeting-SE-2025-03-04.html" || !strings.HasPrefix(html.MimeType, "text/html") {
		t.Fatalf("html result = %s %s", html.Filename, html.MimeType)
	}

	pdf, err := svc.Export(context.Background(), minutes, FormatPDF)
	if err != nil || !strings.HasPrefix(string(pdf.Data), "pdf:<!DOCTYPE") || gotName != "bm-meeting-SE-2025-03-04" {
		t.Fatalf("Export(pdf) = %+v, %v (name %q)", pdf, err, gotName)
	}

	if _, err := svc.Export(context.Background(), minutes, Format("odt")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("Export(odt) error = %v", err)
	}

	failing := NewService(Options{DOCX: func(context.Context, string, string) (*Result, error) {
		return nil, ErrDOCXDependencyMissing
	}})
	if _, err := failing.Export(context.Background(), minutes, FormatDOCX); !errors.Is(err, ErrDOCXDependencyMissing) {
		t.Fatalf("Export(docx) error = %v", err)
	}
}

func TestParseFormat(t *testing.T) {
	for input, want := range map[string]Format{"": FormatHTML, "html": FormatHTML, "pdf": FormatPDF, "docx": FormatDOCX} {
		if got, err := ParseFormat(input); err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v", input, got, err)
		}
	}
	if _, err := ParseFormat("PDF"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("ParseFormat(PDF) error = %v", err)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello-World"},
		{"bm-meeting SE 2025-03-04", "bm-meeting-SE-2025-03-04"},
		{"Special!@#$%Chars", "SpecialChars"},
		{"", "minutes"},
		{strings.Repeat("a", 70), strings.Repeat("a", 60)},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if result := sanitizeFilename(tt.input); result != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello world", "hello%20world"},
		{"test+sign", "test%2Bsign"},
		{"special<>", "special%3C%3E"},
		{"normal-text.txt", "normal-text.txt"},
		{"é", "%C3%A9"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if result := percentEncodeForDataURL(tt.input); result != tt.expected {
				t.Errorf("percentEncodeForDataURL(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}
