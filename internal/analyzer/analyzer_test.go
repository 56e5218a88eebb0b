package analyzer

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/KaramelBytes/admisi-cli/internal/catalog"
)

func fixedNow() time.Time { return time.Date(2025, 7, 1, 8, 0, 0, 0, time.UTC) }

func TestAnalyzeCategoricalColumn(t *testing.T) {
	headers := []string{"Fakultas"}
	rows := [][]string{{"Teknik Informatika"}, {"Sistem Informasi"}, {"Teknik Informatika"}, {"Sistem Informasi"}}
	res, err := Analyze(context.Background(), headers, rows, "f.csv", 0, Options{Now: fixedNow})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	fa := res.Fields["Fakultas"]
	if fa == nil {
		t.Fatalf("field not keyed by header: %v", res.Order)
	}
	if fa.Type != catalog.TypeCategorical || fa.UniqueCount != 2 || fa.Unique {
		t.Fatalf("got type=%s uniqueCount=%d unique=%v", fa.Type, fa.UniqueCount, fa.Unique)
	}
	if want := []string{"Teknik Informatika", "Sistem Informasi"}; !reflect.DeepEqual(fa.Values, want) {
		t.Fatalf("values = %v", fa.Values)
	}
	if fa.FillRate != "100%" || fa.EmptyCount != 0 || fa.TotalRecords != 4 {
		t.Fatalf("stats = %+v", fa)
	}
}

func admissionsFixture() ([]string, [][]string) {
	headers := []string{"Nama Mahasiswa", "No HP", "Pilihan 1", "Pilihan 2", "Email"}
	rows := [][]string{
		{"Ahmad", "081234567890", "TI", "SI", "a@x.id"},
		{"Budi", "0812-1111-2222", "TI", "", "b@x.id"},
		{"Citra", "12345", "SI", "TI", "c@x.id"},
		{"Ahmad", "+6281333444555", "TI", "MI", "d@x.id"},
	}
	return headers, rows
}

func TestAnalyzeAdmissionsFile(t *testing.T) {
	headers, rows := admissionsFixture()
	res, err := Analyze(context.Background(), headers, rows, "pendaftar.csv", 2048, Options{Now: fixedNow})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if want := []string{"nama", "hp_mahasiswa", "pilihan1", "pilihan2", "Email"}; !reflect.DeepEqual(res.Order, want) {
		t.Fatalf("order = %v, want %v", res.Order, want)
	}

	phone := res.Fields["hp_mahasiswa"]
	if phone.Type != catalog.TypePhone || phone.Pattern != "Indonesian" || !phone.Required {
		t.Fatalf("phone field = %+v", phone)
	}
	if !reflect.DeepEqual(phone.Issues, []string{"1 invalid phone number formats"}) {
		t.Fatalf("phone issues = %v", phone.Issues)
	}
	if nama := res.Fields["nama"]; nama.Type != catalog.TypeText || nama.Unique || nama.UniqueCount != 3 {
		t.Fatalf("nama field = %+v", nama)
	}
	if p1 := res.Fields["pilihan1"]; p1.Type != catalog.TypeCategorical || !reflect.DeepEqual(p1.Values, []string{"TI", "SI"}) {
		t.Fatalf("pilihan1 field = %+v", p1)
	}
	if p2 := res.Fields["pilihan2"]; p2.FillRate != "75%" || p2.EmptyCount != 1 || p2.Required {
		t.Fatalf("pilihan2 field = %+v", p2)
	}
	if em := res.Fields["Email"]; em.Type != catalog.TypeEmail {
		t.Fatalf("email field type = %s", em.Type)
	}

	if len(res.Issues) != 0 {
		t.Fatalf("issues = %v", res.Issues)
	}
	wantRecs := []string{
		"Check for duplicate values in nama",
		"Validate phone format for field: hp_mahasiswa",
		"Consider making pilihan2 required (75% filled)",
	}
	if !reflect.DeepEqual(res.Recommendations, wantRecs) {
		t.Fatalf("recommendations = %v", res.Recommendations)
	}
	// 100 × (0.6·3/3 + 0.4·0.95)
	if res.Metadata.Confidence != 98 {
		t.Fatalf("confidence = %d, want 98", res.Metadata.Confidence)
	}
	if res.Summary.FileSize != "2.0 kB" || res.Summary.TotalRecords != 4 || res.Summary.TotalFields != 5 {
		t.Fatalf("summary = %+v", res.Summary)
	}
	if !res.Summary.UploadDate.Equal(fixedNow()) || res.Metadata.DetectedEncoding != "UTF-8" {
		t.Fatalf("metadata = %+v / %+v", res.Summary, res.Metadata)
	}

	v := Validate(res, nil)
	if !v.IsValid || len(v.Warnings) != 0 {
		t.Fatalf("validation = %+v", v)
	}

	md := res.Markdown()
	for _, want := range []string{
		"[FILE SUMMARY]",
		"File: pendaftar.csv (2.0 kB)",
		"- hp_mahasiswa <- No HP: phone [Indonesian], required",
		"  • 1 invalid phone number formats",
		"[RECOMMENDATIONS]",
	} {
		if !strings.Contains(md, want) {
			t.Fatalf("markdown missing %q:\n%s", want, md)
		}
	}
}

func TestAnalyzeMissingAndEmptyFields(t *testing.T) {
	headers := []string{"Alamat", "Catatan"}
	rows := [][]string{{"Jl. A", ""}, {"Jl. B", ""}}
	res, err := Analyze(context.Background(), headers, rows, "x.csv", 0, Options{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	want := []string{
		"Missing required fields: nama, hp_mahasiswa, pilihan1",
		"Empty fields: Catatan",
	}
	if !reflect.DeepEqual(res.Issues, want) {
		t.Fatalf("issues = %v", res.Issues)
	}
	if res.Metadata.Confidence != 20 {
		t.Fatalf("confidence = %d, want 20", res.Metadata.Confidence)
	}
	v := Validate(res, nil)
	if v.IsValid || !reflect.DeepEqual(v.Errors, []string{"No required fields detected in the file"}) {
		t.Fatalf("validation errors = %v", v.Errors)
	}
	if !reflect.DeepEqual(v.Warnings, []string{"Low confidence analysis (20%)"}) {
		t.Fatalf("validation warnings = %v", v.Warnings)
	}
}

func TestAnalyzeRequiredFieldGaps(t *testing.T) {
	headers := []string{"Nama", "HP", "Pilihan 1"}
	rows := [][]string{
		{"A", "081234567890", "TI"},
		{"", "081234567891", ""},
		{"C", "081234567892", ""},
	}
	res, err := Analyze(context.Background(), headers, rows, "x.csv", 0, Options{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if got := res.Fields["nama"].Issues; !reflect.DeepEqual(got, []string{"1 missing values in required field"}) {
		t.Fatalf("nama issues = %v", got)
	}
	v := Validate(res, nil)
	want := []string{
		"Required field nama has low fill rate (67%)",
		"Required field pilihan1 has low fill rate (33%)",
	}
	if !reflect.DeepEqual(v.Warnings, want) {
		t.Fatalf("warnings = %v", v.Warnings)
	}
}

func TestAnalyzeNoRecords(t *testing.T) {
	res, err := Analyze(context.Background(), []string{"Nama"}, nil, "x.csv", 0, Options{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Fields["nama"].FillRate != "0%" {
		t.Fatalf("fill rate = %s", res.Fields["nama"].FillRate)
	}
	v := Validate(res, nil)
	found := false
	for _, e := range v.Errors {
		if e == "No data records found in the file" {
			found = true
		}
	}
	if !found {
		t.Fatalf("errors = %v", v.Errors)
	}
}

func TestAnalyzeDuplicateHeaderKeys(t *testing.T) {
	res, err := Analyze(context.Background(), []string{"Catatan", "Catatan"}, [][]string{{"a", "b"}}, "x.csv", 0, Options{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if want := []string{"Catatan", "Catatan#2"}; !reflect.DeepEqual(res.Order, want) {
		t.Fatalf("order = %v", res.Order)
	}
}

func TestAnalyzeHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	headers, rows := admissionsFixture()
	if _, err := Analyze(ctx, headers, rows, "x.csv", 0, Options{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestInferType(t *testing.T) {
	tests := []struct {
		name   string
		values []string
		want   catalog.FieldType
	}{
		{"numeric", []string{"1", "2", "3.5", "10"}, catalog.TypeNumeric},
		{"date formats", []string{"2024-01-02", "12/05/2024", "3 Maret 2024", "2024-02-03"}, catalog.TypeDate},
		{"email", []string{"a@b.id", "c@d.id", "e@f.id"}, catalog.TypeEmail},
		{"phone", []string{"081234567890", "+62 812 3456 7890"}, catalog.TypePhone},
		{"text", []string{"alpha", "beta", "gamma"}, catalog.TypeText},
		{"empty", []string{"", " "}, catalog.TypeText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := inferType(tt.values).kind; got != tt.want {
				t.Fatalf("inferType(%v) = %s, want %s", tt.values, got, tt.want)
			}
		})
	}
}
