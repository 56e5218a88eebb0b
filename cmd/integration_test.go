package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const pendaftarCSV = "Nama Mahasiswa,No HP,Pilihan 1,Pilihan 2,Pilihan 3,Prodi Lulus\n" +
	"Ahmad,081234567890,Teknik Informatika,Sistem Informasi,Manajemen Informatika,\n" +
	"Siti,6285712345678,Sistem Informasi,Teknik Informatika,Manajemen Informatika,Akuntansi\n" +
	"Budi,0812,Teknik Informatika,Sistem Informasi,Manajemen Informatika,\n"

// resetFlags clears values and Changed state that cobra keeps between
// Execute calls on the same command tree.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// runCmd executes the root command with args and returns its stdout.
func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := runCmd(t, args...)
	if err != nil {
		t.Fatalf("command %v failed: %v\n%s", args, err, out)
	}
	return out
}

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestCLI_DetectJSON(t *testing.T) {
	home := isolate(t)
	csv := writeFile(t, filepath.Join(home, "pendaftar.csv"), pendaftarCSV)

	out := mustRun(t, "detect", csv, "--json")
	var res struct {
		Mappings []struct {
			SourceColumn string `json:"sourceColumn"`
			TargetField  string `json:"targetField"`
		} `json:"mappings"`
		Errors []string `json:"errors"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("detect --json output is not JSON: %v\n%s", err, out)
	}
	if len(res.Errors) != 0 {
		t.Fatalf("unexpected detection errors: %v", res.Errors)
	}
	got := map[string]string{}
	for _, m := range res.Mappings {
		got[m.TargetField] = m.SourceColumn
	}
	if got["nama"] != "Nama Mahasiswa" || got["number"] != "No HP" || got["pilihan3"] != "Pilihan 3" {
		t.Fatalf("mappings = %v", got)
	}

	text := mustRun(t, "detect", csv, "--remap", "Prodi Lulus=")
	if !strings.Contains(text, "Unmapped: Prodi Lulus") {
		t.Fatalf("remap to empty target should unmap the column:\n%s", text)
	}
	if _, err := runCmd(t, "detect", csv, "--remap", "Nope=nama"); err == nil {
		t.Fatal("expected error for unknown remap column")
	}
}

func TestCLI_TransformWritesValidRecords(t *testing.T) {
	home := isolate(t)
	csv := writeFile(t, filepath.Join(home, "pendaftar.csv"), pendaftarCSV)
	dest := filepath.Join(home, "out", "valid.json")

	out := mustRun(t, "transform", csv, "--output", dest, "--show-invalid")
	if !strings.Contains(out, "2 of 3 records valid") || !strings.Contains(out, "record 3: invalid format for field: number") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	b, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	var recs []map[string]string
	if err := json.Unmarshal(b, &recs); err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[0]["number"] != "+6281234567890" || recs[1]["number"] != "+6285712345678" {
		t.Fatalf("records = %v", recs)
	}
}

func TestCLI_DispatchDryRun(t *testing.T) {
	home := isolate(t)
	csv := writeFile(t, filepath.Join(home, "pendaftar.csv"), pendaftarCSV)

	if _, err := runCmd(t, "dispatch", csv, "--dry-run"); err == nil || !strings.Contains(err.Error(), "invalid records") {
		t.Fatalf("invalid rows must block dispatch, got %v", err)
	}

	report := filepath.Join(home, "report.json")
	out := mustRun(t, "dispatch", csv, "--dry-run", "--allow-invalid", "--report", report)
	if !strings.Contains(out, "[2/2] ✓ Siti") || !strings.Contains(out, "Sent 2, failed 0 of 2") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	b, err := os.ReadFile(report)
	if err != nil {
		t.Fatal(err)
	}
	var rep struct {
		Progress struct{ Sent, Failed int }
		Records  []struct{ Status string }
	}
	if err := json.Unmarshal(b, &rep); err != nil {
		t.Fatal(err)
	}
	if rep.Progress.Sent != 2 || len(rep.Records) != 2 || rep.Records[1].Status != "sent" {
		t.Fatalf("report = %+v", rep)
	}
}

func TestCLI_DispatchToGateway(t *testing.T) {
	home := isolate(t)
	csv := writeFile(t, filepath.Join(home, "pendaftar.csv"), pendaftarCSV)

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		if errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) {
			t.Skipf("skipping test: cannot open local listener (%v)", err)
		}
		t.Fatalf("listen tcp4: %v", err)
	}
	var hits int32
	var mu sync.Mutex
	var lastBody map[string]string
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		mu.Lock()
		_ = json.NewDecoder(r.Body).Decode(&lastBody)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if n == 2 {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"success":false,"message":"nomor tidak aktif"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"success"}`))
	})}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })

	cfgPath := filepath.Join(home, "admisi.yaml")
	mustRun(t, "--config", cfgPath, "config", "set", "gateway_url", "http://"+ln.Addr().String()+"/sobis/send")
	mustRun(t, "--config", cfgPath, "config", "set", "flag_biodata", "Y")
	show := mustRun(t, "--config", cfgPath, "config", "show")
	if !strings.Contains(show, "biodata=Y") || !strings.Contains(show, ln.Addr().String()) {
		t.Fatalf("config show:\n%s", show)
	}

	out, err := runCmd(t, "--config", cfgPath, "dispatch", csv, "--allow-invalid", "--yes", "--delay", "0")
	if err == nil || !strings.Contains(err.Error(), "1 of 2 messages failed") {
		t.Fatalf("expected one failed message, got %v\n%s", err, out)
	}
	if !strings.Contains(out, "✗ Siti (+6285712345678): message rejected: nomor tidak aktif") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if atomic.LoadInt32(&hits) != 2 {
		t.Fatalf("gateway hits = %d, want 2", hits)
	}
	mu.Lock()
	defer mu.Unlock()
	if lastBody["biodata"] != "Y" || lastBody["programStudiDilulusi"] != "Akuntansi" {
		t.Fatalf("payload = %v", lastBody)
	}
}

func TestCLI_DispatchDeclinedPrompt(t *testing.T) {
	home := isolate(t)
	csv := writeFile(t, filepath.Join(home, "pendaftar.csv"), pendaftarCSV)
	cfgPath := filepath.Join(home, "admisi.yaml")
	mustRun(t, "--config", cfgPath, "config", "set", "gateway_url", "http://127.0.0.1:1/unused")

	// runCmd feeds empty stdin, which declines the prompt
	out := mustRun(t, "--config", cfgPath, "dispatch", csv, "--allow-invalid")
	if !strings.Contains(out, "Aborted") {
		t.Fatalf("expected abort:\n%s", out)
	}
}

func TestCLI_AnalyzeMultipleFiles(t *testing.T) {
	home := isolate(t)
	writeFile(t, filepath.Join(home, "a", "pendaftar.csv"), pendaftarCSV)
	writeFile(t, filepath.Join(home, "b", "pendaftar.csv"), pendaftarCSV)
	outDir := filepath.Join(home, "reports")

	out := mustRun(t, "analyze", filepath.Join(home, "*", "pendaftar.csv"), "--output", outDir)
	if !strings.Contains(out, "[2/2] Processing pendaftar.csv") {
		t.Fatalf("missing progress:\n%s", out)
	}
	first := filepath.Join(outDir, "pendaftar.analysis.md")
	second := filepath.Join(outDir, "pendaftar__2.analysis.md")
	for _, p := range []string{first, second} {
		b, err := os.ReadFile(p)
		if err != nil {
			t.Fatalf("missing report: %v", err)
		}
		if !strings.Contains(string(b), "[FILE SUMMARY]") || !strings.Contains(string(b), "[VALIDATION]") {
			t.Fatalf("report %s:\n%s", p, b)
		}
	}

	js := mustRun(t, "analyze", filepath.Join(home, "a", "pendaftar.csv"), "--json")
	var res map[string]any
	if err := json.Unmarshal([]byte(js), &res); err != nil {
		t.Fatalf("analyze --json: %v\n%s", err, js)
	}
	if _, ok := res["validation"]; !ok {
		t.Fatalf("missing validation in %v", res)
	}
}

func TestCLI_ConfigSetRejectsUnknownKey(t *testing.T) {
	home := isolate(t)
	if _, err := runCmd(t, "--config", filepath.Join(home, "c.yaml"), "config", "set", "api_key", "x"); err == nil {
		t.Fatal("expected error for unknown key")
	}
}
