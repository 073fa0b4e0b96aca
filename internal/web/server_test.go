package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/joelkehle/cancer-navigator/internal/catalog"
	"github.com/joelkehle/cancer-navigator/internal/chat"
	"github.com/joelkehle/cancer-navigator/internal/imaging"
	"github.com/joelkehle/cancer-navigator/internal/llm"
	"github.com/joelkehle/cancer-navigator/internal/report"
	"github.com/joelkehle/cancer-navigator/internal/session"
	"github.com/joelkehle/cancer-navigator/internal/stats"
	"github.com/joelkehle/cancer-navigator/internal/trials"
	"github.com/joelkehle/cancer-navigator/internal/vault"
)

type fakeModel struct {
	mu    sync.Mutex
	calls int
	reply string
	err   error
}

func (f *fakeModel) Generate(_ context.Context, _ llm.Prompt) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.reply, f.err
}

func (f *fakeModel) ModelName() string { return "fake" }

func (f *fakeModel) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSearcher struct {
	doc json.RawMessage
	err error
}

func (f *fakeSearcher) Search(_ context.Context, _ trials.Query) (json.RawMessage, error) {
	return f.doc, f.err
}

type fakePDF struct {
	last report.Report
}

func (f *fakePDF) Render(_ context.Context, rep report.Report) ([]byte, error) {
	f.last = rep
	return []byte("%PDF-1.4 fake"), nil
}

type testEnv struct {
	handler  http.Handler
	model    *fakeModel
	searcher *fakeSearcher
	pdf      *fakePDF
}

func setupServer(t *testing.T) *testEnv {
	t.Helper()
	tree, err := catalog.Default()
	if err != nil {
		t.Fatal(err)
	}
	key, err := vault.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	sealer, err := vault.NewSealer(key)
	if err != nil {
		t.Fatal(err)
	}
	store := session.NewMemoryStore(time.Minute)
	t.Cleanup(func() { _ = store.Close() })

	env := &testEnv{
		model:    &fakeModel{reply: "model says hello"},
		searcher: &fakeSearcher{doc: json.RawMessage(`{"studies":[{}]}`)},
		pdf:      &fakePDF{},
	}
	env.handler = NewServer(Deps{
		Catalog:  tree,
		Sessions: store,
		Stats:    stats.NewResolver(tree, env.model, nil),
		Reports:  report.NewGenerator(env.searcher, env.model, report.Config{}, nil),
		Chat:     chat.NewBridge(env.model, nil),
		Analyzer: imaging.NewAnalyzer(env.model, nil),
		Sealer:   sealer,
		PDF:      env.pdf,
		WebDir:   t.TempDir(),
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
}

func (e *testEnv) newSession(t *testing.T, consent bool) string {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/api/sessions", nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create session: %d %s", rr.Code, rr.Body.String())
	}
	var view sessionView
	decode(t, rr, &view)
	if consent {
		if rr := e.do(t, http.MethodPost, "/api/sessions/"+view.ID+"/consent", map[string]bool{"consent": true}); rr.Code != 200 {
			t.Fatalf("consent: %d %s", rr.Code, rr.Body.String())
		}
	}
	return view.ID
}

var breastSelection = catalog.Selection{Organ: "Breast", CancerType: "Invasive Ductal Carcinoma", Grade: "Grade 1", Mutation: "HER2+"}

func TestHealthz(t *testing.T) {
	env := setupServer(t)
	if rr := env.do(t, http.MethodGet, "/healthz", nil); rr.Code != 200 {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestCatalogEndpoints(t *testing.T) {
	env := setupServer(t)

	var organs struct {
		Organs []string `json:"organs"`
	}
	decode(t, env.do(t, http.MethodGet, "/api/catalog/organs", nil), &organs)
	if strings.Join(organs.Organs, ",") != "Brain,Breast,Lung" {
		t.Fatalf("unexpected organs %v", organs.Organs)
	}

	var types struct {
		Types []string `json:"types"`
	}
	decode(t, env.do(t, http.MethodGet, "/api/catalog/types?organ=Breast", nil), &types)
	if len(types.Types) != 2 || types.Types[len(types.Types)-1] != catalog.Other {
		t.Fatalf("unexpected types %v", types.Types)
	}

	type options struct {
		Freeform  bool     `json:"freeform"`
		Grades    []string `json:"grades"`
		Mutations []string `json:"mutations"`
	}
	var opts options
	decode(t, env.do(t, http.MethodGet, "/api/catalog/options?organ=Lung&type=Non-Small+Cell+(NSCLC)", nil), &opts)
	if opts.Freeform || len(opts.Grades) != 5 || len(opts.Mutations) != 5 {
		t.Fatalf("unexpected options %+v", opts)
	}
	if opts.Grades[0] != "Stage I" || opts.Grades[4] != catalog.Other || opts.Mutations[4] != catalog.Other {
		t.Fatalf("expected Other last at grade and mutation tiers, got %+v", opts)
	}

	// Listing options must not grow the catalog.
	var again options
	decode(t, env.do(t, http.MethodGet, "/api/catalog/options?organ=Lung&type=Non-Small+Cell+(NSCLC)", nil), &again)
	if len(again.Grades) != 5 {
		t.Fatalf("options changed between calls: %+v", again)
	}

	var other options
	decode(t, env.do(t, http.MethodGet, "/api/catalog/options?organ=Lung&type=Other", nil), &other)
	if !other.Freeform || strings.Join(other.Grades, ",") != catalog.Other || strings.Join(other.Mutations, ",") != catalog.Other {
		t.Fatalf("expected only Other for a freeform type, got %+v", other)
	}
}

func TestProfileOtherGradeIsFreeform(t *testing.T) {
	env := setupServer(t)
	id := env.newSession(t, false)
	sel := catalog.Selection{Organ: "Lung", CancerType: "Non-Small Cell (NSCLC)", Grade: catalog.Other, CustomGrade: "Stage IIIB", Mutation: catalog.Other, CustomMutation: "KRAS G12C"}
	rr := env.do(t, http.MethodPost, "/api/sessions/"+id+"/profile", sel)
	if rr.Code != 200 {
		t.Fatalf("expected 200, got %d %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Profile catalog.Profile `json:"profile"`
		Stats   stats.Stats     `json:"stats"`
	}
	decode(t, rr, &resp)
	want := catalog.Profile{Kind: catalog.Freeform, Organ: "Lung", CancerType: "Non-Small Cell (NSCLC)", Grade: "Stage IIIB", Mutation: "KRAS G12C"}
	if resp.Profile != want {
		t.Fatalf("profile = %+v, want %+v", resp.Profile, want)
	}
	if resp.Stats.Source != stats.SourceModel || env.model.Calls() != 1 {
		t.Fatalf("expected model stats, got %+v calls=%d", resp.Stats, env.model.Calls())
	}
}

func TestProfileCatalogPathSkipsModel(t *testing.T) {
	env := setupServer(t)
	id := env.newSession(t, false)

	rr := env.do(t, http.MethodPost, "/api/sessions/"+id+"/profile", breastSelection)
	if rr.Code != 200 {
		t.Fatalf("expected 200, got %d %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Profile catalog.Profile `json:"profile"`
		Stats   stats.Stats     `json:"stats"`
	}
	decode(t, rr, &resp)
	if resp.Profile.Kind != catalog.Resolved || resp.Stats.Source != stats.SourceCatalog || resp.Stats.Outcome != "High (95%)" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if env.model.Calls() != 0 {
		t.Fatalf("expected no model calls, got %d", env.model.Calls())
	}
}

func TestProfileFreeformUsesModel(t *testing.T) {
	env := setupServer(t)
	id := env.newSession(t, false)
	rr := env.do(t, http.MethodPost, "/api/sessions/"+id+"/profile", catalog.Selection{Organ: "Other", CustomOrgan: "Liver", CustomCancerType: "HCC"})
	var resp struct {
		Profile catalog.Profile `json:"profile"`
		Stats   stats.Stats     `json:"stats"`
	}
	decode(t, rr, &resp)
	if resp.Profile.Kind != catalog.Freeform || resp.Stats.Source != stats.SourceModel || resp.Stats.Text != "model says hello" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestProfileRequiresOrgan(t *testing.T) {
	env := setupServer(t)
	id := env.newSession(t, false)
	if rr := env.do(t, http.MethodPost, "/api/sessions/"+id+"/profile", catalog.Selection{Organ: "Other"}); rr.Code != 400 {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestConsentGate(t *testing.T) {
	env := setupServer(t)
	id := env.newSession(t, false)
	env.do(t, http.MethodPost, "/api/sessions/"+id+"/profile", breastSelection)

	for _, path := range []string{"/chat", "/report", "/scan/analyze"} {
		rr := env.do(t, http.MethodPost, "/api/sessions/"+id+path, map[string]string{"message": "hi"})
		if rr.Code != http.StatusForbidden {
			t.Fatalf("%s: expected 403, got %d %s", path, rr.Code, rr.Body.String())
		}
	}
	if env.model.Calls() != 0 {
		t.Fatalf("expected no model calls before consent, got %d", env.model.Calls())
	}
}

func TestChatFlow(t *testing.T) {
	env := setupServer(t)
	id := env.newSession(t, true)

	if rr := env.do(t, http.MethodPost, "/api/sessions/"+id+"/chat", map[string]string{"message": "hi"}); rr.Code != 400 {
		t.Fatalf("expected 400 without profile, got %d", rr.Code)
	}
	env.do(t, http.MethodPost, "/api/sessions/"+id+"/profile", breastSelection)

	rr := env.do(t, http.MethodPost, "/api/sessions/"+id+"/chat", map[string]string{"message": "What is HER2+?"})
	if rr.Code != 200 {
		t.Fatalf("expected 200, got %d %s", rr.Code, rr.Body.String())
	}
	env.model.mu.Lock()
	env.model.err = errors.New("status code: 503")
	env.model.mu.Unlock()
	env.do(t, http.MethodPost, "/api/sessions/"+id+"/chat", map[string]string{"message": "And survival?"})

	if rr := env.do(t, http.MethodPost, "/api/sessions/"+id+"/chat", map[string]string{"message": "  "}); rr.Code != 400 {
		t.Fatalf("expected 400 for empty message, got %d", rr.Code)
	}

	var resp struct {
		Messages chat.Log `json:"messages"`
	}
	decode(t, env.do(t, http.MethodGet, "/api/sessions/"+id+"/chat", nil), &resp)
	if len(resp.Messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(resp.Messages))
	}
	if resp.Messages[1].Content != "model says hello" || resp.Messages[3].Content != chat.Unavailable {
		t.Fatalf("unexpected log %+v", resp.Messages)
	}
}

func TestReportTrialsFailureSkipsModel(t *testing.T) {
	env := setupServer(t)
	env.searcher.err = &trials.StatusError{StatusCode: 500}
	id := env.newSession(t, true)
	env.do(t, http.MethodPost, "/api/sessions/"+id+"/profile", breastSelection)

	rr := env.do(t, http.MethodPost, "/api/sessions/"+id+"/report", map[string]string{"region": "Ohio"})
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d %s", rr.Code, rr.Body.String())
	}
	if env.model.Calls() != 0 {
		t.Fatalf("expected no model calls, got %d", env.model.Calls())
	}
	if rr := env.do(t, http.MethodGet, "/api/sessions/"+id+"/report.pdf", nil); rr.Code != 404 {
		t.Fatalf("expected 404 without report, got %d", rr.Code)
	}
}

func TestReportAndPDF(t *testing.T) {
	env := setupServer(t)
	env.model.reply = "## Top Centers\n- A\n\n## Active Trials\n- B\n\n## Contacts\n- C\n\n## Research Direction\nD"
	id := env.newSession(t, true)
	env.do(t, http.MethodPost, "/api/sessions/"+id+"/profile", breastSelection)

	rr := env.do(t, http.MethodPost, "/api/sessions/"+id+"/report", map[string]string{"region": "Ohio"})
	if rr.Code != 200 {
		t.Fatalf("expected 200, got %d %s", rr.Code, rr.Body.String())
	}
	var rep report.Report
	decode(t, rr, &rep)
	if rep.CancerType != "Invasive Ductal Carcinoma" || !strings.Contains(rep.HTML, "<h2>Research Direction</h2>") {
		t.Fatalf("unexpected report %+v", rep)
	}

	pdf := env.do(t, http.MethodGet, "/api/sessions/"+id+"/report.pdf", nil)
	if pdf.Code != 200 || pdf.Header().Get("Content-Type") != "application/pdf" {
		t.Fatalf("unexpected pdf response %d %v", pdf.Code, pdf.Header())
	}
	if !strings.Contains(pdf.Header().Get("Content-Disposition"), "Invasive-Ductal-Carcinoma-report.pdf") {
		t.Fatalf("unexpected disposition %q", pdf.Header().Get("Content-Disposition"))
	}
	if env.pdf.last.Region != "Ohio" {
		t.Fatalf("renderer got %+v", env.pdf.last)
	}
}

func uploadScan(t *testing.T, env *testEnv, id, filename string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	fw, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write(data)
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+id+"/scan", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	return rr
}

func TestScanUploadAndAnalyze(t *testing.T) {
	env := setupServer(t)
	id := env.newSession(t, true)

	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 3, 2))); err != nil {
		t.Fatal(err)
	}
	rr := uploadScan(t, env, id, "mri.png", buf.Bytes())
	if rr.Code != 200 {
		t.Fatalf("expected 200, got %d %s", rr.Code, rr.Body.String())
	}
	var view scanView
	decode(t, rr, &view)
	if view.Format != imaging.FormatPNG || view.Width != 3 || !strings.HasPrefix(view.Image, "data:image/png;base64,") {
		t.Fatalf("unexpected scan view %+v", view)
	}
	if view.Metadata.Age != imaging.NotAvailable {
		t.Fatalf("expected N/A metadata, got %+v", view.Metadata)
	}

	img := env.do(t, http.MethodGet, "/api/sessions/"+id+"/scan.png", nil)
	if img.Code != 200 || img.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("unexpected scan image response %d", img.Code)
	}

	var analysis imaging.Analysis
	decode(t, env.do(t, http.MethodPost, "/api/sessions/"+id+"/scan/analyze", nil), &analysis)
	if analysis.Source != "model" || analysis.Text != "model says hello" {
		t.Fatalf("unexpected analysis %+v", analysis)
	}
}

func TestScanRejectsUnsupportedType(t *testing.T) {
	env := setupServer(t)
	id := env.newSession(t, true)
	if rr := uploadScan(t, env, id, "scan.bmp", []byte("BM")); rr.Code != 400 {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if rr := env.do(t, http.MethodPost, "/api/sessions/"+id+"/scan/analyze", nil); rr.Code != 404 {
		t.Fatalf("expected 404 without scan, got %d", rr.Code)
	}
}

func TestSessionLifecycle(t *testing.T) {
	env := setupServer(t)
	if rr := env.do(t, http.MethodGet, "/api/sessions/missing", nil); rr.Code != 404 {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	id := env.newSession(t, false)
	if rr := env.do(t, http.MethodDelete, "/api/sessions/"+id, nil); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if rr := env.do(t, http.MethodPost, "/api/sessions/"+id+"/chat", map[string]string{"message": "hi"}); rr.Code != 404 {
		t.Fatalf("expected 404 after end, got %d", rr.Code)
	}
}

func TestSanitizeFilename(t *testing.T) {
	if got := sanitizeFilename("Non-Small Cell (NSCLC)"); got != "Non-Small-Cell--NSCLC-" {
		t.Fatalf("unexpected %q", got)
	}
	if got := sanitizeFilename(" "); got != "report" {
		t.Fatalf("unexpected %q", got)
	}
}
