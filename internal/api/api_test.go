package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/portal/internal/index"
	"github.com/starford/portal/internal/noteref"
	"github.com/starford/portal/internal/noteservice"
	"github.com/starford/portal/internal/testutil"
)

var testNotes = map[string]map[string]string{
	"main": {
		"host.md":          "---\ntitle: Host\n---\n# Host\n\n![[part#Part]]\n",
		"part.md":          "# Part\n\npart body\n",
		"journal/today.md": "today\n",
	},
	"other": {
		"part.md": "other part\n",
	},
}

// testEnv sets up temp vaults, SQLite DB, service, and router for testing.
// An empty authToken means disabled mode.
func testEnv(t *testing.T, authToken string) (*noteservice.Service, http.Handler) {
	t.Helper()
	return testEnvWithSSE(t, authToken != "", authToken, nil)
}

func testEnvWithSSE(t *testing.T, authEnabled bool, authToken string, sseHandler http.Handler) (*noteservice.Service, http.Handler) {
	t.Helper()
	return testEnvPublishing(t, authEnabled, authToken, sseHandler, filepath.Join(t.TempDir(), "site"))
}

// testEnvPublishing is testEnvWithSSE with an explicit publish directory.
func testEnvPublishing(t *testing.T, authEnabled bool, authToken string, sseHandler http.Handler, publishDir string) (*noteservice.Service, http.Handler) {
	t.Helper()

	ws, dirs := testutil.TestWorkspace(t, "main", "other")
	for vault, notes := range testNotes {
		for rel, content := range notes {
			testutil.WriteNote(t, dirs[vault], rel, content)
		}
	}
	db := testutil.TestDB(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := noteref.NewEngine(db, noteref.DefaultOptions(), noteref.WithLogger(logger))
	if err := index.Sync(db, ws, engine.ScanOptions(), logger); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	svc := noteservice.NewService(ws, db, engine, noteservice.WithLogger(logger))
	router := NewRouter(svc, authEnabled, authToken, sseHandler, publishDir)
	return svc, router
}

func do(t *testing.T, router http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, rd)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestListNotes(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/notes?vault=main&limit=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var resp NoteListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Total != 3 || len(resp.Notes) != 2 {
		t.Errorf("total = %d, notes = %d", resp.Total, len(resp.Notes))
	}

	w = do(t, router, http.MethodGet, "/notes?vault=nope", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown vault = %d, want 404", w.Code)
	}
}

func TestGetNote(t *testing.T) {
	_, router := testEnv(t, "")

	for _, target := range []string{"/notes/main/journal.today", "/notes/main/journal/today.md", "/notes/main/journal%2Ftoday.md"} {
		w := do(t, router, http.MethodGet, target, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("%s status = %d", target, w.Code)
		}
		var note NoteDetail
		_ = json.Unmarshal(w.Body.Bytes(), &note)
		if note.Fname != "journal.today" || note.Path != "journal/today.md" {
			t.Errorf("%s: note = %+v", target, note)
		}
	}

	w := do(t, router, http.MethodGet, "/notes/main/part", nil)
	var note NoteDetail
	_ = json.Unmarshal(w.Body.Bytes(), &note)
	if len(note.Dependents) != 1 || note.Dependents[0].Fname != "host" {
		t.Errorf("dependents = %v", note.Dependents)
	}
}

func TestGetNote_NotFound(t *testing.T) {
	_, router := testEnv(t, "")
	w := do(t, router, http.MethodGet, "/notes/main/nonexistent", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestCompileNote(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/compile/main/host?dest=markdown", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("compile status = %d, body = %s", w.Code, w.Body.String())
	}
	var res CompileResult
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if !strings.Contains(res.Output, "part body") || strings.Contains(res.Output, "![[") {
		t.Errorf("output = %q", res.Output)
	}

	w = do(t, router, http.MethodGet, "/compile/main/host?dest=html", nil)
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if !strings.Contains(res.Output, `class="portal-container"`) {
		t.Errorf("html output = %q", res.Output)
	}

	w = do(t, router, http.MethodGet, "/compile/main/host?dest=pdf", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad dest = %d, want 400", w.Code)
	}
}

func TestCompileText(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/compile", CompileTextRequest{Vault: "other", Text: "![[part]]", Dest: "markdown"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var res CompileTextResponse
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if res.Output != "other part\n" {
		t.Errorf("output = %q, want the note of the current vault", res.Output)
	}

	w = do(t, router, http.MethodPost, "/compile", map[string]string{"text": "x"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing vault = %d, want 400", w.Code)
	}
}

func TestResolveEndpoint(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/resolve?ref="+escape("![[part]]"), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var res ResolveResult
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if res.Status != "ambiguous" || len(res.Notes) != 2 {
		t.Errorf("resolve = %+v", res)
	}

	w = do(t, router, http.MethodGet, "/resolve", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing ref = %d, want 400", w.Code)
	}
	w = do(t, router, http.MethodGet, "/resolve?ref=plain", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid ref = %d, want 400", w.Code)
	}
}

func TestDefinitionEndpoint(t *testing.T) {
	_, router := testEnv(t, "")

	text := "see ((ref: [[host]]))"
	w := do(t, router, http.MethodPost, "/definition", DefinitionRequest{Vault: "main", Text: text, Offset: 12})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var res DefinitionResult
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if len(res.Locations) != 1 || res.Locations[0].Fname != "host" {
		t.Errorf("locations = %+v", res.Locations)
	}

	w = do(t, router, http.MethodPost, "/definition", DefinitionRequest{Vault: "main", Text: text, Offset: 1})
	if w.Code != http.StatusNotFound {
		t.Errorf("no reference = %d, want 404", w.Code)
	}
	w = do(t, router, http.MethodPost, "/definition", DefinitionRequest{Vault: "main", Text: text, Offset: 99})
	if w.Code != http.StatusBadRequest {
		t.Errorf("offset out of range = %d, want 400", w.Code)
	}
}

func TestDependentsEndpoint(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/dependents/main/part", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var res DependentsResponse
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if len(res.Dependents) != 1 || res.Dependents[0].Fname != "host" {
		t.Errorf("dependents = %v", res.Dependents)
	}

	w = do(t, router, http.MethodGet, "/dependents/main/host?transitive=true", nil)
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if !res.Transitive || len(res.Dependents) != 0 {
		t.Errorf("transitive dependents of host = %+v", res)
	}
}

func TestPublishEndpoint(t *testing.T) {
	site := filepath.Join(t.TempDir(), "site")
	_, router := testEnvPublishing(t, false, "", nil, site)

	w := do(t, router, http.MethodPost, "/publish", PublishRequest{Dest: "markdown", OutputDir: "v2"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var res PublishResult
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if res.Written != 4 {
		t.Errorf("written = %d, want 4", res.Written)
	}
	data, err := os.ReadFile(filepath.Join(site, "v2", "main", "host.md"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "part body") {
		t.Errorf("published host = %q", data)
	}

	// No output_dir publishes into the configured root.
	w = do(t, router, http.MethodPost, "/publish", PublishRequest{Dest: "html"})
	if w.Code != http.StatusOK {
		t.Fatalf("default dir status = %d, body = %s", w.Code, w.Body.String())
	}
	if _, err := os.Stat(filepath.Join(site, "main", "host.html")); err != nil {
		t.Errorf("default publish missing: %v", err)
	}
}

func TestPublishEndpoint_RejectsDirOutsideRoot(t *testing.T) {
	base := t.TempDir()
	_, router := testEnvPublishing(t, false, "", nil, filepath.Join(base, "site"))

	for _, dir := range []string{"../escape", "a/../../escape", filepath.Join(base, "abs")} {
		w := do(t, router, http.MethodPost, "/publish", PublishRequest{Dest: "markdown", OutputDir: dir})
		if w.Code != http.StatusBadRequest {
			t.Errorf("output_dir %q: status = %d, want 400", dir, w.Code)
		}
	}
	for _, name := range []string{"escape", "abs"} {
		if _, err := os.Stat(filepath.Join(base, name)); !os.IsNotExist(err) {
			t.Errorf("%s was created outside the publish directory", name)
		}
	}
}

func TestPublishEndpoint_NotConfigured(t *testing.T) {
	_, router := testEnvPublishing(t, false, "", nil, "")
	w := do(t, router, http.MethodPost, "/publish", PublishRequest{Dest: "markdown", OutputDir: "x"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func escape(s string) string {
	r := strings.NewReplacer("!", "%21", "[", "%5B", "]", "%5D", "#", "%23", " ", "%20")
	return r.Replace(s)
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	_, router := testEnv(t, "secret")
	req := httptest.NewRequest(http.MethodGet, "/notes", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("valid token = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	_, router := testEnv(t, "secret")
	w := do(t, router, http.MethodGet, "/notes", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("missing token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	_, router := testEnv(t, "secret")
	req := httptest.NewRequest(http.MethodGet, "/notes", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	_, router := testEnv(t, "")
	w := do(t, router, http.MethodGet, "/notes", nil)
	if w.Code != http.StatusOK {
		t.Errorf("disabled auth = %d, want 200", w.Code)
	}
}

// stubSSE writes headers and blocks until the request context is done.
var stubSSE = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	<-r.Context().Done()
})

func TestSSEEvents_AuthProtected(t *testing.T) {
	_, router := testEnvWithSSE(t, true, "secret", stubSSE)

	// No token → 401.
	w := do(t, router, http.MethodGet, "/events", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_AuthDisabled(t *testing.T) {
	_, router := testEnvWithSSE(t, false, "", stubSSE)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE should not require auth when disabled")
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	_, router := testEnvWithSSE(t, true, "tok", stubSSE)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with valid token should not 401")
	}
}

func TestSSEEvents_QueryToken(t *testing.T) {
	_, router := testEnvWithSSE(t, true, "tok", stubSSE)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events?access_token=tok", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with query token should not 401")
	}

	// The query form is only honoured for the event stream.
	w = do(t, router, http.MethodGet, "/notes?access_token=tok", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("query token on /notes = %d, want 401", w.Code)
	}
}
