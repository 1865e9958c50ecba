package mcpclient

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reportalin/reportalin-mcp/internal/dataset"
	"github.com/reportalin/reportalin-mcp/internal/mcp"
	"github.com/reportalin/reportalin-mcp/internal/stats"
	"github.com/reportalin/reportalin-mcp/internal/tools"
)

// newTestServer runs a real SSE transport over a small fixture study.
func newTestServer(t *testing.T) (*httptest.Server, *mcp.Manager) {
	t.Helper()
	dir := t.TempDir()

	write := func(rel, content string) {
		path := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	write("results/data_dictionary_mappings/main/variables.jsonl",
		`{"field_name":"AGE","question":"Age at enrolment","type":"number","module":"demographics"}
`)
	rows := ""
	for i := 0; i < 20; i++ {
		rows += fmt.Sprintf(`{"AGE":%d}`+"\n", 20+i)
	}
	write("results/deidentified/study1/cleaned/visits.jsonl", rows)

	store := dataset.NewStore(&dataset.Loader{Root: dir}, zap.NewNop())
	require.NoError(t, store.Load())

	kernel := tools.NewKernel(store, stats.DefaultK, zap.NewNop(), nil)
	dispatcher := mcp.NewDispatcher(kernel, mcp.NewCatalog(store), zap.NewNop())
	manager := mcp.NewManager(zap.NewNop(), 0)
	transport := mcp.NewSSETransport(manager, dispatcher, zap.NewNop())

	mux := http.NewServeMux()
	mux.HandleFunc("/mcp/sse", transport.HandleSSE)
	mux.HandleFunc("/mcp/messages", transport.HandleMessages)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, manager
}

func dialTest(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Dial(ctx, Config{BaseURL: srv.URL, CallTimeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func TestClientListTools(t *testing.T) {
	srv, _ := newTestServer(t)
	client := dialTest(t, srv)

	listed, err := client.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, listed, 4)

	names := make([]string, 0, len(listed))
	for _, tool := range listed {
		names = append(names, tool.Name)
		assert.NotEmpty(t, tool.Description)
		assert.Equal(t, "object", tool.InputSchema["type"])
	}
	assert.Contains(t, names, "combined_search")
	assert.Contains(t, names, "prompt_enhancer")
}

func TestClientExecuteTool(t *testing.T) {
	srv, _ := newTestServer(t)
	client := dialTest(t, srv)

	out, err := client.ExecuteTool(context.Background(), "search_data_dictionary", map[string]interface{}{
		"query": "age",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "AGE")
}

func TestClientExecuteUnknownTool(t *testing.T) {
	srv, _ := newTestServer(t)
	client := dialTest(t, srv)

	_, err := client.ExecuteTool(context.Background(), "drop_tables", nil)
	require.Error(t, err)

	var toolErr *ToolExecutionFailedError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "drop_tables", toolErr.Tool)
}

func TestClientResources(t *testing.T) {
	srv, _ := newTestServer(t)
	client := dialTest(t, srv)

	resources, err := client.ListResources(context.Background())
	require.NoError(t, err)
	require.Len(t, resources, 4)
	assert.Equal(t, "reportalin://study/overview", resources[0].URI)

	text, err := client.ReadResource(context.Background(), resources[0].URI)
	require.NoError(t, err)
	assert.Contains(t, text, "cleaned_record_count")
}

func TestClientSurvivesDialContextCancel(t *testing.T) {
	srv, _ := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	client, err := Dial(ctx, Config{BaseURL: srv.URL, CallTimeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	// The dial context only bounds the handshake; releasing it must not
	// tear the stream down.
	cancel()
	time.Sleep(100 * time.Millisecond)

	listed, err := client.ListTools(context.Background())
	require.NoError(t, err)
	assert.Len(t, listed, 4)
}

func TestClientAuthFailureIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	_, err := Dial(ctx, Config{BaseURL: srv.URL, Token: "wrong"})
	require.Error(t, err)

	var authErr *AuthenticationFailedError
	assert.ErrorAs(t, err, &authErr)
	// A fatal rejection returns immediately instead of backing off.
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestClientServerShutdownStopsClient(t *testing.T) {
	srv, manager := newTestServer(t)
	client := dialTest(t, srv)

	// Make sure the session is live before pulling it down.
	_, err := client.ListTools(context.Background())
	require.NoError(t, err)

	manager.CloseAll()

	require.Eventually(t, func() bool {
		_, err := client.ListTools(context.Background())
		return err != nil
	}, 3*time.Second, 50*time.Millisecond)
}

func TestBackoffBounds(t *testing.T) {
	b := newBackoff()

	first := b.delay(0)
	assert.GreaterOrEqual(t, first, time.Duration(float64(backoffBase)*(1-backoffJitter)))
	assert.LessOrEqual(t, first, time.Duration(float64(backoffBase)*(1+backoffJitter)))

	// Growth is monotone up to the cap.
	huge := b.delay(20)
	assert.LessOrEqual(t, huge, time.Duration(float64(backoffCap)*(1+backoffJitter)))
}

func TestFlattenContent(t *testing.T) {
	out := FlattenContent([]ContentBlock{
		{Type: "text", Text: "first"},
		{Type: "image"},
		{Type: "text", Text: "second"},
	})
	assert.Equal(t, "first\n[non-text: image]\nsecond", out)

	assert.Equal(t, "", FlattenContent(nil))
}
