package notebooklm

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/crosszan/nblm/repos/notebooklm/rpc"
	vo "github.com/crosszan/nblm/vo/notebooklm_vo"
)

const (
	testCSRF       = "csrf-token-1"
	testSessionID  = "-4242"
	testBuildLabel = "boq_labs-tailwind-frontend_20250101.00_p0"
)

var testHomepage = `<html><script>window.WIZ_global_data = {"SNlM0e":"` + testCSRF +
	`","FdrFJe":"` + testSessionID + `","cfb2h":"` + testBuildLabel + `"};</script></html>`

// recorded is one request seen by the fake backend
type recorded struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   string
}

// rpcHandler answers one batchexecute or query call; req is the decoded f.req body
type rpcHandler func(w http.ResponseWriter, r *http.Request, req *rpc.DecodedRequest)

// fakeBackend is an httptest server that speaks enough of the NotebookLM wire format
type fakeBackend struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	requests []recorded
	homepage http.HandlerFunc
	rpcs     map[vo.RPCMethod]rpcHandler
	query    rpcHandler
	upload   http.HandlerFunc
	stream   http.HandlerFunc
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{
		t:    t,
		rpcs: make(map[vo.RPCMethod]rpcHandler),
		homepage: func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, testHomepage)
		},
	}
	b.srv = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) endpoints() rpc.Endpoints {
	return rpc.EndpointsFor(b.srv.URL + "/")
}

// streamURL is handed out as the resumable session URL
func (b *fakeBackend) streamURL() string {
	return b.srv.URL + "/upload/session/abc"
}

func (b *fakeBackend) serve(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	require.NoError(b.t, err)

	b.mu.Lock()
	b.requests = append(b.requests, recorded{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Header: r.Header.Clone(),
		Body:   string(body),
	})
	homepage, query, upload, stream := b.homepage, b.query, b.upload, b.stream
	handler := b.rpcs[vo.RPCMethod(r.URL.Query().Get("rpcids"))]
	b.mu.Unlock()

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/":
		homepage(w, r)
	case r.URL.Path == "/"+rpc.BatchExecutePath:
		if handler == nil {
			http.Error(w, "unknown rpc", http.StatusBadRequest)
			return
		}
		handler(w, r, b.decode(string(body)))
	case r.URL.Path == "/"+rpc.QueryPath:
		if query == nil {
			http.Error(w, "no query handler", http.StatusBadRequest)
			return
		}
		query(w, r, b.decode(string(body)))
	case r.URL.Path == "/"+rpc.UploadPath && upload != nil:
		upload(w, r)
	case strings.HasPrefix(r.URL.Path, "/upload/session/") && stream != nil:
		stream(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (b *fakeBackend) decode(body string) *rpc.DecodedRequest {
	req, err := rpc.DecodeRequestBody(body)
	require.NoError(b.t, err)
	return req
}

func (b *fakeBackend) onRPC(method vo.RPCMethod, h rpcHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rpcs[method] = h
}

func (b *fakeBackend) onQuery(h rpcHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.query = h
}

func (b *fakeBackend) onUpload(start, stream http.HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.upload, b.stream = start, stream
}

func (b *fakeBackend) onHomepage(h http.HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.homepage = h
}

// requestsTo returns recorded requests whose path matches
func (b *fakeBackend) requestsTo(path string) []recorded {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []recorded
	for _, r := range b.requests {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

func (b *fakeBackend) rpcRequests() []recorded {
	return b.requestsTo("/" + rpc.BatchExecutePath)
}

func (b *fakeBackend) queryRequests() []recorded {
	return b.requestsTo("/" + rpc.QueryPath)
}

func (b *fakeBackend) homepageHits() int {
	n := 0
	for _, r := range b.requestsTo("/") {
		if r.Method == http.MethodGet {
			n++
		}
	}
	return n
}

// newTestClient builds a client against the fake backend with fast retries
func newTestClient(t *testing.T, b *fakeBackend, opts ...Option) *Client {
	t.Helper()
	cfg := DefaultConfig()
	cfg.RetryDelay = time.Millisecond
	cfg.RPCTimeout = 5 * time.Second
	cfg.QueryTimeout = 5 * time.Second
	cfg.UploadTimeout = 5 * time.Second

	base := []Option{
		WithConfig(cfg),
		WithEndpoints(b.endpoints()),
		WithHTTPClient(b.srv.Client()),
	}
	return NewClient(&vo.AuthTokens{Cookies: map[string]string{"SID": "sid-cookie", "HSID": "hsid"}}, append(base, opts...)...)
}

// writeFrames writes chunks as an anti-XSSI prefixed, length-framed stream
func writeFrames(t *testing.T, w io.Writer, chunks ...any) {
	t.Helper()
	var sb strings.Builder
	sb.WriteString(rpc.AntiXSSIPrefix + "\n")
	for _, c := range chunks {
		line, err := json.Marshal(c)
		require.NoError(t, err)
		sb.WriteString(strconv.Itoa(len(line)) + "\n")
		sb.Write(line)
		sb.WriteString("\n")
	}
	_, err := io.WriteString(w, sb.String())
	require.NoError(t, err)
}

// rpcResult wraps payload as the batchexecute result for method
func rpcResult(t *testing.T, method vo.RPCMethod, payload any) []any {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return []any{[]any{"wrb.fr", string(method), string(raw), nil, nil, nil, "generic"}}
}

// respond is an rpcHandler returning payload for method
func respond(t *testing.T, method vo.RPCMethod, payload any) rpcHandler {
	return func(w http.ResponseWriter, r *http.Request, _ *rpc.DecodedRequest) {
		writeFrames(t, w, rpcResult(t, method, payload))
	}
}

// answerChunk is one streamed query chunk. typeCode 1 is an answer, 2 a thinking step.
func answerChunk(t *testing.T, text string, typeCode int, citedSources ...string) []any {
	t.Helper()
	passages := make([]any, 0, len(citedSources))
	for _, sid := range citedSources {
		passages = append(passages, []any{
			[]any{"passage"},
			[]any{nil, nil, 0.5, nil, nil, []any{[]any{[]any{sid}}}},
		})
	}
	inner := []any{[]any{text, nil, []any{"conv"}, nil, []any{[]any{}, nil, nil, passages, typeCode}}}
	raw, err := json.Marshal(inner)
	require.NoError(t, err)
	return []any{[]any{"wrb.fr", nil, string(raw)}}
}

// errorChunk is a streamed chunk carrying an embedded error signal
func errorChunk(code int, typeName string) []any {
	return []any{[]any{"wrb.fr", nil, nil, nil, nil, []any{code, nil, []any{[]any{typeName}}}}}
}

// notebookWithSources is a get-notebook payload listing sourceIDs
func notebookWithSources(notebookID string, sourceIDs ...string) []any {
	sources := make([]any, 0, len(sourceIDs))
	for _, sid := range sourceIDs {
		sources = append(sources, []any{[]any{sid}, "Source " + sid, []any{nil, nil, nil, nil, nil, nil, nil, nil}, []any{nil, 2}})
	}
	return []any{[]any{"Research", sources, notebookID, "📓", nil, []any{nil, nil, nil, nil, nil, []any{1700000000, 0}, nil, nil, []any{1690000000, 500}}}}
}
