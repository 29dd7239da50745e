package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"

	vo "github.com/crosszan/nblm/vo/notebooklm_vo"
)

// ReqIDCounter hands out monotonically increasing _reqid values.
// Safe for concurrent use.
type ReqIDCounter struct {
	v atomic.Int64
}

// NewReqIDCounter starts a counter at seed; the first Next returns seed+ReqIDStep
func NewReqIDCounter(seed int64) *ReqIDCounter {
	c := &ReqIDCounter{}
	c.v.Store(seed)
	return c
}

// Next advances the counter by ReqIDStep and returns the new value
func (c *ReqIDCounter) Next() int64 {
	return c.v.Add(ReqIDStep)
}

// Current returns the last value handed out
func (c *ReqIDCounter) Current() int64 {
	return c.v.Load()
}

// URLParams carries the query-string values shared by every endpoint
type URLParams struct {
	BuildLabel string
	Language   string
	SessionID  string
	ReqID      int64
}

// ResolveBuildLabel applies the bl priority: override > extracted > fallback
func ResolveBuildLabel(override, extracted string) string {
	if override != "" {
		return override
	}
	if extracted != "" {
		return extracted
	}
	return BuildLabelFallback
}

// compactJSON marshals without HTML escaping and without trailing newline
func compactJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// EncodeRPCRequest builds the triple-nested array structure for batchexecute
// Format: [[[rpc_id, json_params, null, "generic"]]]
func EncodeRPCRequest(method vo.RPCMethod, params any) ([]any, error) {
	if method == "" {
		return nil, fmt.Errorf("%w: empty rpc id", ErrInvalidFormat)
	}
	paramsJSON, err := compactJSON(params)
	if err != nil {
		return nil, err
	}

	inner := []any{string(method), paramsJSON, nil, "generic"}
	return []any{[]any{inner}}, nil
}

// BuildRequestBody creates the form-encoded request body
func BuildRequestBody(rpcRequest any, csrfToken string) (string, error) {
	fReq, err := compactJSON(rpcRequest)
	if err != nil {
		return "", err
	}

	body := "f.req=" + url.QueryEscape(fReq) + "&"
	if csrfToken != "" {
		body += "at=" + url.QueryEscape(csrfToken) + "&"
	}

	return body, nil
}

// BuildURL constructs the batchexecute URL with query parameters
func BuildURL(ep Endpoints, method vo.RPCMethod, sourcePath string, p URLParams) string {
	params := commonParams(p)
	params.Set("rpcids", string(method))
	if sourcePath == "" {
		sourcePath = "/"
	}
	params.Set("source-path", sourcePath)

	return ep.BatchExecute + "?" + params.Encode()
}

// BuildQueryURL constructs the chat/query endpoint URL
func BuildQueryURL(ep Endpoints, p URLParams) string {
	return ep.Query + "?" + commonParams(p).Encode()
}

func commonParams(p URLParams) url.Values {
	params := url.Values{}
	params.Set("bl", ResolveBuildLabel("", p.BuildLabel))
	lang := p.Language
	if lang == "" {
		lang = DefaultLanguage
	}
	params.Set("hl", lang)
	params.Set("_reqid", strconv.FormatInt(p.ReqID, 10))
	params.Set("rt", "c") // chunked response mode
	if p.SessionID != "" {
		params.Set("f.sid", p.SessionID)
	}
	return params
}

// BuildQueryParams assembles the parameter tree of a streamed chat query.
// history is nil for a new conversation.
func BuildQueryParams(question string, sourceIDs []string, history []any, conversationID string) []any {
	// Build source array: [[[sid]] for each source]
	sources := make([]any, len(sourceIDs))
	for i, sid := range sourceIDs {
		sources[i] = []any{[]any{sid}}
	}

	var hist any
	if len(history) > 0 {
		hist = history
	}

	return []any{
		sources,
		question,
		hist,
		[]any{2, nil, []any{1}},
		conversationID,
	}
}

// EncodeQueryRequest builds the chat request body: f.req=[null, json_params]
func EncodeQueryRequest(params any, csrfToken string) (string, error) {
	paramsJSON, err := compactJSON(params)
	if err != nil {
		return "", err
	}
	return BuildRequestBody([]any{nil, paramsJSON}, csrfToken)
}

// DecodedRequest is the inverse view of an encoded body, used for debugging
type DecodedRequest struct {
	RPCID     string
	Params    any
	CSRFToken string
}

// DecodeRequestBody parses a body produced by BuildRequestBody or EncodeQueryRequest
func DecodeRequestBody(body string) (*DecodedRequest, error) {
	values, err := url.ParseQuery(strings.TrimSuffix(body, "&"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	raw := values.Get("f.req")
	if raw == "" {
		return nil, fmt.Errorf("%w: missing f.req", ErrInvalidFormat)
	}

	var fReq []any
	if err := json.Unmarshal([]byte(raw), &fReq); err != nil {
		return nil, fmt.Errorf("%w: f.req: %v", ErrInvalidFormat, err)
	}

	out := &DecodedRequest{CSRFToken: values.Get("at")}

	var paramsJSON string
	switch {
	// query envelope: [null, "<params>"]
	case len(fReq) == 2 && fReq[0] == nil:
		s, ok := fReq[1].(string)
		if !ok {
			return nil, fmt.Errorf("%w: query params not a string", ErrInvalidFormat)
		}
		paramsJSON = s
	// batchexecute envelope: [[[rpc_id, "<params>", null, "generic"]]]
	default:
		call, ok := Index(fReq, 0, 0)
		callArr, isArr := call.([]any)
		if !ok || !isArr || len(callArr) < 2 {
			return nil, fmt.Errorf("%w: unexpected envelope", ErrInvalidFormat)
		}
		out.RPCID, _ = callArr[0].(string)
		s, ok := callArr[1].(string)
		if !ok {
			return nil, fmt.Errorf("%w: rpc params not a string", ErrInvalidFormat)
		}
		paramsJSON = s
	}

	if err := json.Unmarshal([]byte(paramsJSON), &out.Params); err != nil {
		return nil, fmt.Errorf("%w: params: %v", ErrInvalidFormat, err)
	}
	return out, nil
}
