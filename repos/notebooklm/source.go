package notebooklm

import (
	"context"
	"fmt"

	vo "github.com/crosszan/nblm/vo/notebooklm_vo"
)

// ========== Source Operations ==========

// SourceService groups the source RPCs of a notebook
type SourceService struct {
	caller rpcCaller
}

// List returns all sources in a notebook
func (s *SourceService) List(ctx context.Context, notebookID string) ([]vo.Source, error) {
	result, err := s.caller.rpcCall(ctx, vo.RPCGetNotebook, getNotebookParams(notebookID), notebookPath(notebookID))
	if err != nil {
		return nil, err
	}
	return parseSourceList(result, notebookID), nil
}

// IDs returns the source ids of a notebook in listing order
func (s *SourceService) IDs(ctx context.Context, notebookID string) ([]string, error) {
	result, err := s.caller.rpcCall(ctx, vo.RPCGetNotebook, getNotebookParams(notebookID), notebookPath(notebookID))
	if err != nil {
		return nil, err
	}
	return extractSourceIDs(result), nil
}

// AddURL adds a URL source to a notebook.
// YouTube links go in a different slot of the request.
func (s *SourceService) AddURL(ctx context.Context, notebookID, sourceURL string) (*vo.Source, error) {
	var params []any

	if isYouTubeURL(sourceURL) {
		// [[[null x7, [url], null, null, 1]], notebook_id, [2], settings]
		params = []any{
			[]any{[]any{nil, nil, nil, nil, nil, nil, nil, []any{sourceURL}, nil, nil, 1}},
			notebookID,
			[]any{2},
			projectSettings(),
		}
	} else {
		// [[[null, null, [url], null x5]], notebook_id, [2], null, null]
		params = []any{
			[]any{[]any{nil, nil, []any{sourceURL}, nil, nil, nil, nil, nil}},
			notebookID,
			[]any{2},
			nil,
			nil,
		}
	}

	result, err := s.caller.rpcCall(ctx, vo.RPCAddSource, params, notebookPath(notebookID))
	if err != nil {
		return nil, err
	}

	source, err := parseSourceFromAdd(result, notebookID)
	if err != nil {
		return nil, fmt.Errorf("failed to add source: %w", err)
	}

	// the response may omit the url
	if source.URL == "" {
		source.URL = sourceURL
	}
	source.SourceType = detectSourceType(source.URL, source.Title)
	return source, nil
}

// AddText adds a pasted text source to a notebook
func (s *SourceService) AddText(ctx context.Context, notebookID, title, content string) (*vo.Source, error) {
	params := []any{
		[]any{[]any{nil, []any{title, content}, nil, nil, nil, nil, nil, nil}},
		notebookID,
		[]any{2},
		nil,
		nil,
	}
	result, err := s.caller.rpcCall(ctx, vo.RPCAddSource, params, notebookPath(notebookID))
	if err != nil {
		return nil, err
	}

	source, err := parseSourceFromAdd(result, notebookID)
	if err != nil {
		return nil, fmt.Errorf("failed to add source: %w", err)
	}
	if source.Title == "" {
		source.Title = title
	}
	source.SourceType = "text"
	return source, nil
}

// Delete removes a source from a notebook
func (s *SourceService) Delete(ctx context.Context, notebookID, sourceID string) error {
	params := []any{[]any{[]any{sourceID}}}
	_, err := s.caller.rpcCall(ctx, vo.RPCDeleteSource, params, notebookPath(notebookID))
	return err
}
