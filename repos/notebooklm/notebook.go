package notebooklm

import (
	"context"
	"fmt"

	"github.com/crosszan/nblm/repos/notebooklm/rpc"
	vo "github.com/crosszan/nblm/vo/notebooklm_vo"
)

// rpcCaller is the part of the gateway the sub-clients need
type rpcCaller interface {
	rpcCall(ctx context.Context, method vo.RPCMethod, params []any, sourcePath string) (any, error)
	rpcCallOnce(ctx context.Context, method vo.RPCMethod, params []any, sourcePath string) (any, error)
}

func notebookPath(notebookID string) string {
	return "/notebook/" + notebookID
}

// projectSettings is the trailing [1, null x9, [1]] block shared by create and upload
func projectSettings() []any {
	return []any{1, nil, nil, nil, nil, nil, nil, nil, nil, nil, []any{1}}
}

// ========== Notebook Operations ==========

// NotebookService groups the notebook RPCs
type NotebookService struct {
	caller rpcCaller
}

// List returns all notebooks
func (s *NotebookService) List(ctx context.Context) ([]vo.Notebook, error) {
	params := []any{nil, 1, nil, []any{2}}
	result, err := s.caller.rpcCall(ctx, vo.RPCListNotebooks, params, "/")
	if err != nil {
		return nil, err
	}
	return parseNotebookList(result), nil
}

// Create creates a new notebook
func (s *NotebookService) Create(ctx context.Context, title string) (*vo.Notebook, error) {
	params := []any{title, nil, nil, []any{2}, projectSettings()}
	result, err := s.caller.rpcCall(ctx, vo.RPCCreateNotebook, params, "/")
	if err != nil {
		return nil, err
	}

	nb, err := parseNotebook(result)
	if err != nil {
		return nil, fmt.Errorf("failed to create notebook: %w", err)
	}
	if nb.Title == "" {
		nb.Title = title
	}
	return nb, nil
}

// Get retrieves a notebook by ID
func (s *NotebookService) Get(ctx context.Context, notebookID string) (*vo.Notebook, error) {
	result, err := s.caller.rpcCall(ctx, vo.RPCGetNotebook, getNotebookParams(notebookID), notebookPath(notebookID))
	if err != nil {
		return nil, err
	}

	entry, ok := rpc.Index(result, 0)
	if !ok {
		return nil, fmt.Errorf("%w: invalid notebook response", rpc.ErrInvalidFormat)
	}
	return parseNotebook(entry)
}

// Rename renames a notebook
func (s *NotebookService) Rename(ctx context.Context, notebookID, newTitle string) error {
	params := []any{notebookID, []any{[]any{nil, nil, nil, []any{nil, newTitle}}}}
	_, err := s.caller.rpcCall(ctx, vo.RPCRenameNotebook, params, notebookPath(notebookID))
	return err
}

// Delete deletes a notebook permanently
func (s *NotebookService) Delete(ctx context.Context, notebookID string) error {
	params := []any{[]any{notebookID}, []any{2}}
	_, err := s.caller.rpcCall(ctx, vo.RPCDeleteNotebook, params, "/")
	return err
}

func getNotebookParams(notebookID string) []any {
	return []any{notebookID, nil, []any{2}, nil, 0}
}
