package notebooklm

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/crosszan/nblm/repos/notebooklm/rpc"
	vo "github.com/crosszan/nblm/vo/notebooklm_vo"
)

const moduleChat = "notebooklm.chat"

// ========== Chat Operations ==========

// Ask starts a new conversation with a question
func (c *Client) Ask(ctx context.Context, notebookID, question string, sourceIDs []string) (*vo.AskResult, error) {
	return c.Query(ctx, notebookID, question, "", sourceIDs)
}

// Query sends a question to the notebook. An empty conversationID starts a new
// conversation; otherwise cached turns of that conversation are replayed.
// With no sourceIDs every source of the notebook is queried.
func (c *Client) Query(ctx context.Context, notebookID, question, conversationID string, sourceIDs []string) (*vo.AskResult, error) {
	ctx, cancel := callContext(ctx, c.cfg.QueryTimeout)
	defer cancel()

	if len(sourceIDs) == 0 {
		ids, err := c.Sources.IDs(ctx, notebookID)
		if err != nil {
			return nil, fmt.Errorf("failed to get source IDs: %w", err)
		}
		sourceIDs = ids
	}
	if len(sourceIDs) == 0 {
		return nil, fmt.Errorf("%w: notebook %s has no sources to query", rpc.ErrValidation, notebookID)
	}

	isFollowUp := conversationID != ""
	if !isFollowUp {
		conversationID = uuid.NewString()
	}

	release, err := c.conversations.Acquire(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	defer release()

	history := c.conversations.BuildHistory(conversationID)
	params := rpc.BuildQueryParams(question, sourceIDs, history, conversationID)

	var (
		outcome rpc.QueryOutcome
		raw     string
	)
	err = c.withAuthRecovery(ctx, "query", func() error {
		return c.withRetry(ctx, "query", func() error {
			var err error
			outcome, raw, err = c.doQuery(ctx, params)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	answer := outcome.Text()
	switch {
	case outcome.HasNoise():
		c.log.Warn(moduleChat, "answer arrived together with error signals", map[string]interface{}{
			"conversation_id": conversationID,
			"errors":          len(outcome.Errors),
			"first_code":      outcome.Errors[0].Code,
		})
	case answer == "":
		c.log.Warn(moduleChat, "query returned no answer", map[string]interface{}{
			"conversation_id": conversationID,
			"preview":         rpc.Truncate(raw, previewLimit),
		})
	}

	result := &vo.AskResult{
		Answer:         answer,
		ConversationID: conversationID,
		IsFollowUp:     isFollowUp,
		SourcesUsed:    outcome.Citations.SourcesUsed,
		Citations:      outcome.Citations.Citations,
		RawPreview:     rpc.Truncate(raw, previewLimit),
	}

	if answer != "" {
		result.TurnNumber = c.conversations.Append(conversationID, question, answer).TurnNumber
	} else {
		result.TurnNumber = c.conversations.Len(conversationID)
	}

	c.log.Debug(moduleChat, "query answered", map[string]interface{}{
		"conversation_id": conversationID,
		"turn":            result.TurnNumber,
		"follow_up":       isFollowUp,
		"answer_runes":    len([]rune(answer)),
		"sources_used":    len(result.SourcesUsed),
	})
	return result, nil
}

// doQuery performs a single streamed query attempt. A rejection without
// answer text comes back as the error.
func (c *Client) doQuery(ctx context.Context, params []any) (rpc.QueryOutcome, string, error) {
	if err := c.ensureTokens(ctx); err != nil {
		return rpc.QueryOutcome{}, "", err
	}

	snap := c.creds.Snapshot()
	body, err := rpc.EncodeQueryRequest(params, snap.CSRFToken)
	if err != nil {
		return rpc.QueryOutcome{}, "", fmt.Errorf("failed to encode chat request: %w", err)
	}

	reqURL := rpc.BuildQueryURL(c.endpoints, c.urlParams(snap))
	raw, err := c.post(ctx, "query", reqURL, body)
	if err != nil {
		return rpc.QueryOutcome{}, "", err
	}

	outcome := rpc.ParseQueryResponse(raw)
	if err := outcome.Err(); err != nil {
		return outcome, raw, err
	}
	return outcome, raw, nil
}

// History returns the cached turns of a conversation, oldest first
func (c *Client) History(conversationID string) []vo.ConversationTurn {
	return c.conversations.History(conversationID)
}

// ClearConversation forgets a conversation and reports whether it existed
func (c *Client) ClearConversation(conversationID string) bool {
	return c.conversations.Clear(conversationID)
}
