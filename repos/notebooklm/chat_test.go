package notebooklm

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosszan/nblm/repos/notebooklm/rpc"
	vo "github.com/crosszan/nblm/vo/notebooklm_vo"
)

const (
	firstAnswer  = "The sources describe three approaches to caching [1][2]."
	secondAnswer = "The second approach trades memory for latency [1]."
)

// queryParams unpacks [sources, question, history, options, conversation_id]
func queryParams(t *testing.T, req *rpc.DecodedRequest) []any {
	t.Helper()
	params, ok := req.Params.([]any)
	require.True(t, ok)
	require.Len(t, params, 5)
	return params
}

func TestAskNewConversation(t *testing.T) {
	b := newFakeBackend(t)
	b.onRPC(vo.RPCGetNotebook, respond(t, vo.RPCGetNotebook, notebookWithSources("nb1", "s1", "s2")))
	b.onQuery(func(w http.ResponseWriter, r *http.Request, req *rpc.DecodedRequest) {
		writeFrames(t, w,
			answerChunk(t, "Looking through the notebook sources now...", 2),
			answerChunk(t, firstAnswer, 1, "s2", "s1", "s2"),
		)
	})
	c := newTestClient(t, b)

	res, err := c.Ask(context.Background(), "nb1", "How is caching handled?", nil)
	require.NoError(t, err)

	assert.Equal(t, firstAnswer, res.Answer)
	assert.False(t, res.IsFollowUp)
	assert.Equal(t, 1, res.TurnNumber)
	assert.Equal(t, []string{"s2", "s1"}, res.SourcesUsed)
	assert.Equal(t, map[int]string{1: "s2", 2: "s1", 3: "s2"}, res.Citations)
	_, err = uuid.Parse(res.ConversationID)
	assert.NoError(t, err)

	reqs := b.queryRequests()
	require.Len(t, reqs, 1)
	assert.Equal(t, testBuildLabel, reqs[0].Query.Get("bl"))
	assert.Empty(t, reqs[0].Query.Get("rpcids"))

	decoded, err := rpc.DecodeRequestBody(reqs[0].Body)
	require.NoError(t, err)
	assert.Equal(t, testCSRF, decoded.CSRFToken)
	params := queryParams(t, decoded)
	assert.Equal(t, []any{[]any{[]any{"s1"}}, []any{[]any{"s2"}}}, params[0])
	assert.Equal(t, "How is caching handled?", params[1])
	assert.Nil(t, params[2])
	assert.Equal(t, res.ConversationID, params[4])
}

func TestQueryFollowUpReplaysHistory(t *testing.T) {
	b := newFakeBackend(t)
	answers := []string{firstAnswer, secondAnswer}
	var turn atomic.Int32
	b.onQuery(func(w http.ResponseWriter, r *http.Request, req *rpc.DecodedRequest) {
		writeFrames(t, w, answerChunk(t, answers[turn.Add(1)-1], 1, "s1"))
	})
	c := newTestClient(t, b)
	ctx := context.Background()

	first, err := c.Query(ctx, "nb1", "q1", "", []string{"s1"})
	require.NoError(t, err)

	second, err := c.Query(ctx, "nb1", "q2", first.ConversationID, []string{"s1"})
	require.NoError(t, err)
	assert.Equal(t, secondAnswer, second.Answer)
	assert.True(t, second.IsFollowUp)
	assert.Equal(t, 2, second.TurnNumber)
	assert.Equal(t, first.ConversationID, second.ConversationID)

	reqs := b.queryRequests()
	require.Len(t, reqs, 2)
	decoded, err := rpc.DecodeRequestBody(reqs[1].Body)
	require.NoError(t, err)
	params := queryParams(t, decoded)
	assert.Equal(t, []any{
		[]any{firstAnswer, nil, float64(vo.HistoryRoleAssistant)},
		[]any{"q1", nil, float64(vo.HistoryRoleUser)},
	}, params[2])
	assert.Equal(t, first.ConversationID, params[4])

	history := c.History(first.ConversationID)
	require.Len(t, history, 2)
	assert.Equal(t, "q2", history[1].Query)

	assert.True(t, c.ClearConversation(first.ConversationID))
	assert.Empty(t, c.History(first.ConversationID))
}

func TestQueryCallerConversationIsFollowUp(t *testing.T) {
	b := newFakeBackend(t)
	b.onQuery(func(w http.ResponseWriter, r *http.Request, req *rpc.DecodedRequest) {
		assert.Nil(t, queryParams(t, req)[2])
		writeFrames(t, w, answerChunk(t, firstAnswer, 1))
	})
	c := newTestClient(t, b)

	res, err := c.Query(context.Background(), "nb1", "q", "conv-from-elsewhere", []string{"s1"})
	require.NoError(t, err)
	assert.True(t, res.IsFollowUp)
	assert.Equal(t, "conv-from-elsewhere", res.ConversationID)
	assert.Equal(t, 1, res.TurnNumber)
}

func TestQuerySameConversationIsSerialized(t *testing.T) {
	b := newFakeBackend(t)
	var (
		mu           sync.Mutex
		historySizes []int
	)
	b.onQuery(func(w http.ResponseWriter, r *http.Request, req *rpc.DecodedRequest) {
		history, _ := queryParams(t, req)[2].([]any)
		mu.Lock()
		historySizes = append(historySizes, len(history))
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		writeFrames(t, w, answerChunk(t, firstAnswer, 1))
	})
	c := newTestClient(t, b)
	ctx := context.Background()

	first, err := c.Ask(ctx, "nb1", "q1", []string{"s1"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	turns := make([]int, 2)
	for i := range turns {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := c.Query(ctx, "nb1", "follow-up", first.ConversationID, []string{"s1"})
			assert.NoError(t, err)
			if res != nil {
				turns[i] = res.TurnNumber
			}
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 2, 4}, historySizes)
	assert.ElementsMatch(t, []int{2, 3}, turns)
	assert.Len(t, c.History(first.ConversationID), 3)
}

func TestQueryWaitingForConversationHonoursContext(t *testing.T) {
	c := NewClient(&vo.AuthTokens{Cookies: map[string]string{"SID": "a"}})
	release, err := c.Conversations().Acquire(context.Background(), "conv")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Query(ctx, "nb1", "q", "conv", []string{"s1"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueryRejected(t *testing.T) {
	b := newFakeBackend(t)
	b.onQuery(func(w http.ResponseWriter, r *http.Request, req *rpc.DecodedRequest) {
		writeFrames(t, w, errorChunk(8, "type.googleapis.com/google.rpc.QuotaFailure"))
	})
	c := newTestClient(t, b)

	res, err := c.Query(context.Background(), "nb1", "q", "", []string{"s1"})
	assert.Nil(t, res)
	var rej *rpc.RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, 8, rej.Code)
	assert.Equal(t, "RESOURCE_EXHAUSTED", rej.CodeName)
	assert.Contains(t, rej.ErrorType, "QuotaFailure")
	// rejections are not transport failures
	assert.Len(t, b.queryRequests(), 1)
}

func TestQueryAnswerBeatsErrorSignal(t *testing.T) {
	b := newFakeBackend(t)
	b.onQuery(func(w http.ResponseWriter, r *http.Request, req *rpc.DecodedRequest) {
		writeFrames(t, w, errorChunk(3, ""), answerChunk(t, firstAnswer, 1))
	})
	c := newTestClient(t, b)

	res, err := c.Query(context.Background(), "nb1", "q", "", []string{"s1"})
	require.NoError(t, err)
	assert.Equal(t, firstAnswer, res.Answer)
}

func TestQueryEmptyAnswerNotCached(t *testing.T) {
	b := newFakeBackend(t)
	b.onQuery(func(w http.ResponseWriter, r *http.Request, req *rpc.DecodedRequest) {
		writeFrames(t, w, answerChunk(t, "too short", 1))
	})
	c := newTestClient(t, b)

	res, err := c.Query(context.Background(), "nb1", "q", "", []string{"s1"})
	require.NoError(t, err)
	assert.Empty(t, res.Answer)
	assert.Zero(t, res.TurnNumber)
	assert.Zero(t, c.Conversations().Len(res.ConversationID))
	assert.True(t, strings.HasPrefix(res.RawPreview, rpc.AntiXSSIPrefix))
}

func TestQueryUnauthenticatedSignalRecovers(t *testing.T) {
	b := newFakeBackend(t)
	var calls atomic.Int32
	b.onQuery(func(w http.ResponseWriter, r *http.Request, req *rpc.DecodedRequest) {
		if calls.Add(1) == 1 {
			writeFrames(t, w, errorChunk(rpc.CodeUnauthenticated, ""))
			return
		}
		writeFrames(t, w, answerChunk(t, firstAnswer, 1))
	})
	c := newTestClient(t, b)

	res, err := c.Query(context.Background(), "nb1", "q", "", []string{"s1"})
	require.NoError(t, err)
	assert.Equal(t, firstAnswer, res.Answer)
	assert.Equal(t, 2, b.homepageHits())
}

func TestQueryNotebookWithoutSources(t *testing.T) {
	b := newFakeBackend(t)
	b.onRPC(vo.RPCGetNotebook, respond(t, vo.RPCGetNotebook, notebookWithSources("nb1")))
	c := newTestClient(t, b)

	_, err := c.Ask(context.Background(), "nb1", "q", nil)
	assert.ErrorIs(t, err, rpc.ErrValidation)
	assert.Empty(t, b.queryRequests())
}
