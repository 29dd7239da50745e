package rpc

import (
	"unicode/utf8"

	"github.com/tidwall/gjson"

	vo "github.com/crosszan/nblm/vo/notebooklm_vo"
)

// MinAnswerLength filters noise; candidate text must be longer than this (in runes)
const MinAnswerLength = 20

// Offsets inside the inner answer payload:
// [[answer_text, null, [conv_data], null, [fmt_segments, null, null, source_passages, type_code]]]
const (
	candidateText     = 0
	candidateTypeInfo = 4
	typeInfoPassages  = 3
)

// passageSourceIDPath reaches the parent source id: passage[1][5][0][0][0]
var passageSourceIDPath = []int{1, 5, 0, 0, 0}

// QueryOutcome is the decoded result of a streamed chat query.
// It carries either answer text or the error signals the backend sent.
type QueryOutcome struct {
	Answer    string
	Thinking  string
	Citations vo.CitationMap
	Errors    []ErrorSignal
}

// Text returns the answer, falling back to the longest thinking step
func (o QueryOutcome) Text() string {
	if o.Answer != "" {
		return o.Answer
	}
	return o.Thinking
}

// Rejection returns the first error signal when no text was produced.
// An answer alongside an error signal wins silently.
func (o QueryOutcome) Rejection() *RejectionError {
	if o.Text() != "" || len(o.Errors) == 0 {
		return nil
	}
	return o.Errors[0].Rejection()
}

// Err is the typed error for a rejected query, nil otherwise
func (o QueryOutcome) Err() error {
	if o.Rejection() == nil {
		return nil
	}
	return o.Errors[0].Err()
}

// HasNoise reports an answer that arrived together with error signals
func (o QueryOutcome) HasNoise() bool {
	return o.Text() != "" && len(o.Errors) > 0
}

// ParseQueryResponse decodes the streaming query response.
// The longest type-1 chunk wins; without one, the longest type-2 chunk.
func ParseQueryResponse(response string) QueryOutcome {
	return ExtractAnswer(ParseChunks(response))
}

// ExtractAnswer runs the error classifier and answer selection over decoded chunks
func ExtractAnswer(chunks []Chunk) QueryOutcome {
	var out QueryOutcome
	answerLen, thinkingLen := 0, 0

	for _, chunk := range chunks {
		if sig, ok := ExtractErrorSignal(chunk.Value); ok {
			out.Errors = append(out.Errors, sig)
			continue
		}

		c, ok := extractAnswerFromChunk(chunk.Value)
		if !ok {
			continue
		}
		n := utf8.RuneCountInString(c.text)
		if c.isAnswer {
			if n > answerLen {
				out.Answer, answerLen = c.text, n
				out.Citations = c.citations
			}
		} else if n > thinkingLen {
			out.Thinking, thinkingLen = c.text, n
		}
	}

	return out
}

type answerCandidate struct {
	text      string
	isAnswer  bool
	citations vo.CitationMap
}

// extractAnswerFromChunk looks at the first wrb.fr entry with a usable payload
func extractAnswerFromChunk(chunk any) (answerCandidate, bool) {
	for _, item := range resultEntries(chunk) {
		if tag, _ := item[0].(string); tag != tagResult || len(item) <= entryPayload {
			continue
		}
		payload, ok := item[entryPayload].(string)
		if !ok || !gjson.Valid(payload) {
			continue
		}

		inner := gjson.Parse(payload)
		first, ok := gjIndex(inner, 0)
		if !ok {
			continue
		}

		switch {
		case first.IsArray():
			text, ok := gjIndex(first, candidateText)
			if !ok || text.Type != gjson.String || utf8.RuneCountInString(text.Str) <= MinAnswerLength {
				continue
			}
			c := answerCandidate{text: text.Str}
			if typeInfo, ok := gjIndex(first, candidateTypeInfo); ok && typeInfo.IsArray() {
				c.isAnswer = turnType(typeInfo) == vo.TurnTypeAnswer
				if c.isAnswer {
					c.citations = extractCitations(typeInfo)
				}
			}
			return c, true
		case first.Type == gjson.String && utf8.RuneCountInString(first.Str) > MinAnswerLength:
			return answerCandidate{text: first.Str}, true
		}
	}

	return answerCandidate{}, false
}

// turnType reads the last element of the type-info array; absent means thinking
func turnType(typeInfo gjson.Result) vo.TurnType {
	arr := typeInfo.Array()
	if len(arr) == 0 {
		return vo.TurnTypeThinking
	}
	last := arr[len(arr)-1]
	if last.Type != gjson.Number || float64(last.Int()) != last.Num {
		return vo.TurnTypeThinking
	}
	return vo.TurnType(last.Int())
}

// extractCitations maps 1-indexed passage positions to source ids.
// Malformed passages are skipped individually.
func extractCitations(typeInfo gjson.Result) vo.CitationMap {
	passages, ok := gjIndex(typeInfo, typeInfoPassages)
	if !ok || !passages.IsArray() {
		return vo.CitationMap{}
	}

	citations := make(map[int]string)
	seen := make(map[string]bool)
	var used []string

	for i, passage := range passages.Array() {
		sid, ok := gjIndex(passage, passageSourceIDPath...)
		if !ok || sid.Type != gjson.String {
			continue
		}
		citations[i+1] = sid.Str
		if !seen[sid.Str] {
			seen[sid.Str] = true
			used = append(used, sid.Str)
		}
	}

	if len(citations) == 0 {
		return vo.CitationMap{}
	}
	return vo.CitationMap{SourcesUsed: used, Citations: citations}
}

// gjIndex is index() for gjson values: each level must be an array
func gjIndex(r gjson.Result, path ...int) (gjson.Result, bool) {
	cur := r
	for _, i := range path {
		if !cur.IsArray() {
			return gjson.Result{}, false
		}
		arr := cur.Array()
		if i < 0 || i >= len(arr) {
			return gjson.Result{}, false
		}
		cur = arr[i]
	}
	return cur, true
}
