// Package notebooklmvo defines value objects for NotebookLM API
package notebooklmvo

import (
	"sort"
	"strings"
	"time"
)

// Notebook represents a NotebookLM notebook
type Notebook struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	SourceCount int       `json:"source_count,omitempty"`
	SourceIDs   []string  `json:"source_ids,omitempty"`
}

// Source represents a source document in a notebook
type Source struct {
	ID         string    `json:"id"`
	NotebookID string    `json:"notebook_id"`
	Title      string    `json:"title"`
	SourceType string    `json:"source_type"` // url, youtube, text, file
	URL        string    `json:"url,omitempty"`
	Status     string    `json:"status"` // processing, ready, error
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// CitationMap links citation numbers in an answer to source ids.
// Citation numbers are 1-indexed by passage order.
type CitationMap struct {
	SourcesUsed []string       `json:"sources_used"`
	Citations   map[int]string `json:"citations"`
}

// IsEmpty reports whether no citation could be resolved
func (c CitationMap) IsEmpty() bool {
	return len(c.Citations) == 0
}

// AskResult represents the response from a chat query
type AskResult struct {
	Answer         string         `json:"answer"`
	ConversationID string         `json:"conversation_id"`
	TurnNumber     int            `json:"turn_number"`
	IsFollowUp     bool           `json:"is_follow_up"`
	SourcesUsed    []string       `json:"sources_used"`
	Citations      map[int]string `json:"citations"`
	RawPreview     string         `json:"raw_response,omitempty"`
}

// ConversationTurn represents a single turn in a conversation
type ConversationTurn struct {
	Query      string `json:"query"`
	Answer     string `json:"answer"`
	TurnNumber int    `json:"turn_number"`
}

// UploadSession is the per-call state of a resumable upload
type UploadSession struct {
	SourceID    string `json:"source_id"`
	UploadURL   string `json:"upload_url"`
	FileSize    int64  `json:"file_size"`
	ContentType string `json:"content_type"`
}

// AuthTokens holds authentication credentials
type AuthTokens struct {
	Cookies     map[string]string `json:"cookies"`
	CSRFToken   string            `json:"csrf_token"`
	SessionID   string            `json:"session_id"`
	BuildLabel  string            `json:"build_label,omitempty"`
	ExtractedAt time.Time         `json:"extracted_at,omitempty"`
}

// CookieHeader returns cookies formatted as HTTP header value.
// Names are emitted in sorted order so the header is stable.
func (a *AuthTokens) CookieHeader() string {
	if len(a.Cookies) == 0 {
		return ""
	}
	names := make([]string, 0, len(a.Cookies))
	for k := range a.Cookies {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, k := range names {
		if b.Len() > 0 {
			b.WriteString("; ")
		}
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(a.Cookies[k])
	}
	return b.String()
}

// Clone returns a deep copy
func (a *AuthTokens) Clone() *AuthTokens {
	out := *a
	out.Cookies = make(map[string]string, len(a.Cookies))
	for k, v := range a.Cookies {
		out.Cookies[k] = v
	}
	return &out
}
