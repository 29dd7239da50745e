package notebooklm

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/crosszan/nblm/repos/notebooklm/rpc"
	vo "github.com/crosszan/nblm/vo/notebooklm_vo"
)

// Notebook entry: [title, [sources], id, emoji, null, [metadata]]
const (
	nbTitle    = 0
	nbSources  = 1
	nbID       = 2
	nbMetadata = 5

	metaModified = 5
	metaCreated  = 8
)

// Source entry: [[id], title, [metadata], [_, status]]
const (
	srcID     = 0
	srcTitle  = 1
	srcMeta   = 2
	srcStatus = 3

	srcMetaURL    = 7
	srcStatusCode = 1
)

// parseNotebookList parses the list notebooks response; malformed entries are skipped
func parseNotebookList(data any) []vo.Notebook {
	list, ok := rpc.ListAt(data, 0)
	if !ok {
		list, _ = data.([]any)
	}

	notebooks := make([]vo.Notebook, 0, len(list))
	for _, item := range list {
		nb, err := parseNotebook(item)
		if err != nil {
			continue
		}
		notebooks = append(notebooks, *nb)
	}
	return notebooks
}

// parseNotebook parses a single notebook entry
func parseNotebook(data any) (*vo.Notebook, error) {
	id, ok := rpc.StringAt(data, nbID)
	if !ok || id == "" {
		return nil, fmt.Errorf("%w: notebook entry without id", rpc.ErrInvalidFormat)
	}

	nb := &vo.Notebook{ID: id}
	nb.Title, _ = rpc.StringAt(data, nbTitle)

	if sources, ok := rpc.ListAt(data, nbSources); ok {
		for _, src := range sources {
			if sid := sourceEntryID(src); sid != "" {
				nb.SourceIDs = append(nb.SourceIDs, sid)
			}
		}
		nb.SourceCount = len(nb.SourceIDs)
	}

	if ts, ok := rpc.Index(data, nbMetadata, metaModified); ok {
		nb.UpdatedAt = parseTimestamp(ts)
	}
	if ts, ok := rpc.Index(data, nbMetadata, metaCreated); ok {
		nb.CreatedAt = parseTimestamp(ts)
	}
	return nb, nil
}

// parseTimestamp converts [seconds, nanos]; zero time when malformed
func parseTimestamp(v any) time.Time {
	sec, ok := rpc.Index(v, 0)
	if !ok {
		return time.Time{}
	}
	s, ok := sec.(float64)
	if !ok {
		return time.Time{}
	}
	var nanos float64
	if n, ok := rpc.Index(v, 1); ok {
		nanos, _ = n.(float64)
	}
	return time.Unix(int64(s), int64(nanos)).UTC()
}

// sourceEntryID reads the id of a source entry: [id] or [[id]] at offset 0
func sourceEntryID(src any) string {
	if id, ok := rpc.StringAt(src, srcID, 0); ok {
		return id
	}
	if id, ok := rpc.StringAt(src, srcID, 0, 0); ok {
		return id
	}
	return ""
}

// extractSourceIDs reads source ids from a get-notebook response at [0][1][i][0][0]
func extractSourceIDs(data any) []string {
	sources, ok := rpc.ListAt(data, 0, nbSources)
	if !ok {
		return nil
	}
	var ids []string
	for _, src := range sources {
		if id := sourceEntryID(src); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// parseSourceList parses all sources from a get-notebook response
func parseSourceList(data any, notebookID string) []vo.Source {
	entries, ok := rpc.ListAt(data, 0, nbSources)
	if !ok {
		return []vo.Source{}
	}

	sources := make([]vo.Source, 0, len(entries))
	for _, entry := range entries {
		src, ok := parseSourceEntry(entry, notebookID)
		if !ok {
			continue
		}
		sources = append(sources, src)
	}
	return sources
}

func parseSourceEntry(entry any, notebookID string) (vo.Source, bool) {
	id := sourceEntryID(entry)
	if id == "" {
		return vo.Source{}, false
	}

	src := vo.Source{ID: id, NotebookID: notebookID, Status: "ready"}
	src.Title, _ = rpc.StringAt(entry, srcTitle)
	src.URL, _ = rpc.StringAt(entry, srcMeta, srcMetaURL, 0)

	if v, ok := rpc.Index(entry, srcStatus, srcStatusCode); ok {
		if code, ok := rpc.AsInt(v); ok {
			src.Status = sourceStatusName(code)
		}
	}

	src.SourceType = detectSourceType(src.URL, src.Title)
	return src, true
}

func sourceStatusName(code int) string {
	switch code {
	case vo.SourceStatusProcessing:
		return "processing"
	case vo.SourceStatusError:
		return "error"
	case vo.SourceStatusReady:
		return "ready"
	default:
		return "ready"
	}
}

// detectSourceType guesses url, youtube, pdf, file or text
func detectSourceType(sourceURL, title string) string {
	if sourceURL != "" {
		if isYouTubeURL(sourceURL) {
			return "youtube"
		}
		return "url"
	}
	ext := strings.ToLower(filepath.Ext(title))
	switch {
	case ext == ".pdf":
		return "pdf"
	case supportedExtensions[ext]:
		return "file"
	}
	return "text"
}

// parseSourceFromAdd parses the add-source response. The entry
// [[id], title, metadata, ...] sits a few array levels deep.
func parseSourceFromAdd(data any, notebookID string) (*vo.Source, error) {
	entry := findSourceEntry(data, 4)
	if entry == nil {
		return nil, fmt.Errorf("%w: could not extract source ID from response", rpc.ErrInvalidFormat)
	}

	src, _ := parseSourceEntry(entry, notebookID)
	src.Status = "processing"
	now := time.Now()
	src.CreatedAt, src.UpdatedAt = now, now
	return &src, nil
}

// findSourceEntry returns the first array whose element 0 is [id-string]
func findSourceEntry(v any, depth int) []any {
	arr, ok := v.([]any)
	if !ok || len(arr) == 0 || depth < 0 {
		return nil
	}
	if _, ok := rpc.StringAt(arr, srcID, 0); ok {
		return arr
	}
	return findSourceEntry(arr[0], depth-1)
}

// isYouTubeURL checks if URL is a YouTube video link
func isYouTubeURL(u string) bool {
	return strings.Contains(u, "youtube.com/watch") ||
		strings.Contains(u, "youtu.be/") ||
		strings.Contains(u, "youtube.com/shorts/")
}
