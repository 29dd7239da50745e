package notebooklm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/crosszan/nblm/pkg/logger"
	"github.com/crosszan/nblm/repos/notebooklm/rpc"
	vo "github.com/crosszan/nblm/vo/notebooklm_vo"
)

const moduleUpload = "notebooklm.upload"

// supportedExtensions lists the file types NotebookLM accepts as sources
var supportedExtensions = map[string]bool{
	".pdf":      true,
	".txt":      true,
	".md":       true,
	".markdown": true,
	".docx":     true,
	".csv":      true,
	".pptx":     true,
	".mp3":      true,
	".wav":      true,
	".m4a":      true,
	".aac":      true,
	".ogg":      true,
	".png":      true,
	".jpg":      true,
	".jpeg":     true,
	".webp":     true,
}

// ResumableUploader drives the register / start session / stream upload.
// No phase is retried.
type ResumableUploader struct {
	caller    rpcCaller
	creds     *CredentialStore
	http      *http.Client
	endpoints rpc.Endpoints
	timeout   time.Duration
	log       logger.ILogger
}

// UploadFile adds a local file as a source to a notebook
func (c *Client) UploadFile(ctx context.Context, notebookID, filePath string) (*vo.Source, error) {
	return c.Uploads.Upload(ctx, notebookID, filePath)
}

// ValidateUploadFile runs the local checks that precede any network call
func ValidateUploadFile(filePath string) (os.FileInfo, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &rpc.ValidationError{Path: filePath, Reason: "file not found"}
		}
		return nil, &rpc.ValidationError{Path: filePath, Reason: "cannot stat file: " + err.Error()}
	}
	if !info.Mode().IsRegular() {
		return nil, &rpc.ValidationError{Path: filePath, Reason: "not a regular file"}
	}
	if info.Size() == 0 {
		return nil, &rpc.ValidationError{Path: filePath, Reason: "file is empty"}
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	if !supportedExtensions[ext] {
		if ext == "" {
			ext = "(none)"
		}
		return nil, &rpc.ValidationError{Path: filePath, Reason: "unsupported file type: " + ext}
	}
	return info, nil
}

// Upload validates the file, then runs the three upload phases.
// A failure after registration carries the registered SourceID so the
// caller can delete the placeholder source.
func (u *ResumableUploader) Upload(ctx context.Context, notebookID, filePath string) (*vo.Source, error) {
	info, err := ValidateUploadFile(filePath)
	if err != nil {
		return nil, err
	}

	ctx, cancel := callContext(ctx, u.timeout)
	defer cancel()

	filename := filepath.Base(filePath)
	session := &vo.UploadSession{
		FileSize:    info.Size(),
		ContentType: detectContentType(filePath),
	}

	fail := func(phase vo.UploadPhase, err error) error {
		u.log.Error(moduleUpload, "upload failed", map[string]interface{}{
			"phase":     string(phase),
			"filename":  filename,
			"source_id": session.SourceID,
			"error":     err,
		})
		return &rpc.UploadError{Phase: phase, Filename: filename, SourceID: session.SourceID, Err: err}
	}

	// Step 1: Register source intent → get SOURCE_ID
	session.SourceID, err = u.register(ctx, notebookID, filename)
	if err != nil {
		return nil, fail(vo.UploadPhaseRegister, err)
	}

	// Step 2: Start resumable upload → get upload URL
	session.UploadURL, err = u.startSession(ctx, notebookID, filename, session)
	if err != nil {
		return nil, fail(vo.UploadPhaseStart, err)
	}

	// Step 3: Upload file content
	if err := u.stream(ctx, session, filePath); err != nil {
		return nil, fail(vo.UploadPhaseStream, err)
	}

	u.log.Info(moduleUpload, "file uploaded", map[string]interface{}{
		"filename":     filename,
		"source_id":    session.SourceID,
		"bytes":        session.FileSize,
		"content_type": session.ContentType,
	})

	now := time.Now()
	return &vo.Source{
		ID:         session.SourceID,
		NotebookID: notebookID,
		Title:      filename,
		SourceType: detectSourceType("", filename),
		Status:     "processing",
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// register announces the filename and returns the new source id
func (u *ResumableUploader) register(ctx context.Context, notebookID, filename string) (string, error) {
	params := []any{
		[]any{[]any{filename}},
		notebookID,
		[]any{2},
		projectSettings(),
	}

	result, err := u.caller.rpcCallOnce(ctx, vo.RPCAddSourceFile, params, notebookPath(notebookID))
	if err != nil {
		return "", err
	}

	// [[[["source-id"]]]]
	if id, ok := rpc.StringAt(result, 0, 0, 0, 0); ok && id != "" {
		return id, nil
	}
	return "", fmt.Errorf("%w: no source ID in register response", rpc.ErrInvalidFormat)
}

type uploadStartBody struct {
	ProjectID  string `json:"PROJECT_ID"`
	SourceName string `json:"SOURCE_NAME"`
	SourceID   string `json:"SOURCE_ID"`
}

// startSession opens the resumable session; the URL comes back in a header
func (u *ResumableUploader) startSession(ctx context.Context, notebookID, filename string, session *vo.UploadSession) (string, error) {
	body, err := json.Marshal(uploadStartBody{ProjectID: notebookID, SourceName: filename, SourceID: session.SourceID})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoints.Upload+"?authuser=0", strings.NewReader(string(body)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", formContentType)
	req.Header.Set("x-goog-upload-command", "start")
	req.Header.Set("x-goog-upload-header-content-length", strconv.FormatInt(session.FileSize, 10))
	req.Header.Set("x-goog-upload-protocol", "resumable")

	resp, err := u.do(req, "upload start")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	uploadURL := resp.Header.Get(rpc.UploadURLHeader)
	if uploadURL == "" {
		return "", errors.New("no upload URL in response headers")
	}
	return uploadURL, nil
}

// stream sends the file bytes to the session URL and finalizes
func (u *ResumableUploader) stream(ctx context.Context, session *vo.UploadSession, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, session.UploadURL, file)
	if err != nil {
		return err
	}
	req.ContentLength = session.FileSize
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=utf-8")
	req.Header.Set("x-goog-upload-command", "upload, finalize")
	req.Header.Set("x-goog-upload-offset", "0")

	resp, err := u.do(req, "upload stream")
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// do adds the shared upload headers and maps failures to typed errors
func (u *ResumableUploader) do(req *http.Request, op string) (*http.Response, error) {
	origin := strings.TrimSuffix(u.endpoints.Base, "/")
	req.Header.Set("Cookie", u.creds.CookieHeader())
	req.Header.Set("Origin", origin)
	req.Header.Set("Referer", origin+"/")
	req.Header.Set("x-goog-authuser", "0")

	resp, err := u.http.Do(req)
	if err != nil {
		return nil, &rpc.TransportError{Op: op, Err: err}
	}
	u.creds.AbsorbCookies(resp.Cookies())

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		return nil, &rpc.AuthError{StatusCode: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		preview, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		te := &rpc.TransportError{Op: op, StatusCode: resp.StatusCode}
		if len(preview) > 0 {
			te.Err = errors.New(string(preview))
		}
		return nil, te
	}
	return resp, nil
}

func detectContentType(filePath string) string {
	mt, err := mimetype.DetectFile(filePath)
	if err != nil {
		return "application/octet-stream"
	}
	return mt.String()
}
