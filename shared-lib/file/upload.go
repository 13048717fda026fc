package file

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/margo/rust-builder/shared-lib/build"
	"github.com/margo/rust-builder/shared-lib/crypto"
	httputils "github.com/margo/rust-builder/shared-lib/http"
	"github.com/margo/rust-builder/shared-lib/http/auth"
	"go.uber.org/zap"
)

// UploadFieldName is the multipart part every artifact is sent in.
const UploadFieldName = "path"

// maxErrorBodyBytes bounds how much of a rejected upload's response is kept.
const maxErrorBodyBytes = 512

// UploadResult is the outcome of publishing one binary.
type UploadResult struct {
	Binary     string
	FileName   string
	Path       string
	Digest     crypto.FileDigest
	StatusCode int
	Err        error
}

// Succeeded reports whether the endpoint accepted the upload.
func (r UploadResult) Succeeded() bool {
	return r.Err == nil
}

// Selector decides whether a candidate binary should be uploaded.
type Selector func(binary string) bool

// UploadName returns the file name a binary is published under:
// "<binary>-<40-char hex commit hash>".
func UploadName(binary, commitHash string) string {
	return fmt.Sprintf("%s-%s", binary, commitHash)
}

// Uploader publishes build artifacts to a bin-serve endpoint.
type Uploader struct {
	client    *http.Client
	uploadURL string
	auth      *auth.AuthConfig
	log       *zap.SugaredLogger
}

// NewUploader validates the endpoint and returns an uploader sharing client.
func NewUploader(client *http.Client, endpoint string, authCfg *auth.AuthConfig, log *zap.SugaredLogger) (*Uploader, error) {
	if client == nil {
		return nil, fmt.Errorf("http client cannot be nil")
	}
	uploadURL, err := httputils.UploadURL(endpoint)
	if err != nil {
		return nil, err
	}
	if err := authCfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	return &Uploader{
		client:    client,
		uploadURL: uploadURL,
		auth:      authCfg,
		log:       log,
	}, nil
}

// Upload publishes every candidate binary in artifactDir accepted by selected.
//
// Uploads are independent: a rejected or failed upload is recorded in its
// result and the remaining binaries are still attempted. The returned error
// is only set when the artifacts directory cannot be listed or ctx ends.
func (u *Uploader) Upload(ctx context.Context, artifactDir string, selected Selector, commitHash string) ([]UploadResult, error) {
	candidates, err := build.ListCandidates(artifactDir)
	if err != nil {
		return nil, err
	}

	var results []UploadResult
	for _, path := range candidates {
		binary := filepath.Base(path)
		if selected != nil && !selected(binary) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}

		results = append(results, u.UploadFile(ctx, binary, path, commitHash))
	}
	return results, nil
}

// UploadFile streams one binary to the endpoint. Only HTTP 200 counts as success.
func (u *Uploader) UploadFile(ctx context.Context, binary, path, commitHash string) UploadResult {
	result := UploadResult{
		Binary:   binary,
		FileName: UploadName(binary, commitHash),
		Path:     path,
	}
	log := u.log.With("binary", binary, "commitHash", commitHash, "fileName", result.FileName)

	digest, err := crypto.GetDigestOfFile(path)
	if err != nil {
		result.Err = err
		log.Warnw("Failed to upload binary", "error", err)
		return result
	}
	result.Digest = digest

	log.Infow("Uploading", "digest", digest.Digest, "size", digest.Size)

	req, err := httputils.NewMultipartFileRequest(ctx, u.uploadURL, u.auth, UploadFieldName, result.FileName, path)
	if err != nil {
		result.Err = err
		log.Warnw("Failed to upload binary", "error", err)
		return result
	}

	resp, err := u.client.Do(req)
	if err != nil {
		result.Err = fmt.Errorf("HTTP request failed: %w", err)
		log.Warnw("Failed to upload binary", "error", result.Err)
		return result
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode
	if err := validateResponse(resp); err != nil {
		result.Err = err
		log.Warnw("Failed to upload binary", "statusCode", resp.StatusCode, "error", err)
		return result
	}
	io.Copy(io.Discard, resp.Body)

	log.Infow("Uploaded", "statusCode", resp.StatusCode)
	return result
}

func validateResponse(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("authentication failed: HTTP 401")
	case http.StatusForbidden:
		return fmt.Errorf("access forbidden: HTTP 403")
	default:
		if msg := strings.TrimSpace(string(body)); msg != "" {
			return fmt.Errorf("HTTP error: %s: %s", resp.Status, msg)
		}
		return fmt.Errorf("HTTP error: %s", resp.Status)
	}
}
