package http

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"

	"github.com/margo/rust-builder/shared-lib/http/auth"
)

// NewMultipartFileRequest creates a POST request whose multipart/form-data
// body holds exactly one part, fieldName, carrying the bytes of filePath under
// the declared file name fileName.
//
// The file is streamed: it is read while the request is being sent, never
// buffered in memory. The file is opened eagerly so a missing file fails here
// rather than mid-request.
func NewMultipartFileRequest(ctx context.Context, url string, authReq *auth.AuthConfig, fieldName, fileName, filePath string) (*http.Request, error) {
	if err := authReq.Validate(); err != nil {
		return nil, fmt.Errorf("failed to apply authentication: %w", err)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", filePath, err)
	}

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	go func() {
		defer file.Close()

		part, err := writer.CreateFormFile(fieldName, fileName)
		if err == nil {
			_, err = io.Copy(part, file)
		}
		if err == nil {
			err = writer.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		// Unblocks the writer goroutine.
		pr.Close()
		return nil, fmt.Errorf("failed to create POST request: %w", err)
	}

	req.Header.Set("Content-Type", writer.FormDataContentType())
	applyAuthentication(req, authReq)
	setDefaultHeaders(req)

	return req, nil
}

func applyAuthentication(req *http.Request, authReq *auth.AuthConfig) {
	if authReq == nil {
		return
	}

	switch authReq.Type {
	case auth.AuthTypeBasic:
		req.SetBasicAuth(authReq.Username, authReq.Password)
	case auth.AuthTypeBearer:
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", authReq.Token))
	}
}

func setDefaultHeaders(req *http.Request) {
	req.Header.Set("User-Agent", "rust-builder/1.0")
	req.Header.Set("Accept", "application/json, text/plain, */*")
}
