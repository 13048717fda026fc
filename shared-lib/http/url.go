package http

import (
	"fmt"
	"net/url"
	"strings"
)

// uploadPath is appended to the endpoint for every artifact upload.
const uploadPath = "/upload?path=/"

// UploadURL returns "<endpoint>/upload?path=/" after checking that endpoint is
// an absolute http(s) URL. A trailing slash on the endpoint is ignored.
func UploadURL(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("endpoint %q must use http or https", endpoint)
	}
	if u.Host == "" {
		return "", fmt.Errorf("endpoint %q has no host", endpoint)
	}

	return strings.TrimRight(endpoint, "/") + uploadPath, nil
}
