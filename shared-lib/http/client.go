package http

import (
	"net/http"

	"github.com/margo/rust-builder/shared-lib/crypto"
)

// NewClient returns the HTTP client shared by all uploads. When caPath is set
// the client trusts that CA bundle instead of the system roots.
//
// No client-wide timeout is set; requests are bounded by their context.
func NewClient(caPath string) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if caPath != "" {
		tlsConfig, err := crypto.LoadCustomCA(caPath)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tlsConfig
	}

	return &http.Client{Transport: transport}, nil
}
