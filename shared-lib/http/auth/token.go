package auth

import "fmt"

// AuthConfig holds the credentials presented to the upload endpoint.
type AuthConfig struct {
	Type     AuthType `json:"type"`
	Username string   `json:"username,omitempty"`
	Password string   `json:"password,omitempty"`
	Token    string   `json:"token,omitempty"`
}

type AuthType string

const (
	AuthTypeNone   AuthType = "none"
	AuthTypeBasic  AuthType = "basic"
	AuthTypeBearer AuthType = "bearer"
)

// Bearer returns a bearer-token config, or nil when token is empty.
func Bearer(token string) *AuthConfig {
	if token == "" {
		return nil
	}
	return &AuthConfig{Type: AuthTypeBearer, Token: token}
}

// Validate checks that the fields required by the auth type are present.
func (c *AuthConfig) Validate() error {
	if c == nil {
		return nil
	}

	switch c.Type {
	case AuthTypeNone, "":
		return nil
	case AuthTypeBasic:
		if c.Username == "" || c.Password == "" {
			return fmt.Errorf("username and password required for basic authentication")
		}
	case AuthTypeBearer:
		if c.Token == "" {
			return fmt.Errorf("token required for bearer authentication")
		}
	default:
		return fmt.Errorf("unsupported authentication type: %s", c.Type)
	}
	return nil
}
