package git

import (
	"fmt"

	"github.com/go-git/go-git/v5/plumbing/transport"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"github.com/mitchellh/go-homedir"
)

// DefaultSSHUser is used when the repository URL does not carry a username.
const DefaultSSHUser = "git"

// Auth holds the credentials used to reach a target's remote.
//
// Only SSH private key authentication is supported. A nil *Auth, or one with
// an empty SSHKey, means the remote is reached anonymously (or through
// whatever the local git configuration provides).
type Auth struct {
	SSHKey string // Path to the SSH private key, a leading `~` is expanded
}

// KeyPath returns the SSH key path with a leading `~` expanded.
func (a *Auth) KeyPath() (string, error) {
	if a == nil || a.SSHKey == "" {
		return "", nil
	}

	path, err := homedir.Expand(a.SSHKey)
	if err != nil {
		return "", fmt.Errorf("failed to resolve ssh key path %s: %w", a.SSHKey, err)
	}
	return path, nil
}

// getAuthMethod returns the go-git authentication method for the given remote URL.
//
// The username embedded in the URL is preferred; otherwise DefaultSSHUser is
// used, which is what ssh remotes suggest for anonymous user names.
func getAuthMethod(url string, auth *Auth) (transport.AuthMethod, error) {
	keyPath, err := auth.KeyPath()
	if err != nil {
		return nil, err
	}
	if keyPath == "" {
		return nil, nil
	}

	user := DefaultSSHUser
	if endpoint, err := transport.NewEndpoint(url); err == nil && endpoint.User != "" {
		user = endpoint.User
	}

	keys, err := gitssh.NewPublicKeysFromFile(user, keyPath, "")
	if err != nil {
		return nil, fmt.Errorf("failed to load ssh key %s: %w", keyPath, err)
	}
	return keys, nil
}

// sshCommandEnv returns the environment entry that makes the git CLI use the
// configured key, or an empty string when no key is configured.
func sshCommandEnv(auth *Auth) (string, error) {
	keyPath, err := auth.KeyPath()
	if err != nil || keyPath == "" {
		return "", err
	}
	return fmt.Sprintf("GIT_SSH_COMMAND=ssh -i %s -o IdentitiesOnly=yes", keyPath), nil
}
