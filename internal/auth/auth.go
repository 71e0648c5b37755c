// Package auth provides Jira credential lookup.
// It implements a simple interface with multiple providers following the
// "deep modules" principle - simple interface, complex implementation hidden.
package auth

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Credentials authenticate requests against a Jira instance.
// An empty Email means Token is a personal access token sent as a bearer
// token (Jira Server/Data Center); otherwise basic auth is used (Jira Cloud).
type Credentials struct {
	Email string
	Token string
}

// IsBearer reports whether the credentials are a bare personal access token.
func (c Credentials) IsBearer() bool {
	return c.Email == ""
}

// CredentialProvider defines the interface for obtaining Jira credentials.
// Implementations may use different sources (config file, environment variables, etc).
type CredentialProvider interface {
	GetCredentials() (Credentials, error)
}

// StaticProvider returns credentials resolved elsewhere, typically from the
// jex config file.
type StaticProvider struct {
	Email string
	Token string
}

// GetCredentials returns the configured credentials, or an error if no token is set.
func (s *StaticProvider) GetCredentials() (Credentials, error) {
	token := strings.TrimSpace(s.Token)
	if token == "" {
		return Credentials{}, errors.New("no API token in config")
	}
	return Credentials{Email: strings.TrimSpace(s.Email), Token: token}, nil
}

// EnvProvider obtains credentials from JIRA_API_TOKEN and JIRA_EMAIL, or from
// JIRA_PAT for personal access tokens.
type EnvProvider struct{}

// GetCredentials reads the Jira environment variables.
// Returns an error if neither JIRA_API_TOKEN nor JIRA_PAT is set.
func (e *EnvProvider) GetCredentials() (Credentials, error) {
	if token := os.Getenv("JIRA_API_TOKEN"); token != "" {
		email := os.Getenv("JIRA_EMAIL")
		if email == "" {
			return Credentials{}, errors.New("JIRA_API_TOKEN is set but JIRA_EMAIL is empty")
		}
		return Credentials{Email: email, Token: token}, nil
	}
	if pat := os.Getenv("JIRA_PAT"); pat != "" {
		return Credentials{Token: pat}, nil
	}
	return Credentials{}, errors.New("JIRA_API_TOKEN and JIRA_PAT environment variables not set")
}

// GetCredentials tries each provider in order and returns the first success.
// When every provider fails the error lists each failure so the user can fix
// whichever source they intended to use.
func GetCredentials(providers ...CredentialProvider) (Credentials, error) {
	if len(providers) == 0 {
		providers = []CredentialProvider{&EnvProvider{}}
	}

	var failures []string
	for _, p := range providers {
		creds, err := p.GetCredentials()
		if err == nil {
			return creds, nil
		}
		failures = append(failures, err.Error())
	}

	return Credentials{}, fmt.Errorf(
		"failed to obtain Jira credentials (%s).\n"+
			"Please either:\n"+
			"  1. Set jira.email and jira.token in ~/.jex/config.yaml, or\n"+
			"  2. Set JIRA_EMAIL and JIRA_API_TOKEN (Cloud) or JIRA_PAT (Server) in the environment",
		strings.Join(failures, "; "),
	)
}
