package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticProvider_GetCredentials(t *testing.T) {
	provider := &StaticProvider{Email: " dev@example.com ", Token: "tok"}
	creds, err := provider.GetCredentials()

	require.NoError(t, err)
	assert.Equal(t, "dev@example.com", creds.Email)
	assert.Equal(t, "tok", creds.Token)
	assert.False(t, creds.IsBearer())
}

func TestStaticProvider_MissingToken(t *testing.T) {
	provider := &StaticProvider{Email: "dev@example.com"}
	_, err := provider.GetCredentials()

	assert.Error(t, err)
}

func TestEnvProvider_APIToken(t *testing.T) {
	t.Setenv("JIRA_API_TOKEN", "api_token_123")
	t.Setenv("JIRA_EMAIL", "dev@example.com")
	t.Setenv("JIRA_PAT", "")

	creds, err := (&EnvProvider{}).GetCredentials()

	require.NoError(t, err)
	assert.Equal(t, Credentials{Email: "dev@example.com", Token: "api_token_123"}, creds)
}

func TestEnvProvider_APITokenWithoutEmail(t *testing.T) {
	t.Setenv("JIRA_API_TOKEN", "api_token_123")
	t.Setenv("JIRA_EMAIL", "")

	_, err := (&EnvProvider{}).GetCredentials()

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "JIRA_EMAIL")
}

func TestEnvProvider_PersonalAccessToken(t *testing.T) {
	t.Setenv("JIRA_API_TOKEN", "")
	t.Setenv("JIRA_PAT", "pat_456")

	creds, err := (&EnvProvider{}).GetCredentials()

	require.NoError(t, err)
	assert.True(t, creds.IsBearer())
	assert.Equal(t, "pat_456", creds.Token)
}

func TestEnvProvider_Missing(t *testing.T) {
	t.Setenv("JIRA_API_TOKEN", "")
	t.Setenv("JIRA_PAT", "")

	creds, err := (&EnvProvider{}).GetCredentials()

	assert.Error(t, err)
	assert.Empty(t, creds.Token)
	assert.Contains(t, err.Error(), "JIRA_API_TOKEN")
}

func TestGetCredentials_FallbackOrder(t *testing.T) {
	t.Setenv("JIRA_API_TOKEN", "")
	t.Setenv("JIRA_PAT", "env_pat")

	t.Run("first provider wins", func(t *testing.T) {
		creds, err := GetCredentials(&StaticProvider{Email: "a@b.c", Token: "cfg"}, &EnvProvider{})
		require.NoError(t, err)
		assert.Equal(t, "cfg", creds.Token)
	})

	t.Run("falls back to environment", func(t *testing.T) {
		creds, err := GetCredentials(&StaticProvider{}, &EnvProvider{})
		require.NoError(t, err)
		assert.Equal(t, "env_pat", creds.Token)
	})
}

func TestGetCredentials_AllFail(t *testing.T) {
	t.Setenv("JIRA_API_TOKEN", "")
	t.Setenv("JIRA_PAT", "")

	_, err := GetCredentials(&StaticProvider{}, &EnvProvider{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no API token in config")
	assert.Contains(t, err.Error(), "JIRA_PAT")
}

func TestCredentialProvider_Interface(t *testing.T) {
	var _ CredentialProvider = &StaticProvider{}
	var _ CredentialProvider = &EnvProvider{}
}
