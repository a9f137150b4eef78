package secretsmanager

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredsFromSecret(t *testing.T) {
	user, pass, err := credsFromSecret("admin:s3cr:et\n")
	require.NoError(t, err)
	assert.Equal(t, "admin", user)
	assert.Equal(t, "s3cr:et", pass)

	for _, secret := range []string{"", "admin", ":password"} {
		_, _, err := credsFromSecret(secret)
		require.Error(t, err, secret)
	}
}

func TestFetchCredentialsValidation(t *testing.T) {
	_, _, err := FetchCredentials(context.Background(), Source{Provider: ProviderAWS, SecretID: "creds"})
	require.Error(t, err)

	_, _, err = FetchCredentials(context.Background(), Source{Provider: "vault", SecretID: "creds", Location: "x"})
	require.ErrorContains(t, err, "unknown secret provider")
}
