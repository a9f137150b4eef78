package secretsmanager

import (
	"context"
	"fmt"
	"strings"

	gcpsecretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/keyvault/azsecrets"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/pkg/errors"
)

// Provider names a cloud secret store.
type Provider string

const (
	ProviderAWS   Provider = "aws"
	ProviderAzure Provider = "azure"
	ProviderGCP   Provider = "gcp"
)

// Source locates a `user:password` secret.  Location is the AWS region,
// the Azure key vault name or the GCP project id.
type Source struct {
	Provider Provider
	SecretID string
	Location string
}

func (s Source) String() string {
	return fmt.Sprintf("%s secret %s (%s)", s.Provider, s.SecretID, s.Location)
}

// FetchCredentials reads the cluster credentials stored at src.
func FetchCredentials(ctx context.Context, src Source) (string, string, error) {
	if src.SecretID == "" || src.Location == "" {
		return "", "", errors.Errorf("%s requires both a secret id and a location", src.Provider)
	}

	switch src.Provider {
	case ProviderAWS:
		return FetchAWSSecret(ctx, src.SecretID, src.Location)
	case ProviderAzure:
		return FetchAzureSecret(ctx, src.SecretID, src.Location)
	case ProviderGCP:
		return FetchGcpSecret(ctx, src.SecretID, src.Location)
	}
	return "", "", errors.Errorf("unknown secret provider %q", src.Provider)
}

func FetchAWSSecret(ctx context.Context, secretId string, region string) (string, string, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return "", "", errors.Wrap(err, "failed to load default aws config")
	}

	secrets := secretsmanager.NewFromConfig(cfg)
	res, err := secrets.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: &secretId})
	if err != nil {
		return "", "", errors.Wrap(err, "failed to get aws secret")
	}
	if res.SecretString == nil {
		return "", "", errors.Errorf("aws secret %s not a string", secretId)
	}

	return credsFromSecret(*res.SecretString)
}

func FetchAzureSecret(ctx context.Context, secretId string, keyVaultName string) (string, string, error) {
	vaultURI := fmt.Sprintf("https://%s.vault.azure.net/", keyVaultName)

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return "", "", errors.Wrap(err, "failed to obtain azure credential")
	}

	client, err := azsecrets.NewClient(vaultURI, cred, nil)
	if err != nil {
		return "", "", errors.Wrap(err, "failed to create azure client")
	}

	// empty version is the latest
	resp, err := client.GetSecret(ctx, secretId, "", nil)
	if err != nil {
		return "", "", errors.Wrap(err, "failed to get azure secret")
	}
	if resp.Value == nil {
		return "", "", errors.Errorf("azure secret %s has no value", secretId)
	}

	return credsFromSecret(*resp.Value)
}

func FetchGcpSecret(ctx context.Context, secretId string, projectId string) (string, string, error) {
	client, err := gcpsecretmanager.NewClient(ctx)
	if err != nil {
		return "", "", errors.Wrap(err, "failed to create gcp secretmanager client")
	}
	defer client.Close()

	req := &secretmanagerpb.AccessSecretVersionRequest{
		Name: fmt.Sprintf("projects/%s/secrets/%s/versions/latest", projectId, secretId),
	}

	result, err := client.AccessSecretVersion(ctx, req)
	if err != nil {
		return "", "", errors.Wrap(err, "failed to get gcp secret")
	}

	return credsFromSecret(string(result.Payload.Data))
}

// credsFromSecret splits on the first colon, passwords may contain more.
func credsFromSecret(secret string) (string, string, error) {
	username, password, ok := strings.Cut(strings.TrimSpace(secret), ":")
	if !ok || username == "" {
		return "", "", errors.New("cluster credentials secret must be formatted `username:password`")
	}
	return username, password, nil
}
