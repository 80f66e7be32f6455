// Package secretsmanager fetches the SSH private key used to reach cluster
// hosts from a cloud secret store.
package secretsmanager

import (
	"context"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	gcpsecretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/keyvault/azsecrets"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

var ErrNotPrivateKey = errors.New("secret is not a PEM encoded private key")

func FetchAWSSecret(ctx context.Context, secretId string, region string) ([]byte, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default aws config: %w", err)
	}

	secrets := secretsmanager.NewFromConfig(cfg)
	res, err := secrets.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: &secretId})
	if err != nil {
		return nil, fmt.Errorf("failed to get aws secret: %w", err)
	}
	if res.SecretString != nil {
		return keyFromSecret([]byte(*res.SecretString))
	}
	if res.SecretBinary != nil {
		return keyFromSecret(res.SecretBinary)
	}

	return nil, fmt.Errorf("aws secret %s has no value", secretId)
}

func FetchAzureSecret(ctx context.Context, secretId string, keyVaultName string) ([]byte, error) {
	vaultURI := fmt.Sprintf("https://%s.vault.azure.net/", keyVaultName)

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain azure credential: %w", err)
	}

	client, err := azsecrets.NewClient(vaultURI, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create azure client: %w", err)
	}

	// empty version is the latest
	resp, err := client.GetSecret(ctx, secretId, "", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get azure secret: %w", err)
	}
	if resp.Value == nil {
		return nil, fmt.Errorf("azure secret %s has no value", secretId)
	}

	return keyFromSecret([]byte(*resp.Value))
}

func FetchGcpSecret(ctx context.Context, secretId string, projectId string) ([]byte, error) {
	client, err := gcpsecretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcp secretmanager client: %w", err)
	}
	defer client.Close()

	req := &secretmanagerpb.AccessSecretVersionRequest{
		Name: fmt.Sprintf("projects/%s/secrets/%s/versions/latest", projectId, secretId),
	}

	result, err := client.AccessSecretVersion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to get gcp secret: %w", err)
	}

	return keyFromSecret(result.Payload.Data)
}

// keyFromSecret accepts a PEM private key, also when a console stored it
// with escaped newlines.
func keyFromSecret(secret []byte) ([]byte, error) {
	text := strings.TrimSpace(string(secret))
	if !strings.Contains(text, "\n") {
		text = strings.ReplaceAll(text, `\n`, "\n")
	}

	block, _ := pem.Decode([]byte(text))
	if block == nil || !strings.HasSuffix(block.Type, "PRIVATE KEY") {
		return nil, ErrNotPrivateKey
	}

	return []byte(text + "\n"), nil
}
