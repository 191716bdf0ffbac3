package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	azcosmos "github.com/Azure/azure-sdk-for-go/sdk/data/azcosmos"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
)

// CosmosStore persists seen fingerprints in an Azure Cosmos DB container,
// authenticating with Entra ID credentials the way the teacher's
// AzureEntraProvider.initializeCredential does, rather than keeping a
// separate auth package for a single call site.
type CosmosStore struct {
	container *azcosmos.ContainerClient
}

// CosmosConfig mirrors the credential options AzureEntraProvider supports:
// client-secret, user-assigned managed identity, or the default
// system-assigned managed identity.
type CosmosConfig struct {
	Endpoint     string
	Database     string
	Container    string
	TenantID     string
	ClientID     string
	ClientSecret string
}

func (c CosmosConfig) credential() (azcore.TokenCredential, error) {
	if c.ClientSecret != "" {
		if c.TenantID == "" || c.ClientID == "" {
			return nil, errors.New("store/cosmos: tenant_id and client_id are required with client_secret")
		}
		return azidentity.NewClientSecretCredential(c.TenantID, c.ClientID, c.ClientSecret, nil)
	}
	if c.ClientID != "" {
		return azidentity.NewManagedIdentityCredential(&azidentity.ManagedIdentityCredentialOptions{
			ID: azidentity.ClientID(c.ClientID),
		})
	}
	return azidentity.NewManagedIdentityCredential(nil)
}

// NewCosmosStore builds a CosmosStore from cfg, acquiring credentials and
// ensuring the target container exists.
func NewCosmosStore(ctx context.Context, cfg CosmosConfig) (*CosmosStore, error) {
	cred, err := cfg.credential()
	if err != nil {
		return nil, fmt.Errorf("store/cosmos: credential: %w", err)
	}

	client, err := azcosmos.NewClient(cfg.Endpoint, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("store/cosmos: client: %w", err)
	}

	container, err := client.NewContainer(cfg.Database, cfg.Container)
	if err != nil {
		return nil, fmt.Errorf("store/cosmos: container: %w", err)
	}

	return &CosmosStore{container: container}, nil
}

type fingerprintItem struct {
	ID          string `json:"id"`
	Fingerprint string `json:"fingerprint"`
}

func (s *CosmosStore) SeenFingerprint(ctx context.Context, fingerprint string) (bool, error) {
	pk := azcosmos.NewPartitionKeyString(fingerprint)
	_, err := s.container.ReadItem(ctx, pk, fingerprint, nil)
	if err == nil {
		return true, nil
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == 404 {
		return false, nil
	}
	return false, fmt.Errorf("store/cosmos: seen: %w", err)
}

func (s *CosmosStore) RecordFingerprint(ctx context.Context, fingerprint string) error {
	item := fingerprintItem{ID: fingerprint, Fingerprint: fingerprint}
	body, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("store/cosmos: marshal: %w", err)
	}

	pk := azcosmos.NewPartitionKeyString(fingerprint)
	_, err = s.container.UpsertItem(ctx, pk, body, nil)
	if err != nil {
		return fmt.Errorf("store/cosmos: record: %w", err)
	}
	return nil
}

var _ Store = (*CosmosStore)(nil)
