// Package provider manages clients for external data-source providers. A
// process-wide registry caches live clients per (project, provider type,
// credential fingerprint) with a TTL; evicted or expired clients are
// disposed through their Cleanup hook.
package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/agentgrid/agentgrid/internal/store"
)

// Client is the uniform provider contract. Operations are provider-specific
// strings; unknown operations return ErrUnknownOperation.
type Client interface {
	Initialize(ctx context.Context, config map[string]any) error
	Call(ctx context.Context, operation string, args map[string]any) (any, error)
	Cleanup() error
}

// Factory constructs an uninitialized client for one provider type.
type Factory func() Client

// CredentialFetcher resolves the provider configuration for a project.
type CredentialFetcher func(ctx context.Context, projectID, providerType string) (map[string]any, error)

// StoreCredentialFetcher reads provider credentials from the document store.
func StoreCredentialFetcher(st store.Store) CredentialFetcher {
	return func(ctx context.Context, projectID, providerType string) (map[string]any, error) {
		cred, err := st.GetProviderCredential(ctx, projectID, providerType)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s credential: %w", providerType, err)
		}
		return cred.Config, nil
	}
}

// configFingerprint hashes a credential config so rotated credentials get a
// fresh cache slot. Marshalling a map sorts its keys, making the hash
// stable.
func configFingerprint(config map[string]any) string {
	data, err := json.Marshal(config)
	if err != nil {
		return "unhashable"
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}
