// Package secrets reads gateway credentials from Secret Manager.
package secrets

import (
	"context"
	"fmt"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/option"
)

// Resolver returns the payload of a secret.
type Resolver interface {
	Resolve(ctx context.Context, name string) (string, error)
	Close() error
}

type secretManagerResolver struct {
	client    *secretmanager.Client
	projectID string
}

// NewSecretManagerResolver creates a Secret Manager backed Resolver.
func NewSecretManagerResolver(ctx context.Context, projectID, credentialsFile string) (Resolver, error) {
	if projectID == "" {
		return nil, fmt.Errorf("GCP Project ID is not set")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Secret Manager client: %w", err)
	}
	return &secretManagerResolver{client: client, projectID: projectID}, nil
}

// Resolve accepts either a full resource name or a short secret id, in which case the latest version is read.
func (s *secretManagerResolver) Resolve(ctx context.Context, name string) (string, error) {
	result, err := s.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: ResourceName(s.projectID, name),
	})
	if err != nil {
		return "", fmt.Errorf("failed to access secret version %s: %w", name, err)
	}
	return strings.TrimSpace(string(result.Payload.Data)), nil
}

func (s *secretManagerResolver) Close() error {
	return s.client.Close()
}

// ResourceName expands a short secret id into its latest-version resource name.
func ResourceName(projectID, name string) string {
	if strings.HasPrefix(name, "projects/") {
		return name
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/latest", projectID, name)
}
