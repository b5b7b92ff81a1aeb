// Copyright 2025 CruxStack
// SPDX-License-Identifier: MIT

package identity

import "fmt"

const (
	FederatedCredentialName = "GitHubActionsOIDC"
	GitHubActionsIssuer     = "https://token.actions.githubusercontent.com"
	TokenExchangeAudience   = "api://AzureADTokenExchange"
)

// FederatedCredential is the body of a federatedIdentityCredential.
type FederatedCredential struct {
	Name        string   `json:"name"`
	Issuer      string   `json:"issuer"`
	Subject     string   `json:"subject"`
	Audiences   []string `json:"audiences"`
	Description string   `json:"description"`
}

// NewFederatedCredential returns the binding for the main branch of org/repo.
func NewFederatedCredential(org, repo string) FederatedCredential {
	return FederatedCredential{
		Name:        FederatedCredentialName,
		Issuer:      GitHubActionsIssuer,
		Subject:     Subject(org, repo),
		Audiences:   []string{TokenExchangeAudience},
		Description: "Federated credentials for GitHub Actions OIDC",
	}
}

// Subject is the OIDC subject GitHub Actions presents for workflow runs on
// the main branch of org/repo.
func Subject(org, repo string) string {
	return fmt.Sprintf("repo:%s/%s:ref:refs/heads/main", org, repo)
}
