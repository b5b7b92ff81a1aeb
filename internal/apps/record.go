// Copyright 2025 CruxStack
// SPDX-License-Identifier: MIT

// Package apps persists the per-application onboarding record.
package apps

import (
	"strings"
	"time"
)

// Partition groups every application record in one logical collection.
const Partition = "Application"

// Record tracks the onboarding progress of one application.
type Record struct {
	// Key is the sanitized application name. It doubles as the repository
	// name and the federated credential subject and never changes.
	Key       string `docstore:"key" json:"key"`
	Partition string `docstore:"partition" json:"-"`

	Name           string    `docstore:"name" json:"name"`
	RepositoryURL  string    `docstore:"repositoryUrl" json:"repositoryUrl"`
	ClientID       string    `docstore:"clientId" json:"clientId"`
	ObjectID       string    `docstore:"objectId" json:"objectId"`
	TenantID       string    `docstore:"tenantId" json:"tenantId"`
	SubscriptionID string    `docstore:"subscriptionId" json:"subscriptionId"`
	CreatedAt      time.Time `docstore:"createdAt" json:"createdAt"`
	IsRegistered   bool      `docstore:"isRegistered" json:"isRegistered"`
	SecretsAdded   bool      `docstore:"secretsAdded" json:"secretsAdded"`

	// DocstoreRevision is set by the store on every read and write and is
	// checked on update.
	DocstoreRevision interface{} `json:"-"`
}

// NewRecord returns an unregistered record for displayName.
func NewRecord(displayName, repositoryURL string, now time.Time) *Record {
	return &Record{
		Key:           Sanitize(displayName),
		Partition:     Partition,
		Name:          displayName,
		RepositoryURL: repositoryURL,
		CreatedAt:     now.UTC(),
	}
}

// Sanitize turns a display name into the key used for the repository and
// the record: surrounding whitespace trimmed, spaces replaced by hyphens,
// lowercased. Sanitize(Sanitize(s)) == Sanitize(s).
func Sanitize(displayName string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(displayName), " ", "-"))
}
