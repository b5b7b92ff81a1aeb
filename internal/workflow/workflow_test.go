// Copyright 2025 CruxStack
// SPDX-License-Identifier: MIT

package workflow

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/chainguard-dev/clog/slogtest"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/jonboulle/clockwork"
	"gocloud.dev/docstore/memdocstore"

	"github.com/cruxstack/platform-api/internal/apps"
	"github.com/cruxstack/platform-api/internal/identity"
	"github.com/cruxstack/platform-api/internal/shared"
)

type fakeRepos struct {
	created []string
	err     error
}

func (f *fakeRepos) CreateFromTemplate(_ context.Context, name string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.created = append(f.created, name)
	return "https://github.com/acme/" + name, nil
}

type fakeSecrets struct {
	values map[string]map[string]string
	failOn string
}

func (f *fakeSecrets) SetSecret(_ context.Context, repo, name, plaintext string) error {
	if name == f.failOn {
		return fmt.Errorf("%w: rejected", shared.ErrSecretUpload)
	}
	if f.values == nil {
		f.values = map[string]map[string]string{}
	}
	if f.values[repo] == nil {
		f.values[repo] = map[string]string{}
	}
	f.values[repo][name] = plaintext
	return nil
}

type fakeRegistrar struct {
	registered []string
	subjects   []string
	fcErr      error
}

func (f *fakeRegistrar) RegisterApplication(_ context.Context, displayName string) (identity.Application, error) {
	f.registered = append(f.registered, displayName)
	return identity.Application{ObjectID: "obj-1", ClientID: "client-1"}, nil
}

func (f *fakeRegistrar) AddFederatedCredential(_ context.Context, objectID, org, repo string) error {
	if f.fcErr != nil {
		return f.fcErr
	}
	f.subjects = append(f.subjects, objectID+" "+identity.Subject(org, repo))
	return nil
}

// conflictingStore fails the first n updates as if another writer won.
type conflictingStore struct {
	RecordStore
	n       int
	updates int
}

func (c *conflictingStore) Update(ctx context.Context, r *apps.Record) error {
	c.updates++
	if c.updates <= c.n {
		return fmt.Errorf("%w: simulated", shared.ErrConcurrencyConflict)
	}
	return c.RecordStore.Update(ctx, r)
}

type harness struct {
	svc       *Service
	repos     *fakeRepos
	secrets   *fakeSecrets
	registrar *fakeRegistrar
	store     *apps.Store
	clock     *clockwork.FakeClock
}

func newHarness(t *testing.T, wrap func(RecordStore) RecordStore) *harness {
	t.Helper()
	coll, err := memdocstore.OpenCollection("key", nil)
	if err != nil {
		t.Fatal(err)
	}
	h := &harness{
		repos:     &fakeRepos{},
		secrets:   &fakeSecrets{},
		registrar: &fakeRegistrar{},
		store:     apps.NewStore(coll),
		clock:     clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
	}
	t.Cleanup(func() { h.store.Close() })

	var store RecordStore = h.store
	if wrap != nil {
		store = wrap(store)
	}
	h.svc, err = New(Config{
		Org:            "acme",
		TenantID:       "tenant-1",
		SubscriptionID: "sub-1",
		Repos:          h.repos,
		Secrets:        h.secrets,
		Registrar:      h.registrar,
		Store:          store,
		Clock:          h.clock,
	})
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func TestHappyPath(t *testing.T) {
	ctx := slogtest.Context(t)
	h := newHarness(t, nil)

	created, err := h.svc.Create(ctx, CreateRequest{AppName: "My App", Stack: "go"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if diff := cmp.Diff(&CreateResult{RepositoryURL: "https://github.com/acme/my-app", Status: "created"}, created); diff != "" {
		t.Errorf("Create() mismatch (-want +got):\n%s", diff)
	}

	reg, err := h.svc.Register(ctx, "My App")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	wantReg := &RegisterResult{AppID: "obj-1", TenantID: "tenant-1", SubscriptionID: "sub-1", ClientID: "client-1"}
	if diff := cmp.Diff(wantReg, reg); diff != "" {
		t.Errorf("Register() mismatch (-want +got):\n%s", diff)
	}

	res, err := h.svc.AddSecrets(ctx, "My App", SecretsRequest{TenantID: reg.TenantID, SubscriptionID: reg.SubscriptionID, ClientID: reg.ClientID})
	if err != nil {
		t.Fatalf("AddSecrets() error = %v", err)
	}
	if res.Status != "secrets added" {
		t.Errorf("AddSecrets() status = %q", res.Status)
	}

	got, err := h.svc.Get(ctx, "my-app")
	if err != nil {
		t.Fatal(err)
	}
	want := &apps.Record{
		Key:            "my-app",
		Partition:      apps.Partition,
		Name:           "My App",
		RepositoryURL:  "https://github.com/acme/my-app",
		ClientID:       "client-1",
		ObjectID:       "obj-1",
		TenantID:       "tenant-1",
		SubscriptionID: "sub-1",
		CreatedAt:      h.clock.Now(),
		IsRegistered:   true,
		SecretsAdded:   true,
	}
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(apps.Record{}, "DocstoreRevision")); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([]string{"my-app"}, h.repos.created); diff != "" {
		t.Errorf("repositories mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"obj-1 repo:acme/my-app:ref:refs/heads/main"}, h.registrar.subjects); diff != "" {
		t.Errorf("federated subjects mismatch (-want +got):\n%s", diff)
	}
	wantSecrets := map[string]map[string]string{"my-app": {
		"AZURE_TENANT_ID":       "tenant-1",
		"AZURE_SUBSCRIPTION_ID": "sub-1",
		"AZURE_CLIENT_ID":       "client-1",
	}}
	if diff := cmp.Diff(wantSecrets, h.secrets.values); diff != "" {
		t.Errorf("secrets mismatch (-want +got):\n%s", diff)
	}
}

func TestCreate_BlankName(t *testing.T) {
	h := newHarness(t, nil)
	for _, name := range []string{"", "   "} {
		if _, err := h.svc.Create(slogtest.Context(t), CreateRequest{AppName: name}); !errors.Is(err, shared.ErrInvalidRequest) {
			t.Errorf("Create(%q) error = %v, want ErrInvalidRequest", name, err)
		}
	}
	if len(h.repos.created) != 0 {
		t.Errorf("repositories created for blank names: %v", h.repos.created)
	}
}

func TestCreate_ProvisioningFailureStoresNothing(t *testing.T) {
	ctx := slogtest.Context(t)
	h := newHarness(t, nil)
	h.repos.err = fmt.Errorf("%w: name already exists", shared.ErrProvisioning)

	if _, err := h.svc.Create(ctx, CreateRequest{AppName: "My App"}); !errors.Is(err, shared.ErrProvisioning) {
		t.Fatalf("Create() error = %v, want ErrProvisioning", err)
	}
	if _, err := h.svc.Get(ctx, "My App"); !errors.Is(err, shared.ErrNotFound) {
		t.Errorf("Get() after failed create error = %v, want ErrNotFound", err)
	}
}

func TestRegister_UnknownApplication(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.svc.Register(slogtest.Context(t), "ghost"); !errors.Is(err, shared.ErrNotFound) {
		t.Errorf("Register() error = %v, want ErrNotFound", err)
	}
	if len(h.registrar.registered) != 0 {
		t.Error("registered an application without a record")
	}
}

func TestRegister_FederatedCredentialFailureLeavesRecord(t *testing.T) {
	ctx := slogtest.Context(t)
	h := newHarness(t, nil)
	if _, err := h.svc.Create(ctx, CreateRequest{AppName: "my-app"}); err != nil {
		t.Fatal(err)
	}
	h.registrar.fcErr = fmt.Errorf("%w: duplicate", shared.ErrFederatedCredential)

	if _, err := h.svc.Register(ctx, "my-app"); !errors.Is(err, shared.ErrFederatedCredential) {
		t.Fatalf("Register() error = %v, want ErrFederatedCredential", err)
	}
	r, err := h.svc.Get(ctx, "my-app")
	if err != nil {
		t.Fatal(err)
	}
	if r.IsRegistered || r.ClientID != "" {
		t.Errorf("record marked registered after failure: %+v", r)
	}
}

func TestAddSecrets_Validation(t *testing.T) {
	ctx := slogtest.Context(t)
	h := newHarness(t, nil)
	if _, err := h.svc.Create(ctx, CreateRequest{AppName: "my-app"}); err != nil {
		t.Fatal(err)
	}

	_, err := h.svc.AddSecrets(ctx, "my-app", SecretsRequest{TenantID: "t", ClientID: "c"})
	if !errors.Is(err, shared.ErrInvalidRequest) {
		t.Errorf("AddSecrets() error = %v, want ErrInvalidRequest", err)
	}
	if len(h.secrets.values) != 0 {
		t.Errorf("secrets written despite invalid request: %v", h.secrets.values)
	}
}

func TestAddSecrets_UploadFailure(t *testing.T) {
	ctx := slogtest.Context(t)
	h := newHarness(t, nil)
	if _, err := h.svc.Create(ctx, CreateRequest{AppName: "my-app"}); err != nil {
		t.Fatal(err)
	}
	h.secrets.failOn = SecretSubscriptionID

	_, err := h.svc.AddSecrets(ctx, "my-app", SecretsRequest{TenantID: "t", SubscriptionID: "s", ClientID: "c"})
	if !errors.Is(err, shared.ErrSecretUpload) {
		t.Fatalf("AddSecrets() error = %v, want ErrSecretUpload", err)
	}
	r, err := h.svc.Get(ctx, "my-app")
	if err != nil {
		t.Fatal(err)
	}
	if r.SecretsAdded {
		t.Error("record marked with secrets after failed upload")
	}
}

func TestUpdate_RetriesConflicts(t *testing.T) {
	tests := []struct {
		name      string
		conflicts int
		wantErr   error
	}{
		{name: "recovers", conflicts: maxUpdateAttempts - 1},
		{name: "gives up", conflicts: maxUpdateAttempts, wantErr: shared.ErrConcurrencyConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := slogtest.Context(t)
			var cs *conflictingStore
			h := newHarness(t, func(s RecordStore) RecordStore {
				cs = &conflictingStore{RecordStore: s, n: tt.conflicts}
				return cs
			})
			if _, err := h.svc.Create(ctx, CreateRequest{AppName: "my-app"}); err != nil {
				t.Fatal(err)
			}

			_, err := h.svc.Register(ctx, "my-app")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Register() error = %v, want %v", err, tt.wantErr)
			}
			if cs.updates > maxUpdateAttempts {
				t.Errorf("updates = %d, want at most %d", cs.updates, maxUpdateAttempts)
			}
			if got := len(h.registrar.registered); got != 1 {
				t.Errorf("external registration repeated %d times", got)
			}
		})
	}
}

func TestDeleteAndList(t *testing.T) {
	ctx := slogtest.Context(t)
	h := newHarness(t, nil)
	for _, name := range []string{"One", "Two"} {
		if _, err := h.svc.Create(ctx, CreateRequest{AppName: name}); err != nil {
			t.Fatal(err)
		}
	}

	if err := h.svc.Delete(ctx, "One"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := h.svc.Delete(ctx, "One"); !errors.Is(err, shared.ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}

	records, err := h.svc.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Key != "two" {
		t.Errorf("List() = %v, want only two", records)
	}
}
