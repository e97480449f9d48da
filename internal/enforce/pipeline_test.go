// Copyright 2026 The SecureDocs Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package enforce

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/securedocs/securedocs/internal/audit"
	"github.com/securedocs/securedocs/internal/authz"
	"github.com/securedocs/securedocs/internal/document"
	"github.com/securedocs/securedocs/internal/identity"
	"github.com/securedocs/securedocs/internal/otp"
)

type mockUserRepo struct {
	users map[string]*identity.User
	// failWith, when set, makes every read fail
	failWith error
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{users: make(map[string]*identity.User)}
}

func (m *mockUserRepo) Create(ctx context.Context, u *identity.User) error {
	m.users[u.ID] = u
	return nil
}

func (m *mockUserRepo) AddCredentials(ctx context.Context, c *identity.Credentials) error { return nil }

func (m *mockUserRepo) GetByID(ctx context.Context, id string) (*identity.User, error) {
	if m.failWith != nil {
		return nil, m.failWith
	}
	u, ok := m.users[id]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	return u, nil
}

func (m *mockUserRepo) GetByEmail(ctx context.Context, email string) (*identity.User, error) {
	return nil, identity.ErrUserNotFound
}

func (m *mockUserRepo) Update(ctx context.Context, u *identity.User) error { return nil }

func (m *mockUserRepo) UpdateLockout(ctx context.Context, userID string, failedAttempts int, locked bool) error {
	return nil
}

func (m *mockUserRepo) RecordFailedAttempt(ctx context.Context, userID string, maxAttempts int) (int, bool, error) {
	u, ok := m.users[userID]
	if !ok {
		return 0, false, identity.ErrUserNotFound
	}
	u.FailedAttempts++
	if u.FailedAttempts >= maxAttempts {
		u.Locked = true
	}
	return u.FailedAttempts, u.Locked, nil
}

func (m *mockUserRepo) UpdateSecondFactor(ctx context.Context, userID string, sf identity.SecondFactor) error {
	u, ok := m.users[userID]
	if !ok {
		return identity.ErrUserNotFound
	}
	u.SecondFactor = sf
	return nil
}

func (m *mockUserRepo) UpdateLastAccess(ctx context.Context, userID string, at time.Time) error {
	return nil
}

func (m *mockUserRepo) List(ctx context.Context) ([]*identity.User, error) { return nil, nil }

func (m *mockUserRepo) Delete(ctx context.Context, id string) error { return nil }

func (m *mockUserRepo) GetCredentials(ctx context.Context, userID string) (*identity.Credentials, error) {
	return nil, identity.ErrUserNotFound
}

func (m *mockUserRepo) UpdatePassword(ctx context.Context, userID string, passwordHash string) error {
	return nil
}

type mockDocRepo struct {
	docs     map[string]*document.Document
	failWith error
}

func newMockDocRepo() *mockDocRepo {
	return &mockDocRepo{docs: make(map[string]*document.Document)}
}

func (m *mockDocRepo) Create(ctx context.Context, d *document.Document) error {
	m.docs[d.ID] = d
	return nil
}

func (m *mockDocRepo) GetByID(ctx context.Context, id string) (*document.Document, error) {
	if m.failWith != nil {
		return nil, m.failWith
	}
	d, ok := m.docs[id]
	if !ok {
		return nil, document.ErrDocumentNotFound
	}
	return d, nil
}

func (m *mockDocRepo) List(ctx context.Context, f document.ListFilter) ([]*document.Document, error) {
	return nil, nil
}

func (m *mockDocRepo) Update(ctx context.Context, d *document.Document) error { return nil }

func (m *mockDocRepo) SetState(ctx context.Context, id string, st document.State, at time.Time) error {
	d, ok := m.docs[id]
	if !ok {
		return document.ErrDocumentNotFound
	}
	d.State = st
	return nil
}

func (m *mockDocRepo) IncrementViewCount(ctx context.Context, id string, at time.Time) error {
	return nil
}

func (m *mockDocRepo) IncrementDownloadCount(ctx context.Context, id string, at time.Time) error {
	return nil
}

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

type fixture struct {
	users    *mockUserRepo
	docs     *mockDocRepo
	manager  *otp.Manager
	pipeline *Pipeline
	clock    *fixedClock
}

func newFixture() *fixture {
	users := newMockUserRepo()
	docs := newMockDocRepo()
	clock := &fixedClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	auditLogger := audit.NewSlogLogger()
	manager := otp.NewManager(users, auditLogger, clock, "SecureDocs")
	return &fixture{
		users:    users,
		docs:     docs,
		manager:  manager,
		pipeline: NewPipeline(users, docs, manager, auditLogger, nil),
		clock:    clock,
	}
}

func (f *fixture) addUser(id string, role authz.Role) *identity.User {
	u := &identity.User{ID: id, Email: id + "@example.com", Role: role, Active: true}
	f.users.users[id] = u
	return u
}

func (f *fixture) addDoc(id, ownerID string, c authz.Classification) *document.Document {
	d := &document.Document{ID: id, OwnerID: ownerID, Title: id, Classification: c, State: document.StateActive}
	f.docs.docs[id] = d
	return d
}

// enroll provisions and activates a second factor, returning the secret.
func (f *fixture) enroll(t *testing.T, userID string) string {
	t.Helper()
	enrollment, err := f.manager.BeginProvisioning(context.Background(), userID)
	if err != nil {
		t.Fatalf("provisioning failed: %v", err)
	}
	code, _ := totp.GenerateCode(enrollment.Secret, f.clock.now)
	if err := f.manager.ConfirmActivation(context.Background(), userID, code); err != nil {
		t.Fatalf("activation failed: %v", err)
	}
	return enrollment.Secret
}

// TestPurpose: Validates the pipeline's ordered short-circuit outcomes for principal, account, and resource failures.
// Scope: Integration of pipeline steps over in-memory repositories
// Security: Fail-closed enforcement ordering
// Expected: Each broken precondition maps to its tagged outcome before later steps run.
// Test Case ID: ENF-01
func TestEnforce_Pipeline_ShortCircuitOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	user := f.addUser("user-1", authz.RoleStandard)
	doc := f.addDoc("doc-1", "someone-else", authz.ClassificationPublic)

	cases := []struct {
		name       string
		setup      func()
		principal  string
		doc        string
		action     authz.Action
		wantDec    Decision
		wantReason Reason
	}{
		{
			name:       "empty principal",
			setup:      func() {},
			principal:  "",
			doc:        doc.ID,
			action:     authz.ActionView,
			wantDec:    DecisionDenied,
			wantReason: ReasonUnauthenticated,
		},
		{
			name:       "unknown principal",
			setup:      func() {},
			principal:  "ghost",
			doc:        doc.ID,
			action:     authz.ActionView,
			wantDec:    DecisionDenied,
			wantReason: ReasonUnauthenticated,
		},
		{
			name:       "inactive account",
			setup:      func() { user.Active = false },
			principal:  user.ID,
			doc:        doc.ID,
			action:     authz.ActionView,
			wantDec:    DecisionDenied,
			wantReason: ReasonAccountInactive,
		},
		{
			name:       "locked account",
			setup:      func() { user.Active = true; user.Locked = true },
			principal:  user.ID,
			doc:        doc.ID,
			action:     authz.ActionView,
			wantDec:    DecisionDenied,
			wantReason: ReasonAccountLocked,
		},
		{
			name:       "missing document",
			setup:      func() { user.Locked = false },
			principal:  user.ID,
			doc:        "no-such-doc",
			action:     authz.ActionView,
			wantDec:    DecisionResourceUnavailable,
			wantReason: ReasonNotFound,
		},
		{
			name:       "deleted document",
			setup:      func() { doc.State = document.StateDeleted },
			principal:  user.ID,
			doc:        doc.ID,
			action:     authz.ActionView,
			wantDec:    DecisionResourceUnavailable,
			wantReason: ReasonGone,
		},
		{
			name:       "archived document",
			setup:      func() { doc.State = document.StateArchived },
			principal:  user.ID,
			doc:        doc.ID,
			action:     authz.ActionView,
			wantDec:    DecisionResourceUnavailable,
			wantReason: ReasonGone,
		},
		{
			name:       "insufficient permission",
			setup:      func() { doc.State = document.StateActive },
			principal:  user.ID,
			doc:        doc.ID,
			action:     authz.ActionEdit,
			wantDec:    DecisionDenied,
			wantReason: ReasonInsufficientPermission,
		},
		{
			name:       "allowed without second factor",
			setup:      func() {},
			principal:  user.ID,
			doc:        doc.ID,
			action:     authz.ActionView,
			wantDec:    DecisionProceed,
			wantReason: "",
		},
	}

	for _, tc := range cases {
		tc.setup()
		out, err := f.pipeline.Enforce(ctx, tc.principal, tc.doc, tc.action, "")
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if out.Decision != tc.wantDec || out.Reason != tc.wantReason {
			t.Errorf("%s: expected %s/%s, got %s/%s", tc.name, tc.wantDec, tc.wantReason, out.Decision, out.Reason)
		}
	}
}

// TestPurpose: Validates the step-up path: challenge when unenrolled or code missing, rejection of malformed and wrong codes, and success with a valid code.
// Scope: Integration of pipeline and lifecycle manager
// Security: Second-factor enforcement
// Expected: Outcomes follow the challenge/invalid/proceed progression as the enrollment and code change.
// Test Case ID: ENF-02
func TestEnforce_Pipeline_StepUp(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	user := f.addUser("user-1", authz.RoleStandard)
	doc := f.addDoc("doc-1", user.ID, authz.ClassificationSecret)

	// Owner may view a secret document, but viewing secret requires a factor
	out, err := f.pipeline.Enforce(ctx, user.ID, doc.ID, authz.ActionView, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Decision != DecisionOtpChallengeRequired || out.Reason != ReasonOtpNotConfigured {
		t.Fatalf("expected challenge/not-configured, got %s/%s", out.Decision, out.Reason)
	}

	secret := f.enroll(t, user.ID)

	out, _ = f.pipeline.Enforce(ctx, user.ID, doc.ID, authz.ActionView, "")
	if out.Decision != DecisionOtpChallengeRequired || out.Reason != ReasonOtpCodeMissing {
		t.Fatalf("expected challenge/code-missing, got %s/%s", out.Decision, out.Reason)
	}

	out, _ = f.pipeline.Enforce(ctx, user.ID, doc.ID, authz.ActionView, "12ab56")
	if out.Decision != DecisionOtpInvalid || out.Reason != ReasonOtpBadFormat {
		t.Fatalf("expected invalid/bad-format, got %s/%s", out.Decision, out.Reason)
	}

	wrong, _ := totp.GenerateCode(secret, f.clock.now.Add(-2*time.Minute))
	out, _ = f.pipeline.Enforce(ctx, user.ID, doc.ID, authz.ActionView, wrong)
	if out.Decision != DecisionOtpInvalid || out.Reason != ReasonOtpMismatch {
		t.Fatalf("expected invalid/mismatch, got %s/%s", out.Decision, out.Reason)
	}

	code, _ := totp.GenerateCode(secret, f.clock.now)
	out, err = f.pipeline.Enforce(ctx, user.ID, doc.ID, authz.ActionView, code)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Allowed() {
		t.Fatalf("expected proceed, got %s/%s", out.Decision, out.Reason)
	}
	if out.User == nil || out.Document == nil {
		t.Error("expected proceed outcome to carry the resolved user and document")
	}
}

// TestPurpose: Validates that the second-factor policy matrix drives when the pipeline demands a code.
// Scope: Integration of pipeline and policy matrix
// Security: Step-up policy coverage
// Expected: Admin deleting public needs no factor; standard deleting public does; supervisor downloading restricted does not; standard downloading restricted does.
// Test Case ID: ENF-03
func TestEnforce_Pipeline_PolicyMatrix(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	admin := f.addUser("adm", authz.RoleAdmin)
	standard := f.addUser("std", authz.RoleStandard)
	supervisor := f.addUser("sup", authz.RoleSupervisor)

	publicDoc := f.addDoc("pub", standard.ID, authz.ClassificationPublic)
	restrictedDoc := f.addDoc("res", "someone", authz.ClassificationRestricted)

	out, _ := f.pipeline.Enforce(ctx, admin.ID, publicDoc.ID, authz.ActionDelete, "")
	if !out.Allowed() {
		t.Errorf("admin delete public: expected proceed, got %s/%s", out.Decision, out.Reason)
	}

	out, _ = f.pipeline.Enforce(ctx, standard.ID, publicDoc.ID, authz.ActionDelete, "")
	if out.Decision != DecisionOtpChallengeRequired {
		t.Errorf("owner delete public: expected challenge, got %s/%s", out.Decision, out.Reason)
	}

	out, _ = f.pipeline.Enforce(ctx, supervisor.ID, restrictedDoc.ID, authz.ActionDownload, "")
	if !out.Allowed() {
		t.Errorf("supervisor download restricted: expected proceed, got %s/%s", out.Decision, out.Reason)
	}

	// Standard users cannot reach someone else's restricted document at
	// all, so permission denies before the factor question arises.
	out, _ = f.pipeline.Enforce(ctx, standard.ID, restrictedDoc.ID, authz.ActionDownload, "")
	if out.Decision != DecisionDenied || out.Reason != ReasonInsufficientPermission {
		t.Errorf("standard download restricted: expected denied, got %s/%s", out.Decision, out.Reason)
	}
}

// TestPurpose: Validates that collaborator failures surface as errors and never as an allow.
// Scope: Unit Test
// Security: Fail-closed behavior on storage faults
// Expected: A failing repository read yields a non-nil error and a zero outcome.
// Test Case ID: ENF-04
func TestEnforce_Pipeline_TransientFailure(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	user := f.addUser("user-1", authz.RoleStandard)
	doc := f.addDoc("doc-1", user.ID, authz.ClassificationPublic)

	f.users.failWith = errors.New("connection refused")
	out, err := f.pipeline.Enforce(ctx, user.ID, doc.ID, authz.ActionView, "")
	if err == nil {
		t.Fatal("expected error for failing user repository")
	}
	if out.Allowed() {
		t.Fatal("transient failure must never allow")
	}

	f.users.failWith = nil
	f.docs.failWith = errors.New("connection refused")
	out, err = f.pipeline.Enforce(ctx, user.ID, doc.ID, authz.ActionView, "")
	if err == nil {
		t.Fatal("expected error for failing document repository")
	}
	if out.Allowed() {
		t.Fatal("transient failure must never allow")
	}
}

// TestPurpose: Validates that an archived document is unavailable even to its owner, exactly like a soft-deleted one.
// Scope: Unit Test
// Security: Lifecycle enforcement over ownership
// Expected: Resource-unavailable with the gone reason for owner access to an archived document.
// Test Case ID: ENF-05
func TestEnforce_Pipeline_ArchivedUnavailableToOwner(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	owner := f.addUser("owner-1", authz.RoleStandard)
	doc := f.addDoc("doc-1", owner.ID, authz.ClassificationPublic)
	doc.State = document.StateArchived

	for _, action := range []authz.Action{authz.ActionView, authz.ActionDownload, authz.ActionEdit} {
		out, err := f.pipeline.Enforce(ctx, owner.ID, doc.ID, action, "")
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", action, err)
		}
		if out.Decision != DecisionResourceUnavailable || out.Reason != ReasonGone {
			t.Errorf("%s: expected %s/%s, got %s/%s", action,
				DecisionResourceUnavailable, ReasonGone, out.Decision, out.Reason)
		}
	}
}
