package service

import (
	"context"
	"errors"
	"testing"

	"github.com/sakif/fixjam/internal/apperror"
	"github.com/sakif/fixjam/internal/auth"
	"github.com/sakif/fixjam/internal/model"
)

// newTestAuthService returns an AuthService wired with fake dependencies.
func newTestAuthService(t *testing.T, store *fakeStore) *AuthService {
	t.Helper()
	// Cost 4 is the bcrypt minimum, which keeps tests fast.
	return NewAuthService(store, auth.NewPasswordServiceForTest(4), quietLogger())
}

// =========================================================================
// REGISTER / LOGIN
// =========================================================================

func TestRegisterThenLogin(t *testing.T) {
	store := newFakeStore()
	svc := newTestAuthService(t, store)
	ctx := context.Background()

	account, err := svc.Register(ctx, RegisterInput{Username: "rachel", Password: "correct-horse", FirstName: "Rachel"})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if account.ID == "" || !account.Active {
		t.Fatalf("Register() account = %+v", account)
	}
	if account.PasswordHash == "correct-horse" {
		t.Fatal("password must be stored hashed")
	}

	got, err := svc.Login(ctx, "rachel", "correct-horse")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if got.ID != account.ID {
		t.Errorf("Login() ID = %q, want %q", got.ID, account.ID)
	}
}

func TestRegister_Validation(t *testing.T) {
	svc := newTestAuthService(t, newFakeStore())
	ctx := context.Background()

	cases := []struct {
		name  string
		in    RegisterInput
		field string
	}{
		{"short username", RegisterInput{Username: "ab", Password: "long-enough"}, "username"},
		{"bad characters", RegisterInput{Username: "a b c", Password: "long-enough"}, "username"},
		{"short password", RegisterInput{Username: "rachel", Password: "short"}, "password"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tc.in)
			var appErr *apperror.AppError
			if !errors.As(err, &appErr) || !errors.Is(err, apperror.ErrValidation) {
				t.Fatalf("Register() error = %v, want validation error", err)
			}
			if appErr.Field != tc.field {
				t.Errorf("Field = %q, want %q", appErr.Field, tc.field)
			}
		})
	}
}

func TestRegister_DuplicateUsername(t *testing.T) {
	svc := newTestAuthService(t, newFakeStore())
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterInput{Username: "rachel", Password: "password-1"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	_, err := svc.Register(ctx, RegisterInput{Username: "rachel", Password: "password-2"})
	if !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("Register() error = %v, want conflict", err)
	}
}

func TestLogin_Failures(t *testing.T) {
	store := newFakeStore()
	svc := newTestAuthService(t, store)
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterInput{Username: "rachel", Password: "correct-horse"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	inactive, err := svc.Register(ctx, RegisterInput{Username: "gone", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	store.native[inactive.ID].Active = false

	cases := []struct{ username, password string }{
		{"rachel", "wrong-horse"},
		{"nobody", "correct-horse"},
		{"gone", "correct-horse"},
	}
	for _, tc := range cases {
		_, err := svc.Login(ctx, tc.username, tc.password)
		if !errors.Is(err, apperror.ErrUnauthorized) {
			t.Errorf("Login(%q) error = %v, want unauthorized", tc.username, err)
		}
	}
}

// =========================================================================
// TWITTER LOGIN
// =========================================================================

func TestCompleteTwitterLogin_SeedsProfileCache(t *testing.T) {
	store := newFakeStore()
	svc := newTestAuthService(t, store)
	ctx := context.Background()

	account, err := svc.CompleteTwitterLogin(ctx, &auth.TwitterAccessToken{
		ScreenName: "chandler",
		Token:      "acc",
		Secret:     "ref",
		Profile:    &model.TwitterProfile{ScreenName: "chandler", Name: "Chandler B"},
	})
	if err != nil {
		t.Fatalf("CompleteTwitterLogin() error = %v", err)
	}

	stored := store.twitter[account.ID]
	if _, ok := stored.DataCache.Lookup(model.ProfileField); !ok {
		t.Error("profile cache should be seeded from the login exchange")
	}

	again, err := svc.CompleteTwitterLogin(ctx, &auth.TwitterAccessToken{ScreenName: "chandler", Token: "acc2", Secret: "ref2"})
	if err != nil {
		t.Fatalf("CompleteTwitterLogin() error = %v", err)
	}
	if again.ID != account.ID || store.twitter[account.ID].OAuthToken != "acc2" {
		t.Errorf("second login should refresh tokens on the same account")
	}
}

func TestCompleteTwitterLogin_RequiresScreenName(t *testing.T) {
	svc := newTestAuthService(t, newFakeStore())
	if _, err := svc.CompleteTwitterLogin(context.Background(), &auth.TwitterAccessToken{}); err == nil {
		t.Fatal("CompleteTwitterLogin() should reject an empty screen name")
	}
}

// =========================================================================
// PROOFS
// =========================================================================

func TestProofs(t *testing.T) {
	store := newFakeStore()
	svc := newTestAuthService(t, store)
	ctx := context.Background()

	native, _ := svc.Register(ctx, RegisterInput{Username: "rachel", Password: "correct-horse"})
	tw, _ := store.UpsertTwitterAccount(ctx, "chandler", "t", "s")
	fb := &model.FacebookSession{UID: 555}

	proofs, err := svc.Proofs(ctx, auth.SessionClaims{NativeAccountID: native.ID, TwitterAccountID: tw.ID}, fb)
	if err != nil {
		t.Fatalf("Proofs() error = %v", err)
	}
	if proofs.Count() != 3 {
		t.Fatalf("Proofs().Count() = %d, want 3", proofs.Count())
	}

	proofs, err = svc.Proofs(ctx, auth.SessionClaims{NativeAccountID: "deleted", TwitterAccountID: "deleted"}, nil)
	if err != nil {
		t.Fatalf("Proofs() error = %v", err)
	}
	if proofs.Count() != 0 {
		t.Errorf("claims for missing accounts are not proofs, got %d", proofs.Count())
	}

	store.native[native.ID].Active = false
	proofs, _ = svc.Proofs(ctx, auth.SessionClaims{NativeAccountID: native.ID}, nil)
	if proofs.Native != nil {
		t.Error("an inactive native account is not a proof")
	}
}
