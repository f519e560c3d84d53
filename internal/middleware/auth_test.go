package middleware

import (
	"context"
	"testing"
	"time"

	"connectrpc.com/connect"

	"github.com/mmynk/walktracker/internal/auth"
	"github.com/mmynk/walktracker/internal/models"
)

type empty struct{}

func callUnary(t *testing.T, i *AuthInterceptor, header string) (string, error) {
	t.Helper()
	var email string
	next := func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		email = GetEmail(ctx)
		return connect.NewResponse(&empty{}), nil
	}
	req := connect.NewRequest(&empty{})
	if header != "" {
		req.Header().Set("Authorization", header)
	}
	_, err := i.WrapUnary(next)(context.Background(), req)
	return email, err
}

func TestAuthInterceptor(t *testing.T) {
	jwtManager := auth.NewJWTManager("test-secret", time.Hour)
	token, err := jwtManager.Generate(models.User{Email: "alice@example.com", Name: "Alice"})
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	tests := []struct {
		name      string
		required  bool
		header    string
		wantEmail string
		wantCode  connect.Code
	}{
		{name: "required with token", required: true, header: "Bearer " + token, wantEmail: "alice@example.com"},
		{name: "required without token", required: true, wantCode: connect.CodeUnauthenticated},
		{name: "required with malformed header", required: true, header: "Token " + token, wantCode: connect.CodeUnauthenticated},
		{name: "required with bad token", required: true, header: "Bearer nope", wantCode: connect.CodeUnauthenticated},
		{name: "optional with token", header: "Bearer " + token, wantEmail: "alice@example.com"},
		{name: "optional anonymous"},
		{name: "optional with bad token", header: "Bearer nope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			i := OptionalAuth(jwtManager)
			if tt.required {
				i = RequireAuth(jwtManager)
			}

			email, err := callUnary(t, i, tt.header)
			if tt.wantCode != 0 {
				if connect.CodeOf(err) != tt.wantCode {
					t.Fatalf("expected %v, got %v", tt.wantCode, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if email != tt.wantEmail {
				t.Errorf("expected email %q, got %q", tt.wantEmail, email)
			}
		})
	}
}

func TestCurrentUser(t *testing.T) {
	if _, ok := CurrentUser(context.Background()); ok {
		t.Error("expected no user on a bare context")
	}
	ctx := WithUser(context.Background(), models.User{Email: "bob@example.com"})
	u, ok := CurrentUser(ctx)
	if !ok || u.Email != "bob@example.com" {
		t.Errorf("unexpected user %+v", u)
	}
}
