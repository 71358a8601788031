package idgate

import (
	"errors"
	"fmt"
	"testing"
)

func TestPublicErrorNormalization(t *testing.T) {
	cases := []struct {
		name string
		in   error
		want error
	}{
		{"nil", nil, nil},
		{"not found collapses", ErrNotFound, ErrUnauthenticated},
		{"reuse collapses", ErrTokenReused, ErrUnauthenticated},
		{"revoked collapses", ErrRevoked, ErrUnauthenticated},
		{"unauthenticated passes", ErrUnauthenticated, ErrUnauthenticated},
		{"step passes", ErrStepExpiredOrInvalid, ErrStepExpiredOrInvalid},
		{"forbidden passes", ErrForbidden, ErrForbidden},
		{"code passes", ErrCodeExpiredOrInvalid, ErrCodeExpiredOrInvalid},
		{"policy passes", ErrPasswordPolicy, ErrPasswordPolicy},
		{"wrapped reuse collapses", fmt.Errorf("refresh: %w", ErrTokenReused), ErrUnauthenticated},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := PublicError(tc.in)
			if tc.want == nil {
				if got != nil {
					t.Fatalf("expected nil, got %v", got)
				}
				return
			}
			if !errors.Is(got, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}

	// Unrecognized errors pass through untouched so callers can still log them.
	plain := errors.New("redis timeout")
	if got := PublicError(plain); got != plain {
		t.Fatalf("expected passthrough, got %v", got)
	}
}
