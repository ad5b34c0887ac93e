package session

import (
	"errors"
	"testing"
	"time"
)

func TestAdvance(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	pending := MFAPending{UserID: "u1", ExpiresAt: now.Add(5 * time.Minute)}

	tests := []struct {
		name    string
		from    State
		event   Event
		at      time.Time
		want    State
		wantErr error
	}{
		{"password without mfa", Unauthenticated{}, PasswordVerified{UserID: "u1"}, now, Authenticated{UserID: "u1"}, nil},
		{"password with mfa", Unauthenticated{}, PasswordVerified{UserID: "u1", MFARequired: true, PendingExpiresAt: pending.ExpiresAt}, now, pending, nil},
		{"password with already expired pending", Unauthenticated{}, PasswordVerified{UserID: "u1", MFARequired: true, PendingExpiresAt: now}, now, Unauthenticated{}, ErrIllegalTransition},
		{"password without user", Unauthenticated{}, PasswordVerified{}, now, Unauthenticated{}, ErrIllegalTransition},
		{"mfa from pending", pending, MFAVerified{}, now, Authenticated{UserID: "u1"}, nil},
		{"mfa after expiry", pending, MFAVerified{}, pending.ExpiresAt, Unauthenticated{}, ErrPendingExpired},
		{"abandon pending", pending, MFAAbandoned{}, now, Unauthenticated{}, nil},
		{"mfa from unauthenticated", Unauthenticated{}, MFAVerified{}, now, Unauthenticated{}, ErrIllegalTransition},
		{"mfa twice", Authenticated{UserID: "u1"}, MFAVerified{}, now, Authenticated{UserID: "u1"}, ErrIllegalTransition},
		{"password while pending", pending, PasswordVerified{UserID: "u1"}, now, pending, ErrIllegalTransition},
		{"logout", Authenticated{UserID: "u1"}, LoggedOut{}, now, Unauthenticated{}, nil},
		{"logout unauthenticated", Unauthenticated{}, LoggedOut{}, now, Unauthenticated{}, ErrIllegalTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Advance(tt.from, tt.event, tt.at)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("state = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestStateNames(t *testing.T) {
	for s, want := range map[State]string{
		Unauthenticated{}:          "unauthenticated",
		MFAPending{UserID: "u"}:    "mfa_pending",
		Authenticated{UserID: "u"}: "authenticated",
	} {
		if s.String() != want {
			t.Fatalf("%#v: got %q want %q", s, s.String(), want)
		}
	}
}
