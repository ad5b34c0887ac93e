package session

import (
	"errors"
	"time"
)

var (
	// ErrIllegalTransition is returned by Advance for an event the current
	// state does not accept.
	ErrIllegalTransition = errors.New("session: illegal state transition")
	// ErrPendingExpired is returned when an MFA completion arrives after the
	// pending state expired.
	ErrPendingExpired = errors.New("session: mfa pending state expired")
)

// State is a login state. The concrete types are Unauthenticated,
// MFAPending and Authenticated.
type State interface {
	isState()
	String() string
}

// Unauthenticated is the initial state.
type Unauthenticated struct{}

// MFAPending is a login that passed the password check and awaits a
// second factor.
type MFAPending struct {
	UserID    string
	ExpiresAt time.Time
}

// Authenticated is a completed login.
type Authenticated struct {
	UserID string
}

func (Unauthenticated) isState() {}
func (MFAPending) isState()      {}
func (Authenticated) isState()   {}

func (Unauthenticated) String() string { return "unauthenticated" }
func (MFAPending) String() string      { return "mfa_pending" }
func (Authenticated) String() string   { return "authenticated" }

// Event drives a transition.
type Event interface {
	isEvent()
}

// PasswordVerified is raised after a correct password for an active
// account. With MFARequired set the login parks in MFAPending until
// PendingExpiresAt.
type PasswordVerified struct {
	UserID           string
	MFARequired      bool
	PendingExpiresAt time.Time
}

// MFAVerified is raised after a correct second-factor code.
type MFAVerified struct{}

// MFAAbandoned is raised when the pending login is discarded, for example
// after too many wrong codes.
type MFAAbandoned struct{}

// LoggedOut ends an authenticated login.
type LoggedOut struct{}

func (PasswordVerified) isEvent() {}
func (MFAVerified) isEvent()      {}
func (MFAAbandoned) isEvent()     {}
func (LoggedOut) isEvent()        {}

// Advance returns the state that follows s on ev at now. s is not
// modified; an illegal pair returns s unchanged with ErrIllegalTransition.
func Advance(s State, ev Event, now time.Time) (State, error) {
	switch cur := s.(type) {
	case Unauthenticated:
		if pv, ok := ev.(PasswordVerified); ok && pv.UserID != "" {
			if !pv.MFARequired {
				return Authenticated{UserID: pv.UserID}, nil
			}
			if !now.Before(pv.PendingExpiresAt) {
				return s, ErrIllegalTransition
			}
			return MFAPending{UserID: pv.UserID, ExpiresAt: pv.PendingExpiresAt}, nil
		}
	case MFAPending:
		switch ev.(type) {
		case MFAVerified:
			if !now.Before(cur.ExpiresAt) {
				return Unauthenticated{}, ErrPendingExpired
			}
			return Authenticated{UserID: cur.UserID}, nil
		case MFAAbandoned:
			return Unauthenticated{}, nil
		}
	case Authenticated:
		if _, ok := ev.(LoggedOut); ok {
			return Unauthenticated{}, nil
		}
	}
	return s, ErrIllegalTransition
}
