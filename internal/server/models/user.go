package models

import (
	"github.com/dmitrijs2005/natskeeper/internal/common"
	"github.com/dmitrijs2005/natskeeper/internal/nsc"
	"github.com/google/uuid"
)

type UserStatus string

const (
	UserActive                  UserStatus = "Active"
	UserRevocationPending       UserStatus = "Revocation Pending"
	UserRevoked                 UserStatus = "Revoked"
	UserRevertRevocationPending UserStatus = "Revert Revocation Pending"
)

// Direction says which way a subject permission applies.
type Direction string

const (
	Publish   Direction = "Publish"
	Subscribe Direction = "Subscribe"
	PubSub    Direction = "PubSub"
)

func (d Direction) Valid() bool {
	switch d {
	case Publish, Subscribe, PubSub:
		return true
	}
	return false
}

// Subject is one permission entry of a user.
type Subject struct {
	Subject   string
	Direction Direction
}

// User is a connection identity scoped to one account.
type User struct {
	ID       string
	Name     string
	Account  string
	UserID   string
	Status   UserStatus
	Subjects []Subject
}

// NewUser returns an active user record in account.
func NewUser(account, name string, subjects []Subject) *User {
	return &User{
		ID:       uuid.NewString(),
		Name:     name,
		Account:  account,
		Status:   UserActive,
		Subjects: subjects,
	}
}

// PubSubjects lists the subjects the user may publish to.
func (u *User) PubSubjects() []string {
	return u.subjects(Publish)
}

// SubSubjects lists the subjects the user may subscribe to.
func (u *User) SubSubjects() []string {
	return u.subjects(Subscribe)
}

func (u *User) subjects(d Direction) []string {
	out := []string{}
	for _, s := range u.Subjects {
		if s.Direction == d || s.Direction == PubSub {
			out = append(out, s.Subject)
		}
	}
	return out
}

// ValidateSubjects checks every entry has a well-formed subject and a known
// direction.
func ValidateSubjects(subjects []Subject) error {
	for i, s := range subjects {
		if s.Subject == "" {
			return common.Validationf("subject #%d is empty", i+1)
		}
		if err := nsc.ValidateSubject(s.Subject); err != nil {
			return err
		}
		if !s.Direction.Valid() {
			return common.Validationf("subject %q has invalid direction %q", s.Subject, s.Direction)
		}
	}
	return nil
}

// RequestRevocation moves an active (or revert-pending) user to
// Revocation Pending.
func (u *User) RequestRevocation() error {
	switch u.Status {
	case UserRevoked:
		return common.InvalidStatef("user %s is already revoked", u.Name)
	case UserRevocationPending:
		return common.InvalidStatef("revocation of user %s is already pending", u.Name)
	}
	u.Status = UserRevocationPending
	return nil
}

// RevertRevocation moves a revoked user to Revert Revocation Pending.
func (u *User) RevertRevocation() error {
	if u.Status != UserRevoked {
		return common.InvalidStatef("user %s should be revoked to revert revocation, current status: %s", u.Name, u.Status)
	}
	u.Status = UserRevertRevocationPending
	return nil
}
