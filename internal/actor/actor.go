// Package actor carries the identity of whoever calls a lifecycle operation.
// It is passed explicitly into every operation; nothing reads it from
// ambient state.
package actor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type Kind string

const (
	KindLocum     Kind = "locum"
	KindPractice  Kind = "practice"
	KindCorporate Kind = "corporate" // practice that operates branches
	KindBranch    Kind = "branch"
)

var ErrInvalidActor = errors.New("invalid actor")

// Context identifies the caller. PracticeID is the parent practice of a
// branch actor and is unused for other kinds.
type Context struct {
	ID         uuid.UUID
	Kind       Kind
	Role       string
	PracticeID uuid.UUID
}

// ParseKind accepts the wire spelling of a kind, case-insensitively.
func ParseKind(raw string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(raw))); k {
	case KindLocum, KindPractice, KindCorporate, KindBranch:
		return k, nil
	default:
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidActor, raw)
	}
}

func (c Context) Validate() error {
	if c.ID == uuid.Nil {
		return fmt.Errorf("%w: missing id", ErrInvalidActor)
	}
	if _, err := ParseKind(string(c.Kind)); err != nil {
		return err
	}
	if c.Kind == KindBranch && c.PracticeID == uuid.Nil {
		return fmt.Errorf("%w: branch actor without practice", ErrInvalidActor)
	}
	return nil
}

func (c Context) IsLocum() bool { return c.Kind == KindLocum }

// IsOrganisation is true for practices, corporates and branches.
func (c Context) IsOrganisation() bool {
	return c.Kind == KindPractice || c.Kind == KindCorporate || c.Kind == KindBranch
}

// RequiresBranch reports whether requests created by this kind of actor must
// name a branch.
func (k Kind) RequiresBranch() bool { return k == KindCorporate }

// Owns reports whether the actor is the practice or branch behind a
// resource.
func (c Context) Owns(practiceID uuid.UUID, branchID *uuid.UUID) bool {
	if !c.IsOrganisation() {
		return false
	}
	if c.ID == practiceID {
		return true
	}
	return branchID != nil && *branchID == c.ID
}

// Party is the wire name used for cancellation attribution.
func (c Context) Party() string {
	switch c.Kind {
	case KindLocum:
		return "locum"
	case KindBranch:
		return "branch"
	default:
		return "practice"
	}
}
