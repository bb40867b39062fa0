package nsc

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/natskeeper/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Kind selects which identity token to read.
type Kind string

const (
	KindOperator Kind = "operator"
	KindAccount  Kind = "account"
	KindUser     Kind = "user"
)

// Permission is one direction (publish or subscribe) of a user's subject
// permissions as encoded in its token.
type Permission struct {
	Allow []string `json:"allow,omitempty"`
	Deny  []string `json:"deny,omitempty"`
}

// NatsClaims is the "nats" section of an operator, account or user token.
// Only the fields this project reads are declared.
type NatsClaims struct {
	Type             string           `json:"type,omitempty"`
	Version          int              `json:"version,omitempty"`
	SystemAccount    string           `json:"system_account,omitempty"`
	AccountServerURL string           `json:"account_server_url,omitempty"`
	Pub              Permission       `json:"pub,omitempty"`
	Sub              Permission       `json:"sub,omitempty"`
	Revocations      map[string]int64 `json:"revocations,omitempty"`
}

// Claims is the decoded claim set of a store token. Subject is the stable
// public-key identifier of the entity.
type Claims struct {
	jwt.RegisteredClaims
	Name string     `json:"name,omitempty"`
	Nats NatsClaims `json:"nats"`
}

// TokenPath returns where the tool keeps the token of the given entity.
// Account and user tokens need accountName; user tokens need userName too.
func (d *Driver) TokenPath(kind Kind, accountName, userName string) (string, error) {
	operatorDir := filepath.Join(d.dir, d.operator)

	switch kind {
	case KindOperator:
		return filepath.Join(operatorDir, d.operator+".jwt"), nil
	case KindAccount:
		if accountName == "" {
			return "", common.Validationf("account name must be provided for %s token", kind)
		}
		return filepath.Join(operatorDir, "accounts", accountName, accountName+".jwt"), nil
	case KindUser:
		if accountName == "" || userName == "" {
			return "", common.Validationf("account and user name must be provided for %s token", kind)
		}
		return filepath.Join(operatorDir, "accounts", accountName, "users", userName+".jwt"), nil
	default:
		return "", common.Validationf("invalid entity type %q", kind)
	}
}

// ReadToken returns the raw token text of an entity.
func (d *Driver) ReadToken(kind Kind, accountName, userName string) (string, error) {
	path, err := d.TokenPath(kind, accountName, userName)
	if err != nil {
		return "", err
	}
	return readTokenFile(path)
}

// Decode reads and parses an entity token.
//
// The signature is not verified: the claims are read for identifiers and
// consistency checks only, and the broker remains the trust boundary.
func (d *Driver) Decode(kind Kind, accountName, userName string) (*Claims, error) {
	raw, err := d.ReadToken(kind, accountName, userName)
	if err != nil {
		return nil, err
	}
	return DecodeToken(raw)
}

// TokenExists reports whether the entity's token file is present.
func (d *Driver) TokenExists(kind Kind, accountName, userName string) bool {
	path, err := d.TokenPath(kind, accountName, userName)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// DecodeToken parses a token without verifying its signature.
func DecodeToken(raw string) (*Claims, error) {
	claims := &Claims{}
	_, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(raw), claims)
	// tool tokens are signed with ed25519 nkeys, an algorithm the jwt package
	// does not register; the claims are decoded before that check fails
	if err != nil && !errors.Is(err, jwt.ErrTokenUnverifiable) {
		return nil, fmt.Errorf("%w: %v", common.ErrorDecode, err)
	}
	return claims, nil
}

func readTokenFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("token %s: %w", path, common.ErrorNotFound)
		}
		return "", fmt.Errorf("read token %s: %w", path, err)
	}
	return strings.TrimSpace(string(b)), nil
}

// UserCredentialPath returns the location of a user's .creds file.
func (d *Driver) UserCredentialPath(accountName, userName string) (string, error) {
	if accountName == "" {
		return "", common.Validationf("account name must be provided for creds file")
	}
	if userName == "" {
		return "", common.Validationf("user name must be provided for creds file")
	}
	return filepath.Join(d.dir, "creds", d.operator, accountName, userName+".creds"), nil
}

// UserCredential returns the contents of a user's .creds file.
func (d *Driver) UserCredential(accountName, userName string) (string, error) {
	path, err := d.UserCredentialPath(accountName, userName)
	if err != nil {
		return "", err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("creds file for user %s in account %s: %w", userName, accountName, common.ErrorNotFound)
		}
		return "", err
	}
	return string(b), nil
}
