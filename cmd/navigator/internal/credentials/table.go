package credentials

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/identity"
)

// ErrInvalidCredentials is returned for an unknown email or a wrong password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Account is one entry of the local credential table.
type Account struct {
	Email        string
	Name         string
	Role         identity.Role
	PasswordHash string // bcrypt
}

// Table is the small fixed credential table used in local mode only.
type Table struct {
	accounts map[string]Account
	now      func() time.Time
}

// NewTable indexes accounts by normalized email.
func NewTable(accounts []Account) (*Table, error) {
	t := &Table{accounts: make(map[string]Account, len(accounts)), now: time.Now}
	for _, a := range accounts {
		email := identity.NormalizeEmail(a.Email)
		if email == "" {
			return nil, fmt.Errorf("local account without email")
		}
		if !a.Role.Valid() {
			return nil, fmt.Errorf("local account %s: invalid role %q", email, a.Role)
		}
		if _, err := bcrypt.Cost([]byte(a.PasswordHash)); err != nil {
			return nil, fmt.Errorf("local account %s: password_hash is not a bcrypt hash: %w", email, err)
		}
		a.Email = email
		t.accounts[email] = a
	}
	return t, nil
}

// DemoAccount pairs a plaintext password with an account for development tables.
type DemoAccount struct {
	Email    string
	Name     string
	Role     identity.Role
	Password string
}

// DemoAccounts are the accounts available when no table is configured.
var DemoAccounts = []DemoAccount{
	{Email: "admin@bvg.com", Name: "Administrador BVG", Role: identity.RoleAdmin, Password: "admin123"},
	{Email: "ops@bvg.com", Name: "Operaciones BVG", Role: identity.RoleOps, Password: "ops123"},
	{Email: "viewer@bvg.com", Name: "Consulta BVG", Role: identity.RoleRead, Password: "viewer123"},
}

// NewDemoTable hashes the demo accounts into a table.
func NewDemoTable(demo []DemoAccount) (*Table, error) {
	accounts := make([]Account, 0, len(demo))
	for _, d := range demo {
		hash, err := bcrypt.GenerateFromPassword([]byte(d.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash password for %s: %w", d.Email, err)
		}
		accounts = append(accounts, Account{
			Email:        d.Email,
			Name:         d.Name,
			Role:         d.Role,
			PasswordHash: string(hash),
		})
	}
	return NewTable(accounts)
}

// Len returns the number of accounts.
func (t *Table) Len() int {
	return len(t.accounts)
}

// Verify checks a credential pair and returns the asserted identity.
func (t *Table) Verify(email, password string) (*identity.Identity, error) {
	account, ok := t.accounts[identity.NormalizeEmail(email)]
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	name := account.Name
	if name == "" {
		name = identity.NameFromEmail(account.Email)
	}
	return &identity.Identity{
		SubjectID:   "local:" + account.Email,
		Email:       account.Email,
		DisplayName: name,
		Role:        account.Role,
		Provider:    identity.ProviderLocal,
		CreatedAt:   t.now(),
	}, nil
}
