package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OwnerType identifies who a custodial account is operated for.
type OwnerType string

const (
	OwnerTypeUser     OwnerType = "user"
	OwnerTypeBusiness OwnerType = "business"
	OwnerTypeTreasury OwnerType = "treasury"
)

// TreasuryOwnerID is the fixed owner id of the single central treasury account.
const TreasuryOwnerID = "central"

// Valid reports whether t is a known owner type.
func (t OwnerType) Valid() bool {
	switch t {
	case OwnerTypeUser, OwnerTypeBusiness, OwnerTypeTreasury:
		return true
	}
	return false
}

// OwnerRef addresses the owner of a custodial account.
type OwnerRef struct {
	Type OwnerType `json:"owner_type"`
	ID   string    `json:"owner_id"`
}

// UserOwner returns the owner reference of a student account.
func UserOwner(userID string) OwnerRef {
	return OwnerRef{Type: OwnerTypeUser, ID: userID}
}

// BusinessOwner returns the owner reference of a merchant account.
func BusinessOwner(businessID string) OwnerRef {
	return OwnerRef{Type: OwnerTypeBusiness, ID: businessID}
}

// TreasuryOwner returns the owner reference of the central treasury.
func TreasuryOwner() OwnerRef {
	return OwnerRef{Type: OwnerTypeTreasury, ID: TreasuryOwnerID}
}

func (o OwnerRef) String() string {
	return fmt.Sprintf("%s:%s", o.Type, o.ID)
}

// CustodialAccount is a chain keypair held by the system on behalf of an owner.
// Key material is only ever stored in vault-encrypted form.
type CustodialAccount struct {
	ID                  uuid.UUID `json:"id"`
	OwnerType           OwnerType `json:"owner_type"`
	OwnerID             string    `json:"owner_id"`
	Address             string    `json:"address"` // lower-cased script hash
	EncryptedPrivateKey string    `json:"-"`
	EncryptedMnemonic   *string   `json:"-"`
	Network             string    `json:"network"`
	CreatedAt           time.Time `json:"created_at"`
}

// Owner returns the account's owner reference.
func (a *CustodialAccount) Owner() OwnerRef {
	return OwnerRef{Type: a.OwnerType, ID: a.OwnerID}
}
