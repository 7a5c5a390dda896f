package contract

import (
	"fmt"
	"strings"

	"messaging-ledger/internal/domain"
)

// FeeModel selects between a single fee and the standard/bulk fee schedule.
type FeeModel int

const (
	FeeModelFlat FeeModel = iota
	FeeModelTiered
)

// FeeCheck selects how an underpaid send fails.
type FeeCheck int

const (
	// FeeCheckTyped returns InsufficientTransfer.
	FeeCheckTyped FeeCheck = iota
	// FeeCheckAbort aborts the call, as the assert-based deployments do.
	FeeCheckAbort
)

const (
	VariantFlat          = "flat"
	VariantAdministrable = "administrable"
	VariantTiered        = "tiered"

	feeCheckTyped = "typed"
	feeCheckAbort = "abort"
)

// Capabilities is the feature set of one deployment.
type Capabilities struct {
	FeeModel      FeeModel
	Administrable bool
	EncryptedFlag bool
	FeeCheck      FeeCheck
}

// SupportsBulk reports whether bulk sends and bulk fees exist.
func (c Capabilities) SupportsBulk() bool {
	return c.FeeModel == FeeModelTiered
}

// CapabilitiesFor builds the capability set for a named variant.
func CapabilitiesFor(variant string, encryptedFlag bool, feeCheck string) (Capabilities, error) {
	caps := Capabilities{EncryptedFlag: encryptedFlag}
	switch strings.ToLower(strings.TrimSpace(variant)) {
	case VariantFlat:
		caps.FeeModel = FeeModelFlat
	case VariantAdministrable:
		caps.FeeModel = FeeModelFlat
		caps.Administrable = true
	case VariantTiered, "":
		caps.FeeModel = FeeModelTiered
		caps.Administrable = true
	default:
		return Capabilities{}, fmt.Errorf("contract: unknown variant %q", variant)
	}
	switch strings.ToLower(strings.TrimSpace(feeCheck)) {
	case feeCheckTyped, "":
		caps.FeeCheck = FeeCheckTyped
	case feeCheckAbort:
		caps.FeeCheck = FeeCheckAbort
	default:
		return Capabilities{}, fmt.Errorf("contract: unknown fee check policy %q", feeCheck)
	}
	return caps, nil
}

// FromVariant restores the capability set frozen into a ledger record.
func FromVariant(v domain.Variant) (Capabilities, error) {
	return CapabilitiesFor(v.Name, v.EncryptedFlag, v.FeeCheck)
}

// Variant is the persisted form of c.
func (c Capabilities) Variant() domain.Variant {
	v := domain.Variant{EncryptedFlag: c.EncryptedFlag, FeeCheck: feeCheckTyped}
	switch {
	case c.FeeModel == FeeModelTiered:
		v.Name = VariantTiered
	case c.Administrable:
		v.Name = VariantAdministrable
	default:
		v.Name = VariantFlat
	}
	if c.FeeCheck == FeeCheckAbort {
		v.FeeCheck = feeCheckAbort
	}
	return v
}
