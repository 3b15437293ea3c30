package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Identifier prefixes used when deriving natural keys.
const (
	PassportPrefix = "BP-"
	OperatorPrefix = "OP-"
	LocationPrefix = "LOC-"
	EventPrefix    = "EVT-"
	unknownID      = "UNKNOWN"
)

var unsafeIDChars = regexp.MustCompile(`[^a-zA-Z0-9\-_]`)

// PassportID derives the passport key from a battery serial number.
func PassportID(serialNumber string) string {
	return PassportPrefix + serialNumber
}

// SanitizeID turns a free-form name into an identifier fragment. Characters
// outside [A-Za-z0-9-_] become '-', and an empty name becomes UNKNOWN.
func SanitizeID(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return unknownID
	}
	return unsafeIDChars.ReplaceAllString(s, "-")
}

// OperatorID derives an owner actor ID from the operator's name.
func OperatorID(operator string) string { return OperatorPrefix + SanitizeID(operator) }

// LocationID derives a location ID from an address or plant name.
func LocationID(place string) string { return LocationPrefix + SanitizeID(place) }

// Registration is the input of the register-or-update operation.
type Registration struct {
	Battery Battery `json:"battery"`

	OwnerID   string `json:"ownerID,omitempty"`
	OwnerName string `json:"ownerName,omitempty"`

	ManufacturingLocationID string `json:"manufacturingLocationID,omitempty"`
	ManufacturingPlace      string `json:"manufacturingPlace,omitempty"`

	// CurrentLocationID is only applied when the battery is first created.
	CurrentLocationID string `json:"currentLocationID,omitempty"`

	Passport    PassportInfo `json:"passport"`
	Performance *Performance `json:"performance,omitempty"`
}

// PassportInfo carries the static passport attributes set at registration.
type PassportInfo struct {
	CommissioningDate     *time.Time `json:"commissioningDate,omitempty"`
	WarrantyDurationYears *int64     `json:"warrantyDurationYears,omitempty"`
}

// Normalize trims identifiers and derives missing owner/location IDs from
// their names.
func (r *Registration) Normalize() {
	r.Battery.SerialNumber = strings.TrimSpace(r.Battery.SerialNumber)
	r.OwnerID = strings.TrimSpace(r.OwnerID)
	r.ManufacturingLocationID = strings.TrimSpace(r.ManufacturingLocationID)
	r.CurrentLocationID = strings.TrimSpace(r.CurrentLocationID)
	if r.OwnerID == "" {
		r.OwnerID = OperatorID(r.OwnerName)
	}
	if r.OwnerName == "" {
		r.OwnerName = unknownID
	}
	if r.ManufacturingLocationID == "" {
		r.ManufacturingLocationID = LocationID(r.ManufacturingPlace)
	}
	if r.ManufacturingPlace == "" {
		r.ManufacturingPlace = unknownID
	}
}

// ValidateRegistration checks a normalized registration.
func ValidateRegistration(r Registration) error {
	if r.Battery.SerialNumber == "" {
		return NewValidationError("serialNumber", "", ErrEmptyField)
	}
	if unsafeIDChars.MatchString(r.Battery.SerialNumber) {
		return NewValidationError("serialNumber", r.Battery.SerialNumber, ErrInvalidInput)
	}
	if err := nonNegative("massKg", r.Battery.MassKg); err != nil {
		return err
	}
	if err := nonNegative("initialCapacitykWh", r.Battery.InitialCapacityKWh); err != nil {
		return err
	}
	if r.Performance != nil {
		return ValidatePerformance(*r.Performance)
	}
	return nil
}

// ValidatePerformance checks a health snapshot's ranges.
func ValidatePerformance(p Performance) error {
	if err := percent("stateOfHealthPercent", p.StateOfHealthPercent); err != nil {
		return err
	}
	if err := percent("capacityFadePercent", p.CapacityFadePercent); err != nil {
		return err
	}
	if err := nonNegative("originalPowerkW", p.OriginalPowerKW); err != nil {
		return err
	}
	if p.FullCycles != nil && *p.FullCycles < 0 {
		return NewValidationError("fullCycles", fmt.Sprintf("%d", *p.FullCycles), ErrNegativeMetric)
	}
	return nil
}

// ValidateActor checks an actor before it is merged.
func ValidateActor(a Actor) error {
	if strings.TrimSpace(a.ActorID) == "" {
		return NewValidationError("actorID", a.ActorID, ErrEmptyField)
	}
	if !ValidRoles[a.Role] {
		return NewValidationError("role", string(a.Role), ErrInvalidRole)
	}
	return nil
}

// ValidateLocation checks a location before it is merged.
func ValidateLocation(l Location) error {
	if strings.TrimSpace(l.LocationID) == "" {
		return NewValidationError("locationID", l.LocationID, ErrEmptyField)
	}
	return nil
}

// RequireField returns a ValidationError when value is blank.
func RequireField(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return NewValidationError(field, value, ErrEmptyField)
	}
	return nil
}

func nonNegative(field string, v *float64) error {
	if v != nil && *v < 0 {
		return NewValidationError(field, fmt.Sprintf("%g", *v), ErrNegativeMetric)
	}
	return nil
}

func percent(field string, v *float64) error {
	if v != nil && (*v < 0 || *v > 100) {
		return NewValidationError(field, fmt.Sprintf("%g", *v), ErrPercentRange)
	}
	return nil
}
