// Package domain defines the battery passport entities, lifecycle states,
// actor roles and the error taxonomy shared by the engine packages.
package domain

import "time"

// Status is the legal lifecycle state of a battery passport.
type Status string

const (
	StatusOriginal       Status = "ORIGINAL"
	StatusWasteRequested Status = "WASTE_REQUESTED"
	StatusWaste          Status = "WASTE"
	StatusRecycled       Status = "RECYCLED"
)

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool { return s == StatusRecycled }

// Valid reports whether s is one of the four lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusOriginal, StatusWasteRequested, StatusWaste, StatusRecycled:
		return true
	}
	return false
}

// Role identifies what an Actor is allowed to do in the hand-off workflow.
type Role string

const (
	RoleGaragiste     Role = "Garagiste"
	RoleOwner         Role = "Propriétaire"
	RoleSortingCenter Role = "CentreDeTri"
)

// ValidRoles is the set of recognised actor roles.
var ValidRoles = map[Role]bool{
	RoleGaragiste:     true,
	RoleOwner:         true,
	RoleSortingCenter: true,
}

// Location types used by the seed data and registration defaults.
const (
	LocationGarage             = "Garage"
	LocationManufacturingPlant = "ManufacturingPlant"
	LocationSortingCenter      = "SortingCenter"
)

// Battery is the physical unit. SerialNumber never changes once created.
type Battery struct {
	SerialNumber           string     `json:"serialNumber"`
	Category               string     `json:"category,omitempty"`
	MassKg                 *float64   `json:"massKg,omitempty"`
	Composition            string     `json:"composition,omitempty"`
	InitialCapacityKWh     *float64   `json:"initialCapacitykWh,omitempty"`
	ManufacturingDate      *time.Time `json:"manufacturingDate,omitempty"`
	RecyclingSymbol        string     `json:"recyclingSymbol,omitempty"`
	WastePreventionInfo    string     `json:"wastePreventionInfo,omitempty"`
	ExpectedLifetimeCycles *int64     `json:"expectedLifetimeCycles,omitempty"`
	MinVoltageV            *float64   `json:"minVoltageV,omitempty"`
	NominalVoltageV        *float64   `json:"nominalVoltageV,omitempty"`
	MaxVoltageV            *float64   `json:"maxVoltageV,omitempty"`
	CreatedAt              time.Time  `json:"createdAt"`
}

// Passport is the legal record of a battery. CurrentStatus is a cached
// projection of the latest applied Event.
type Passport struct {
	PassportID            string     `json:"passportID"`
	SerialNumber          string     `json:"serialNumber"`
	CurrentStatus         Status     `json:"currentStatus"`
	Version               int64      `json:"version"`
	OwnerID               string     `json:"ownerID,omitempty"`
	CommissioningDate     *time.Time `json:"commissioningDate,omitempty"`
	WarrantyDurationYears *int64     `json:"warrantyDurationYears,omitempty"`
	CreatedAt             time.Time  `json:"createdAt"`
	UpdatedAt             time.Time  `json:"updatedAt"`
}

// Actor is immutable reference data.
type Actor struct {
	ActorID string `json:"actorID"`
	Name    string `json:"name"`
	Role    Role   `json:"role"`
}

// Location is immutable reference data.
type Location struct {
	LocationID string `json:"locationID"`
	Address    string `json:"address"`
	Type       string `json:"type"`
}

// Performance is an immutable health snapshot.
type Performance struct {
	StateOfHealthPercent *float64  `json:"stateOfHealthPercent,omitempty"`
	FullCycles           *int64    `json:"fullCycles,omitempty"`
	OriginalPowerKW      *float64  `json:"originalPowerkW,omitempty"`
	CapacityFadePercent  *float64  `json:"capacityFadePercent,omitempty"`
	Timestamp            time.Time `json:"timestamp"`
}

// Event is one committed, state-changing action. Never updated or deleted.
type Event struct {
	EventID     string    `json:"eventID"`
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description"`
	Transition  string    `json:"transition"`
	FromStatus  Status    `json:"fromStatus"`
	ToStatus    Status    `json:"toStatus"`
	Version     int64     `json:"version"`
	ActorID     string    `json:"actorID"`
	PassportID  string    `json:"passportID"`
}
