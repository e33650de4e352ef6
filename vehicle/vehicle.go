// Package vehicle stores the cars drivers offer rides in.
package vehicle

// Vehicle is a car registered by a driver, which can be used to publish rides.
type Vehicle struct {
	// ID is an internal identifier for a vehicle
	ID int64 `db:"id" json:"id"`
	// OwnerID is the account of the driver who registered the vehicle.
	OwnerID int64 `db:"owner_id" json:"ownerId"`
	// Label is the registration plate as shown to passengers (e.g. "AB-123-CD").
	Label string `db:"label" json:"label"`
	// Model is a user-friendly description (e.g., "Renault Clio, blue")
	Model *string `db:"model" json:"model,omitempty"`
	// Seats is the number of passenger seats. A ride can never offer more.
	Seats int `db:"seats" json:"seats"`
}
