package loan

import "time"

// ApplicationRecord is the persisted projection of a draft the user has
// explicitly submitted. Immutable once created; only its status moves,
// and that goes through the store contract.
type ApplicationRecord struct {
	ID              string    `json:"id"`
	UserID          string    `json:"userId"`
	Fields          FieldSet  `json:"fields"`
	ApplicationDate time.Time `json:"applicationDate"`
}
