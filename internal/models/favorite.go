package models

import "time"

// Favorite records that a signed-in user saved a property.
type Favorite struct {
	SubjectID  string    `json:"subjectId"`
	PropertyID int       `json:"propertyId"`
	CreatedAt  time.Time `json:"createdAt"`
}
