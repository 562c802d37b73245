package models

// VenueRecord tracks a venue adapter registration.
type VenueRecord struct {
	BaseModel
	VenueID string `gorm:"unique;not null;type:varchar(66)"`
	Name    string `gorm:"not null;type:varchar(50)"`
	Address string `gorm:"type:varchar(42)"`
	Active  bool   `gorm:"index;default:true"`
}
