package models

// OperationRecord is one executed swap operation. Amounts are stored as
// decimal strings; base-unit integers exceed every native SQL integer type.
type OperationRecord struct {
	BaseModel
	OperationID string `gorm:"unique;not null;type:varchar(66)"`
	Mode        string `gorm:"not null;type:varchar(20)"`
	Caller      string `gorm:"index;not null;type:varchar(42)"`
	VenueID     string `gorm:"type:varchar(66)"`
	TokenIn     string `gorm:"not null;type:varchar(42)"`
	TokenOut    string `gorm:"not null;type:varchar(42)"`
	AmountIn    string `gorm:"not null;type:varchar(80)"`
	AmountOut   string `gorm:"not null;type:varchar(80)"`
	Fee         string `gorm:"type:varchar(80)"`
	Steps       int    `gorm:"default:1"`
}
