package model

import "time"

// ClickEvent is one recorded click. The URL it belongs to lives in another
// service, so the association is kept in ServiceReference instead of a column.
type ClickEvent struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	IPAddress  *string   `gorm:"column:ip_address;size:45"`
	Referrer   *string   `gorm:"size:500"`
	DeviceID   *int64    `gorm:"index"`
	LocationID *int64    `gorm:"index"`
	ClickedAt  time.Time `gorm:"autoCreateTime;index;not null"`
	Processed  bool      `gorm:"not null;default:false"`

	Location *Location `gorm:"foreignKey:LocationID"`
	Device   *Device   `gorm:"foreignKey:DeviceID"`
}

func (ClickEvent) TableName() string { return TableClickEvents }

const (
	TableClickEvents = "click_events"
	TableURLs        = "urls"
)

const (
	ClickStreamName     = "CLICKS"
	ClickConsumerName   = "click-ingestor"
	ClickStreamMaxBytes = 1024 * 1024 * 100 // 100MB

	BatchStreamName     = "ANALYTICS_BATCH"
	BatchStreamMaxBytes = 1024 * 1024 * 100
)
