package model

import "strings"

type DeviceType string

const (
	DeviceDesktop DeviceType = "desktop"
	DeviceMobile  DeviceType = "mobile"
	DeviceTablet  DeviceType = "tablet"
	DeviceUnknown DeviceType = "unknown"
)

// ParseDeviceType maps free text onto the known device types, falling back to
// DeviceUnknown.
func ParseDeviceType(s string) DeviceType {
	switch t := DeviceType(strings.ToLower(strings.TrimSpace(s))); t {
	case DeviceDesktop, DeviceMobile, DeviceTablet:
		return t
	default:
		return DeviceUnknown
	}
}

// Device is the deduplicated device dimension keyed by
// (device_type, browser_name, os_name).
type Device struct {
	ID          int64      `gorm:"primaryKey;autoIncrement"`
	DeviceType  DeviceType `gorm:"size:16;not null;default:unknown;index"`
	BrowserName *string    `gorm:"size:50"`
	OSName      *string    `gorm:"column:os_name;size:50"`
	LookupKey   string     `gorm:"size:512;not null;uniqueIndex"`
}

func (Device) TableName() string { return "devices" }

// DeviceKey builds the lookup key for a device triple; absent browser or OS
// never collides with an empty one.
func DeviceKey(deviceType DeviceType, browser, os *string) string {
	return string(deviceType) + "|" + keyField(browser) + "|" + keyField(os)
}
