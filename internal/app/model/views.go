package model

import "time"

type LocationView struct {
	ID          int64   `json:"id"`
	CountryCode string  `json:"countryCode"`
	CountryName string  `json:"countryName"`
	City        *string `json:"city,omitempty"`
}

type DeviceView struct {
	ID          int64      `json:"id"`
	DeviceType  DeviceType `json:"deviceType"`
	BrowserName *string    `json:"browserName,omitempty"`
	OSName      *string    `json:"osName,omitempty"`
}

// ClickEventView is the external shape of a stored click.
type ClickEventView struct {
	ID         int64         `json:"id"`
	IPAddress  *string       `json:"ipAddress,omitempty"`
	Referrer   *string       `json:"referrer,omitempty"`
	DeviceID   *int64        `json:"deviceId,omitempty"`
	LocationID *int64        `json:"locationId,omitempty"`
	ClickedAt  time.Time     `json:"clickedAt"`
	Processed  bool          `json:"processed"`
	Location   *LocationView `json:"location,omitempty"`
	Device     *DeviceView   `json:"device,omitempty"`
}

type CountryCount struct {
	CountryCode string `json:"countryCode"`
	CountryName string `json:"countryName"`
	Count       int64  `json:"count"`
}

type DeviceCount struct {
	DeviceType DeviceType `json:"deviceType"`
	Count      int64      `json:"count"`
}

type StatsView struct {
	TotalClicks   int64          `json:"totalClicks"`
	TodayClicks   int64          `json:"todayClicks"`
	LastClickTime *time.Time     `json:"lastClickTime,omitempty"`
	TopCountries  []CountryCount `json:"topCountries"`
	TopDevices    []DeviceCount  `json:"topDevices"`
}

type Overview struct {
	Stats            *StatsView       `json:"stats"`
	RecentClicks     []ClickEventView `json:"recentClicks"`
	ConnectedClients int              `json:"connectedClients"`
	LastUpdated      time.Time        `json:"lastUpdated"`
}

type SystemStats struct {
	TotalLocations   int64     `json:"totalLocations"`
	TotalDevices     int64     `json:"totalDevices"`
	ConnectedClients int       `json:"connectedClients"`
	Timestamp        time.Time `json:"timestamp"`
}

func NewLocationView(l *Location) *LocationView {
	if l == nil {
		return nil
	}
	return &LocationView{ID: l.ID, CountryCode: l.CountryCode, CountryName: l.CountryName, City: l.City}
}

func NewDeviceView(d *Device) *DeviceView {
	if d == nil {
		return nil
	}
	return &DeviceView{ID: d.ID, DeviceType: d.DeviceType, BrowserName: d.BrowserName, OSName: d.OSName}
}

func NewClickEventView(e *ClickEvent) ClickEventView {
	return ClickEventView{
		ID:         e.ID,
		IPAddress:  e.IPAddress,
		Referrer:   e.Referrer,
		DeviceID:   e.DeviceID,
		LocationID: e.LocationID,
		ClickedAt:  e.ClickedAt,
		Processed:  e.Processed,
		Location:   NewLocationView(e.Location),
		Device:     NewDeviceView(e.Device),
	}
}
