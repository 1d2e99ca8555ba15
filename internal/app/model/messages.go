package model

import "time"

// ClickMessage is published by the redirect service for every click.
type ClickMessage struct {
	EventID     string  `json:"eventId"`
	URLID       *string `json:"urlId,omitempty"`
	IPAddress   *string `json:"ipAddress,omitempty"`
	Referrer    *string `json:"referrer,omitempty"`
	CountryCode *string `json:"countryCode,omitempty"`
	CountryName *string `json:"countryName,omitempty"`
	City        *string `json:"city,omitempty"`
	DeviceType  *string `json:"deviceType,omitempty"`
	BrowserName *string `json:"browserName,omitempty"`
	OSName      *string `json:"osName,omitempty"`
}

// OwnershipRequest asks the URL service whether UserID owns ResourceID.
type OwnershipRequest struct {
	UserID     string `json:"userId"`
	ResourceID string `json:"resourceId"`
}

type OwnershipResponse struct {
	IsOwner bool   `json:"isOwner"`
	Error   string `json:"error,omitempty"`
}

// BatchClickData is forwarded to the batch service after every counted click.
type BatchClickData struct {
	ResourceID       string    `json:"resourceId"`
	Date             string    `json:"date"`
	TotalClicksToday int64     `json:"totalClicksToday"`
	LastClickTime    time.Time `json:"lastClickTime"`
}

// DateLayout is the day bucket format shared with the batch service.
const DateLayout = "2006-01-02"

// Broadcast event types pushed to live connections.
const (
	EventNewClick       = "new-click"
	EventStatsUpdate    = "stats-update"
	EventLocationUpdate = "location-update"
)
