package models

import "time"

// DeviceType is derived from the user agent.
type DeviceType string

const (
	DeviceMobile  DeviceType = "mobile"
	DeviceTablet  DeviceType = "tablet"
	DeviceDesktop DeviceType = "desktop"
)

func (d DeviceType) Valid() bool {
	switch d {
	case DeviceMobile, DeviceTablet, DeviceDesktop:
		return true
	}
	return false
}

// TimeOfDay buckets the visitor's local hour.
type TimeOfDay string

const (
	Morning   TimeOfDay = "morning"
	Afternoon TimeOfDay = "afternoon"
	Evening   TimeOfDay = "evening"
	Night     TimeOfDay = "night"
)

func (t TimeOfDay) Valid() bool {
	switch t {
	case Morning, Afternoon, Evening, Night:
		return true
	}
	return false
}

// BucketTimeOfDay maps a local hour (0-23) onto its time-of-day bucket.
func BucketTimeOfDay(hour int) TimeOfDay {
	switch {
	// 00:00-11:59
	case hour >= 0 && hour < 12:
		return Morning
	// 12:00-16:59
	case hour >= 12 && hour < 17:
		return Afternoon
	// 17:00-20:59
	case hour >= 17 && hour < 21:
		return Evening
	default:
		return Night
	}
}

// DirectReferrer is recorded when the visitor arrived without a referrer.
const DirectReferrer = "direct"

// UnknownLocationValue fills every location field geolocation could not resolve.
const UnknownLocationValue = "Unknown"

type Coordinates struct {
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
	Accuracy  float64 `json:"accuracy,omitempty" validate:"gte=0"`
}

type Location struct {
	Country     string       `json:"country"`
	Region      string       `json:"region"`
	City        string       `json:"city"`
	Timezone    string       `json:"timezone"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
}

// UnknownLocation is the sentinel used when geolocation is denied, absent or
// times out. Only the timezone is known.
func UnknownLocation(timezone string) *Location {
	return &Location{
		Country:  UnknownLocationValue,
		Region:   UnknownLocationValue,
		City:     UnknownLocationValue,
		Timezone: timezone,
	}
}

// Clone returns a deep copy; nil stays nil.
func (l *Location) Clone() *Location {
	if l == nil {
		return nil
	}
	out := *l
	if l.Coordinates != nil {
		coords := *l.Coordinates
		out.Coordinates = &coords
	}
	return &out
}

// UserContext is the per-session snapshot of who the visitor is and how they
// arrived. An empty UserID means no identifier has been assigned yet.
type UserContext struct {
	DeviceType      DeviceType `json:"device_type"`
	TimeOfDay       TimeOfDay  `json:"time_of_day"`
	Location        *Location  `json:"location,omitempty"`
	Referrer        string     `json:"referrer"`
	IsNewUser       bool       `json:"is_new_user"`
	SessionID       string     `json:"session_id"`
	UserID          string     `json:"user_id,omitempty"`
	Authenticated   bool       `json:"authenticated"`
	LastInteraction time.Time  `json:"last_interaction"`
}

func (c UserContext) Clone() UserContext {
	out := c
	out.Location = c.Location.Clone()
	return out
}

// ContextUpdate is a partial UserContext; nil fields are left untouched.
type ContextUpdate struct {
	DeviceType *DeviceType `json:"device_type,omitempty"`
	TimeOfDay  *TimeOfDay  `json:"time_of_day,omitempty"`
	Location   *Location   `json:"location,omitempty"`
	Referrer   *string     `json:"referrer,omitempty"`
	IsNewUser  *bool       `json:"is_new_user,omitempty"`
}
