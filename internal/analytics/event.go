package analytics

// ClickInput is the payload a public page posts when a visitor follows a link.
type ClickInput struct {
	ProfileUsername string `json:"profileUsername"`
	LinkID          string `json:"linkId"`
	LinkTitle       string `json:"linkTitle"`
	LinkURL         string `json:"linkUrl"`
	UserAgent       string `json:"userAgent,omitempty"`
	Referrer        string `json:"referrer,omitempty"`
}

// Location is the visitor geolocation observed by the edge. Unknown parts are empty strings.
type Location struct {
	Country   string `json:"country"`
	Region    string `json:"region"`
	City      string `json:"city"`
	Latitude  string `json:"latitude"`
	Longitude string `json:"longitude"`
}

// RequestMeta carries what the server observed about the visitor's request.
type RequestMeta struct {
	UserAgent string
	Referer   string
	Location  Location
}

// ClickEvent is the enriched record sent to the sink. It is never stored locally.
type ClickEvent struct {
	Timestamp       string   `json:"timestamp"`
	ProfileUsername string   `json:"profileUsername"`
	ProfileUserID   string   `json:"profileUserId"`
	LinkID          string   `json:"linkId"`
	LinkTitle       string   `json:"linkTitle"`
	LinkURL         string   `json:"linkUrl"`
	UserAgent       string   `json:"userAgent"`
	Referrer        string   `json:"referrer"`
	Location        Location `json:"location"`
}
