package models

// StorageUsage is the approximate size of stored payloads in bytes.
type StorageUsage struct {
	Captures  int64 `json:"captures"`
	Responses int64 `json:"responses"`
	Total     int64 `json:"total"`
}

// TotalStats are the headline dashboard counters.
type TotalStats struct {
	Captures       int          `json:"captures"`
	Responses      int          `json:"responses"`
	TodayCaptures  int          `json:"today_captures"`
	TodayResponses int          `json:"today_responses"`
	StorageUsage   StorageUsage `json:"storage_usage"`
}

// HourlyStat counts activity in one hour-long bucket.
type HourlyStat struct {
	Hour      string `json:"hour"`
	Captures  int    `json:"captures"`
	Responses int    `json:"responses"`
}

// Stats is the dashboard statistics document.
type Stats struct {
	TotalStats  TotalStats   `json:"total_stats"`
	HourlyStats []HourlyStat `json:"hourly_stats"`
}
