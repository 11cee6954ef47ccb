package domain

// GlobalStats — агрегат для дашборда оператора. Пересчитывается
// периодически по таблице записей, не хранится.
type GlobalStats struct {
	ErrorsLast24h  int64           `json:"errors_last_24h"`
	AvgRequestMs   float64         `json:"avg_request_ms"`
	ActiveSessions int64           `json:"active_sessions"`
	ConnectedUsers int             `json:"connected_users"`
	TotalRecords   int64           `json:"total_records"`
	HourlyActivity []ActivityPoint `json:"hourly_activity"`
}

type ActivityPoint struct {
	Hour  string `json:"hour"`
	Count int64  `json:"count"`
}
