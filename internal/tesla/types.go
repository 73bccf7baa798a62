package tesla

// Credentials is an access/refresh token pair for the owner API. Expiry is
// implicit: a 401 response means the access token is no longer valid.
type Credentials struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Vehicle is a read-only snapshot from the vehicle list endpoint.
type Vehicle struct {
	ID          int64  `json:"id"`
	VehicleID   int64  `json:"vehicle_id"`
	IDS         string `json:"id_s"`
	DisplayName string `json:"display_name"`
	State       string `json:"state"`
}

// Vehicle states as reported by the API.
const (
	StateOnline  = "online"
	StateAsleep  = "asleep"
	StateOffline = "offline"
	StateWaking  = "waking"
)

// Charging states inside ChargeState.
const (
	ChargingStateCharging     = "Charging"
	ChargingStateStopped      = "Stopped"
	ChargingStateDisconnected = "Disconnected"
)

// ChargeState is the charging subsection of the vehicle data payload.
type ChargeState struct {
	ChargingState  string  `json:"charging_state"`
	BatteryLevel   int     `json:"battery_level"`
	BatteryRange   float64 `json:"battery_range"`
	ChargeLimitSoc int     `json:"charge_limit_soc"`
}

// DriveState is the location subsection of the vehicle data payload.
type DriveState struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// VehicleData is the full telemetry for one vehicle, fetched fresh per use
// and never cached across decision cycles.
type VehicleData struct {
	ID          int64       `json:"id"`
	State       string      `json:"state"`
	DisplayName string      `json:"display_name"`
	ChargeState ChargeState `json:"charge_state"`
	DriveState  DriveState  `json:"drive_state"`
}

// apiResponse is the owner API envelope: every payload sits under "response".
type apiResponse struct {
	Response interface{} `json:"response"`
}

// oauthResponse is the token exchange reply from the auth endpoint.
type oauthResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}
