package nest

import "time"

// Away is a structure's occupancy state. Unknown only ever originates
// server-side.
type Away string

const (
	AwayHome    Away = "home"
	AwayAway    Away = "away"
	AwayUnknown Away = "unknown"
)

// Mode is a thermostat's HVAC mode.
type Mode string

const (
	ModeHeat     Mode = "heat"
	ModeCool     Mode = "cool"
	ModeHeatCool Mode = "heat-cool"
	ModeEco      Mode = "eco"
	ModeOff      Mode = "off"
)

// API temperature limits in Celsius. Targets outside this window are
// rejected before any network call.
const (
	MinTargetC = 9.0
	MaxTargetC = 32.0
)

// Humidity targets accepted by the API: 10..60 in steps of 5.
const (
	MinTargetHumidity  = 10
	MaxTargetHumidity  = 60
	HumidityTargetStep = 5
)

const (
	colStructures  = "structures"
	colThermostats = "devices/thermostats"
	colCameras     = "devices/cameras"
	colProtects    = "devices/smoke_co_alarms"
)

// StructureData is the wire form of a structure record.
type StructureData struct {
	StructureID   string   `json:"structure_id"`
	Name          string   `json:"name"`
	Away          Away     `json:"away"`
	SecurityState string   `json:"security_state"`
	PostalCode    string   `json:"postal_code"`
	CountryCode   string   `json:"country_code"`
	Thermostats   []string `json:"thermostats"`
	Cameras       []string `json:"cameras"`
	SmokeCOAlarms []string `json:"smoke_co_alarms"`
}

// ThermostatData is the wire form of a thermostat record. Temperatures are
// always Celsius on the wire; display conversion happens at the edge.
type ThermostatData struct {
	DeviceID              string  `json:"device_id"`
	SerialNumber          string  `json:"serial_number"`
	Name                  string  `json:"name"`
	WhereName             string  `json:"where_name"`
	IsOnline              bool    `json:"is_online"`
	HVACMode              Mode    `json:"hvac_mode"`
	HVACState             string  `json:"hvac_state"`
	FanTimerActive        bool    `json:"fan_timer_active"`
	Humidity              int     `json:"humidity"`
	TargetHumidity        int     `json:"target_humidity"`
	AmbientTemperatureC   float64 `json:"ambient_temperature_c"`
	TargetTemperatureC    float64 `json:"target_temperature_c"`
	TargetTemperatureLowC float64 `json:"target_temperature_low_c"`
	TargetTemperatureHiC  float64 `json:"target_temperature_high_c"`
	EcoTemperatureLowC    float64 `json:"eco_temperature_low_c"`
	EcoTemperatureHighC   float64 `json:"eco_temperature_high_c"`
	TemperatureScale      string  `json:"temperature_scale"`
	IsUsingEmergencyHeat  bool    `json:"is_using_emergency_heat"`
	LockedTempMinC        float64 `json:"locked_temp_min_c"`
	LockedTempMaxC        float64 `json:"locked_temp_max_c"`
}

// CameraData is the wire form of a camera record.
type CameraData struct {
	DeviceID            string    `json:"device_id"`
	SerialNumber        string    `json:"serial_number"`
	Name                string    `json:"name"`
	WhereName           string    `json:"where_name"`
	IsOnline            bool      `json:"is_online"`
	IsStreaming         bool      `json:"is_streaming"`
	IsAudioInputEnabled bool      `json:"is_audio_input_enabled"`
	MotionDetected      bool      `json:"motion_detected"`
	LastEventAt         time.Time `json:"last_event_at"`
}

// ProtectData is the wire form of a smoke+CO alarm record.
type ProtectData struct {
	DeviceID           string `json:"device_id"`
	SerialNumber       string `json:"serial_number"`
	Name               string `json:"name"`
	WhereName          string `json:"where_name"`
	IsOnline           bool   `json:"is_online"`
	BatteryHealth      string `json:"battery_health"`
	COAlarmState       string `json:"co_alarm_state"`
	SmokeAlarmState    string `json:"smoke_alarm_state"`
	UIColorState       string `json:"ui_color_state"`
	IsManualTestActive bool   `json:"is_manual_test_active"`
}
