package sqlstore

// Unknown is the name of the row every dimension keeps for unknown keys.
const Unknown = "Unknown"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS Station
	(
	station_id     INTEGER PRIMARY KEY,
	mqtt_id        TEXT UNIQUE,
	name           TEXT,
	owner          TEXT,
	location       TEXT,
	province       TEXT,
	longitude      REAL,
	latitude       REAL,
	elevation      REAL
	)`,
	`CREATE TABLE IF NOT EXISTS Type
	(
	type_id        INTEGER PRIMARY KEY,
	type           TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS Units
	(
	units_id             INTEGER PRIMARY KEY,
	roof_relay           TEXT,
	aux_relay            TEXT,
	voltage_units        TEXT,
	wet_units            TEXT,
	cloudy_units         TEXT,
	cal_pressure_units   TEXT,
	abs_pressure_units   TEXT,
	rain_units           TEXT,
	irradiation_units    TEXT,
	magnitude_units      TEXT,
	frequency_units      TEXT,
	temperature_units    TEXT,
	rel_humidity_units   TEXT,
	dew_point_units      TEXT,
	wind_speed_units     TEXT,
	wind_direction_units TEXT,
	lag_units            TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS MinMaxHistory
	(
	date_id            INTEGER NOT NULL,
	time_id            INTEGER NOT NULL,
	station_id         INTEGER NOT NULL REFERENCES Station(station_id),
	type_id            INTEGER NOT NULL REFERENCES Type(type_id),
	units_id           INTEGER NOT NULL REFERENCES Units(units_id),
	voltage            REAL,
	wet                REAL,
	cloudy             REAL,
	cal_pressure       REAL,
	abs_pressure       REAL,
	rain               REAL,
	irradiation        REAL,
	vis_magnitude      REAL,
	frequency          REAL,
	temperature        REAL,
	rel_humidity       REAL,
	dew_point          REAL,
	wind_speed         REAL,
	wind_direction     INTEGER,
	timestamp          TEXT,
	PRIMARY KEY (date_id, time_id, station_id, type_id)
	)`,
	`CREATE TABLE IF NOT EXISTS AveragesHistory
	(
	date_id            INTEGER NOT NULL,
	time_id            INTEGER NOT NULL,
	station_id         INTEGER NOT NULL REFERENCES Station(station_id),
	units_id           INTEGER NOT NULL REFERENCES Units(units_id),
	voltage            REAL,
	wet                REAL,
	cloudy             REAL,
	cal_pressure       REAL,
	abs_pressure       REAL,
	rain               REAL,
	irradiation        REAL,
	vis_magnitude      REAL,
	frequency          REAL,
	temperature        REAL,
	rel_humidity       REAL,
	dew_point          REAL,
	wind_speed         REAL,
	wind_direction     INTEGER,
	timestamp          TEXT,
	PRIMARY KEY (date_id, time_id, station_id)
	)`,
	`CREATE TABLE IF NOT EXISTS RealTimeSamples
	(
	date_id            INTEGER NOT NULL,
	time_id            INTEGER NOT NULL,
	station_id         INTEGER NOT NULL REFERENCES Station(station_id),
	units_id           INTEGER NOT NULL REFERENCES Units(units_id),
	voltage            REAL,
	wet                REAL,
	cloudy             REAL,
	cal_pressure       REAL,
	abs_pressure       REAL,
	rain               REAL,
	irradiation        REAL,
	vis_magnitude      REAL,
	frequency          REAL,
	temperature        REAL,
	rel_humidity       REAL,
	dew_point          REAL,
	wind_speed         REAL,
	wind_direction     INTEGER,
	timestamp          TEXT,
	lag                INTEGER,
	PRIMARY KEY (date_id, time_id, station_id)
	)`,
}

// measurement types, keyed as in the Type table
var types = []struct {
	id   int
	name string
}{
	{-1, Unknown},
	{1, "Minima"},
	{2, "Maxima"},
	{3, "Samples"},
	{4, "Averages"},
}

const factColumns = `date_id, time_id, station_id, units_id, voltage, wet, cloudy,
	cal_pressure, abs_pressure, rain, irradiation, vis_magnitude, frequency,
	temperature, rel_humidity, dew_point, wind_speed, wind_direction, timestamp`

const (
	insertMinMax = `INSERT OR IGNORE INTO MinMaxHistory (type_id, ` + factColumns + `)
	VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`
	insertAverage = `INSERT OR IGNORE INTO AveragesHistory (` + factColumns + `)
	VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`
	insertRealTime = `INSERT OR IGNORE INTO RealTimeSamples (` + factColumns + `, lag)
	VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`
)
