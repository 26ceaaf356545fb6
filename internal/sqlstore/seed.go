package sqlstore

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Seed holds the dimension rows loaded from the stations file.
type Seed struct {
	Stations []Station `yaml:"stations"`
	Units    []Units   `yaml:"units"`
}

type Station struct {
	ID        int     `yaml:"id"`
	MQTTID    string  `yaml:"mqtt_id"`
	Name      string  `yaml:"name"`
	Owner     string  `yaml:"owner"`
	Location  string  `yaml:"location"`
	Province  string  `yaml:"province"`
	Longitude float64 `yaml:"longitude"`
	Latitude  float64 `yaml:"latitude"`
	Elevation float64 `yaml:"elevation"`
}

type Units struct {
	ID            int    `yaml:"id"`
	RoofRelay     string `yaml:"roof_relay"`
	AuxRelay      string `yaml:"aux_relay"`
	Voltage       string `yaml:"voltage"`
	Wet           string `yaml:"wet"`
	Cloudy        string `yaml:"cloudy"`
	CalPressure   string `yaml:"cal_pressure"`
	AbsPressure   string `yaml:"abs_pressure"`
	Rain          string `yaml:"rain"`
	Irradiation   string `yaml:"irradiation"`
	Magnitude     string `yaml:"magnitude"`
	Frequency     string `yaml:"frequency"`
	Temperature   string `yaml:"temperature"`
	RelHumidity   string `yaml:"rel_humidity"`
	DewPoint      string `yaml:"dew_point"`
	WindSpeed     string `yaml:"wind_speed"`
	WindDirection string `yaml:"wind_direction"`
	Lag           string `yaml:"lag"`
}

// LoadSeed reads a YAML stations file. An empty path yields the default
// units and no stations.
func LoadSeed(path string) (*Seed, error) {
	seed := &Seed{}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(raw, seed); err != nil {
			return nil, errors.Wrapf(err, "parsing %s", path)
		}
	}
	if len(seed.Units) == 0 {
		seed.Units = defaultUnits()
	}
	for _, s := range seed.Stations {
		if s.ID <= 0 || s.MQTTID == "" {
			return nil, errors.Errorf("station %+v needs a positive id and an mqtt_id", s)
		}
	}
	return seed, nil
}

// defaultUnits covers the four relay combinations.
func defaultUnits() []Units {
	var units []Units
	id := 1
	for _, roof := range []string{"Open", "Closed"} {
		for _, aux := range []string{"Open", "Closed"} {
			units = append(units, Units{
				ID:            id,
				RoofRelay:     roof,
				AuxRelay:      aux,
				Voltage:       "V",
				Wet:           "%",
				Cloudy:        "%",
				CalPressure:   "HPa",
				AbsPressure:   "HPa",
				Rain:          "mm",
				Irradiation:   "%",
				Magnitude:     "Mv/arcsec^2",
				Frequency:     "Hz",
				Temperature:   "deg C",
				RelHumidity:   "%",
				DewPoint:      "deg C",
				WindSpeed:     "Km/h",
				WindDirection: "degrees",
				Lag:           "sec",
			})
			id++
		}
	}
	return units
}
