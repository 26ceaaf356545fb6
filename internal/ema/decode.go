package ema

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ErrMalformed is returned for payloads that do not follow the protocol
// layout. Malformed frames are never partially decoded.
var ErrMalformed = errors.New("malformed EMA frame")

// MagnitudeCeiling is reported as visual magnitude when the photometer
// frequency yields no meaningful value.
const MagnitudeCeiling = 24.0

type Relay int

const (
	RelayOpen Relay = iota
	RelayClosed
)

func (r Relay) String() string {
	if r == RelayClosed {
		return "Closed"
	}
	return "Open"
}

func relayTable(def Relay, chars map[byte]Relay) (t [256]Relay) {
	for i := range t {
		t[i] = def
	}
	for c, r := range chars {
		t[c] = r
	}
	return t
}

var (
	roofRelay = relayTable(RelayOpen, map[byte]Relay{'C': RelayClosed})
	auxRelay  = relayTable(RelayClosed, map[byte]Relay{'E': RelayOpen, 'e': RelayOpen})
)

// MeasType tells samples from daily minima and maxima.
type MeasType int

const (
	TypeUnknown MeasType = iota
	TypeSample
	TypeMinimum
	TypeMaximum
)

func (t MeasType) String() string {
	switch t {
	case TypeSample:
		return "Samples"
	case TypeMinimum:
		return "Minima"
	case TypeMaximum:
		return "Maxima"
	}
	return "Unknown"
}

func measType(c byte) MeasType {
	switch c {
	case mtCurrent, mtHistory, mtIsolated:
		return TypeSample
	case mtMinima:
		return TypeMinimum
	case mtMaxima:
		return TypeMaximum
	}
	return TypeUnknown
}

// Record is one decoded reading.
type Record struct {
	DateID int // YYYYMMDD of the rounded timestamp
	TimeID int // HHMM of the rounded timestamp
	Type   MeasType

	Roof, Aux Relay

	Voltage       float64 // V
	Wet           float64 // rain detector level
	Cloudy        float64 // cloud sensor level
	CalPressure   float64 // HPa, at sea level
	AbsPressure   float64 // HPa
	Rain          float64 // mm
	RainAccum     float64 // mm
	Irradiation   float64 // %
	Frequency     float64 // photometer, Hz
	Magnitude     float64 // mag/arcsec^2
	Temperature   float64 // deg C
	Humidity      float64 // %
	DewPoint      float64 // deg C
	WindSpeed     float64 // Km/h
	WindSpeed10   float64 // Km/h, 10 minute average
	WindDirection int     // degrees

	// Timestamp is the station timestamp before rounding.
	Timestamp time.Time
	// Lag is the delivery delay in seconds. Only set for live samples.
	Lag int
}

// Frame is the decoded content of one payload.
type Frame struct {
	Kind    Kind
	Records []Record
}

// Decode decodes payload as a frame of the given kind. arrival is the time
// the payload was received and is used to compute the lag of live
// samples.
func Decode(kind Kind, payload []byte, arrival time.Time) (Frame, error) {
	lines := splitLines(string(payload))
	f := Frame{Kind: kind}

	switch kind {
	case CurrentSample, AverageSample:
		if len(lines) != 2 {
			return f, errors.Wrapf(ErrMalformed, "%s: %d lines, want 2", kind, len(lines))
		}
		rec, err := decodeSample(lines[0], lines[1])
		if err != nil {
			return f, errors.Wrap(err, kind.String())
		}
		if !arrival.IsZero() {
			rec.Lag = int(math.Round(arrival.Sub(rec.Timestamp).Seconds()))
		}
		f.Records = []Record{rec}

	case MinMaxHistory:
		if len(lines) == 0 || len(lines)%3 != 0 {
			return f, errors.Wrapf(ErrMalformed, "%s: %d lines, want a multiple of 3", kind, len(lines))
		}
		f.Records = make([]Record, 0, 2*len(lines)/3)
		for i := 0; i < len(lines); i += 3 {
			for _, line := range lines[i : i+2] {
				rec, err := decodeSample(line, lines[i+2])
				if err != nil {
					return Frame{Kind: kind}, errors.Wrapf(err, "%s: line %d", kind, i)
				}
				f.Records = append(f.Records, rec)
			}
		}

	case AveragesHistory:
		if len(lines) == 0 || len(lines)%2 != 0 {
			return f, errors.Wrapf(ErrMalformed, "%s: %d lines, want a multiple of 2", kind, len(lines))
		}
		f.Records = make([]Record, 0, len(lines)/2)
		for i := 0; i < len(lines); i += 2 {
			rec, err := decodeSample(lines[i], lines[i+1])
			if err != nil {
				return Frame{Kind: kind}, errors.Wrapf(err, "%s: line %d", kind, i)
			}
			f.Records = append(f.Records, rec)
		}

	default:
		return f, errors.Wrapf(ErrMalformed, "unknown kind %d", kind)
	}
	return f, nil
}

// splitLines splits on '\n', strips '\r' line endings and drops trailing
// empty lines.
func splitLines(s string) []string {
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimSuffix(lines[i], "\r")
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func decodeSample(status, tstamp string) (Record, error) {
	ts, err := ParseTimestamp(tstamp)
	if err != nil {
		return Record{}, err
	}
	rec, err := DecodeStatus(status)
	if err != nil {
		return Record{}, err
	}
	rec.DateID, rec.TimeID, _ = RoundTimestamp(ts)
	rec.Timestamp = ts
	return rec, nil
}

// DecodeStatus decodes the measurements of a single status line. Date and
// time keys are left empty.
func DecodeStatus(line string) (Record, error) {
	if len(line) < StatusLen {
		return Record{}, errors.Wrapf(ErrMalformed, "status line of %d chars, want %d", len(line), StatusLen)
	}
	d := lineDecoder{line: line}
	rec := Record{
		Type:          measType(line[fMsgType.begin]),
		Roof:          roofRelay[line[fRoofRelay.begin]],
		Aux:           auxRelay[line[fAuxRelay.begin]],
		Voltage:       d.tenths(fVoltage),
		Wet:           d.tenths(fWet),
		Cloudy:        d.tenths(fCloud),
		CalPressure:   d.tenths(fCalPressure),
		AbsPressure:   d.tenths(fAbsPressure),
		Rain:          d.tenths(fRain),
		RainAccum:     d.tenths(fRainAccum),
		Irradiation:   d.tenths(fIrradiation),
		Temperature:   d.tenths(fTemperature),
		Humidity:      d.tenths(fHumidity),
		DewPoint:      d.tenths(fDewPoint),
		WindSpeed:     d.tenths(fWindSpeed),
		WindSpeed10:   float64(d.integer(fWindSpeed10)),
		WindDirection: d.integer(fWindDir),
	}
	if d.err != nil {
		return Record{}, d.err
	}
	freq, err := DecodeFrequency(line[fFrequency.begin:fFrequency.end])
	if err != nil {
		return Record{}, err
	}
	rec.Frequency = freq
	rec.Magnitude = Magnitude(freq)
	return rec, nil
}

type lineDecoder struct {
	line string
	err  error
}

func (d *lineDecoder) integer(f field) int {
	if d.err != nil {
		return 0
	}
	s := d.line[f.begin:f.end]
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		d.err = errors.Wrapf(ErrMalformed, "field [%d,%d) %q", f.begin, f.end, s)
	}
	return v
}

func (d *lineDecoder) tenths(f field) float64 {
	return float64(d.integer(f)) / 10
}

// DecodeFrequency decodes the photometer field: one exponent digit
// followed by a four digit mantissa, value = mantissa * 10^(exponent-3).
func DecodeFrequency(s string) (float64, error) {
	if len(s) != fFrequency.end-fFrequency.begin {
		return 0, errors.Wrapf(ErrMalformed, "frequency field %q", s)
	}
	exp, err := strconv.Atoi(s[:1])
	if err != nil {
		return 0, errors.Wrapf(ErrMalformed, "frequency exponent %q", s)
	}
	mant, err := strconv.Atoi(strings.TrimSpace(s[1:]))
	if err != nil {
		return 0, errors.Wrapf(ErrMalformed, "frequency mantissa %q", s)
	}
	if exp < 3 {
		return float64(mant) / math.Pow10(3-exp), nil
	}
	return float64(mant) * math.Pow10(exp-3), nil
}

// Magnitude converts a photometer frequency into visual magnitude per
// square arcsecond, rounded to one decimal.
func Magnitude(freq float64) float64 {
	if freq <= 0 {
		return MagnitudeCeiling
	}
	m := -math.Log10(freq/230*1e-6) / math.Log10(2.5)
	if m < 0 || math.IsNaN(m) || math.IsInf(m, 0) {
		return MagnitudeCeiling
	}
	return math.Round(m*10) / 10
}

// ParseTimestamp parses a (HH:MM:SS DD/MM/YYYY) station timestamp as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	ts, err := time.Parse(TimestampLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, errors.Wrapf(ErrMalformed, "timestamp %q", s)
	}
	return ts, nil
}

// RoundTimestamp rounds ts to the nearest minute and returns the date key
// (YYYYMMDD) and time key (HHMM) of the rounded value.
func RoundTimestamp(ts time.Time) (dateID, timeID int, rounded time.Time) {
	rounded = ts.Add(30 * time.Second).Truncate(time.Minute)
	dateID = rounded.Year()*10000 + int(rounded.Month())*100 + rounded.Day()
	timeID = rounded.Hour()*100 + rounded.Minute()
	return dateID, timeID, rounded
}
