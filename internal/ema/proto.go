// Package ema decodes the fixed layout text protocol (v2) spoken by EMA
// weather stations.
//
// A status line is a fixed width record. Every field is extracted by its
// [begin,end) character offsets; there is no delimiter scanning inside a
// line. Multi line payloads separate lines with '\n'.
package ema

// lag is the offset shift introduced by protocol v2 (wider voltage field).
const lag = 2

// field is a [begin,end) character range of a status line.
type field struct {
	begin, end int
}

var (
	fRoofRelay   = field{1, 2}
	fAuxRelay    = field{2, 3}
	fVoltage     = field{3, 3 + lag + 1}
	fWet         = field{5 + lag, 5 + lag + 3}
	fCloud       = field{9 + lag, 9 + lag + 3}
	fCalPressure = field{13 + lag, 13 + lag + 5}
	fAbsPressure = field{19 + lag, 19 + lag + 5}
	fRain        = field{25 + lag, 25 + lag + 4}
	fRainAccum   = field{30 + lag, 30 + lag + 4}
	fIrradiation = field{35 + lag, 35 + lag + 3}
	fFrequency   = field{39 + lag, 39 + lag + 5}
	fTemperature = field{45 + lag, 45 + lag + 4}
	fHumidity    = field{50 + lag, 50 + lag + 3}
	fDewPoint    = field{54 + lag, 54 + lag + 4}
	fWindSpeed10 = field{64 + lag, 64 + lag + 3}
	fWindSpeed   = field{68 + lag, 68 + lag + 4}
	fWindDir     = field{73 + lag, 73 + lag + 3}
	fMsgType     = field{77 + lag, 77 + lag + 1}
)

// StatusLen is the minimum length of a status line.
const StatusLen = 77 + lag + 1

// Message type characters found at fMsgType.
const (
	mtCurrent  = 'a'
	mtHistory  = 't'
	mtIsolated = '0'
	mtMinima   = 'm'
	mtMaxima   = 'M'
)

// TimestampLayout is the layout of the timestamp line, (HH:MM:SS DD/MM/YYYY).
const TimestampLayout = "(15:04:05 02/01/2006)"
