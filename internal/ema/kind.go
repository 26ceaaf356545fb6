package ema

import "strings"

// Kind classifies a frame by the topic it was published on.
type Kind int

const (
	CurrentSample Kind = iota
	AverageSample
	MinMaxHistory
	AveragesHistory

	NumKinds = 4
)

var kindNames = [NumKinds]string{"current", "average", "minmax", "samples"}

func (k Kind) String() string {
	if k < 0 || int(k) >= NumKinds {
		return "unknown"
	}
	return kindNames[k]
}

// Kinds lists all kinds in their canonical order.
var Kinds = [NumKinds]Kind{CurrentSample, AverageSample, MinMaxHistory, AveragesHistory}

var suffixes = [NumKinds]string{
	CurrentSample:   "current/status",
	AverageSample:   "average/status",
	MinMaxHistory:   "history/minmax",
	AveragesHistory: "history/samples",
}

// ParseTopic splits prefix/<station>/<category>/<subcategory>. The station
// is the second path segment and the kind is given by the last two. Topics
// of any other depth yield no station.
func ParseTopic(topic string) (kind Kind, station string, ok bool) {
	path := strings.Split(topic, "/")
	if len(path) != 4 || path[1] == "" {
		return 0, "", false
	}
	tail := path[2] + "/" + path[3]
	for k, suffix := range suffixes {
		if tail == suffix {
			return Kind(k), path[1], true
		}
	}
	return 0, path[1], false
}
