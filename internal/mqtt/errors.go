package mqtt

import (
	"net"
	"strings"
	"syscall"

	"github.com/eclipse/paho.mqtt.golang/packets"
	"github.com/pkg/errors"
)

// ErrSilence is reported when the silence watchdog drops the connection.
var ErrSilence = errors.New("no messages received")

// isTransient reports whether a connect error is worth retrying. Broker
// refusals other than "server unavailable" (bad credentials, rejected id,
// protocol version) will not go away by themselves.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	for _, target := range []error{
		syscall.ECONNREFUSED,
		syscall.ECONNRESET,
		syscall.ENETUNREACH,
		syscall.EHOSTUNREACH,
		syscall.ETIMEDOUT,
		packets.ErrorRefusedServerUnavailable,
		packets.ErrorNetworkError,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	// paho formats dial failures into a new error
	return strings.HasPrefix(err.Error(), packets.ErrorNetworkError.Error())
}
