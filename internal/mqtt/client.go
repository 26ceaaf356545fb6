package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
)

// Client is the subset of the paho client used by the Subscriber.
type Client interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	IsConnectionOpen() bool
	SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
}

var _ Client = (mqtt.Client)(nil)

// NewClientFunc builds a disconnected client. Every message received is
// passed to onMessage and an established connection going down is reported
// to onLost.
type NewClientFunc func(o Options, onMessage mqtt.MessageHandler, onLost mqtt.ConnectionLostHandler) (Client, error)

// Options configure the broker connection and the subscriptions.
type Options struct {
	Broker            string
	ClientID          string
	Username          string
	Password          string
	TLSServerCert     string
	TLSServerInsecure bool

	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	MaxRetry       time.Duration // backoff cap
	Silence        time.Duration // drop the connection after this long without messages, 0 disables

	Topics []string
	QoS    byte
}

func (o Options) subscriptions() map[string]byte {
	subs := make(map[string]byte, len(o.Topics))
	for _, t := range o.Topics {
		subs[t] = o.QoS
	}
	return subs
}

// ClientID returns the id used towards the broker, id@hostname.
func ClientID(id string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	if id == "" {
		id = fmt.Sprintf("emadb-%06d", time.Now().Nanosecond()/1000)
	}
	return id + "@" + host
}

// NewPahoClient returns a paho client. Reconnection is driven by the
// Subscriber, so paho's own reconnect logic is disabled. Sessions are
// persistent to keep QoS 1 messages across reconnections.
func NewPahoClient(conf Options, onMessage mqtt.MessageHandler, onLost mqtt.ConnectionLostHandler) (Client, error) {
	opts := mqtt.NewClientOptions()

	opts.AddBroker(conf.Broker)

	if conf.Username != "" {
		opts.SetUsername(conf.Username)
	}
	if conf.Password != "" {
		opts.SetPassword(conf.Password)
	}
	opts.SetClientID(conf.ClientID)

	var certs *x509.CertPool
	if conf.TLSServerCert != "" {
		certs = x509.NewCertPool()
		if !certs.AppendCertsFromPEM([]byte(conf.TLSServerCert)) {
			return nil, errors.New("unable to add tls_server_cert to CertPool")
		}
	}
	opts.SetTLSConfig(&tls.Config{
		InsecureSkipVerify: conf.TLSServerInsecure,
		RootCAs:            certs,
	})

	opts.SetCleanSession(false)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetKeepAlive(conf.KeepAlive)
	if conf.ConnectTimeout > 0 {
		opts.SetConnectTimeout(conf.ConnectTimeout)
	}

	opts.SetDefaultPublishHandler(onMessage)
	opts.SetConnectionLostHandler(onLost)

	return mqtt.NewClient(opts), nil
}
