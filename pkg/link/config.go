package link

import (
	"fmt"
	"net"
	"os"

	"github.com/pion/logging"
	"gopkg.in/yaml.v3"

	"github.com/qgb1151521/calimero-core/pkg/secure"
	"github.com/qgb1151521/calimero-core/pkg/transport"
)

// Transport variant names accepted in Config.
const (
	TransportTunnel = "tunnel"
	TransportRouter = "router"
	TransportSerial = "serial"
	TransportUSB    = "usb"
)

// Config is the declarative link configuration accepted by Open, loadable
// from YAML for host integration.
type Config struct {
	// Transport selects the variant: tunnel, router, serial or usb.
	Transport string `yaml:"transport"`

	// Endpoint is the tunneling server address or the routing group
	// override.
	Endpoint string `yaml:"endpoint"`

	// ListenAddr is the local address for tunneling, default ":0".
	ListenAddr string `yaml:"listen"`

	// Interface names the network interface for routing, empty for any.
	Interface string `yaml:"interface"`

	// Device is the serial device path for the serial variant.
	Device string `yaml:"device"`

	// BaudRate overrides the serial rate, default 19200.
	BaudRate int `yaml:"baud_rate"`

	// VendorID and ProductID select the USB interface, zero for the
	// first one found.
	VendorID  uint16 `yaml:"vendor_id"`
	ProductID uint16 `yaml:"product_id"`

	// SendPolicy is block, reject or queue. Default block.
	SendPolicy string `yaml:"send_policy"`

	// QueueSize bounds the send queue under the queue policy.
	QueueSize int `yaml:"queue_size"`

	// Secure enables KNX IP Secure for the tunnel transport. Nil keeps
	// the connection plain.
	Secure *SecureConfig `yaml:"secure"`

	// Params carries the per-action timeouts and retry counts.
	Params Params `yaml:"timing"`

	// LoggerFactory creates loggers for the link and its transport.
	// Not loadable from YAML.
	LoggerFactory logging.LoggerFactory `yaml:"-"`
}

// SecureConfig holds the KNX IP Secure credentials of a tunnel.
type SecureConfig struct {
	// UserID selects the tunneling user, default 2.
	UserID uint8 `yaml:"user_id"`

	// UserPassword is the password of the tunneling user.
	UserPassword string `yaml:"user_password"`

	// DeviceAuthCode is the gateway's device authentication code.
	DeviceAuthCode string `yaml:"device_auth_code"`
}

// Validate checks the configuration for the selected transport.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportTunnel:
		if c.Endpoint == "" {
			return fmt.Errorf("link: tunnel transport needs an endpoint")
		}
		if c.Secure != nil && (c.Secure.UserPassword == "" || c.Secure.DeviceAuthCode == "") {
			return fmt.Errorf("link: secure tunnel needs a user password and a device authentication code")
		}
	case TransportRouter, TransportUSB:
	case TransportSerial:
		if c.Device == "" {
			return fmt.Errorf("link: serial transport needs a device path")
		}
	case "":
		return fmt.Errorf("link: no transport selected")
	default:
		return fmt.Errorf("link: unknown transport %q", c.Transport)
	}

	switch c.SendPolicy {
	case "", "block", "reject", "queue":
	default:
		return fmt.Errorf("link: unknown send policy %q", c.SendPolicy)
	}
	return nil
}

func (c *Config) sendPolicy() SendPolicy {
	switch c.SendPolicy {
	case "reject":
		return SendReject
	case "queue":
		return SendQueue
	default:
		return SendBlock
	}
}

// ConfigFromFile loads and validates a YAML link configuration.
func ConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("link: parsing %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Open builds the link the configuration describes. For tunneling it
// blocks until the connection handshake completes.
func Open(config *Config) (NetworkLink, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Transport {
	case TransportTunnel:
		tc := TunnelConfig{
			RemoteAddr:    config.Endpoint,
			ListenAddr:    config.ListenAddr,
			Params:        config.Params,
			SendPolicy:    config.sendPolicy(),
			QueueSize:     config.QueueSize,
			LoggerFactory: config.LoggerFactory,
		}
		if config.Secure != nil {
			udp, err := transport.NewUDP(transport.UDPConfig{
				RemoteAddr:    config.Endpoint,
				ListenAddr:    config.ListenAddr,
				LoggerFactory: config.LoggerFactory,
			})
			if err != nil {
				return nil, err
			}
			session, err := secure.NewSession(udp, secure.Config{
				UserKey:       secure.UserKey(config.Secure.UserPassword),
				DeviceAuthKey: secure.DeviceAuthKey(config.Secure.DeviceAuthCode),
				UserID:        config.Secure.UserID,
				LoggerFactory: config.LoggerFactory,
			})
			if err != nil {
				udp.Close()
				return nil, err
			}
			tc.Binding = session
		}
		return Connect(tc)

	case TransportRouter:
		var iface *net.Interface
		if config.Interface != "" {
			var err error
			iface, err = net.InterfaceByName(config.Interface)
			if err != nil {
				return nil, fmt.Errorf("link: interface %q: %w", config.Interface, err)
			}
		}
		return NewRouter(RouterConfig{
			GroupAddr:     config.Endpoint,
			Interface:     iface,
			LoggerFactory: config.LoggerFactory,
		})

	case TransportSerial:
		binding, err := transport.NewSerial(transport.SerialConfig{
			Device:        config.Device,
			BaudRate:      config.BaudRate,
			LoggerFactory: config.LoggerFactory,
		})
		if err != nil {
			return nil, err
		}
		return OpenDevice(binding, DeviceConfig{
			Params:        config.Params,
			SendPolicy:    config.sendPolicy(),
			QueueSize:     config.QueueSize,
			LoggerFactory: config.LoggerFactory,
		})

	case TransportUSB:
		binding, err := transport.NewUSB(transport.USBConfig{
			VendorID:      config.VendorID,
			ProductID:     config.ProductID,
			LoggerFactory: config.LoggerFactory,
		})
		if err != nil {
			return nil, err
		}
		return OpenDevice(binding, DeviceConfig{
			Params:        config.Params,
			SendPolicy:    config.sendPolicy(),
			QueueSize:     config.QueueSize,
			LoggerFactory: config.LoggerFactory,
		})

	default:
		return nil, fmt.Errorf("link: unknown transport %q", config.Transport)
	}
}
