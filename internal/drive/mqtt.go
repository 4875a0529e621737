package drive

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/rahul/kuruma/internal/calibration"
)

// MQTTConfig addresses the motor bridge that owns the physical driver board.
type MQTTConfig struct {
	Broker   string        `mapstructure:"broker" yaml:"broker"`
	ClientID string        `mapstructure:"client_id" yaml:"client_id"`
	Topic    string        `mapstructure:"topic" yaml:"topic"`
	QoS      byte          `mapstructure:"qos" yaml:"qos"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// MQTTClient is the subset of mqtt.Client the actuator needs.
type MQTTClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

// wheelMessage is the wire format understood by the motor bridge.
type wheelMessage struct {
	Command string `json:"command"`
	Wheel   string `json:"wheel,omitempty"`
	Spin    string `json:"spin,omitempty"`
	Speed   int    `json:"speed"`
	Seq     uint64 `json:"seq"`
	SentAt  int64  `json:"sent_at_ms"`
}

type faultMessage struct {
	Error string `json:"error"`
}

var errPublishTimeout = errors.New("mqtt publish timed out")

// MQTTActuator publishes wheel commands to "<topic>/cmd" and listens for
// bridge faults on "<topic>/fault".
type MQTTActuator struct {
	client MQTTClient
	cfg    MQTTConfig
	seq    atomic.Uint64
	faults chan error
	logger *zap.Logger
}

// DialMQTT connects to the broker and returns a ready actuator.
func DialMQTT(cfg MQTTConfig, logger *zap.Logger) (*MQTTActuator, error) {
	logger = logger.Named("mqtt_actuator")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetConnectTimeout(cfg.Timeout)
	opts.OnConnect = func(mqtt.Client) {
		logger.Info("Connected to MQTT broker", zap.String("broker", cfg.Broker))
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", zap.Error(err))
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		client.Disconnect(0)
		return nil, fmt.Errorf("connect to %s: timed out after %s", cfg.Broker, cfg.Timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Broker, err)
	}
	return NewMQTTActuator(client, cfg, logger)
}

func NewMQTTActuator(client MQTTClient, cfg MQTTConfig, logger *zap.Logger) (*MQTTActuator, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	a := &MQTTActuator{
		client: client,
		cfg:    cfg,
		faults: make(chan error, 1),
		logger: logger,
	}
	token := client.Subscribe(cfg.Topic+"/fault", cfg.QoS, a.onFault)
	if err := a.wait(token); err != nil {
		return nil, fmt.Errorf("subscribe fault topic: %w", err)
	}
	return a, nil
}

func (a *MQTTActuator) Faults() <-chan error {
	return a.faults
}

func (a *MQTTActuator) Drive(wheel Wheel, spin calibration.Spin, speedPercent int) error {
	return a.publish(wheelMessage{
		Command: "drive",
		Wheel:   string(wheel),
		Spin:    string(spin),
		Speed:   speedPercent,
	})
}

func (a *MQTTActuator) Stop() error {
	return a.publish(wheelMessage{Command: "stop"})
}

// Close disconnects when the client is a full paho client.
func (a *MQTTActuator) Close() {
	if c, ok := a.client.(mqtt.Client); ok {
		c.Disconnect(250)
	}
}

func (a *MQTTActuator) publish(msg wheelMessage) error {
	msg.Seq = a.seq.Add(1)
	msg.SentAt = time.Now().UnixMilli()
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s command: %w", msg.Command, err)
	}
	if err := a.wait(a.client.Publish(a.cfg.Topic+"/cmd", a.cfg.QoS, false, payload)); err != nil {
		return fmt.Errorf("publish %s command: %w", msg.Command, err)
	}
	return nil
}

func (a *MQTTActuator) wait(token mqtt.Token) error {
	if !token.WaitTimeout(a.cfg.Timeout) {
		return errPublishTimeout
	}
	return token.Error()
}

func (a *MQTTActuator) onFault(_ mqtt.Client, msg mqtt.Message) {
	var fm faultMessage
	if err := json.Unmarshal(msg.Payload(), &fm); err != nil || fm.Error == "" {
		fm.Error = string(msg.Payload())
	}
	a.logger.Warn("Motor bridge reported a fault", zap.String("fault", fm.Error))
	select {
	case a.faults <- fmt.Errorf("motor bridge fault: %s", fm.Error):
	default:
	}
}
