// Package config holds the bridge settings. Every field has a compiled in default, a
// YAML file only needs to carry what differs.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/roffe/canbridge"
	"github.com/roffe/canbridge/pkg/isotp"
	"github.com/roffe/canbridge/pkg/pipeline"
	"github.com/roffe/canbridge/pkg/telemetry"
	"github.com/roffe/canbridge/pkg/uds"
	"github.com/skycoin/skycoin/src/util/logging"
	"gopkg.in/yaml.v3"
)

var log = logging.MustGetLogger("config")

type Config struct {
	Diagnostic BusConfig        `yaml:"diagnostic"`
	Downstream DownstreamConfig `yaml:"downstream"`
	ECUs       []ECUConfig      `yaml:"ecus"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	ISOTP      ISOTPConfig      `yaml:"isotp"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Sensor     SensorConfig     `yaml:"sensor"`
	Metrics    MetricsConfig    `yaml:"metrics"`

	// SharedBus puts both controllers behind one bus guard, as when they share an SPI bus
	SharedBus   bool          `yaml:"shared_bus"`
	// SettleDelay is waited after both controllers are configured
	SettleDelay time.Duration `yaml:"settle_delay"`

	path string
}

// BusConfig selects and sets up one CAN controller
type BusConfig struct {
	Adapter    string `yaml:"adapter"`
	Port       string `yaml:"port"`
	Baudrate   int    `yaml:"baudrate"` // serial adapters only
	ManageLink bool   `yaml:"manage_link"`
	ClockHz    uint32 `yaml:"clock_hz"`
	Bitrate    uint32 `yaml:"bitrate"`
	TxFIFO     uint8  `yaml:"tx_fifo"`
	TxDepth    int    `yaml:"tx_depth"`
	RxDepth    int    `yaml:"rx_depth"`
	Payload    int    `yaml:"payload"`
}

type DownstreamConfig struct {
	BusConfig `yaml:",inline"`

	// Destination receives every record unless PerRecord is set
	Destination uint32        `yaml:"destination"`
	PerRecord   bool          `yaml:"per_record"`
	Error       uint32        `yaml:"error_id"`
	Battery     uint32        `yaml:"battery_id"`
	Tires       uint32        `yaml:"tires_id"`
	Climate     uint32        `yaml:"climate_id"`
	Environment uint32        `yaml:"environment_id"`
	Retries     uint          `yaml:"retries"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
}

type ECUConfig struct {
	Name     string `yaml:"name"`
	Request  uint32 `yaml:"request"`
	Extended bool   `yaml:"extended"`
	// Subcommand follows the 0x22 service byte in the query
	Subcommand []byte `yaml:"subcommand"`
	FIFO       uint8  `yaml:"fifo"`
	Decoder    string `yaml:"decoder"`
}

type SchedulerConfig struct {
	Period  time.Duration `yaml:"period"`
	Spacing time.Duration `yaml:"spacing"`
}

type ISOTPConfig struct {
	BlockSize   uint8         `yaml:"block_size"`
	STmin       uint8         `yaml:"stmin"`
	Padding     byte          `yaml:"padding"`
	Capacity    int           `yaml:"capacity"`
	MaxSessions int           `yaml:"max_sessions"`
	Timeout     time.Duration `yaml:"timeout"`
}

type PipelineConfig struct {
	Capacity int `yaml:"capacity"`
}

type SensorConfig struct {
	// Type is "none", "static" or "bme280"
	Type    string        `yaml:"type"`
	Bus     string        `yaml:"bus"`
	Address uint16        `yaml:"address"`
	Period  time.Duration `yaml:"period"`
	// static reading
	Pressure    float32 `yaml:"pressure"`
	Temperature float32 `yaml:"temperature"`
	Humidity    float32 `yaml:"humidity"`
}

type MetricsConfig struct {
	Addr      string `yaml:"addr"`
	Namespace string `yaml:"namespace"`
}

func Default() *Config {
	return &Config{
		Diagnostic: BusConfig{
			Adapter: "virtual",
			ClockHz: 20_000_000,
			Bitrate: 500_000,
			TxFIFO:  1,
			TxDepth: 8,
			RxDepth: 16,
			Payload: canbridge.ClassicDataLength,
		},
		Downstream: DownstreamConfig{
			BusConfig: BusConfig{
				Adapter: "virtual",
				ClockHz: 20_000_000,
				Bitrate: 500_000,
				TxFIFO:  1,
				TxDepth: 8,
				Payload: telemetry.MaxEncodedSize,
			},
			Destination: telemetry.DefaultDestination,
			Error:       0x710,
			Battery:     0x711,
			Tires:       0x712,
			Climate:     0x713,
			Environment: 0x714,
			Retries:     3,
			RetryDelay:  20 * time.Millisecond,
		},
		ECUs: []ECUConfig{
			{Name: "bms", Request: 0x7E4, Subcommand: []byte{0x01, 0x01}, FIFO: 2, Decoder: "battery"},
			{Name: "tpms", Request: 0x7A0, Subcommand: []byte{0xC0, 0x0B}, FIFO: 3, Decoder: "tpms"},
			{Name: "climate", Request: 0x7B3, Subcommand: []byte{0x01, 0x00}, FIFO: 4, Decoder: "cabin"},
		},
		Scheduler: SchedulerConfig{
			Period:  time.Second,
			Spacing: 10 * time.Millisecond,
		},
		ISOTP: ISOTPConfig{
			STmin:       isotp.DefaultSTmin,
			Capacity:    isotp.DefaultCapacity,
			MaxSessions: isotp.DefaultMaxSessions,
			Timeout:     isotp.DefaultTimeout,
		},
		Pipeline: PipelineConfig{
			Capacity: pipeline.DefaultCapacity,
		},
		Sensor: SensorConfig{
			Type:   "none",
			Period: time.Second,
		},
		Metrics: MetricsConfig{
			Namespace: "canbridge",
		},
		SharedBus:   true,
		SettleDelay: 500 * time.Millisecond,
	}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.path = path
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Infof("no config at %s, using defaults", path)
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := Parse(data, cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	log.Infof("loaded config from %s", path)
	return cfg, nil
}

// Parse decodes YAML into cfg, keeping the current value of every field data omits.
// A non empty ecus list replaces the default list.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return err
	}
	return cfg.Validate()
}

// Path is the file the config was loaded from
func (c *Config) Path() string {
	return c.path
}

func (c *Config) Validate() error {
	if len(c.ECUs) == 0 {
		return errors.New("no ecus configured")
	}
	if err := c.Diagnostic.validate("diagnostic"); err != nil {
		return err
	}
	if err := c.Downstream.validate("downstream"); err != nil {
		return err
	}
	for _, e := range c.ECUs {
		if e.Name == "" {
			return fmt.Errorf("ecu 0x%03X: missing name", e.Request)
		}
		if _, err := uds.BuildQuery(e.Subcommand...); err != nil {
			return fmt.Errorf("ecu %s: %w", e.Name, err)
		}
		if canbridge.FIFO(e.FIFO) == canbridge.NoFIFO || e.FIFO == c.Diagnostic.TxFIFO {
			return fmt.Errorf("ecu %s: fifo %d is not usable for receive", e.Name, e.FIFO)
		}
		if _, ok := telemetry.Lookup(e.Decoder); !ok {
			return fmt.Errorf("ecu %s: %w %q", e.Name, telemetry.ErrUnknownDecoder, e.Decoder)
		}
	}
	if _, err := c.Table(); err != nil {
		return err
	}
	if !canbridge.ValidIdentifier(c.Downstream.Destination, false) {
		return fmt.Errorf("downstream destination 0x%X out of range", c.Downstream.Destination)
	}
	if c.Scheduler.Period <= 0 {
		return errors.New("scheduler period must be positive")
	}
	if c.Scheduler.Spacing < 0 || c.Scheduler.Spacing*time.Duration(len(c.ECUs)) > c.Scheduler.Period {
		return fmt.Errorf("query spacing %s does not fit %d ecus in %s", c.Scheduler.Spacing, len(c.ECUs), c.Scheduler.Period)
	}
	if c.ISOTP.Capacity <= 7 || c.ISOTP.Capacity > 4095 {
		return fmt.Errorf("isotp capacity %d out of range", c.ISOTP.Capacity)
	}
	switch c.Sensor.Type {
	case "", "none", "static":
	case "bme280":
		if c.Sensor.Period <= 0 {
			return errors.New("sensor period must be positive")
		}
	default:
		return fmt.Errorf("unknown sensor type %q", c.Sensor.Type)
	}
	return nil
}

func (b BusConfig) validate(name string) error {
	if b.Adapter == "" {
		return fmt.Errorf("%s: no adapter", name)
	}
	if b.Bitrate == 0 {
		return fmt.Errorf("%s: bitrate must be set", name)
	}
	if canbridge.FIFO(b.TxFIFO) == canbridge.NoFIFO {
		return fmt.Errorf("%s: invalid tx fifo %d", name, b.TxFIFO)
	}
	if b.Payload <= 0 || b.Payload > canbridge.MaxDataLength {
		return fmt.Errorf("%s: payload size %d out of range", name, b.Payload)
	}
	return nil
}

// Controller returns the controller wide settings
func (b BusConfig) Controller() canbridge.ControllerConfig {
	return canbridge.ControllerConfig{
		ClockHz:            b.ClockHz,
		Bitrate:            b.Bitrate,
		ECC:                true,
		ISOCRC:             true,
		RestrictRetransmit: false,
		TXQEnabled:         true,
		TxEventFIFOEnabled: false,
	}
}

// TxFIFOConfig returns the transmit queue setup
func (b BusConfig) TxFIFOConfig() canbridge.FIFOConfig {
	depth := b.TxDepth
	if depth <= 0 {
		depth = 8
	}
	return canbridge.FIFOConfig{
		FIFO:          canbridge.FIFO(b.TxFIFO),
		Direction:     canbridge.TX,
		Depth:         depth,
		PayloadSize:   b.Payload,
		Priority:      1,
		RetryAttempts: 3,
	}
}

// ECUList builds the ECU entries with their encoded queries
func (c *Config) ECUList() ([]uds.ECU, error) {
	out := make([]uds.ECU, 0, len(c.ECUs))
	for _, e := range c.ECUs {
		q, err := uds.BuildQuery(e.Subcommand...)
		if err != nil {
			return nil, fmt.Errorf("ecu %s: %w", e.Name, err)
		}
		out = append(out, uds.ECU{
			Name:     e.Name,
			Request:  e.Request,
			Extended: e.Extended,
			Query:    q,
			FIFO:     canbridge.FIFO(e.FIFO),
			Decoder:  e.Decoder,
		})
	}
	return out, nil
}

func (c *Config) Table() (*uds.Table, error) {
	ecus, err := c.ECUList()
	if err != nil {
		return nil, err
	}
	return uds.NewTable(ecus...)
}

func (c *Config) Destinations() telemetry.Destinations {
	d := c.Downstream
	if !d.PerRecord {
		return telemetry.SingleDestination(d.Destination)
	}
	return telemetry.Destinations{
		Default:     d.Destination,
		Error:       d.Error,
		Battery:     d.Battery,
		Tires:       d.Tires,
		Climate:     d.Climate,
		Environment: d.Environment,
	}
}

func (c *Config) Reassembly() isotp.Config {
	return isotp.Config{
		BlockSize:         c.ISOTP.BlockSize,
		STmin:             c.ISOTP.STmin,
		Padding:           c.ISOTP.Padding,
		Capacity:          c.ISOTP.Capacity,
		MaxSessions:       c.ISOTP.MaxSessions,
		Timeout:           c.ISOTP.Timeout,
		FlowControlOffset: uds.ResponseOffset,
		TxFIFO:            canbridge.FIFO(c.Diagnostic.TxFIFO),
	}
}
