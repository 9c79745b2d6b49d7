package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/roffe/canbridge"
	"github.com/roffe/canbridge/adapter"
	"github.com/roffe/canbridge/pkg/bridge"
	"github.com/roffe/canbridge/pkg/config"
	"github.com/roffe/canbridge/pkg/metrics"
	"github.com/roffe/canbridge/pkg/sensor"
	"github.com/roffe/canbridge/pkg/telemetry"
	"github.com/roffe/canbridge/pkg/uds"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const (
	flagAdapter           = "adapter"
	flagPort              = "port"
	flagDownstreamAdapter = "downstream-adapter"
	flagDownstreamPort    = "downstream-port"
	flagMetricsAddr       = "metrics-addr"
	flagDumpFrames        = "dump-frames"
)

func init() {
	f := runCmd.Flags()
	f.StringP(flagAdapter, "a", "", "diagnostic bus adapter, overrides the config file")
	f.StringP(flagPort, "p", "", "diagnostic bus interface or serial port")
	f.String(flagDownstreamAdapter, "", "downstream bus adapter")
	f.String(flagDownstreamPort, "", "downstream bus interface or serial port")
	f.StringP(flagMetricsAddr, "m", "", "address to serve prometheus metrics on, e.g. :9100")
	f.BoolP(flagDumpFrames, "d", false, "log every diagnostic frame at debug level")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run the bridge until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		path, err := cmd.Flags().GetString(flagConfig)
		if err != nil {
			return err
		}
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		applyFlags(cmd.Flags(), cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}
		dump, _ := cmd.Flags().GetBool(flagDumpFrames)

		diag, err := openController(cfg.Diagnostic, dump)
		if err != nil {
			return fmt.Errorf("diagnostic bus: %w", err)
		}
		defer diag.Close()
		down, err := openController(cfg.Downstream.BusConfig, false)
		if err != nil {
			return fmt.Errorf("downstream bus: %w", err)
		}
		defer down.Close()

		if v, ok := diag.(*adapter.Virtual); ok {
			if err := simulateVehicle(ctx, v, cfg); err != nil {
				return err
			}
		}
		if v, ok := down.(*adapter.Virtual); ok {
			v.OnTransmit(logDownstream)
		}

		s, err := openSensor(cfg.Sensor)
		if err != nil {
			return err
		}
		if c, ok := s.(interface{ Close() error }); ok {
			defer c.Close()
		}

		var rec metrics.Recorder = metrics.NewDummy()
		addr, _ := cmd.Flags().GetString(flagMetricsAddr)
		if addr == "" {
			addr = cfg.Metrics.Addr
		}
		if addr != "" {
			p := metrics.NewPrometheus(cfg.Metrics.Namespace)
			rec = p
			srv := &http.Server{Addr: addr, Handler: p.Handler(), ReadHeaderTimeout: 5 * time.Second}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.WithError(err).Error("metrics server")
				}
			}()
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				srv.Shutdown(sctx)
			}()
			log.Infof("serving metrics on %s/metrics", addr)
		}

		b, err := bridge.New(bridge.Options{
			Config:     cfg,
			Diagnostic: diag,
			Downstream: down,
			Sensor:     s,
			Metrics:    rec,
			DumpFrames: dump,
		})
		if err != nil {
			return err
		}
		log.Infof("bridging %s -> %s, %d ecus", diag.Name(), down.Name(), len(cfg.ECUs))
		return b.Run(ctx)
	},
}

func applyFlags(f *pflag.FlagSet, cfg *config.Config) {
	set := func(name string, dst *string) {
		if f.Changed(name) {
			*dst, _ = f.GetString(name)
		}
	}
	set(flagAdapter, &cfg.Diagnostic.Adapter)
	set(flagPort, &cfg.Diagnostic.Port)
	set(flagDownstreamAdapter, &cfg.Downstream.Adapter)
	set(flagDownstreamPort, &cfg.Downstream.Port)
}

func openController(bus config.BusConfig, debug bool) (canbridge.Controller, error) {
	return adapter.New(bus.Adapter, &adapter.Config{
		Debug:        debug,
		Port:         bus.Port,
		PortBaudrate: bus.Baudrate,
		ManageLink:   bus.ManageLink,
		OnError: func(err error) {
			log.WithError(err).Warnf("%s adapter", bus.Adapter)
		},
	})
}

func openSensor(cfg config.SensorConfig) (sensor.Sampler, error) {
	switch cfg.Type {
	case "static":
		return sensor.Static{Pressure: cfg.Pressure, Temperature: cfg.Temperature, Humidity: cfg.Humidity}, nil
	case "bme280":
		dev, err := sensor.OpenBME280(cfg.Bus, cfg.Address)
		if err != nil {
			return nil, err
		}
		return dev, nil
	default:
		return nil, nil
	}
}

// simulateVehicle answers every configured query with demo data
func simulateVehicle(ctx context.Context, v *adapter.Virtual, cfg *config.Config) error {
	ecus, err := cfg.ECUList()
	if err != nil {
		return err
	}
	var sim []adapter.SimulatedECU
	for _, e := range ecus {
		sim = append(sim, adapter.SimulatedECU{
			Name:     e.Name,
			Request:  e.Request,
			Extended: e.Extended,
			Response: adapter.DemoResponse(e.Decoder, queryDID(e)),
		})
	}
	go adapter.NewSimulator(v, sim...).Run(ctx)
	log.Infof("simulating %d ecus on %s", len(sim), v.Name())
	return nil
}

func queryDID(e uds.ECU) uint16 {
	if e.Query[0] < 3 {
		return uint16(e.Query[2]) << 8
	}
	return uint16(e.Query[2])<<8 | uint16(e.Query[3])
}

func logDownstream(_ canbridge.FIFO, frame *canbridge.CANFrame) {
	rec, err := telemetry.DecodeRecord(frame.Data)
	if err != nil {
		log.WithError(err).Warnf("downstream 0x%03X", frame.Identifier)
		return
	}
	log.Infof("downstream 0x%03X %v", frame.Identifier, rec)
}
