package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rojolang/insights-sdk-go/pkg/insights"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	configPath string
	verbose    bool
	apiKey     string
	endpoint   string
	userID     string
	logLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "insights",
		Short:         "Live insights client",
		Long:          "Stream microphone audio to the insights service and print the insights it returns",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key for authentication")
	rootCmd.PersistentFlags().StringVar(&endpoint, "endpoint", "", "WebSocket endpoint URL")
	rootCmd.PersistentFlags().StringVar(&userID, "user-id", "", "User ID for the session")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(devicesCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(modelCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig applies flags on top of file and environment settings and
// installs the global logger.
func loadConfig(cmd *cobra.Command) (*insights.Config, error) {
	cfg, err := insights.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("api-key") {
		cfg.APIKey = apiKey
		cfg.UseTokenAuth = true
	}
	if flags.Changed("endpoint") {
		cfg.Endpoint = endpoint
	}
	if flags.Changed("user-id") {
		cfg.UserID = userID
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	insights.SetGlobalLogger(insights.NewLogger(cfg.LogConfig()))
	return cfg, nil
}

func validate(cfg *insights.Config) error {
	if issues := cfg.Validate(); len(issues) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(issues, "\n  - "))
	}
	return nil
}

func runCmd() *cobra.Command {
	var (
		metricsAddr   string
		deviceID      int
		kafkaBrokers  []string
		kafkaTopic    string
		showDetail    bool
		onlyAgentName string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Stream the microphone and print insights",
		Long:  "Connect to the insights service, stream the microphone and print accepted insights until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("metrics-addr") {
				cfg.MetricsAddr = metricsAddr
			}
			if flags.Changed("device") {
				cfg.AudioDeviceID = &deviceID
			}
			if flags.Changed("kafka-brokers") {
				cfg.Kafka.Brokers = kafkaBrokers
				cfg.Kafka.Enabled = true
			}
			if flags.Changed("kafka-topic") {
				cfg.Kafka.Topic = kafkaTopic
			}
			if err := validate(cfg); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, showDetail, onlyAgentName)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	cmd.Flags().IntVar(&deviceID, "device", 0, "Input device ID (see 'devices list')")
	cmd.Flags().StringSliceVar(&kafkaBrokers, "kafka-brokers", nil, "Forward insights to these Kafka brokers")
	cmd.Flags().StringVar(&kafkaTopic, "kafka-topic", insights.DefaultKafkaTopic, "Kafka topic for insights")
	cmd.Flags().BoolVar(&showDetail, "detail", false, "Print the formatted detail body of each insight")
	cmd.Flags().StringVar(&onlyAgentName, "agent", "", "Only print insights from this agent")
	return cmd
}

func run(ctx context.Context, cfg *insights.Config, showDetail bool, agent string) error {
	logger := insights.GetGlobalLogger()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := insights.NewMetrics(reg)
	publisher := insights.NewKafkaPublisher(cfg.Kafka, cfg.UserID, logger, metrics)

	session, err := insights.NewSession(cfg,
		insights.WithLogger(logger),
		insights.WithMetrics(metrics),
		insights.WithPublisher(publisher),
	)
	if err != nil {
		return err
	}

	var onInsight insights.InsightHandler = insights.CreateConsoleInsightHandler(os.Stdout, showDetail)
	if agent != "" {
		onInsight = insights.CreateAgentFilter(agent, onInsight)
	}
	session.AddInsightHandler(onInsight)
	session.AddNoticeHandler(func(n insights.Notice) {
		fmt.Printf("[%s] %s\n", n.Source, n.Message)
	})
	session.AddConnectionHandler(insights.CreateConnectionStatusHandler(func(label string) {
		fmt.Printf("● %s\n", label)
	}))
	session.AddCaptureHandler(insights.CreateCaptureStatusHandler(func(label string) {
		fmt.Printf("🎤 %s\n", label)
	}))
	session.AddCatalogHandler(func(c insights.ModelCatalog) {
		logger.WithField("providers", c.ProviderNames()).Infof("Active model: %s:%s", c.ActiveProvider, c.ActiveModel)
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return session.Run(ctx) })
	g.Go(func() error { return publisher.Run(ctx) })

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logger.WithField("addr", cfg.MetricsAddr).Info("Serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show and validate the current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cfg.PrintConfig(os.Stdout)
			fmt.Printf("\nAudio: %d Hz, %d channel, %d samples per frame, %s\n",
				insights.SampleRate, insights.Channels, insights.BufferSize, insights.Format)
			if err := validate(cfg); err != nil {
				return err
			}
			fmt.Println("\n✓ Configuration is valid")
			return nil
		},
	}
}

func devicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "Audio device management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List available input devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := insights.ListInputDevices()
			if err != nil {
				return fmt.Errorf("list audio devices: %w", err)
			}
			fmt.Println("Input Devices:")
			for _, device := range devices {
				marker := ""
				if device.IsDefault {
					marker = " (Default)"
				}
				fmt.Printf("  %d: %s%s - %d channels (%.0f Hz)\n",
					device.ID, device.Name, marker, device.MaxInputChannels, device.DefaultSampleRate)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "info [device-id]",
		Short: "Show details for one input device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid device ID %q", args[0])
			}
			devices, err := insights.ListInputDevices()
			if err != nil {
				return fmt.Errorf("list audio devices: %w", err)
			}
			device, err := insights.FindDevice(devices, id)
			if err != nil {
				return err
			}
			fmt.Print(insights.DeviceInfo(*device))
			warnings, err := insights.ValidateDevice(*device)
			if err != nil {
				return err
			}
			for _, w := range warnings {
				fmt.Printf("  Warning: %s\n", w)
			}
			return nil
		},
	})
	return cmd
}

func agentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage custom agents",
	}

	var config insights.AgentConfig
	addAgentFlags := func(c *cobra.Command) {
		c.Flags().StringVar(&config.Name, "name", "", "Agent name")
		c.Flags().StringVar(&config.Icon, "icon", "", "Agent icon")
		c.Flags().StringVar(&config.Goal, "goal", "", "What the agent looks for")
		c.Flags().StringVar(&config.Prompt, "prompt", "", "Prompt template")
		c.Flags().StringSliceVar(&config.Triggers, "triggers", nil, "Trigger keywords")
		c.Flags().StringVar(&config.Model, "model", "", "Model override")
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "Create a custom agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOpenSession(cmd, func(ctx context.Context, s *insights.Session) error {
				return s.CreateAgent(ctx, config)
			})
		},
	}
	addAgentFlags(create)

	update := &cobra.Command{
		Use:   "update [old-name]",
		Short: "Update a custom agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOpenSession(cmd, func(ctx context.Context, s *insights.Session) error {
				return s.UpdateAgent(ctx, args[0], config)
			})
		},
	}
	addAgentFlags(update)

	del := &cobra.Command{
		Use:   "delete [name]",
		Short: "Delete a custom agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOpenSession(cmd, func(ctx context.Context, s *insights.Session) error {
				return s.DeleteAgent(ctx, args[0])
			})
		},
	}

	cmd.AddCommand(create, update, del)
	return cmd
}

func modelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Inspect or switch the LLM model",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set [provider] [model]",
		Short: "Switch provider and model; omit model for the provider default",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			model := ""
			if len(args) == 2 {
				model = args[1]
			}
			return withOpenSession(cmd, func(ctx context.Context, s *insights.Session) error {
				return s.SetModel(ctx, args[0], model)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the models the server offers",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalogs := make(chan insights.ModelCatalog, 1)
			return withOpenSession(cmd, func(ctx context.Context, s *insights.Session) error {
				s.AddCatalogHandler(func(c insights.ModelCatalog) {
					select {
					case catalogs <- c:
					default:
					}
				})
				if err := s.RequestModels(ctx); err != nil {
					return err
				}
				select {
				case c := <-catalogs:
					for _, p := range c.ProviderNames() {
						fmt.Printf("%s:\n", p)
						for _, m := range c.Providers[p] {
							active := ""
							if p == c.ActiveProvider && m == c.ActiveModel {
								active = " (active)"
							}
							fmt.Printf("  %s%s\n", m, active)
						}
					}
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
		},
	})
	return cmd
}

// withOpenSession connects without a microphone, waits for the connection to
// open, runs fn and disconnects.
func withOpenSession(cmd *cobra.Command, fn func(ctx context.Context, s *insights.Session) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := validate(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()

	session, err := insights.NewSession(cfg, insights.WithMicrophone(silentMicrophone{}))
	if err != nil {
		return err
	}
	opened := make(chan struct{}, 1)
	session.AddConnectionHandler(func(state insights.ConnectionState) {
		if state == insights.Open {
			select {
			case opened <- struct{}{}:
			default:
			}
		}
	})
	session.AddNoticeHandler(func(n insights.Notice) {
		fmt.Println(n.Message)
	})

	if err := session.Open(ctx); err != nil {
		return err
	}
	defer session.Close()

	select {
	case <-opened:
	case <-ctx.Done():
		return fmt.Errorf("could not connect to %s: %w", cfg.Endpoint, ctx.Err())
	}
	return fn(ctx, session)
}

// silentMicrophone lets one-shot commands connect without opening an input device.
type silentMicrophone struct{}

func (silentMicrophone) Open(int, int, *int, func([]float32)) (insights.InputStream, error) {
	return silentStream{}, nil
}

type silentStream struct{}

func (silentStream) Start() error { return nil }
func (silentStream) Stop() error  { return nil }
func (silentStream) Close() error { return nil }
