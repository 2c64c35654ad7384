package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	lucid "github.com/lucid-sec/lucid/go"
	"github.com/lucid-sec/lucid/go/codec"
	lucidhttp "github.com/lucid-sec/lucid/go/http"
	"github.com/lucid-sec/lucid/go/internal/config"
	"github.com/lucid-sec/lucid/go/metrics"
	"github.com/lucid-sec/lucid/go/overlay"
	"github.com/lucid-sec/lucid/go/page"
	lucidgin "github.com/lucid-sec/lucid/go/pkg/gin"
	"github.com/lucid-sec/lucid/go/relay"
)

const (
	localFlag           = "local"
	natsFlag            = "nats"
	serveBackgroundFlag = "serve-background"
	overlayFlag         = "overlay"

	// simulatedSlot is where the simulated wallet injects itself
	simulatedSlot = "ethereum"
)

type simulationResult struct {
	mu        sync.Mutex
	submitted []lucid.RequestType
	failed    []string
}

func (r *simulationResult) afterSubmit(sc lucid.SubmitResultContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submitted = append(r.submitted, sc.Transaction.RequestType())
	return nil
}

func (r *simulationResult) onFailure(fc lucid.SubmitFailureContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, fmt.Sprintf("%s %s: %v", fc.Call.Method, fc.Stage, fc.Error))
	return nil
}

// pageLink is the page side of the relay chain: the bus the client and
// bridge share, and the bridge's route to the background
type pageLink struct {
	bus     relay.Bus
	runtime relay.Runtime
}

func localLink(cfg *config.Config, bg *background) (pageLink, error) {
	broker, err := relay.NewBroker(bg.auth, cfg.Relay.URL)
	if err != nil {
		return pageLink{}, err
	}
	return pageLink{bus: relay.NewMemoryBus(), runtime: relay.NewLocalRuntime(broker)}, nil
}

// natsLink puts the page on its own NATS subject and reaches the background
// through request/reply on nats.subject
func natsLink(nc *nats.Conn, cfg *config.Config) pageLink {
	pageID := cfg.NATS.PageID
	if pageID == "" {
		pageID = uuid.NewString()
	}
	return pageLink{
		bus:     relay.NewNATSBus(nc, pageID),
		runtime: relay.NewNATSRuntime(nc, cfg.NATS.Subject),
	}
}

func newSimulate() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a dapp session against a simulated wallet and relay its signing requests",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := *configFrom(cmd)
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			out := cmd.OutOrStdout()
			local, _ := cmd.Flags().GetBool(localFlag)
			useNATS, _ := cmd.Flags().GetBool(natsFlag)
			serveBackground, _ := cmd.Flags().GetBool(serveBackgroundFlag)
			showOverlay, _ := cmd.Flags().GetBool(overlayFlag)

			switch {
			case useNATS && cfg.NATS.URL == "":
				return errors.New("nats.url is required with --nats")
			case !serveBackground && !useNATS:
				return errors.New("--serve-background=false requires --nats")
			case !serveBackground && local:
				return errors.New("--local requires the background in this process")
			}

			var (
				srv      *lucidgin.Server
				stopDev  = func() {}
				resolver lucidgin.KeyResolver
				bg       *background
			)
			if local {
				listener, err := net.Listen("tcp", "127.0.0.1:0")
				if err != nil {
					return err
				}
				cfg.Relay.URL = "http://" + listener.Addr().String()
				cfg.Storage.InMemory = true

				// The local server plays the paired phone and decrypts with
				// this device's key
				resolver = func(ctx context.Context, deviceID string) (*codec.Key, error) {
					session, err := bg.auth.Current(ctx)
					if err != nil || session.Data.DeviceID != deviceID {
						return nil, err
					}
					return session.EncryptionKey, nil
				}
				srv, stopDev, err = startDevServer(&cfg, listener, lucidgin.WithKeyResolver(resolver))
				if err != nil {
					_ = listener.Close()
					return err
				}
			}
			defer stopDev()

			if serveBackground {
				var err error
				bg, err = openBackground(&cfg)
				if err != nil {
					return err
				}
				defer bg.Close()
				bg.checkAuth(ctx)
			}

			var link pageLink
			if useNATS {
				nc, err := connectNATS(cfg.NATS.URL)
				if err != nil {
					return err
				}
				defer nc.Close()

				if serveBackground {
					broker, err := relay.NewBroker(bg.auth, cfg.Relay.URL)
					if err != nil {
						return err
					}
					if _, err := broker.ServeNATS(ctx, nc, cfg.NATS.Subject); err != nil {
						return err
					}
				}
				link = natsLink(nc, &cfg)
			} else {
				var err error
				if link, err = localLink(&cfg, bg); err != nil {
					return err
				}
			}

			collectors := metrics.New()
			if cfg.Metrics.Addr != "" {
				addr, stopMetrics, err := startMetricsServer(cfg.Metrics.Addr, collectors.Handler())
				if err != nil {
					return err
				}
				defer stopMetrics()
				fmt.Fprintf(out, "metrics served on http://%s/metrics\n", addr)
			}

			var notifier lucid.Notifier = overlay.NewLogNotifier()
			if !showOverlay {
				notifier = overlay.Noop{}
			}

			result, err := runSimulation(ctx, &cfg, simulation{
				link:       link,
				relay:      newRelayClient(&cfg),
				notifier:   notifier,
				collectors: collectors,
			})
			if err != nil {
				return err
			}

			printResult(out, result)
			if srv != nil {
				if session, err := bg.auth.Current(ctx); err == nil {
					fmt.Fprintf(out, "relay server received %d transaction(s)\n", len(srv.Submissions(session.Data.DeviceID)))
				}
			}
			return nil
		},
	}
	cmd.Flags().Bool(localFlag, true, "relay to an in-process dev server instead of relay.url")
	cmd.Flags().Bool(natsFlag, false, "carry page, bridge and background traffic over nats.url")
	cmd.Flags().Bool(serveBackgroundFlag, true, "answer background requests in this process; disable to use a running lucid background")
	cmd.Flags().Bool(overlayFlag, true, "log the overlay while requests are relayed")
	return cmd
}

// simulation is what runSimulation wires around the interceptor
type simulation struct {
	link       pageLink
	relay      *lucidhttp.RelayClient
	notifier   lucid.Notifier
	collectors *metrics.Collectors
}

// runSimulation wires page, interceptor and relay chain, lets a wallet
// appear after start-up, and replays the sample dapp requests
func runSimulation(ctx context.Context, cfg *config.Config, sim simulation) (*simulationResult, error) {
	bridge := relay.NewBridge(sim.link.bus, sim.link.runtime, relay.WithBridgeTimeout(cfg.Relay.NetworkTimeout))
	if err := bridge.Start(ctx); err != nil {
		return nil, err
	}
	defer bridge.Close()

	client, err := relay.NewClient(sim.link.bus, relay.WithTimeouts(relayTimeouts(cfg)))
	if err != nil {
		return nil, err
	}
	defer client.Close()

	result := &simulationResult{}

	opts, closeRPC, err := interceptorOptions(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer closeRPC()
	opts = append(opts, sim.collectors.InterceptorOptions()...)
	opts = append(opts,
		lucid.WithNotifier(sim.notifier),
		lucid.WithAfterSubmitHook(result.afterSubmit),
		lucid.WithOnSubmitFailureHook(result.onFailure),
	)

	global := page.NewGlobal()
	interceptor, err := lucid.NewInterceptor(global, relay.NewSubmitter(client, sim.relay), opts...)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := interceptor.Start(runCtx); err != nil {
		return nil, err
	}

	wallet := &simulatedWallet{}
	provider := page.NewProvider(wallet.dispatch)
	global.Set(simulatedSlot, provider)

	handle, err := page.AsProvider(provider)
	if err != nil {
		return nil, err
	}
	if err := waitForMonitor(ctx, handle, 5*time.Second); err != nil {
		return nil, err
	}

	for _, req := range sampleRequests() {
		res, err := handle.Request(ctx, req)
		log.Info().Str("method", req.Method).Interface("result", res).AnErr("error", err).Msg("dapp request settled")
	}

	interceptor.Wait()
	return result, nil
}

func waitForMonitor(ctx context.Context, handle *page.ProviderHandle, limit time.Duration) error {
	deadline := time.NewTimer(limit)
	defer deadline.Stop()
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()

	for !handle.Marked(lucid.InterceptedMarker) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("wallet was not wrapped within %s", limit)
		case <-tick.C:
		}
	}
	return nil
}

func printResult(out io.Writer, r *simulationResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.submitted {
		fmt.Fprintf(out, "submitted %s\n", t)
	}
	for _, f := range r.failed {
		fmt.Fprintf(out, "failed %s\n", f)
	}
}
