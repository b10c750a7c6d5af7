// Package device wires the connectivity supervisor, the hosted network and
// the HTTP surfaces into one process and owns their startup order.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"apsta"
	"apsta/accesspoint"
	"apsta/advertise"
	"apsta/config"
	"apsta/endpoint"
	"apsta/events"
	"apsta/internal/buildinfo"
	"apsta/internal/logging"
	"apsta/journal"
	"apsta/metrics"
	"apsta/outbound"
	"apsta/station"
	"apsta/substrate"
	"apsta/timesync"

	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "apsta/device"

// Option configures a Device.
type Option func(*Device)

// WithClock sets the clock for the scheduled outbound call and timestamps.
func WithClock(c clock.Clock) Option {
	return func(d *Device) {
		d.clock = c
	}
}

// WithTracerProvider sets the provider for bootstrap and outbound spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(d *Device) {
		d.tp = tp
	}
}

// WithRegistry sets the registry the device's collector is registered with.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(d *Device) {
		d.registry = reg
	}
}

// WithListener serves the endpoint on ln instead of the configured address.
func WithListener(ln net.Listener) Option {
	return func(d *Device) {
		d.listener = ln
	}
}

// WithOutboundClient overrides the HTTP client used for the outbound call.
func WithOutboundClient(c *http.Client) Option {
	return func(d *Device) {
		d.outboundClient = c
	}
}

// WithTimeQuery overrides how the time check reaches its server.
func WithTimeQuery(q timesync.QueryFunc) Option {
	return func(d *Device) {
		d.timeQuery = q
	}
}

// Device is one running dual-role node.
type Device struct {
	cfg   config.Config
	sub   substrate.Substrate
	clock clock.Clock
	tp    trace.TracerProvider
	log   *slog.Logger

	registry       *prometheus.Registry
	listener       net.Listener
	outboundClient *http.Client
	timeQuery      timesync.QueryFunc

	ch       *events.Channel
	loop     *events.Loop
	station  *station.Supervisor
	host     *accesspoint.Host
	endpoint *endpoint.Server
	invoker  *outbound.Invoker
	metrics  *metrics.Collector
	store    *journal.Store
	journal  *journal.Writer
	mdns     *advertise.Advertiser
	clockChk *timesync.Checker

	// runCtx scopes background work started from observer hooks. It is set
	// before the dispatch loop starts.
	runCtx context.Context
	bg     sync.WaitGroup

	started      chan struct{}
	outboundDone chan struct{}
	outboundMu   sync.Mutex
	outboundRes  OutboundResult
}

// OutboundResult is the outcome of the scheduled outbound call.
type OutboundResult struct {
	Response outbound.Response
	Err      error
}

// New builds a device on top of sub. The substrate is not touched until Run.
func New(cfg config.Config, sub substrate.Substrate, opts ...Option) (*Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	d := &Device{
		cfg:          cfg,
		sub:          sub,
		clock:        clock.WallClock,
		log:          logging.Component("device"),
		started:      make(chan struct{}),
		outboundDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.tp == nil {
		d.tp = otel.GetTracerProvider()
	}
	if d.registry == nil {
		d.registry = prometheus.NewRegistry()
	}

	d.metrics = metrics.NewCollector()
	if err := d.registry.Register(d.metrics); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	if cfg.Journal.Path != "" {
		store, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		d.store = store
		d.journal = journal.NewWriter(store, journal.WithWriterClock(d.clock))
	}

	if cfg.Endpoint.Advertise {
		port, err := advertise.PortFromListen(cfg.Endpoint.Listen)
		if err != nil {
			return nil, errors.Join(err, d.store.Close())
		}
		paths := make([]string, 0, len(cfg.Endpoint.Routes))
		for _, r := range cfg.Endpoint.Routes {
			paths = append(paths, r.Path)
		}
		d.mdns = advertise.New(advertise.Config{
			Instance:  cfg.AccessPoint.SSID,
			Interface: cfg.Station.Interface,
			Port:      port,
			Version:   buildinfo.Version,
			Paths:     paths,
		})
	}

	if cfg.TimeSync.Server != "" {
		tsOpts := []timesync.Option{
			timesync.WithServer(cfg.TimeSync.Server),
			timesync.WithThreshold(cfg.TimeSync.Threshold),
			timesync.WithClock(d.clock),
		}
		if d.timeQuery != nil {
			tsOpts = append(tsOpts, timesync.WithQuery(d.timeQuery))
		}
		d.clockChk = timesync.NewChecker(tsOpts...)
	}

	d.station = station.New(
		station.Config{MaxRetries: cfg.Station.MaxRetries},
		sub,
		station.WithClock(d.clock),
		station.OnTransition(d.observeStation),
		station.OnFailure(d.observeFailure),
	)
	d.host = accesspoint.NewHost(accesspoint.OnChange(d.observePeer))
	d.ch = events.NewChannel()
	d.loop = events.NewLoop(d.ch, d.station, d.host)

	invOpts := []outbound.Option{
		outbound.WithTimeout(cfg.Outbound.Timeout),
		outbound.WithTracerProvider(d.tp),
	}
	if d.outboundClient != nil {
		invOpts = append(invOpts, outbound.WithClient(d.outboundClient))
	}
	d.invoker = outbound.New(invOpts...)

	d.endpoint = d.buildEndpoint()
	return d, nil
}

func (d *Device) buildEndpoint() *endpoint.Server {
	srv := endpoint.New(endpoint.WithMiddleware(
		otelhttp.NewMiddleware("endpoint", otelhttp.WithTracerProvider(d.tp)),
	))
	for _, r := range d.cfg.Endpoint.Routes {
		body := []byte(r.Body)
		srv.Register(r.Path, http.MethodGet, func() []byte { return body })
	}
	srv.HandleJSON("/status", func() any { return d.Status() })
	if d.cfg.Endpoint.Metrics {
		srv.Handle("/metrics", metrics.Handler(d.registry))
	}
	return srv
}

// Run brings the device up and blocks until ctx is cancelled or the endpoint
// fails. A substrate init failure aborts before anything else starts.
func (d *Device) Run(ctx context.Context) (err error) {
	tracer := d.tp.Tracer(tracerName)
	bootCtx, span := tracer.Start(ctx, "device.bootstrap")

	if err := d.sub.Init(bootCtx, d.ch.Deliver); err != nil {
		span.RecordError(err)
		span.End()
		return errors.Join(fmt.Errorf("init substrate: %w", err), d.store.Close())
	}
	d.log.Info("access point configured",
		"ssid", d.cfg.AccessPoint.SSID, "auth", d.cfg.AccessPoint.AuthMode(),
		"max_peers", d.cfg.AccessPoint.MaxPeers, "address", d.cfg.AccessPoint.Address)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.runCtx = runCtx

	if d.journal != nil {
		d.journal.Start(runCtx)
	}
	if err := d.loop.Start(runCtx); err != nil {
		span.End()
		return errors.Join(err, d.shutdown())
	}
	if err := d.sub.Start(bootCtx); err != nil {
		span.RecordError(err)
		span.End()
		return errors.Join(fmt.Errorf("start substrate: %w", err), d.shutdown())
	}
	span.End()
	close(d.started)
	d.log.Info("device started", "station_ssid", d.cfg.Station.SSID, "max_retries", d.cfg.Station.MaxRetries)

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		if d.listener != nil {
			return d.endpoint.Serve(gctx, d.listener)
		}
		return d.endpoint.ListenAndServe(gctx, d.cfg.Endpoint.Listen)
	})

	var timer clock.Timer
	if d.cfg.Outbound.URL != "" {
		d.bg.Add(1)
		timer = d.clock.AfterFunc(d.cfg.Outbound.Delay, func() {
			defer d.bg.Done()
			d.invokeOutbound(gctx)
		})
	}

	err = g.Wait()
	if timer != nil && timer.Stop() {
		d.bg.Done()
	}
	cancel()
	return errors.Join(err, d.shutdown())
}

func (d *Device) shutdown() error {
	var errs []error
	if err := d.sub.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close substrate: %w", err))
	}
	d.ch.Close()
	errs = append(errs, d.loop.Stop())
	d.bg.Wait()
	if d.mdns != nil {
		d.mdns.Stop()
	}
	if d.journal != nil {
		d.journal.Stop()
	}
	if d.store != nil {
		errs = append(errs, d.store.Close())
	}
	return errors.Join(errs...)
}

func (d *Device) invokeOutbound(ctx context.Context) {
	defer close(d.outboundDone)

	url := d.cfg.Outbound.URL
	resp, err := d.invoker.InvokeAndLog(ctx, url)
	d.metrics.ObserveOutbound(resp.StatusCode, err)
	if d.journal != nil {
		detail := fmt.Sprintf("status %d, %d bytes", resp.StatusCode, resp.ContentLength)
		if err != nil {
			detail = err.Error()
		}
		d.journal.Enqueue(journal.KindOutbound, url, detail)
	}

	d.outboundMu.Lock()
	d.outboundRes = OutboundResult{Response: resp, Err: err}
	d.outboundMu.Unlock()
}

// observeStation runs on the dispatch goroutine.
func (d *Device) observeStation(res station.Result) {
	d.metrics.ObserveStation(res)

	if d.journal != nil && res.Changed() {
		detail := fmt.Sprintf("from %s, retries %d", res.From, res.Retries)
		if res.Address.IsValid() {
			detail += ", ip " + res.Address.String()
		}
		d.journal.Enqueue(journal.KindStation, res.To.String(), detail)
	}

	if res.LostAddress.IsValid() && d.mdns != nil {
		d.background(func(context.Context) { d.mdns.Stop() })
	}
	if res.Signal == station.SignalAddressAcquired {
		ip := res.Address
		if d.mdns != nil {
			d.background(func(context.Context) {
				if err := d.mdns.Advertise(ip); err != nil {
					d.log.Warn("advertise endpoint", "ip", ip, "err", err)
				}
			})
		}
		if d.clockChk != nil {
			d.background(func(ctx context.Context) { d.clockChk.Check(ctx) })
		}
	}
}

// observeFailure runs on the dispatch goroutine.
func (d *Device) observeFailure(err error) {
	if d.journal == nil {
		return
	}
	subject := "connect_failure"
	if errors.Is(err, station.ErrRetryExhausted) {
		subject = "retry_exhausted"
	}
	d.journal.Enqueue(journal.KindStation, subject, err.Error())
}

// observePeer runs on the dispatch goroutine.
func (d *Device) observePeer(peer apsta.PeerID, joined bool) {
	d.metrics.ObservePeer(joined, d.host.Len())
	if d.journal != nil {
		change := "leave"
		if joined {
			change = "join"
		}
		d.journal.Enqueue(journal.KindPeer, peer.String(), change)
	}
}

func (d *Device) background(fn func(ctx context.Context)) {
	ctx := d.runCtx
	if ctx == nil || ctx.Err() != nil {
		return
	}
	d.bg.Add(1)
	go func() {
		defer d.bg.Done()
		fn(ctx)
	}()
}

// Started is closed once the substrate has been started.
func (d *Device) Started() <-chan struct{} {
	return d.started
}

// OutboundDone is closed once the scheduled outbound call has completed.
func (d *Device) OutboundDone() <-chan struct{} {
	return d.outboundDone
}

// Outbound returns the outcome of the scheduled call. Only meaningful after
// OutboundDone is closed.
func (d *Device) Outbound() OutboundResult {
	d.outboundMu.Lock()
	defer d.outboundMu.Unlock()
	return d.outboundRes
}

// Station returns the station supervisor.
func (d *Device) Station() *station.Supervisor {
	return d.station
}

// Peers returns the hosted network's membership.
func (d *Device) Peers() *accesspoint.Host {
	return d.host
}

// Session returns the journal session id, or "" when the journal is off.
func (d *Device) Session() string {
	if d.journal == nil {
		return ""
	}
	return d.journal.Session()
}

// Status assembles the status document from published snapshots.
func (d *Device) Status() apsta.DeviceStatus {
	peers := d.host.Peers()
	if peers == nil {
		peers = []apsta.PeerID{}
	}
	return apsta.DeviceStatus{
		Station: d.station.Status(),
		Peers:   peers,
		Version: buildinfo.Version,
	}
}
