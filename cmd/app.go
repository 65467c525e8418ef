package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/adwski/sketchwire/discovery"
	"github.com/adwski/sketchwire/hub"
	"github.com/adwski/sketchwire/model"
	httpServer "github.com/adwski/sketchwire/server/http"
	websocketServer "github.com/adwski/sketchwire/server/websocket"
	"github.com/adwski/sketchwire/service"
	store "github.com/adwski/sketchwire/storage/memory"
)

const (
	defaultHubAddr      = "127.0.0.1:8090"
	defaultInstanceName = "sketchwire-hub"
	defaultQueueSize    = 128

	defaultDialTimeout   = 2 * time.Second
	defaultLookupTimeout = 3 * time.Second
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	fs := pflag.NewFlagSet("main", pflag.ContinueOnError)

	var (
		listenAddr    = fs.StringP("listen-addr", "b", defaultHubAddr, "hub address, bound when no hub is reachable")
		connectAddr   = fs.StringP("connect-addr", "c", "", "hub address to join, forces client role")
		apiListenAddr = fs.StringP("api-listen-addr", "a", ":8080", "api listen address")
		wsListenAddr  = fs.StringP("ws-listen-addr", "w", ":8888", "websocket observer listen address")
		logLevel      = fs.StringP("log-level", "l", "debug", "log level")
		queueSize     = fs.IntP("queue-size", "q", defaultQueueSize, "local action queue capacity")
		mdns          = fs.Bool("mdns", false, "announce or discover the hub over mdns")
		reconnect     = fs.Bool("reconnect", false, "redial the hub with backoff after losing it")
		demo          = fs.Bool("demo", false, "paint synthetic strokes")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}

	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *connectAddr != "" {
		conn, dErr := net.DialTimeout("tcp", *connectAddr, defaultDialTimeout)
		if dErr != nil {
			logger.Fatal().Err(dErr).Str("addr", *connectAddr).Msg("unable to join hub")
		}
		runClient(ctx, cancel, &logger, conn, *connectAddr, *queueSize, *reconnect, *demo)
		return
	}

	if *mdns {
		if addr, lErr := lookupHub(ctx, &logger); lErr == nil {
			conn, dErr := net.DialTimeout("tcp", addr, defaultDialTimeout)
			if dErr == nil {
				runClient(ctx, cancel, &logger, conn, addr, *queueSize, *reconnect, *demo)
				return
			}
			logger.Warn().Err(dErr).Str("addr", addr).Msg("discovered hub is unreachable, becoming one")
		}
	}

	// Whoever binds the well-known address first is the hub,
	// everyone after that joins it.
	listener, bErr := net.Listen("tcp", *listenAddr)
	if bErr != nil {
		logger.Info().Str("addr", *listenAddr).Msg("hub address is taken, joining instead")
		conn, dErr := net.DialTimeout("tcp", *listenAddr, defaultDialTimeout)
		if dErr != nil {
			logger.Fatal().Err(dErr).Str("addr", *listenAddr).Msg("unable to join hub")
		}
		runClient(ctx, cancel, &logger, conn, *listenAddr, *queueSize, *reconnect, *demo)
		return
	}
	runHub(ctx, cancel, &logger, listener, *apiListenAddr, *wsListenAddr, *queueSize, *mdns, *demo)
}

func lookupHub(ctx context.Context, logger *zerolog.Logger) (string, error) {
	lkCtx, lkCancel := context.WithTimeout(ctx, defaultLookupTimeout)
	defer lkCancel()

	addr, err := discovery.Lookup(lkCtx, logger)
	if err != nil {
		logger.Info().Msg("no hub on the local network")
		return "", err
	}
	return addr, nil
}

func runHub(
	ctx context.Context,
	cancel context.CancelFunc,
	logger *zerolog.Logger,
	listener net.Listener,
	apiListenAddr string,
	wsListenAddr string,
	queueSize int,
	mdns bool,
	demo bool,
) {
	queue := model.NewActionQueue(queueSize)
	svc := service.NewServer(service.ServerConfig{
		Logger:   logger,
		Store:    store.NewStore(),
		Hub:      hub.New(logger),
		Queue:    queue,
		Listener: listener,
	})
	httpSrv := httpServer.NewServer(httpServer.Config{
		Logger:       logger,
		BoardService: svc,
		ListenAddr:   apiListenAddr,
	})
	wsSrv := websocketServer.NewServer(websocketServer.Config{
		Logger:      logger,
		FeedService: svc,
		ListenAddr:  wsListenAddr,
	})

	if mdns {
		announcer, aErr := discovery.Announce(logger, defaultInstanceName, listener.Addr().(*net.TCPAddr).Port)
		if aErr != nil {
			logger.Warn().Err(aErr).Msg("hub will not be discoverable")
		} else {
			defer announcer.Shutdown()
		}
	}
	if demo {
		go runPainter(ctx, logger, queue, model.OriginServer)
	}

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 3)
	)
	wg.Add(3)
	go svc.Run(ctx, wg, errc)
	go httpSrv.Run(ctx, wg, errc)
	go wsSrv.Run(ctx, wg, errc)

	select {
	case err := <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()
	wg.Wait()
}

func runClient(
	ctx context.Context,
	cancel context.CancelFunc,
	logger *zerolog.Logger,
	conn net.Conn,
	hubAddr string,
	queueSize int,
	reconnect bool,
	demo bool,
) {
	var redial service.RedialFunc
	if reconnect {
		redial = func(context.Context) (net.Conn, error) {
			return net.DialTimeout("tcp", hubAddr, defaultDialTimeout)
		}
	}

	queue := model.NewActionQueue(queueSize)
	svc := service.NewClient(service.ClientConfig{
		Logger: logger,
		Store:  store.NewStore(),
		Queue:  queue,
		Conn:   conn,
		Redial: redial,
	})

	if demo {
		go runPainter(ctx, logger, queue, model.OriginClient)
	}

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 1)
	)
	wg.Add(1)
	go svc.Run(ctx, wg, errc)

	select {
	case err := <-errc:
		logger.Error().Err(err).Msg("unexpected client error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()
	wg.Wait()
}
