package cmd

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/depboard/depboard/apis"
	"github.com/depboard/depboard/broadcast"
	"github.com/depboard/depboard/common"
	"github.com/depboard/depboard/departure"
	"github.com/depboard/depboard/subscription"
	"github.com/depboard/depboard/upstream"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// RunPushServer run the departure board push server
func RunPushServer(
	runTimeContext context.Context,
	config *common.SystemConfig,
	apiKey string,
	instance string,
	wg *sync.WaitGroup,
) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "push-server",
		"instance":  instance,
	}

	registry, err := subscription.GetRegistryInstance()
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define subscription registry")
		return err
	}

	cache, err := departure.GetDepartureCacheInstance()
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define departure cache")
		return err
	}

	gateway, err := upstream.GetGTFSRealtimeGateway(config.Upstream, apiKey)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define upstream gateway")
		return err
	}

	engine, err := broadcast.GetBroadcastEngineInstance(registry, cache, gateway)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define broadcast engine")
		return err
	}

	localCtxt, lclCancel := context.WithCancel(runTimeContext)
	defer lclCancel()

	controller, err := broadcast.GetConnectionControllerInstance(
		localCtxt,
		engine,
		registry,
		time.Second*time.Duration(config.Refresh.Interval),
		wg,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define connection controller")
		return err
	}

	httpHandler, err := apis.GetAPIRestPushServerHandler(
		&config.Board.HTTPSetting, controller,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define HTTP handler")
		return err
	}

	// -------------------------------------------------------------------
	// Start the HTTP server

	router := mux.NewRouter()
	mainRouter := apis.RegisterPathPrefix(
		router, config.Board.Endpoints.PathPrefix, nil,
	)

	// Departure board stream
	_ = apis.RegisterPathPrefix(mainRouter, "/v1/board", map[string]http.HandlerFunc{
		"get": httpHandler.ServeBoardHandler(),
	})

	// Health check
	_ = apis.RegisterPathPrefix(mainRouter, "/alive", map[string]http.HandlerFunc{
		"get": httpHandler.AliveHandler(),
	})
	_ = apis.RegisterPathPrefix(mainRouter, "/ready", map[string]http.HandlerFunc{
		"get": httpHandler.ReadyHandler(),
	})

	// Add logging
	router.Use(func(next http.Handler) http.Handler {
		return handlers.CombinedLoggingHandler(httpHandler, next)
	})

	serverConfig := config.Board.HTTPSetting.Server
	serverListen := fmt.Sprintf("%s:%d", serverConfig.ListenOn, serverConfig.Port)
	httpSrv := &http.Server{
		Addr:         serverListen,
		ReadTimeout:  time.Second * time.Duration(serverConfig.ReadTimeout),
		WriteTimeout: time.Second * time.Duration(serverConfig.WriteTimeout),
		IdleTimeout:  time.Second * time.Duration(serverConfig.IdleTimeout),
		Handler:      h2c.NewHandler(router, &http2.Server{}),
	}

	// Cancel runtime context on shutdown
	httpSrv.RegisterOnShutdown(lclCancel)

	// Start the server
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("HTTP Server Failure")
		}
	}()

	log.WithFields(logTags).Infof("Started HTTP server on http://%s", serverListen)

	// ============================================================================

	<-runTimeContext.Done()

	// Stop the HTTP server
	{
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			log.WithError(err).Error("Failure during HTTP shutdown")
		}
	}

	return nil
}
