// Command apollo-client-demo wires the apolloclient library into a
// small, runnable program: it loads startup parameters from a
// bootstrap file (overridable by flags), opens a Client, and serves an
// internal HTTP endpoint for poking at the live cache while the
// notification loop keeps it warm in the background.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/apollo-client-go/apollo-client-go"
	"github.com/apollo-client-go/apollo-client-go/pkg/bootstrap"
	"github.com/apollo-client-go/apollo-client-go/pkg/flagarray"
	"github.com/julienschmidt/httprouter"
	"github.com/lalamove/nui/nlogger"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

var (
	bootFile     string
	metaServers  flagarray.FlagArray
	namespaces   flagarray.FlagArray
	appID        string
	cluster      string
	secret       string
	internalPort int
	logger       nlogger.Provider
)

func init() {
	flag.StringVar(&bootFile, "boot", "", "bootstrap YAML file path")
	flag.Var(&metaServers, "meta", "meta-server base URL (repeatable)")
	flag.Var(&namespaces, "namespace", "namespace to observe (repeatable)")
	flag.StringVar(&appID, "app-id", "", "application id")
	flag.StringVar(&cluster, "cluster", "", "cluster name")
	flag.StringVar(&secret, "secret", "", "request signing secret")
	flag.IntVar(&internalPort, "internal-port", 0, "internal HTTP server port")
	flag.Parse()

	logger = nlogger.NewProvider(newLogger(logrus.InfoLevel))
}

func newLogger(level logrus.Level) *logrus.Logger {
	l := logrus.New()
	l.SetLevel(level)
	l.SetOutput(os.Stdout)
	return l
}

func loadConfig() bootstrap.Config {
	var cfg bootstrap.Config
	if bootFile != "" {
		loaded, err := bootstrap.Load(afero.NewOsFs(), bootFile)
		if err != nil {
			log.Fatal(err)
		}
		cfg = loaded
	}
	cfg = bootstrap.Merge(cfg, metaServers, namespaces, appID, cluster, secret, internalPort)
	if len(cfg.MetaServers) == 0 || cfg.AppID == "" {
		log.Fatal("missing required configuration: need metaServers and appId, from -boot file or flags")
	}
	return cfg
}

func main() {
	cfg := loadConfig()

	client, err := apolloclient.OpenWithLogger(cfg.MetaServers, cfg.AppID, cfg.Cluster, cfg.Namespaces, cfg.Secret, logger)
	if err != nil {
		log.Fatal(err)
	}

	router := httprouter.New()
	debugRoutes(router, client)
	internalSrv := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.InternalPort),
		Handler: router,
	}
	go func() {
		if err := internalSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Get().Error("internal server: " + err.Error())
		}
	}()

	go drainEvents(client, logger)

	termChan := make(chan os.Signal, 1)
	signal.Notify(termChan, syscall.SIGINT, syscall.SIGTERM)
	<-termChan

	shutdownCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = internalSrv.Shutdown(shutdownCtx)
	client.Close()
	logger.Get().Info("shutting down")
}

// eventPollInterval paces drainEvents' polling of the non-blocking
// PollEvent, in the same fixed-sleep style internal/notify uses between
// empty long-poll rounds.
const eventPollInterval = 250 * time.Millisecond

func drainEvents(client *apolloclient.Client, log nlogger.Provider) {
	ticker := time.NewTicker(eventPollInterval)
	defer ticker.Stop()
	for range ticker.C {
		events, ok := client.PollEvent()
		if !ok {
			continue
		}
		for _, e := range events {
			log.Get().Info(e.Action.String() + " " + e.Namespace + "/" + e.Key)
		}
	}
}

func debugRoutes(r *httprouter.Router, client *apolloclient.Client) {
	r.GET("/healthz", func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		w.WriteHeader(http.StatusOK)
	})

	r.GET("/config/:namespace/:key", func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		v, ok := client.GetIn(ps.ByName("namespace"), ps.ByName("key"))
		if !ok {
			http.NotFound(w, req)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	})

	r.GET("/value/:key", func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		v, ok := client.Get(ps.ByName("key"))
		if !ok {
			http.NotFound(w, req)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	})
}
