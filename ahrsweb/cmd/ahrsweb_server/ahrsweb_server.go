/*
Client-Server package adapted from Mat Ryer's Go Blueprints examples
see https://github.com/matryer/goblueprints
This book is highly recommended!
*/

package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"math/rand"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/foshlabs/OrientationFilter/ahrs"
	"github.com/foshlabs/OrientationFilter/ahrsweb"
	"github.com/foshlabs/OrientationFilter/config"
)

func main() {
	var (
		configFile = flag.String("config", "", "TOML configuration file; defaults are used when empty")
		addr       = flag.String("addr", "", "The address for the AHRS data publication, overrides the config file.")
	)
	flag.Parse() // parse the flags

	cfg := config.Default()
	if *configFile != "" {
		var err error
		if cfg, err = config.Load(*configFile); err != nil {
			log.Fatalln("AHRSWeb:", err)
		}
	}
	if *addr != "" {
		cfg.Web.Addr = *addr
	}

	mc, err := cfg.Madgwick()
	if err != nil {
		log.Fatalln("AHRSWeb:", err)
	}
	s, err := ahrs.NewMadgwick(mc)
	if err != nil {
		log.Fatalln("AHRSWeb:", err)
	}
	sit, err := cfg.Situation()
	if err != nil {
		log.Fatalln("AHRSWeb:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// get the room going
	r := ahrsweb.NewRoom()
	go r.Run(ctx)

	mux := http.NewServeMux()
	mux.Handle("/ahrsweb", r)
	mux.HandleFunc("/latest", func(w http.ResponseWriter, req *http.Request) {
		msg := r.Latest()
		if msg == nil {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(msg)
	})

	ln, err := net.Listen("tcp", cfg.Web.Addr)
	if err != nil {
		log.Fatalln("AHRSWeb:", err)
	}
	srv := &http.Server{Handler: mux}
	go func() {
		log.Println("AHRSWeb: Starting web server on", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("AHRSWeb: Serve fatal error:", err.Error())
		}
	}()

	// feed the room from the simulated sensors
	ml, err := ahrsweb.NewMadgwickListener(ln.Addr().String())
	if err != nil {
		log.Fatalln("AHRSWeb:", err)
	}
	log.Printf("AHRSWeb: Streaming %s scenario at %.0f Hz, publishing every %d ticks\n",
		cfg.Sim.Scenario, cfg.Filter.SampleRateHz, cfg.PublishEvery())
	if err := ml.Stream(ctx, s, sit, cfg.Sensors(), rand.New(rand.NewSource(cfg.Sim.Seed)), cfg.PublishEvery()); err != nil {
		log.Println("AHRSWeb: Stream stopped:", err)
	}
	ml.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Println("AHRSWeb: Shutdown:", err)
	}
	log.Println("AHRSWeb: Stopped")
}
