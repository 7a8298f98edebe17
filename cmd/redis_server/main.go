// Package main starts an in-memory Redis for running rungated or the integration tests
// without a real server.
//
// Usage:
//
//	go run ./cmd/redis_server -addr 127.0.0.1:6379
package main

import (
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/guido-cesarano/rungate/pkg/gate"
	"github.com/guido-cesarano/rungate/pkg/logger"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:6379", "Address to listen on")
	dumpEvery := flag.Duration("dump", 0, "Log the gate keys at this interval (0 disables)")
	flag.Parse()

	log := logger.For("redis_server")

	s := miniredis.NewMiniRedis()
	if err := s.StartAddr(*addr); err != nil {
		log.Fatal().Err(err).Str("addr", *addr).Msg("Failed to start miniredis")
	}
	defer s.Close()

	log.Info().Str("addr", s.Addr()).Msg("MiniRedis server started")

	if *dumpEvery > 0 {
		go func() {
			for range time.Tick(*dumpEvery) {
				for _, k := range s.Keys() {
					if !strings.HasPrefix(k, gate.KeyPrefix) {
						continue
					}
					v, _ := s.Get(k)
					log.Info().Str("key", k).Str("value", v).Msg("Gate key")
				}
			}
		}()
	}

	// Wait for interrupt signal to gracefully shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutting down MiniRedis...")
}
