// Command server runs the messaging relay.
package main

import (
	"crypto/tls"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/laila2005/messaging-system/pkg/codec"
	"github.com/laila2005/messaging-system/pkg/server"
	"github.com/laila2005/messaging-system/pkg/store"
)

func main() {
	configPath := flag.String("config", "relay.toml", "path to config file")
	port := flag.Int("port", 0, "override TCP port from config")
	dbPath := flag.String("db", "", "override database path from config")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if *debug {
		server.EnableDebugLogging()
	}

	tomlConfig, err := server.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		tomlConfig.Server.TCPPort = *port
	}
	if *dbPath != "" {
		tomlConfig.Server.DatabasePath = *dbPath
	}

	config := server.ConfigFromTOML(tomlConfig)

	var messageCodec codec.Codec
	switch tomlConfig.Security.Mode {
	case "payload", "":
		aead, err := codec.NewAEADCodec(tomlConfig.Security.Passphrase)
		if err != nil {
			log.Fatalf("Failed to initialize message codec: %v", err)
		}
		messageCodec = aead
	case "tls":
		cert, err := tls.LoadX509KeyPair(tomlConfig.Security.TLSCert, tomlConfig.Security.TLSKey)
		if err != nil {
			log.Fatalf("Failed to load TLS certificate: %v", err)
		}
		config.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
		messageCodec = codec.PlainCodec{}
	default:
		log.Fatalf("Unknown security mode %q (expected \"payload\" or \"tls\")", tomlConfig.Security.Mode)
	}

	credStore, err := store.Open(tomlConfig.Server.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to open credential store: %v", err)
	}
	defer credStore.Close()

	srv := server.NewServer(credStore, messageCodec, config)
	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	fmt.Println()
	log.Printf("Received %v", sig)

	if err := srv.Stop(); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
}
