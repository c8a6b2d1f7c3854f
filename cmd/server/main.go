// Package main is a minimal MusicPi protocol server
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/james-see/musicpi/pkg/handler"
	"github.com/james-see/musicpi/pkg/logging"
	"github.com/james-see/musicpi/pkg/mpp"
	"github.com/james-see/musicpi/pkg/store"
	"github.com/james-see/musicpi/pkg/transport"
)

func main() {
	addr := flag.String("addr", ":8700", "Listen address")
	network := flag.String("network", "tcp", "tcp or udp")
	db := flag.String("db", "db", "Database root")
	bufferSize := flag.Int("buffer", mpp.BufferSize, "Exchange buffer size")
	level := flag.String("log-level", "info", "Log level")
	flag.Parse()

	if err := run(*network, *addr, *db, *bufferSize, *level); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}

func run(network, addr, db string, bufferSize int, level string) error {
	log, err := logging.New(level, false)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	s, err := store.New(db, store.WithLogger(log))
	if err != nil {
		return err
	}
	h := handler.New(s,
		handler.WithLogger(log),
		handler.WithCodec(mpp.NewCodec(bufferSize)),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info("starting musicpi server", zap.String("network", network), zap.String("addr", addr), zap.String("db", db))
	srv := transport.NewServer(h, transport.WithLogger(log), transport.WithBufferSize(bufferSize))
	return srv.ListenAndServe(ctx, network, addr)
}
