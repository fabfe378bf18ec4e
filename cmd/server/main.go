package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"

	"chatrelay/internal/server"
	"chatrelay/internal/status"
)

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage: %s [options] <bind address:port>\n\nOptions:\n", filepath.Base(os.Args[0]))
	flag.PrintDefaults()
}

func main() {
	capacity := flag.Int("capacity", server.DefaultHubCapacity, "messages buffered per connection before the oldest are dropped")
	writeTimeout := flag.Duration("write-timeout", server.DefaultWriteTimeout, "deadline for a single frame write (0 disables)")
	maxLine := flag.Int("max-line", server.DefaultMaxLineLength, "longest chat line accepted from a client, in bytes")
	statusAddr := flag.String("status", "", "address for the HTTP status endpoints (empty disables)")
	shutdownTimeout := flag.Duration("shutdown-timeout", 10*time.Second, "time allowed for a graceful shutdown")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	addr := flag.Arg(0)

	srv := server.New(
		server.WithHubCapacity(*capacity),
		server.WithWriteTimeout(*writeTimeout),
		server.WithMaxLineLength(*maxLine),
	)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("[server] cannot bind %s: %v", addr, err)
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, server.ErrServerClosed) {
			log.Printf("[server] stopped: %v", err)
		}
	}()

	ops := map[string]gfshutdown.Operation{
		"relay": func(ctx context.Context) error {
			log.Println("[server] shutting down…")
			return srv.Shutdown(ctx)
		},
	}
	if *statusAddr != "" {
		st := status.New(srv)
		go func() {
			if err := st.Listen(*statusAddr); err != nil {
				log.Printf("[status] stopped: %v", err)
			}
		}()
		ops["status"] = st.Shutdown
	}

	wait := gfshutdown.GracefulShutdown(context.Background(), *shutdownTimeout, ops)
	code := <-wait
	log.Printf("[server] exited with code %d", code)
	os.Exit(code)
}
