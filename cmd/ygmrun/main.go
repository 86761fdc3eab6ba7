// Package main is a smoke-test runner for the ygm communicator: launched
// once per rank with its peer list on the command line, it registers one
// async lambda, exchanges a message with its right neighbor, all-reduces a
// counter across the whole world, and exits after a clean barrier/close.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/llnl/ygm/cmn/nlog"
	"github.com/llnl/ygm/config"
	"github.com/llnl/ygm/engine"
)

var (
	rank       int
	listenAddr string
	peers      string
	nodeSize   int
)

func init() {
	flag.IntVar(&rank, "rank", 0, "this process's world rank")
	flag.StringVar(&listenAddr, "listen", "127.0.0.1:0", "address this rank listens on")
	flag.StringVar(&peers, "peers", "", "comma-separated listen addresses of every rank, index == rank")
	flag.IntVar(&nodeSize, "node-size", 1, "ranks per node, for NR/NLNR routing")
}

func installSignalHandler(cancel context.CancelFunc) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		nlog.Warningln("ygmrun: signal received, cancelling")
		cancel()
	}()
}

type pingArgs struct {
	From int
	Msg  string
}

func main() {
	flag.Parse()
	if peers == "" {
		fmt.Fprintln(os.Stderr, "ygmrun: -peers is required")
		os.Exit(1)
	}
	addrs := strings.Split(peers, ",")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	installSignalHandler(cancel)

	e, err := engine.New(ctx, rank, listenAddr, addrs, nodeSize, config.FromEnv())
	if err != nil {
		nlog.Errorf("ygmrun: %v", err)
		os.Exit(1)
	}
	defer func() {
		if err := e.Close(); err != nil {
			nlog.Errorf("ygmrun: close: %v", err)
		}
	}()

	ping := engine.Register(e, "ygmrun.ping", func(caller engine.Caller, a pingArgs) {
		nlog.Infof("rank %d: received %q from rank %d", caller.Rank(), a.Msg, a.From)
	})

	next := (rank + 1) % e.Size()
	if err := e.Async(next, ping, pingArgs{From: rank, Msg: "hello"}); err != nil {
		nlog.Errorf("ygmrun: async: %v", err)
	}
	e.Barrier()

	total := engine.AllReduceSum(e, int64(1))
	if rank == 0 {
		nlog.Infof("ygmrun: %d ranks checked in", total)
	}
}
