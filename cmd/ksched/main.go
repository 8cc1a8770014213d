// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command ksched is a demo many-core process scheduler daemon: single-core
// processes time-share a management core while multi-core processes are
// granted exclusive, gang-scheduled use of one or more physical cores at a
// time.
//
//	ksched -daemon
//
// starts the daemon, listening for client connections on a Unix domain
// socket and serving debug/metrics readouts over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/aclements/ksched/internal/cpuset"
	"github.com/aclements/ksched/internal/sched"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/secure"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "  %s -daemon [flags]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -list\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\n")
		flag.PrintDefaults()
	}
	flagDaemon := flag.Bool("daemon", false, "start the ksched daemon")
	flagList := flag.Bool("list", false, "print a scheduler diagnostic dump and exit")
	flagSocket := flag.String("socket", "/var/run/ksched.socket", "control socket `path`")
	flagHTTP := flag.String("http", "", "HTTP introspection listen `address` (disabled if empty)")
	flagCores := flag.Int("cores", 0, "physical core count (default: runtime.NumCPU())")
	flagNoSMT := flag.Bool("no-smt", false, "seed the idle pool as if SMT were disabled: only odd-numbered cores")
	flagARSC := flag.Bool("arsc", false, "steal one core at init for an auxiliary server, like __CONFIG_ARSC_SERVER__")
	flagTick := flag.Duration("tick", sched.DefaultTickPeriod, "scheduler tick period")
	flagVerbose := flag.Bool("verbose", false, "enable debug-level logging")
	flagDemoMCP := flag.Bool("demo-mcp", false, "register as an MCP, request cores, and pin to them until interrupted")
	flagMaxVcores := flag.Uint("max-vcores", 4, "max_vcores for -demo-mcp")
	flag.Parse()

	if *flagDemoMCP {
		runDemoMCP(*flagSocket, uint32(*flagMaxVcores))
		return
	}

	logConfig := zap.NewProductionConfig()
	if *flagVerbose {
		logConfig = zap.NewDevelopmentConfig()
	}
	logger, err := logConfig.Build()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	if *flagList {
		c := NewClient(*flagSocket)
		defer c.Close()
		fmt.Print(c.Diag())
		return
	}

	if !*flagDaemon {
		flag.Usage()
		os.Exit(2)
	}

	numCores := *flagCores
	if numCores == 0 {
		numCores = runtime.NumCPU()
	}

	s, stolenCore := sched.NewScheduler(sched.Options{
		NumCores:     numCores,
		NoSMT:        *flagNoSMT,
		Facility:     unboundFacility{},
		Logger:       logger,
		StealOneCore: *flagARSC,
	})
	if stolenCore != nil {
		logger.Sugar().Infof("auxiliary server owns pcore %d", *stolenCore)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(s.Metrics())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var g errgroup.Group

	tick := sched.NewTickDriver(*flagTick)
	g.Go(func() error {
		tick.Start()
		defer tick.Stop()
		s.RunTickLoop(ctx, tick)
		return nil
	})

	daemon := NewDaemon(s, logger)
	g.Go(func() error {
		return daemon.Listen(ctx, *flagSocket)
	})

	if *flagHTTP != "" {
		srv := newIntrospectionServer(s, reg, logger)
		g.Go(func() error {
			return srv.ListenAndServe(*flagHTTP)
		})
		g.Go(func() error {
			<-ctx.Done()
			return srv.Shutdown(context.Background())
		})
	}

	<-ctx.Done()
	logger.Info("shutting down")
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Sugar().Fatalw("daemon exited with error", "error", err)
	}
}

// unboundFacility is Scheduler.Options.Facility's required non-nil
// default. Every process registered through cmd/ksched supplies its own
// *procfacility.RefProcess instead (see daemon.go's ActionRegister
// handler); this default is only reachable if some future caller of
// sched.NewProcess omits a per-process facility, which cmd/ksched never
// does, so every method here refuses.
type unboundFacility struct{}

func (unboundFacility) ChangeToM(p *sched.Process) error {
	return fmt.Errorf("sched: proc %d has no bound facility", p.ID)
}
func (unboundFacility) Destroy(p *sched.Process) (bool, []sched.PcoreID) { return false, nil }
func (unboundFacility) Wakeup(p *sched.Process)                         {}
func (unboundFacility) GiveCores(p *sched.Process, ids []sched.PcoreID) bool {
	return true
}
func (unboundFacility) RunM(p *sched.Process)                         {}
func (unboundFacility) RunS(p *sched.Process)                         {}
func (unboundFacility) SaveContextS(p *sched.Process)                 {}
func (unboundFacility) SetState(p *sched.Process, st sched.ProcState) {}
func (unboundFacility) IsMCP(p *sched.Process) bool                   { return false }
func (unboundFacility) PreemptCore(p *sched.Process, id sched.PcoreID, warn time.Duration) bool {
	return false
}

// introspectionServer serves scheduler debug dumps and Prometheus metrics
// over HTTP, the way edirooss-zmux-server wires gin + cors + its own
// middleware around a core service.
type introspectionServer struct {
	http *http.Server
}

func newIntrospectionServer(s *sched.Scheduler, reg *prometheus.Registry, logger *zap.Logger) *introspectionServer {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(ginZap(logger), gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET"},
	}))
	r.Use(secure.New(secure.Config{
		ContentTypeNosniff: true,
		FrameDeny:          true,
	}))

	r.GET("/diag", func(c *gin.Context) {
		var sb strings.Builder
		s.SchedDiag(&sb)
		c.String(http.StatusOK, sb.String())
	})
	r.GET("/idlecores", func(c *gin.Context) {
		var sb strings.Builder
		s.PrintIdleCoreMap(&sb)
		c.String(http.StatusOK, sb.String())
	})
	r.GET("/provmap", func(c *gin.Context) {
		var sb strings.Builder
		s.PrintProvMap(&sb)
		c.String(http.StatusOK, sb.String())
	})
	r.GET("/resources", func(c *gin.Context) {
		var sb strings.Builder
		s.PrintAllResources(&sb)
		c.String(http.StatusOK, sb.String())
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	return &introspectionServer{
		http: &http.Server{
			Handler:  r,
			ErrorLog: zap.NewStdLog(logger),
		},
	}
}

func (s *introspectionServer) ListenAndServe(addr string) error {
	s.http.Addr = addr
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *introspectionServer) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// ginZap logs each request via zap, the same middleware shape
// edirooss-zmux-server installs ahead of gin.Recovery().
func ginZap(logger *zap.Logger) gin.HandlerFunc {
	sugar := logger.Sugar().Named("http")
	return func(c *gin.Context) {
		c.Next()
		sugar.Infow("request", "method", c.Request.Method, "path", c.Request.URL.Path, "status", c.Writer.Status())
	}
}

// runDemoMCP registers as an MCP, requests maxVcores cores, and once the
// diag dump shows it holds any, pins the calling OS thread's affinity to
// them — the same acquire-then-pin shape as perflock's main.go, adapted
// from "reserve N cores of a lock" to "become an MCP and take whatever the
// scheduler grants". It blocks until interrupted, then destroys itself.
func runDemoMCP(socketPath string, maxVcores uint32) {
	c := NewClient(socketPath)
	defer c.Close()

	id := c.Register(maxVcores)
	fmt.Printf("registered as proc %d\n", id)

	if err := c.ChangeToM(); err != nil {
		fmt.Fprintf(os.Stderr, "change_to_m: %v\n", err)
		os.Exit(1)
	}
	if err := c.RequestCores(maxVcores); err != nil {
		fmt.Fprintf(os.Stderr, "request_cores: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	pinned := false
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for !pinned {
		select {
		case <-ctx.Done():
			c.Destroy()
			return
		case <-ticker.C:
			ids := grantedPcores(c.Diag(), id)
			if len(ids) == 0 {
				continue
			}
			set := cpuset.FromPcores(ids)
			if err := unix.SchedSetaffinity(0, &set); err != nil {
				fmt.Fprintf(os.Stderr, "SchedSetaffinity: %v\n", err)
			} else {
				fmt.Printf("pinned to pcores %v\n", ids)
			}
			pinned = true
		}
	}

	<-ctx.Done()
	c.Destroy()
}

// grantedPcores scrapes a SchedDiag text dump for "pcore N: allocated to
// proc <id>" lines. It exists purely for this demo: a production client
// would learn its granted cores from a dedicated wire response rather than
// parsing a debug dump, but the diag dump is the only view of allocation
// this minimal protocol exposes to a client today.
func grantedPcores(diag string, id uint64) []int {
	want := fmt.Sprintf("allocated to proc %d", id)
	var ids []int
	for _, line := range strings.Split(diag, "\n") {
		if !strings.HasSuffix(line, want) {
			continue
		}
		var n int
		if _, err := fmt.Sscanf(line, "pcore %d:", &n); err == nil {
			ids = append(ids, n)
		}
	}
	return ids
}
