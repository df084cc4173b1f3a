// Command fcgid is an example FastCGI server daemon: it accepts
// connections from a FastCGI client (an nginx or Apache in front of
// it), demultiplexes requests on each connection, and answers them
// with the database-backed example Responder. It exists to give the
// library a runnable end-to-end demo, the way sql-tapd exercises its
// proxy.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	fastcgi "github.com/mickamy/fastcgi"
	"github.com/mickamy/fastcgi/example/dbresponder"
	"github.com/mickamy/fastcgi/internal/burst"
	"github.com/mickamy/fastcgi/internal/eventbus"
	"github.com/mickamy/fastcgi/internal/paramsutil"
	"github.com/mickamy/fastcgi/webui"
)

var version = "dev"

func main() {
	fs := flag.NewFlagSet("fcgid", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "fcgid — example FastCGI responder daemon\n\nUsage:\n  fcgid [flags]\n\nFlags:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment:\n  DATABASE_DSN    DSN for the example database-backed handler\n")
	}

	listen := fs.String("listen", "127.0.0.1:9000", "address to accept FastCGI connections on")
	driver := fs.String("driver", dbresponder.DriverMySQL, "database driver: mysql or pgx")
	dsnEnv := fs.String("dsn-env", "DATABASE_DSN", "environment variable holding the handler's DSN")
	httpAddr := fs.String("http", "", "HTTP address for the event dashboard (e.g. :8080); empty disables it")
	maxConcurrent := fs.Int("max-concurrent-requests", 8, "per-connection buffer of ready requests, also advertised as FCGI_MAX_CONNS/FCGI_MAX_REQS")
	burstWindow := fs.Duration("burst-window", 10*time.Second, "sliding window for the per-script request burst detector")
	burstThreshold := fs.Int("burst-threshold", 20, "requests for the same SCRIPT_NAME within burst-window before a client is flagged")
	showVersion := fs.Bool("version", false, "show version and exit")

	_ = fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("fcgid %s\n", version)
		return
	}

	dsn := os.Getenv(*dsnEnv)
	if dsn == "" {
		fs.Usage()
		os.Exit(1)
	}

	if err := run(*listen, *driver, dsn, *httpAddr, *maxConcurrent, *burstWindow, *burstThreshold); err != nil {
		log.Fatal(err)
	}
}

func run(listenAddr, driver, dsn, httpAddr string, maxConcurrent int, burstWindow time.Duration, burstThreshold int) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handler, err := dbresponder.Open(ctx, driver, dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = handler.Close() }()

	bus := eventbus.New[fastcgi.Event]()

	if httpAddr != "" {
		dash := webui.New(httpAddr, bus)
		go func() {
			log.Printf("event dashboard listening on %s", httpAddr)
			if err := dash.ListenAndServe(ctx); err != nil {
				log.Printf("dashboard: %v", err)
			}
		}()
	}

	var lc net.ListenConfig
	lis, err := lc.Listen(ctx, "tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", listenAddr, err)
	}
	go func() {
		<-ctx.Done()
		_ = lis.Close()
	}()

	log.Printf("fcgid listening on %s (driver=%s)", listenAddr, driver)

	detector := burst.New(burstWindow, burstThreshold)

	opts := fastcgi.DefaultOptions()
	opts.MaxConcurrentRequests = maxConcurrent
	opts.Events = bus
	opts.ManagementValues = map[string]string{
		"FCGI_MAX_CONNS":  fmt.Sprintf("%d", maxConcurrent),
		"FCGI_MAX_REQS":   fmt.Sprintf("%d", maxConcurrent),
		"FCGI_MPXS_CONNS": "1",
	}

	for {
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go serveConn(ctx, conn, opts, handler, detector)
	}
}

func serveConn(ctx context.Context, conn net.Conn, opts fastcgi.Options, handler *dbresponder.Handler, detector *burst.Detector) {
	reqs := fastcgi.NewFromConn(conn, opts)
	connKey := conn.RemoteAddr().String()
	burstKeys := make(map[string]struct{})
	defer func() {
		_ = reqs.Close()
		for key := range burstKeys {
			detector.Reset(key)
		}
	}()

	for {
		req, err := reqs.Next(ctx)
		if err != nil {
			return
		}

		scriptName, _ := req.GetParam("SCRIPT_NAME")
		burstKey := connKey + "|" + scriptName
		burstKeys[burstKey] = struct{}{}
		if detector.Record(burstKey, time.Now()) {
			log.Printf("burst: %s is opening requests for %q faster than the configured threshold allows", connKey, scriptName)
		}

		logRequest(req)

		go func() {
			serveCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			req.Serve(serveCtx, handler.Handle)
		}()
	}
}

// logRequest writes an access-log-style line for req, with sensitive
// params masked before anything reaches the log.
func logRequest(req *fastcgi.Request) {
	redacted := paramsutil.Redact(req.Params())
	m := make(map[string]string, len(redacted))
	for _, p := range redacted {
		m[p.Name] = p.Value
	}
	log.Printf("request id=%d role=%s corr=%s %s", req.ID, req.Role, req.CorrelationID, paramsutil.RequestLine(m))
}
