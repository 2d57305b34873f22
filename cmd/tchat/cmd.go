package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/shazow/tchat"
	"github.com/shazow/tchat/identity"
	"github.com/shazow/tchat/log"
	"github.com/shazow/tchat/metrics"
	"github.com/shazow/tchat/relay"
	"github.com/shazow/tchat/tcpd"

	_ "net/http/pprof"
)

// Version of the binary, assigned during build.
var Version string = "dev"

// Options contains the flag options
type Options struct {
	Verbose []bool `short:"v" long:"verbose" description:"Show verbose logging." no-ini:"true"`
	Version bool   `long:"version" description:"Print version and exit." no-ini:"true"`
	Config  string `short:"c" long:"config" description:"INI file with option defaults." no-ini:"true"`

	Bind     string `long:"bind" env:"TCHAT_BIND" description:"Host and port to listen on or connect to." default:"127.0.0.1:8080"`
	Identity string `long:"identity" description:"How peers are keyed: sequence numbers or a hash of their address." choice:"sequence" choice:"hash" default:"sequence"`

	Poll         time.Duration `long:"poll" description:"How long each relay cycle waits for new connections." default:"1ms"`
	ReadWait     time.Duration `long:"read-wait" description:"How long a poll waits on one peer." default:"50us"`
	WriteTimeout time.Duration `long:"write-timeout" description:"Give up writing to a peer after this long." default:"1s"`
	MaxLine      int           `long:"max-line" description:"Longest accepted line in bytes, 0 for no limit." default:"4096"`
	Prune        bool          `long:"prune" description:"Forget peers once they disconnect."`
	RateLimit    int           `long:"rate-limit" description:"Lines a peer may send per rate window, 0 to disable." default:"0"`
	RateWindow   time.Duration `long:"rate-window" description:"Rate limit window." default:"3s"`
	Stats        time.Duration `long:"stats" description:"Log relay statistics at this interval, 0 to disable." default:"0"`

	Metrics string `long:"metrics" description:"Serve Prometheus metrics on this host and port."`
	Pprof   int    `long:"pprof" description:"Enable pprof http server for profiling." no-ini:"true"`

	Args struct {
		Mode string `positional-arg-name:"mode" description:"server or client"`
	} `positional-args:"yes"`
}

const helpText = "Usage:\n    tchat [options] server\n    tchat [options] client\n"

func fail(code int, format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format, args...)
	os.Exit(code)
}

// parseOptions reads the command line, layered over the config file if one
// is named.
func parseOptions(args []string) (*Options, error) {
	options := Options{}
	parser := flags.NewParser(&options, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}
	if options.Config == "" {
		return &options, nil
	}

	path := options.Config
	options = Options{}
	parser = flags.NewParser(&options, flags.Default)
	if err := flags.NewIniParser(parser).ParseFile(path); err != nil {
		return nil, err
	}
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}
	return &options, nil
}

func main() {
	options, err := parseOptions(os.Args[1:])
	if err != nil {
		if _, ok := err.(*flags.Error); ok {
			// Already printed by the parser.
			return
		}
		fail(1, "Failed to load config: %v\n", err)
	}

	if options.Version {
		fmt.Println(Version)
		return
	}

	if options.Pprof != 0 {
		go func() {
			fmt.Println(http.ListenAndServe(fmt.Sprintf("localhost:%d", options.Pprof), nil))
		}()
	}

	log.Init(os.Stderr, len(options.Verbose))

	switch options.Args.Mode {
	case "server":
		runServer(options)
	case "client":
		runClient(options)
	default:
		fmt.Print(helpText)
	}
}

func runServer(options *Options) {
	assigner, err := identity.ByName(options.Identity)
	if err != nil {
		fail(2, "%v\n", err)
	}

	l, err := tcpd.Listen(options.Bind)
	if err != nil {
		fail(4, "Failed to listen on socket: %v\n", err)
	}
	l.Assigner = assigner
	l.Options.ReadWait = options.ReadWait
	l.Options.WriteTimeout = options.WriteTimeout
	l.Options.MaxLineLength = options.MaxLine

	config := relay.DefaultConfig()
	config.PollInterval = options.Poll
	config.PruneDead = options.Prune
	config.RateLimit = options.RateLimit
	config.RateWindow = options.RateWindow
	config.StatsInterval = options.Stats

	server := tchat.NewServer(l, config)
	defer server.Close()

	if options.Metrics != "" {
		reg := prometheus.NewRegistry()
		server.SetMetrics(metrics.New(reg))
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		go func() {
			log.Logger.Errorf("Metrics server stopped: %v", http.ListenAndServe(options.Metrics, mux))
		}()
	}

	fmt.Printf("Listening for connections on %v\n", l.Addr().String())
	go func() {
		if err := server.Serve(); err != nil {
			log.Logger.Errorf("Server stopped: %v", err)
		}
	}()

	// Construct interrupt handler
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)

	<-sig // Wait for ^C signal
	fmt.Fprintln(os.Stderr, "Interrupt signal detected, shutting down.")
}

func runClient(options *Options) {
	client, err := tchat.Dial(options.Bind)
	if err != nil {
		fail(4, "Failed to connect: %v\n", err)
	}
	defer client.Close()

	if err := client.Run(os.Stdin, os.Stdout); err != nil {
		fail(5, "%v\n", err)
	}
}
