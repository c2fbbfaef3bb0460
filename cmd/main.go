// Command lognog runs the log analytics server, or (via the generate
// subcommand) emits synthetic syslog traffic at a receiver for testing
// (spec.md §6).
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"net"
	"os"
	"time"

	"github.com/taskmasterpeace/lognog/internal/app"
)

const (
	exitOK              = 0
	exitValidationError = 1
	exitIOError         = 2
)

func main() {
	if len(os.Args) < 2 {
		runServe(os.Args[1:])
		return
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "generate":
		runGenerate(os.Args[2:])
	default:
		runServe(os.Args[1:])
	}
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configFile := fs.String("config", "", "path to configuration file")
	fs.Parse(args)

	if *configFile == "" {
		if env := os.Getenv("LOGNOG_CONFIG_FILE"); env != "" {
			*configFile = env
		} else {
			*configFile = "/etc/lognog/config.yaml"
		}
	}

	fmt.Printf("Using configuration file: %s\n", *configFile)

	application, err := app.New(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create application: %v\n", err)
		os.Exit(exitValidationError)
	}

	if err := application.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Application error: %v\n", err)
		os.Exit(exitIOError)
	}
}

func runGenerate(args []string) {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	count := fs.Int("count", 100, "number of syslog frames to emit")
	duration := fs.Duration("duration", 0, "spread emission evenly across this duration (0 = as fast as possible)")
	scenario := fs.String("scenario", "normal", "traffic shape: normal, spike, or errors")
	addr := fs.String("addr", "127.0.0.1:514", "receiver UDP address")
	fs.Parse(args)

	if *count <= 0 {
		fmt.Fprintln(os.Stderr, "count must be positive")
		os.Exit(exitValidationError)
	}
	switch *scenario {
	case "normal", "spike", "errors":
	default:
		fmt.Fprintf(os.Stderr, "unknown scenario: %s\n", *scenario)
		os.Exit(exitValidationError)
	}

	conn, err := net.Dial("udp", *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to dial receiver: %v\n", err)
		os.Exit(exitIOError)
	}
	defer conn.Close()

	var sleepEvery time.Duration
	if *duration > 0 && *count > 0 {
		sleepEvery = *duration / time.Duration(*count)
	}

	for i := 0; i < *count; i++ {
		frame := syntheticFrame(*scenario, i)
		if _, err := conn.Write([]byte(frame)); err != nil {
			fmt.Fprintf(os.Stderr, "write failed: %v\n", err)
			os.Exit(exitIOError)
		}
		if sleepEvery > 0 {
			time.Sleep(sleepEvery)
		}
	}

	fmt.Printf("emitted %d frames (scenario=%s) to %s\n", *count, *scenario, *addr)
	os.Exit(exitOK)
}

// syntheticFrame builds one well-formed RFC 3164 frame. "spike" biases
// toward a single noisy host/app pair so a downstream anomaly scan sees
// a volume deviation; "errors" sets every frame's severity to err (3).
func syntheticFrame(scenario string, i int) string {
	hosts := []string{"web-01", "web-02", "db-01", "api-01"}
	apps := []string{"nginx", "app", "sshd", "cron"}
	host, app := hosts[i%len(hosts)], apps[i%len(apps)]
	severity := 6 // info

	switch scenario {
	case "spike":
		host, app = "web-01", "nginx"
	case "errors":
		severity = 3 // error
	}

	if rand.Intn(20) == 0 {
		severity = 3
	}

	pri := 1*8 + severity // facility "user"
	ts := time.Now().Format("Jan _2 15:04:05")
	return fmt.Sprintf("<%d>%s %s %s[%d]: synthetic event #%d", pri, ts, host, app, 1000+i, i)
}
