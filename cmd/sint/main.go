// Command sint is a stateless, high-rate Internet-wide TCP port
// scanner for a single target port. The scan technique: forged SYN
// segments tagged with a SYN-cookie-style
// ephemeral port, verified on the way back in without any per-target
// state.
package main

import (
	"bufio"
	goflag "flag"
	"fmt"
	"io"
	"os"

	"github.com/golang/glog"
	flag "github.com/spf13/pflag"

	"github.com/Kolufs/sint/internal/scan"
)

func main() {
	output := flag.StringP("output", "o", "", "path to append-only output file")
	port := flag.Uint16P("port", "p", 0, "TCP target port (1-65535)")
	iface := flag.StringP("interface", "i", "", "network interface name; omit for auto-detect")

	// glog registers -v, -logtostderr, -vmodule, etc. on the stdlib
	// flag.CommandLine in its own init(); merge that set into pflag so
	// glog's verbosity flags are reachable from the command line.
	flag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	flag.Parse()

	if *output == "" || *port == 0 {
		fmt.Fprintln(os.Stderr, "usage: sint -o <output file> -p <port> [-i <interface>]")
		os.Exit(1)
	}

	sink, err := scan.NewFileSink(*output)
	if err != nil {
		glog.Fatalf("open output sink: %v", err)
	}

	cfg := scan.Config{
		OutputPath: *output,
		Port:       *port,
		Interface:  *iface,
	}

	scanner, err := scan.NewScanner(cfg, sink)
	if err != nil {
		glog.Fatalf("start scanner: %v", err)
	}

	fmt.Fprintf(os.Stderr, "Starting sint on port %d, output %s\n", *port, *output)
	fmt.Fprintln(os.Stderr, "Press enter to pause/resume; EOF ends the scan early.")

	done := make(chan error, 1)
	go func() {
		done <- scanner.Scan()
	}()

	stdin := bufio.NewReader(os.Stdin)
	for {
		_, err := stdin.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				scanner.Stop()
			}
			break
		}
		scanner.Pause()

		select {
		case scanErr := <-done:
			reportAndExit(scanErr)
			return
		default:
		}
	}

	scanErr := <-done
	reportAndExit(scanErr)
}

func reportAndExit(err error) {
	if err != nil {
		glog.Errorf("sink failure: %v", err)
		os.Exit(1)
	}
}
