package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/fernwer/Duet/batch"
	"github.com/fernwer/Duet/config"
	"github.com/fernwer/Duet/kernel"
	"github.com/fernwer/Duet/metrics"
	"github.com/fernwer/Duet/parser"
	"github.com/fernwer/Duet/transport"
	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (defaults apply when empty)")
	file := flag.String("file", "", "File with one SQL statement per line (default: stdin)")
	workers := flag.Int("workers", 4, "Number of concurrent submitters")
	local := flag.Bool("local", false, "Run the kernel in-process instead of calling remote kernels")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}

	// Initialize metrics
	metrics.Init()

	// Start metrics HTTP server with pprof
	go func() {
		http.Handle("/metrics", metrics.Handler())
		log.Printf("Metrics endpoint at http://localhost%s/metrics", cfg.Metrics.Listen)
		if err := http.ListenAndServe(cfg.Metrics.Listen, nil); err != nil {
			log.Printf("Metrics server error: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var caller batch.Caller
	if *local {
		k, err := kernel.Open(ctx, cfg.KernelOptions())
		if err != nil {
			log.Fatalf("Failed to open kernel: %v", err)
		}
		defer k.Close()
		caller = k
	} else {
		pool := transport.NewPool(cfg.Transport.Primary, cfg.Transport.Kernels)
		go pool.StartHealthChecks(ctx, cfg.Transport.HealthInterval)
		log.Printf("[Transport] Primary kernel: %s, %d fallback kernels", pool.Primary(), len(cfg.Transport.Kernels))
		client := transport.NewClient(pool)
		defer client.Close()
		caller = client
	}

	var (
		reportsMu sync.Mutex
		reports   []batch.Report
	)
	bc := cfg.BatchOptions()
	bc.OnFlush = func(r batch.Report) {
		reportsMu.Lock()
		reports = append(reports, r)
		reportsMu.Unlock()
	}

	scheduler, err := batch.New(parser.New(parser.PgQuery{}), caller, bc)
	if err != nil {
		log.Fatalf("Failed to create scheduler: %v", err)
	}
	scheduler.Start()

	var in io.Reader = os.Stdin
	if *file != "" {
		f, err := os.Open(*file)
		if err != nil {
			log.Fatalf("Failed to open %s: %v", *file, err)
		}
		defer f.Close()
		in = f
	}

	lines := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < max(*workers, 1); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sql := range lines {
				if err := scheduler.Submit(uuid.NewString(), sql); err != nil {
					log.Printf("Submit failed: %v", err)
				}
			}
		}()
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		lines <- line
	}
	close(lines)
	wg.Wait()
	if err := scanner.Err(); err != nil {
		log.Printf("Read error: %v", err)
	}

	scheduler.Flush()
	scheduler.Close()

	reportsMu.Lock()
	defer reportsMu.Unlock()
	renderReports(os.Stdout, reports)
}

func renderReports(w io.Writer, reports []batch.Report) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Hash", "Template", "Size", "Trigger", "Latency", "Result"})
	for _, r := range reports {
		result := r.Result
		if r.Err != nil {
			result = "error: " + r.Err.Error()
		}
		table.Append([]string{
			fmt.Sprintf("%016x", r.Hash),
			r.Template,
			strconv.Itoa(r.Size),
			string(r.Trigger),
			r.Latency.String(),
			result,
		})
	}
	table.Render()
}
