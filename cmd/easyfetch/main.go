package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/taodev/easyfetch"
	"gopkg.in/yaml.v3"
)

type fetchFlags struct {
	config     string
	method     string
	headers    []string
	data       string
	timeout    time.Duration
	proxy      string
	noDNSCache bool
	repeat     int
	include    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := new(fetchFlags)
	cmd := &cobra.Command{
		Use:   "easyfetch [flags] URL",
		Short: "Fetch a URL through the DNS caching client.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), f, args[0], cmd.OutOrStdout())
		},
		SilenceUsage: true,
	}
	fs := cmd.Flags()
	fs.StringVarP(&f.config, "config", "c", "", "config file")
	fs.StringVarP(&f.method, "method", "X", http.MethodGet, "request method")
	fs.StringArrayVarP(&f.headers, "header", "H", nil, "request header, \"Name: value\"")
	fs.StringVarP(&f.data, "data", "d", "", "request body")
	fs.DurationVar(&f.timeout, "timeout", 0, "request timeout, 0 uses the config")
	fs.StringVar(&f.proxy, "proxy", "", "proxy url, http://, https:// or socks5://")
	fs.BoolVar(&f.noDNSCache, "no-dns-cache", false, "dial without the dns cache")
	fs.IntVar(&f.repeat, "repeat", 1, "send the request n times")
	fs.BoolVarP(&f.include, "include", "i", false, "print the status line and headers")
	return cmd
}

func run(ctx context.Context, f *fetchFlags, rawURL string, out io.Writer) error {
	opts, err := loadConfig(f.config)
	if err != nil {
		return err
	}
	logger := easyfetch.NewLogger(opts.LoggerLevel())
	slog.SetDefault(logger)

	header := make(http.Header)
	for _, h := range f.headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			return fmt.Errorf("invalid header %q", h)
		}
		header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}

	client, err := easyfetch.New(opts, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	// 优雅退出
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	for i := 0; i < f.repeat; i++ {
		ro := &easyfetch.RequestOptions{
			Method:  f.method,
			Header:  header,
			Timeout: f.timeout,
			Proxy:   f.proxy,
		}
		if f.data != "" {
			ro.Body = strings.NewReader(f.data)
		}
		if f.noDNSCache {
			disabled := false
			ro.DNSCaching = &disabled
		}
		if err = fetch(ctx, client, rawURL, ro, f.include, out); err != nil {
			return err
		}
	}
	return nil
}

func fetch(ctx context.Context, client *easyfetch.Client, rawURL string, ro *easyfetch.RequestOptions, include bool, out io.Writer) error {
	resp, err := client.Fetch(ctx, rawURL, ro)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if include {
		fmt.Fprintf(out, "%s %s\n", resp.Proto, resp.Status)
		resp.Header.Write(out)
		fmt.Fprintln(out)
	}
	_, err = io.Copy(out, resp.Body)
	return err
}

// loadConfig applies the defaults and then the yaml file, when one is given.
func loadConfig(name string) (*easyfetch.Options, error) {
	var opts easyfetch.Options
	if err := opts.Default(); err != nil {
		return nil, err
	}
	if name == "" {
		return &opts, nil
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, err
	}
	if err = yaml.Unmarshal(data, &opts); err != nil {
		return nil, err
	}
	return &opts, nil
}
