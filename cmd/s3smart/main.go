package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
	builtBy = "unknown"
)

// globalOptions are flags shared by every subcommand.
type globalOptions struct {
	configPath  string
	region      string
	endpointURL string
	profile     string
	retries     int
	maxPool     int
	quiet       bool
	verbose     bool
}

// transferOptions are flags of upload, download and sync.
type transferOptions struct {
	workers        int
	partSizeMB     int
	maxMBps        float64
	parallelFiles  int
	checksum       bool
	force          bool
	dryRun         bool
	excludes       []string
	resultJSONFile string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(defaultApp()).ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(2)
	}
}

func newRootCmd(a *app) *cobra.Command {
	g := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "s3smart",
		Short: "Fast, reliable S3 transfers and sync",
		Long: `s3smart moves files between a local disk and S3 with parallel chunked
uploads and ranged downloads, optional bandwidth limits and checksum
verification.`,
		Version:       fmt.Sprintf("%s (commit: %s, built at: %s by %s)", version, commit, date, builtBy),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "Path to a s3smart.json or s3smart.toml configuration file")
	pf.StringVar(&g.region, "region", "", "AWS region (uses default if not specified)")
	pf.StringVar(&g.endpointURL, "endpoint-url", "", "Custom S3-compatible endpoint URL")
	pf.StringVar(&g.profile, "profile", "", "AWS profile to use")
	pf.IntVar(&g.retries, "retries", 0, "Retries per S3 request on throttling and transient errors")
	pf.IntVar(&g.maxPool, "max-pool", 0, "Maximum idle HTTP connections per host")
	pf.BoolVar(&g.quiet, "quiet", false, "Suppress non-error output")
	pf.BoolVar(&g.verbose, "verbose", false, "Print debug output")

	rootCmd.AddCommand(
		newTransferCmd(a, g, commandUpload),
		newTransferCmd(a, g, commandDownload),
		newTransferCmd(a, g, commandSync),
		newVersionCmd(),
	)
	return rootCmd
}

type command string

const (
	commandUpload   command = "upload"
	commandDownload command = "download"
	commandSync     command = "sync"
)

func newTransferCmd(a *app, g *globalOptions, name command) *cobra.Command {
	t := &transferOptions{}

	var use, short string
	switch name {
	case commandUpload:
		use, short = "upload <LocalPath> <S3Uri>", "Upload a file or directory to S3"
	case commandDownload:
		use, short = "download <S3Uri> <LocalDir>", "Download an object or prefix from S3"
	case commandSync:
		use, short = "sync <Source> <Dest>", "Transfer only files that differ, in either direction"
	}

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, name, g, t, args[0], args[1])
		},
	}

	f := cmd.Flags()
	f.IntVar(&t.workers, "workers", 0, "Concurrent chunk transfers per file")
	f.IntVar(&t.partSizeMB, "part-size", 0, "Chunk size in MiB")
	f.Float64Var(&t.maxMBps, "max-mbps", 0, "Bandwidth cap in MiB per second (0 = unlimited)")
	f.IntVar(&t.parallelFiles, "parallel-files", 0, "Files transferred at the same time")
	f.BoolVar(&t.checksum, "checksum", false, "Verify ETags after transfer and compare content when syncing")
	f.BoolVar(&t.force, "force", false, "Transfer files even when they look up to date")
	f.BoolVar(&t.dryRun, "dryrun", false, "Shows operations without executing")
	f.StringSliceVar(&t.excludes, "exclude", nil, "Exclude patterns (multiple allowed)")
	f.StringVar(&t.resultJSONFile, "result-json-file", "", "Path to output result as JSON file")
	return cmd
}
