// Command coordinatord is the lhsm-coordinator process: it loads
// configuration, wires the action store/scheduler/registry/mirror/
// metrics collaborators, attaches the filesystem uplink for the given
// mount path, and runs the single-goroutine event loop until signalled to
// stop.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	hdfsclient "github.com/colinmarc/hdfs/v2"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"golang.org/x/sys/unix"

	"github.com/cea-hpc/lhsm-coordinator/action"
	"github.com/cea-hpc/lhsm-coordinator/clog"
	"github.com/cea-hpc/lhsm-coordinator/config"
	"github.com/cea-hpc/lhsm-coordinator/coordinator"
	"github.com/cea-hpc/lhsm-coordinator/enrich"
	"github.com/cea-hpc/lhsm-coordinator/hostmap"
	"github.com/cea-hpc/lhsm-coordinator/locate"
	"github.com/cea-hpc/lhsm-coordinator/locate/azureblob"
	"github.com/cea-hpc/lhsm-coordinator/locate/gcs"
	locatehdfs "github.com/cea-hpc/lhsm-coordinator/locate/hdfs"
	locates3 "github.com/cea-hpc/lhsm-coordinator/locate/s3"
	"github.com/cea-hpc/lhsm-coordinator/metrics"
	"github.com/cea-hpc/lhsm-coordinator/mirror"
	"github.com/cea-hpc/lhsm-coordinator/sched"
	"github.com/cea-hpc/lhsm-coordinator/uplink"
	"github.com/cea-hpc/lhsm-coordinator/worker"
)

// version is overridden by the release build process; unset builds report
// "dev".
var version = "dev"

func main() {
	app := cli.NewApp()
	app.Name = "coordinatord"
	app.Usage = "coordinate HSM archive/restore/remove actions between a filesystem uplink and a fleet of copytool workers"
	app.Version = version
	app.ArgsUsage = "<mount-path>"

	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config, c", Usage: "path to the coordinator config file"},
		cli.BoolFlag{Name: "verbose, v", Usage: "increase log verbosity (repeatable as separate flags: -v -v)"},
		cli.BoolFlag{Name: "quiet, q", Usage: "decrease log verbosity (repeatable)"},
		cli.StringSliceFlag{Name: "archive, A", Usage: "restrict this coordinator to the given archive id(s)"},
		cli.StringFlag{Name: "host, H", Usage: "worker-facing listen host"},
		cli.StringFlag{Name: "port, p", Usage: "worker-facing listen port"},
		cli.StringFlag{Name: "redis-host", Usage: "kv-store mirror host (used as a filesystem path for the embedded engine)"},
		cli.IntFlag{Name: "redis-port", Usage: "kv-store mirror port"},
	}

	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	verbosity := countOccurrences(os.Args, "-v", "--verbose") - countOccurrences(os.Args, "-q", "--quiet")

	cfg, err := config.Load(c.String("config"), c.String("config") != "")
	if err != nil {
		return errors.Wrap(err, "loading configuration")
	}
	applyFlagOverrides(cfg, c)
	cfg.Verbose = clampVerbosity(cfg.Verbose, verbosity)
	clog.SetLevel(cfg.Verbose)

	if err := raiseFileLimit(); err != nil {
		clog.Warnf("raising RLIMIT_NOFILE failed: %v", err)
	}

	store := action.NewStore()
	registry := worker.NewRegistry(cfg.BatchSlots, int64(cfg.ClientGraceMS)*int64(time.Millisecond))

	hostMap := hostmap.New(cfg.HostMapRules)
	locator := buildLocator(cfg)

	scheduler := &sched.Scheduler{
		Store:            store,
		Registry:         registry,
		HostMap:          hostMap,
		Locator:          locator,
		Fsname:           c.Args().First(),
		BatchSlots:       cfg.BatchSlots,
		BatchIdleNS:      int64(cfg.BatchSliceIdleMS) * int64(time.Millisecond),
		BatchMaxNS:       int64(cfg.BatchSliceMaxMS) * int64(time.Millisecond),
		GroupHashEnabled: cfg.GroupHashEnabled,
		Clock:            func() int64 { return time.Now().UnixNano() },
		Rand:             rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	store.Scheduler = scheduler
	store.Enricher = &enrich.Pipeline{HintNeedle: cfg.ReportingHint, ObjectIDNeedle: cfg.ObjectIDHint}

	mirrorPath := ""
	if cfg.KVHost != "" {
		mirrorPath = fmt.Sprintf("%s:%d", cfg.KVHost, cfg.KVPort)
	}
	mirrorStore, err := mirror.Open(mirrorPath, cfg.MirrorCompress, 0)
	if err != nil {
		return errors.Wrap(err, "opening mirror store")
	}
	defer mirrorStore.Close()
	store.Mirror = mirrorStore

	reporter := uplink.NewReporter(cfg.ReportingDir, cfg.ReportingHint)

	metricsReg := metrics.NewRegistry()

	addr := net.JoinHostPort(cfg.Host, cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", addr)
	}
	defer ln.Close()

	var uplinkSrc *os.File
	if mount := c.Args().First(); mount != "" {
		uplinkSrc, err = os.Open(mount)
		if err != nil {
			return errors.Wrapf(err, "opening filesystem uplink at %s", mount)
		}
		defer uplinkSrc.Close()
	}

	var coord *coordinator.Coordinator
	if uplinkSrc != nil {
		coord = coordinator.New(store, registry, scheduler, mirrorStore, reporter, metricsReg, cfg.StateDirPrefix, ln, uplinkSrc)
	} else {
		coord = coordinator.New(store, registry, scheduler, mirrorStore, reporter, metricsReg, cfg.StateDirPrefix, ln, nil)
	}

	if cfg.MetricsAddr != "" {
		srv := metrics.NewServer(coord, []byte(cfg.JWTSecret), coord.Abort)
		go func() {
			if err := srv.ListenAndServe(cfg.MetricsAddr); err != nil {
				clog.Errorf("admin metrics server stopped: %v", err)
			}
		}()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	clog.Infof("coordinatord %s listening on %s", version, addr)
	return coord.Run(ctx)
}

func applyFlagOverrides(cfg *config.Config, c *cli.Context) {
	if h := c.String("host"); h != "" {
		cfg.Host = h
	}
	if p := c.String("port"); p != "" {
		cfg.Port = p
	}
	if h := c.String("redis-host"); h != "" {
		cfg.KVHost = h
	}
	if p := c.Int("redis-port"); p != 0 {
		cfg.KVPort = p
	}
	if ids := c.StringSlice("archive"); len(ids) > 0 {
		cfg.ArchiveIDs = cfg.ArchiveIDs[:0]
		for _, s := range ids {
			var id uint32
			if _, err := fmt.Sscanf(s, "%d", &id); err == nil {
				cfg.ArchiveIDs = append(cfg.ArchiveIDs, id)
			}
		}
	}
}

// countOccurrences counts how many times any of the given flag spellings
// (short or long form, each occurrence of a repeated bool flag) appear on
// the command line as separate arguments ("-v -v"), a repeat count that
// urfave/cli v1's lack of a native Count flag can't express directly.
// Combined short forms such as "-vv" are not counted.
func countOccurrences(args []string, names ...string) int {
	n := 0
	for _, a := range args {
		for _, name := range names {
			if a == name {
				n++
			}
		}
	}
	return n
}

func clampVerbosity(base clog.Level, delta int) clog.Level {
	lvl := int(base) + delta
	if lvl < int(clog.LevelOff) {
		lvl = int(clog.LevelOff)
	}
	if lvl > int(clog.LevelDebug) {
		lvl = int(clog.LevelDebug)
	}
	return clog.Level(lvl)
}

// raiseFileLimit bumps RLIMIT_NOFILE to its hard ceiling, the direct
// analogue of sizing the original's single epoll_fd for a large worker
// fleet now that each connection is its own file descriptor.
func raiseFileLimit() error {
	var rlim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlim); err != nil {
		return err
	}
	rlim.Cur = rlim.Max
	return unix.Setrlimit(unix.RLIMIT_NOFILE, &rlim)
}

// buildLocator constructs the configured backend-locate() implementation,
// falling back to locate.None when no locator (or an unrecognized one) is
// configured -- an advisory capability, not a fatal startup dependency.
func buildLocator(cfg *config.Config) locate.Locator {
	ctx := context.Background()
	switch cfg.Locator {
	case "s3":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			clog.Warnf("loading AWS config for s3 locator: %v", err)
			return locate.None
		}
		return locates3.New(s3.NewFromConfig(awsCfg), cfg.LocatorBucket)

	case "azureblob":
		if cfg.LocatorURL == "" {
			clog.Warnf("locator azureblob configured without locator_url, disabling")
			return locate.None
		}
		client, err := container.NewClientWithNoCredential(cfg.LocatorURL, nil)
		if err != nil {
			clog.Warnf("constructing azureblob locator client: %v", err)
			return locate.None
		}
		return azureblob.New(client)

	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			clog.Warnf("constructing gcs locator client: %v", err)
			return locate.None
		}
		return gcs.New(client.Bucket(cfg.LocatorBucket))

	case "hdfs":
		if cfg.LocatorNamenode == "" {
			clog.Warnf("locator hdfs configured without locator_namenode, disabling")
			return locate.None
		}
		client, err := hdfsclient.New(cfg.LocatorNamenode)
		if err != nil {
			clog.Warnf("constructing hdfs locator client: %v", err)
			return locate.None
		}
		return locatehdfs.New(client)

	default:
		return locate.None
	}
}
