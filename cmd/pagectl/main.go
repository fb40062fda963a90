// Command pagectl inspects and edits a pagedb index of string keys and items.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/hupe1980/pagedb"
	pgs3 "github.com/hupe1980/pagedb/blobstore/s3"
	"github.com/hupe1980/pagedb/config"
)

const usage = `usage: pagectl [flags] <command> [args]

commands:
  put <key> <item...>     store an item
  get <key>               print an item
  del <key> [<to>]        delete a key, or every key in [key, to)
  scan [<from> [<to>]]    print items in key order
  stats                   print index and cache counters
  check                   verify the tree structure
  dump <name>             write a snapshot blob into the store
  restore <name>          load a snapshot into an empty index
  clear                   remove every item

flags:
`

func main() {
	configPath := flag.String("config", "", "YAML config file (default: pagedb.yaml or configs/pagedb.yaml)")
	path := flag.String("db", "", "override store.path")
	limit := flag.Int("limit", 0, "stop scan after n items (0 = all)")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Stdout, *configPath, *path, *limit, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, "pagectl:", err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

var errUsage = errors.New("bad usage")

func run(ctx context.Context, out io.Writer, configPath, path string, limit int, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if path != "" {
		cfg.Store.Path = path
	}

	store, err := config.OpenStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	opts, err := cfg.Options()
	if err != nil {
		return err
	}
	idx, err := pagedb.Open[string, string](ctx, store, opts...)
	if err != nil {
		return err
	}

	cmdErr := execute(ctx, out, idx, limit, args)
	closeErr := idx.Close()
	if cmdErr != nil {
		return cmdErr
	}
	if closeErr != nil {
		return closeErr
	}

	if ddb, ok := store.(*pgs3.DDBCommitStore); ok {
		if _, err := ddb.Prune(ctx, cfg.Store.CommitHistory); err != nil {
			return fmt.Errorf("prune commits: %w", err)
		}
	}
	return nil
}

func execute(ctx context.Context, out io.Writer, idx *pagedb.Index[string, string], limit int, args []string) error {
	cmd, args := strings.ToLower(args[0]), args[1:]

	switch cmd {
	case "put", "set":
		if len(args) < 2 {
			return fmt.Errorf("%w: put <key> <item...>", errUsage)
		}
		start := time.Now()
		replaced, err := idx.Put(ctx, args[0], strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		if replaced {
			fmt.Fprintf(out, "OK (replaced) in %v\n", time.Since(start))
		} else {
			fmt.Fprintf(out, "OK in %v\n", time.Since(start))
		}

	case "get":
		if len(args) != 1 {
			return fmt.Errorf("%w: get <key>", errUsage)
		}
		v, ok, err := idx.Get(ctx, args[0])
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(out, "(nil)")
			return nil
		}
		fmt.Fprintln(out, v)

	case "del", "rm":
		switch len(args) {
		case 1:
			removed, err := idx.Delete(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "deleted %d\n", boolToInt(removed))
		case 2:
			n, err := idx.DeleteRange(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "deleted %d\n", n)
		default:
			return fmt.Errorf("%w: del <key> [<to>]", errUsage)
		}

	case "scan":
		if len(args) > 2 {
			return fmt.Errorf("%w: scan [<from> [<to>]]", errUsage)
		}
		n := 0
		emit := func(k, v string) bool {
			fmt.Fprintf(out, "%s\t%s\n", k, v)
			n++
			return limit <= 0 || n < limit
		}
		var err error
		switch len(args) {
		case 0:
			err = idx.ScanAll(ctx, emit)
		case 1:
			err = idx.ScanFrom(ctx, args[0], emit)
		default:
			err = idx.Scan(ctx, args[0], args[1], emit)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "(%d items)\n", n)

	case "stats":
		printStats(out, idx.Stats())

	case "check":
		if err := idx.Check(ctx); err != nil {
			return err
		}
		fmt.Fprintf(out, "OK: %s items\n", humanize.Comma(int64(idx.Len())))

	case "dump":
		if len(args) != 1 {
			return fmt.Errorf("%w: dump <name>", errUsage)
		}
		s, err := idx.Dump(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "dumped %d leaves, %d inner pages, %s items to %s\n",
			s.Leaves, s.Inner, humanize.Comma(int64(s.Items)), args[0])

	case "restore":
		if len(args) != 1 {
			return fmt.Errorf("%w: restore <name>", errUsage)
		}
		s, err := idx.Restore(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "restored %d pages, %s items\n", s.Pages, humanize.Comma(int64(s.Items)))

	case "clear":
		if err := idx.Clear(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "OK")

	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
	return nil
}

func printStats(out io.Writer, s pagedb.Stats) {
	fmt.Fprintf(out, "items:        %s\n", humanize.Comma(int64(s.ItemCount)))
	fmt.Fprintf(out, "pages:        %s\n", humanize.Comma(int64(s.PageCount)))
	fmt.Fprintf(out, "height:       %d\n", s.Height)
	fmt.Fprintf(out, "descriptor:   %d (next ref %s)\n", s.Seq, s.NextRef)
	fmt.Fprintf(out, "codec:        %s\n", s.Codec)
	fmt.Fprintf(out, "dirty pages:  %d\n", s.Dirty)
	fmt.Fprintf(out, "page cache:   %d resident, %.1f%% hits, %d evictions\n",
		s.Resident, s.Primary.HitRatio()*100, s.Primary.Evictions)
	fmt.Fprintf(out, "soft tier:    %d resident, %.1f%% hits\n", s.SoftLen, s.Soft.HitRatio()*100)
	fmt.Fprintf(out, "filter:       %s keys, %s, ~%.3f%% false positives\n",
		humanize.Comma(int64(s.FilterKeys)), humanize.IBytes(s.FilterBits/8), s.FilterFalsePositiveRate*100)
	if s.PendingGC > 0 {
		fmt.Fprintf(out, "pending gc:   %d blobs\n", s.PendingGC)
	}
	if bc := s.BlockCache; bc != nil {
		fmt.Fprintf(out, "block cache:  %s hits, %s misses, %s evictions\n",
			humanize.Comma(bc.Hits), humanize.Comma(bc.Misses), humanize.Comma(bc.Evictions))
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
