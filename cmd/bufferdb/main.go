// Command bufferdb runs buffer pool workloads and inspects bufferdb databases.
package main

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"text/tabwriter"

	"bufferdb/buffer"
	"bufferdb/config"
	"bufferdb/engine"
	"bufferdb/file"
	"bufferdb/log"
	"bufferdb/logger"
	"bufferdb/tx"

	"github.com/alecthomas/kong"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

// CLI defines the command-line interface for bufferdb.
var CLI struct {
	Config   string `short:"c" help:"Configuration file (.ini or .toml)" type:"existingfile"`
	LogLevel string `name:"log-level" help:"Override the configured log level"`

	Bench      BenchCmd      `cmd:"" help:"Run a seeded pin/unpin workload against replacement strategies"`
	Strategies StrategiesCmd `cmd:"" help:"List the replacement strategies"`
	Logdump    LogdumpCmd    `cmd:"" help:"Print the log records of a database, newest first"`
}

// BenchCmd drives the buffer manager directly with a skewed random workload, once per strategy, each against a
// fresh database directory.
type BenchCmd struct {
	Strategy []string `short:"s" default:"naive,fifo,lru,clock" help:"Strategies to run"`
	Capacity int      `help:"Buffer pool capacity (defaults to the configured one)"`
	Blocks   int      `default:"64" help:"Number of distinct blocks touched"`
	Ops      int      `default:"100000" help:"Number of pin/unpin operations"`
	Hold     int      `help:"Most pins held at once (defaults to half the capacity)"`
	Seed     uint64   `default:"1" help:"Workload seed"`
}

type benchResult struct {
	strategy buffer.StrategyCode
	stats    buffer.Stats
}

func (c *BenchCmd) Run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if c.Capacity > 0 {
		cfg.BufferCapacity = c.Capacity
	}
	if c.Hold <= 0 {
		c.Hold = max(1, cfg.BufferCapacity/2)
	}
	if c.Blocks <= 0 || c.Ops <= 0 {
		return errors.New("blocks and ops must be positive")
	}

	var results []benchResult
	for _, name := range c.Strategy {
		code, err := buffer.ParseStrategy(name)
		if err != nil {
			return err
		}
		stats, err := c.runOne(cfg, code)
		if err != nil {
			return errors.Wrapf(err, "%s run failed", code)
		}
		results = append(results, benchResult{strategy: code, stats: stats})
	}

	fmt.Printf("pool: %d buffers of %s (%s), %s ops over %d blocks, holding up to %d pins\n\n",
		cfg.BufferCapacity, humanize.IBytes(uint64(cfg.BlockSize)),
		humanize.IBytes(uint64(cfg.BufferCapacity*cfg.BlockSize)),
		humanize.Comma(int64(c.Ops)), c.Blocks, c.Hold)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "strategy\thits\tmisses\tevictions\texhausted\thit ratio\t")
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.1f%%\t\n", r.strategy,
			humanize.Comma(r.stats.Hits), humanize.Comma(r.stats.Misses),
			humanize.Comma(r.stats.Evictions), humanize.Comma(r.stats.Exhausted),
			100*r.stats.HitRatio())
	}
	return w.Flush()
}

func (c *BenchCmd) runOne(base *config.Config, code buffer.StrategyCode) (buffer.Stats, error) {
	dir, err := os.MkdirTemp("", "bufferdb-bench-")
	if err != nil {
		return buffer.Stats{}, errors.Wrap(err, "failed to create bench directory")
	}
	defer os.RemoveAll(dir)

	cfg := *base
	cfg.DBDir = dir
	cfg.Strategy = code.String()
	e, err := engine.New(&cfg)
	if err != nil {
		return buffer.Stats{}, err
	}
	defer e.Close()

	bm := e.BufferManager()
	rng := rand.New(rand.NewPCG(c.Seed, uint64(code)))
	hot := max(1, c.Blocks/5)
	var held []*buffer.Buffer
	for i := 0; i < c.Ops; i++ {
		if len(held) > 0 && (len(held) >= c.Hold || rng.IntN(2) == 0) {
			j := rng.IntN(len(held))
			if err := bm.Unpin(held[j]); err != nil {
				return buffer.Stats{}, err
			}
			held[j] = held[len(held)-1]
			held = held[:len(held)-1]
			continue
		}

		// four of five pins go to the hot fifth of the blocks
		n := rng.IntN(c.Blocks)
		if rng.IntN(5) != 0 {
			n = rng.IntN(hot)
		}
		buff, err := bm.Pin(file.NewBlockId("bench.tbl", n))
		if buffer.IsPoolExhausted(err) {
			continue
		}
		if err != nil {
			return buffer.Stats{}, err
		}
		held = append(held, buff)
	}
	return bm.Stats(), nil
}

type StrategiesCmd struct{}

func (c *StrategiesCmd) Run() error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "code\tname")
	for _, code := range buffer.StrategyCodes() {
		fmt.Fprintf(w, "%d\t%s\n", int(code), code)
	}
	return w.Flush()
}

type LogdumpCmd struct {
	Dir   string `arg:"" optional:"" help:"Database directory (defaults to the configured one)" type:"existingdir"`
	Limit int    `short:"n" help:"Print at most this many records"`
}

func (c *LogdumpCmd) Run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dir := cfg.DBDir
	if c.Dir != "" {
		dir = c.Dir
	}
	if _, err := os.Stat(filepath.Join(dir, cfg.LogFile)); err != nil {
		return errors.Wrapf(err, "no log file in %s", dir)
	}

	fm, err := file.NewManager(dir, cfg.BlockSize)
	if err != nil {
		return err
	}
	defer fm.Close()
	lm, err := log.NewManager(fm, cfg.LogFile)
	if err != nil {
		return err
	}
	records, err := tx.ReadLog(lm)
	if err != nil {
		return err
	}
	for i, r := range records {
		if c.Limit > 0 && i >= c.Limit {
			break
		}
		fmt.Println(r)
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if CLI.Config != "" {
		var err error
		if cfg, err = config.Load(CLI.Config); err != nil {
			return nil, err
		}
	}
	if CLI.LogLevel != "" {
		cfg.LogLevel = CLI.LogLevel
	}
	if err := logger.Init(cfg.LogLevel, cfg.LogPath); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("bufferdb"),
		kong.Description("Buffer pool workloads and database inspection"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
