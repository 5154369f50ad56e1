package main

import (
	"fmt"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sonodavide/androsync/internal/category"
	"github.com/sonodavide/androsync/internal/config"
	"github.com/sonodavide/androsync/internal/engine"
	"github.com/sonodavide/androsync/internal/filter"
	"github.com/sonodavide/androsync/internal/ui"
)

// filterFlag is a custom pflag.Value that preserves CLI ordering of
// --exclude and --include rules by appending to a shared filter.Chain.
type filterFlag struct {
	chain   *filter.Chain
	include bool
}

func (*filterFlag) String() string { return "" }
func (*filterFlag) Type() string   { return "string" }

func (f *filterFlag) Set(val string) error {
	if f.include {
		return f.chain.AddInclude(val)
	}
	return f.chain.AddExclude(val)
}

// sessionOpts collects the flags shared by backup, plan and prune.
type sessionOpts struct {
	link linkOpts

	chain       *filter.Chain
	filterFile  string
	noDefaults  bool
	minSizeStr  string
	maxSizeStr  string
	roots       []string
	categories  []string
	workers     int
	tolerance   time.Duration
	retries     int
	listTimeout time.Duration
	checkLocal  bool
	report      string
	noProgress  bool

	// transfer flags, registered on backup only
	mode         string
	saveEvery    int
	bwLimitStr   string
	reserveStr   string
	fetchTimeout time.Duration
	dryRun       bool
	prune        bool
	noJournal    bool
}

func newSessionOpts() *sessionOpts {
	return &sessionOpts{chain: filter.NewChain(filter.FoldCase())}
}

// registerScan adds the flags that shape the device scan.
func (o *sessionOpts) registerScan(fs *pflag.FlagSet) {
	o.link.register(fs)
	fs.StringSliceVar(&o.roots, "root", nil, "device directory to back up (repeatable, default: every storage volume)")
	fs.StringSliceVar(&o.categories, "category", nil, "only back up these categories (media,documents,archives,apks,other)")
	fs.IntVarP(&o.workers, "workers", "w", engine.DefaultWorkers, "number of concurrent device operations")
	fs.DurationVar(&o.tolerance, "tolerance", engine.DefaultTolerance, "mtime difference treated as unchanged")
	fs.IntVar(&o.retries, "retries", engine.DefaultRetries, "retries for transient device errors")
	fs.DurationVar(&o.listTimeout, "list-timeout", engine.DefaultListTimeout, "deadline for listing one directory")
	fs.BoolVar(&o.checkLocal, "check-local", false, "re-copy files whose local copy has gone missing")
	fs.StringVar(&o.report, "report", "text", "session report format (text, json, yaml)")
	fs.BoolVar(&o.noProgress, "no-progress", false, "disable progress display")

	// Filter flags use a custom pflag.Value to preserve CLI ordering.
	fs.Var(&filterFlag{chain: o.chain}, "exclude", "exclude files matching PATTERN (repeatable)")
	fs.Var(&filterFlag{chain: o.chain, include: true}, "include", "include files matching PATTERN (repeatable)")
	fs.StringVar(&o.filterFile, "filter", "", "read filter rules from FILE")
	fs.BoolVar(&o.noDefaults, "no-default-excludes", false, "do not skip thumbnails, caches and trash")
	fs.StringVar(&o.minSizeStr, "min-size", "", "skip files smaller than SIZE (e.g. 1K)")
	fs.StringVar(&o.maxSizeStr, "max-size", "", "skip files larger than SIZE (e.g. 2G)")
}

// registerTransfer adds the flags that only matter when files are copied.
func (o *sessionOpts) registerTransfer(fs *pflag.FlagSet) {
	fs.StringVar(&o.mode, "mode", "metadata", "change signature: metadata or hash (BLAKE3)")
	fs.IntVar(&o.saveEvery, "save-every", 1, "persist the manifest after every N commits")
	fs.StringVar(&o.bwLimitStr, "bwlimit", "", "bandwidth limit (e.g. 10M)")
	fs.StringVar(&o.reserveStr, "reserve", "", "free space to keep on the destination (e.g. 1G)")
	fs.DurationVar(&o.fetchTimeout, "fetch-timeout", engine.DefaultFetchTimeout, "deadline for fetching one file")
	fs.BoolVarP(&o.dryRun, "dry-run", "n", false, "show what would be copied without writing")
	fs.BoolVar(&o.prune, "prune", false, "forget manifest rows of files deleted from the device")
	fs.BoolVar(&o.noJournal, "no-journal", false, "do not record failures in the journal")
}

// applyConfigDefaults applies config file defaults for flags not explicitly set on the CLI.
func (o *sessionOpts) applyConfigDefaults(cmd *cobra.Command, cfg config.Config) error {
	d := cfg.Defaults
	changed := cmd.Flags().Changed
	if !changed("workers") && d.Workers != nil {
		o.workers = *d.Workers
	}
	if !changed("retries") && d.Retries != nil {
		o.retries = *d.Retries
	}
	if !changed("check-local") && d.CheckLocal != nil {
		o.checkLocal = *d.CheckLocal
	}
	if !changed("tolerance") && d.Tolerance != nil {
		tol, err := d.ToleranceDuration()
		if err != nil {
			return err
		}
		o.tolerance = tol
	}
	if !changed("root") && len(d.Roots) > 0 {
		o.roots = d.Roots
	}
	if !changed("category") && len(d.Categories) > 0 {
		o.categories = d.Categories
	}
	if !changed("no-default-excludes") && cfg.Excludes.NoDefaults != nil {
		o.noDefaults = *cfg.Excludes.NoDefaults
	}
	if cmd.Flags().Lookup("mode") != nil {
		if !changed("mode") && d.Mode != nil {
			o.mode = *d.Mode
		}
		if !changed("save-every") && d.SaveEvery != nil {
			o.saveEvery = *d.SaveEvery
		}
		if !changed("bwlimit") && d.BWLimit != nil {
			o.bwLimitStr = *d.BWLimit
		}
	}
	o.link.applyConfigDefaults(cmd, cfg)
	return nil
}

// engineConfig turns the parsed flags into an engine.Config without the
// link, destination and plumbing.
func (o *sessionOpts) engineConfig(cfg config.Config) (engine.Config, error) {
	if o.workers < 1 {
		return engine.Config{}, fmt.Errorf("--workers must be at least 1")
	}
	if o.tolerance < 0 {
		return engine.Config{}, fmt.Errorf("--tolerance must not be negative")
	}

	chain, err := o.buildFilter(cfg)
	if err != nil {
		return engine.Config{}, err
	}

	rules := category.DefaultRules()
	if err := cfg.ApplyCategories(rules); err != nil {
		return engine.Config{}, err
	}
	cats, err := category.ParseSet(o.categories)
	if err != nil {
		return engine.Config{}, fmt.Errorf("invalid --category: %w", err)
	}

	ec := engine.Config{
		Filter:       chain,
		Rules:        rules,
		Categories:   cats,
		Roots:        o.roots,
		Workers:      o.workers,
		Tolerance:    o.tolerance,
		Retries:      o.retries,
		Backoff:      engine.DefaultBackoff,
		ListTimeout:  o.listTimeout,
		FetchTimeout: o.fetchTimeout,
		SaveEvery:    o.saveEvery,
		CheckLocal:   o.checkLocal,
		DryRun:       o.dryRun,
		PruneOrphans: o.prune,
		NoJournal:    o.noJournal,
	}
	if o.mode != "" {
		if ec.Mode, err = engine.ParseMode(o.mode); err != nil {
			return engine.Config{}, fmt.Errorf("invalid --mode: %w", err)
		}
	}
	if o.bwLimitStr != "" {
		if ec.BWLimit, err = filter.ParseSize(o.bwLimitStr); err != nil {
			return engine.Config{}, fmt.Errorf("invalid --bwlimit: %w", err)
		}
	}
	if o.reserveStr != "" {
		n, err := filter.ParseSize(o.reserveStr)
		if err != nil {
			return engine.Config{}, fmt.Errorf("invalid --reserve: %w", err)
		}
		ec.Reserve = uint64(n)
	}
	return ec, nil
}

// buildFilter finishes the chain: CLI rules first, then the filter file,
// then config excludes, then the built-in excludes.
func (o *sessionOpts) buildFilter(cfg config.Config) (*filter.Chain, error) {
	if o.filterFile != "" {
		path, err := config.Expand(o.filterFile)
		if err != nil {
			return nil, err
		}
		if err := o.chain.LoadFile(afero.NewOsFs(), path); err != nil {
			return nil, fmt.Errorf("load filter file: %w", err)
		}
	}
	if err := cfg.ApplyExcludes(o.chain); err != nil {
		return nil, err
	}
	if !o.noDefaults {
		for _, p := range filter.DefaultExcludes {
			if err := o.chain.AddExclude(p); err != nil {
				return nil, fmt.Errorf("default exclude %q: %w", p, err)
			}
		}
	}
	if o.minSizeStr != "" {
		n, err := filter.ParseSize(o.minSizeStr)
		if err != nil {
			return nil, fmt.Errorf("invalid --min-size: %w", err)
		}
		o.chain.SetMinSize(n)
	}
	if o.maxSizeStr != "" {
		n, err := filter.ParseSize(o.maxSizeStr)
		if err != nil {
			return nil, fmt.Errorf("invalid --max-size: %w", err)
		}
		o.chain.SetMaxSize(n)
	}
	return o.chain, nil
}

func (o *sessionOpts) reportFormat() (ui.Format, error) {
	return ui.ParseFormat(o.report)
}
