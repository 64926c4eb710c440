// ngffinfo prints the image series, plate layout and files of an OME-NGFF
// store, local or on S3.
package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/qri-io/ome-zarr-go/ngff"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(argv []string, out io.Writer) error {
	var (
		configPath string
		usedFiles  bool
		noPixels   bool
		tilePlane  int
		verbose    bool
	)
	opts := ngff.DefaultOptions()

	flagSet := pflag.NewFlagSet("ngffinfo", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "YAML file with reader options")
	flagSet.BoolVar(&opts.IncludeLabels, "labels", false, "list label images as series")
	flagSet.BoolVar(&opts.FlattenResolutions, "flatten", false, "list every resolution level as its own series")
	flagSet.BoolVar(&opts.QuickRead, "quick", false, "assume all levels share the first level's shape")
	flagSet.StringVar(&opts.AltStoreRoot, "store-root", "", "read from this store root instead of the one in the path")
	flagSet.BoolVar(&usedFiles, "used-files", false, "list the files of the store")
	flagSet.BoolVar(&noPixels, "no-pixels", false, "with --used-files, list metadata files only")
	flagSet.IntVar(&tilePlane, "dump-plane", -1, "hex dump the first tile of this plane of series 0")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "log to stderr")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(argv); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	args := flagSet.Args()
	if len(args) != 1 {
		printHelp(flagSet)
		return fmt.Errorf("expected one store path, got %d", len(args))
	}

	if configPath != "" {
		loaded, err := ngff.LoadOptions(configPath)
		if err != nil {
			return err
		}
		// flags given on the command line win over the file
		flagSet.Visit(func(f *pflag.Flag) {
			switch f.Name {
			case "labels":
				loaded.IncludeLabels = opts.IncludeLabels
			case "flatten":
				loaded.FlattenResolutions = opts.FlattenResolutions
			case "quick":
				loaded.QuickRead = opts.QuickRead
			case "store-root":
				loaded.AltStoreRoot = opts.AltStoreRoot
			}
		})
		opts = loaded
	}
	if verbose {
		opts.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	r, err := ngff.Open(args[0], ngff.WithOptions(opts))
	if err != nil {
		return err
	}
	defer r.Close()

	if usedFiles {
		files, err := r.UsedFiles(noPixels)
		if err != nil {
			return err
		}
		for _, f := range files {
			fmt.Fprintln(out, f)
		}
		return nil
	}

	if err := printSeries(out, r); err != nil {
		return err
	}
	printPlate(out, r.Plate())
	if tilePlane >= 0 {
		return dumpTile(out, r, tilePlane)
	}
	return nil
}

func printSeries(out io.Writer, r *ngff.Reader) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SERIES\tLEVEL\tPATH\tTYPE\tX\tY\tZ\tC\tT\tORDER\tPLANE SIZE")
	for s := 0; s < r.SeriesCount(); s++ {
		if err := r.SetSeries(s); err != nil {
			return err
		}
		for res := 0; res < r.ResolutionCount(); res++ {
			if err := r.SetResolution(res); err != nil {
				return err
			}
			cm, err := r.CoreMetadata()
			if err != nil {
				return err
			}
			planeBytes := uint64(cm.SizeX * cm.SizeY * cm.DataType.Size())
			fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\t%s\n",
				s, res, cm.Path, cm.DataType, cm.SizeX, cm.SizeY, cm.SizeZ, cm.SizeC, cm.SizeT,
				cm.DimensionOrder, humanize.Bytes(planeBytes))
		}
	}
	return w.Flush()
}

func printPlate(out io.Writer, p *ngff.Plate) {
	if p == nil {
		return
	}
	fmt.Fprintf(out, "\nplate %q: %d rows, %d columns, %d samples\n", p.Name, len(p.Rows), len(p.Columns), p.SampleCount())
	for _, acq := range p.Acquisitions {
		fmt.Fprintf(out, "  acquisition %d %q\n", acq.ID, acq.Name)
	}
	for _, well := range p.Wells {
		if well.Path == "" {
			continue
		}
		series := make([]string, 0, len(well.Samples))
		for _, s := range well.Samples {
			series = append(series, fmt.Sprint(s.Series))
		}
		fmt.Fprintf(out, "  well %s%s (%s): series %s\n",
			p.Rows[well.Row], p.Columns[well.Column], well.Path, strings.Join(series, ","))
	}
}

func dumpTile(out io.Writer, r *ngff.Reader, plane int) error {
	if err := r.SetSeries(0); err != nil {
		return err
	}
	cm, err := r.CoreMetadata()
	if err != nil {
		return err
	}
	w := min(r.OptimalTileWidth(), cm.SizeX)
	h := min(r.OptimalTileHeight(), cm.SizeY)
	buf := make([]byte, w*h*cm.DataType.Size())
	n, err := r.ReadRegion(plane, buf, 0, 0, w, h)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nplane %d tile %dx%d of %s (%s):\n", plane, w, h, cm.Path, humanize.Bytes(uint64(n)))
	dump := hex.Dumper(out)
	defer dump.Close()
	_, err = dump.Write(buf[:n])
	return err
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `ngffinfo prints the image pyramids of an OME-NGFF store.

Usage:
  ngffinfo [flags] <path/to/image.zarr | https://endpoint/bucket/image.zarr>

Flags:
%s`, flagSet.FlagUsages())
}
