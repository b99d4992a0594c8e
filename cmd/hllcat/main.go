// hllcat builds, merges, and inspects serialized HyperLogLog sketches.  It
// is the layer above the core library: it owns the hash function (xxHash)
// and the file plumbing, while the hll package only ever sees pre-hashed
// 64-bit values.
package main

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/cespare/xxhash"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/lattice-data/hll"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "hllcat",
		Short:         "Build, merge, and inspect HyperLogLog sketches",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(addCommand(), mergeCommand(), cardCommand())

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func addCommand() *cobra.Command {
	var (
		log2m     int
		regWidth  int
		threshold int
		sparse    bool
		out       string
	)

	cmd := &cobra.Command{
		Use:   "add [files...]",
		Short: "Hash newline-delimited keys into a sketch and write it out",
		Long: "Reads newline-delimited keys from the given files (or stdin when none " +
			"are given), hashes each with xxHash, adds the 64-bit digests to a new " +
			"sketch, and writes the serialized sketch.",
		RunE: func(cmd *cobra.Command, args []string) error {
			sketch, err := hll.NewHLL(hll.Settings{
				Log2m:             log2m,
				RegWidth:          regWidth,
				ExplicitThreshold: threshold,
				SparseEnabled:     sparse,
			})
			if err != nil {
				return err
			}

			keys := 0
			if len(args) == 0 {
				keys, err = addKeys(&sketch, os.Stdin)
				if err != nil {
					return errors.Wrap(err, "reading stdin")
				}
			} else {
				for _, name := range args {
					n, err := addKeysFromFile(&sketch, name)
					if err != nil {
						return err
					}
					keys += n
				}
			}

			log.Printf("added %d keys, storage %s, estimated cardinality %d",
				keys, sketch.StorageType(), sketch.Cardinality())

			return writeSketch(out, sketch)
		},
	}

	cmd.Flags().IntVar(&log2m, "log2m", 11, "base-2 log of the register count")
	cmd.Flags().IntVar(&regWidth, "regwidth", 5, "bits per register")
	cmd.Flags().IntVar(&threshold, "explicit-threshold", hll.AutoThreshold,
		"cap on exact storage (-1 auto, 0 disabled)")
	cmd.Flags().BoolVar(&sparse, "sparse", true, "use the sparse intermediate representation")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")

	return cmd
}

func mergeCommand() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "merge <sketch> [sketches...]",
		Short: "Union serialized sketches into one",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			merged, err := readSketch(args[0])
			if err != nil {
				return err
			}

			for _, name := range args[1:] {
				next, err := readSketch(name)
				if err != nil {
					return err
				}
				if err := merged.StrictUnion(next); err != nil {
					return errors.Wrapf(err, "merging %s", name)
				}
			}

			log.Printf("merged %d sketches, storage %s, estimated cardinality %d",
				len(args), merged.StorageType(), merged.Cardinality())

			return writeSketch(out, merged)
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")

	return cmd
}

func cardCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "card <sketch> [sketches...]",
		Short: "Print the estimated cardinality of serialized sketches",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range args {
				sketch, err := readSketch(name)
				if err != nil {
					return err
				}

				settings := sketch.Settings()
				fmt.Printf("%s: %d (storage %s, log2m %d, regwidth %d)\n",
					name, sketch.Cardinality(), sketch.StorageType(), settings.Log2m, settings.RegWidth)
			}
			return nil
		},
	}
}

func addKeysFromFile(sketch *hll.HLL, name string) (int, error) {
	f, err := os.Open(name)
	if err != nil {
		return 0, errors.Wrapf(err, "opening %s", name)
	}
	defer f.Close()

	n, err := addKeys(sketch, f)
	return n, errors.Wrapf(err, "reading %s", name)
}

func addKeys(sketch *hll.HLL, r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)

	keys := 0
	for scanner.Scan() {
		sketch.AddRaw(xxhash.Sum64(scanner.Bytes()))
		keys++
	}

	return keys, scanner.Err()
}

func readSketch(name string) (hll.HLL, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return hll.HLL{}, errors.Wrapf(err, "reading %s", name)
	}

	sketch, err := hll.FromBytes(data)
	return sketch, errors.Wrapf(err, "deserializing %s", name)
}

func writeSketch(out string, sketch hll.HLL) error {
	data := sketch.ToBytes()

	if out == "" {
		_, err := os.Stdout.Write(data)
		return err
	}

	return errors.Wrapf(os.WriteFile(out, data, 0o644), "writing %s", out)
}
