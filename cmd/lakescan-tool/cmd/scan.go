package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/polarsignals/lakescan"
	"github.com/polarsignals/lakescan/parquetfmt"
)

var scanCmd = &cobra.Command{
	Use:     "scan",
	Example: `lakescan-tool scan --columns id,name --filter "id>=100,name=foo" <file.parquet>`,
	Short:   "Run a filtered scan over a parquet file",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return scan(cmd, args[0])
	},
}

func init() {
	scanCmd.Flags().String("columns", "", "comma separated columns to materialize; defaults to all")
	scanCmd.Flags().String("filter", "", "comma separated <column><op><value> conjuncts")
	scanCmd.Flags().Int64("batch-size", 8192, "rows per output batch")
	scanCmd.Flags().Bool("eager", false, "disable lazy materialization")
	scanCmd.Flags().Bool("count", false, "count matching rows without materializing")
	scanCmd.Flags().Bool("stats", false, "print scan statistics after the rows")
}

func scan(cmd *cobra.Command, file string) error {
	pf, closer, err := openParquetFile(file)
	if err != nil {
		return err
	}
	defer closer.Close()

	r, err := parquetfmt.NewReader(pf)
	if err != nil {
		return err
	}
	defer r.Close()

	columnArg, _ := cmd.Flags().GetString("columns")
	columns := []string{}
	if columnArg == "" {
		for _, f := range r.Schema().Fields() {
			columns = append(columns, f.Name)
		}
	} else {
		columns = strings.Split(columnArg, ",")
	}

	filterArg, _ := cmd.Flags().GetString("filter")
	conjuncts, err := parseFilters(filterArg)
	if err != nil {
		return err
	}

	batchSize, _ := cmd.Flags().GetInt64("batch-size")
	eager, _ := cmd.Flags().GetBool("eager")
	count, _ := cmd.Flags().GetBool("count")

	opts := []lakescan.Option{lakescan.WithBatchSize(batchSize)}
	if count {
		opts = append(opts, lakescan.WithCountOnly())
	}
	s, err := lakescan.NewScanner(r, lakescan.PlanOptions{
		Columns:             columns,
		Conjuncts:           conjuncts,
		LazyMaterialization: !eager,
	}, opts...)
	if err != nil {
		return err
	}
	defer s.Close()

	total := int64(0)
	for {
		rec, rows, done, err := s.NextBatch(cmd.Context())
		if err != nil {
			return err
		}
		if done {
			break
		}
		total += rows
		if !count {
			fmt.Println(rec)
		}
		rec.Release()
	}
	if count {
		fmt.Println("rows:", total)
	}

	if printStats, _ := cmd.Flags().GetBool("stats"); printStats {
		stats := s.Stats()
		fmt.Println("groups read:", stats.GroupsRead)
		fmt.Println("groups pruned:", stats.GroupsPruned)
		fmt.Println("rows pruned by page index:", stats.RowsPrunedByIndex)
		fmt.Println("rows decoded:", stats.RowsDecoded)
		fmt.Println("rows produced:", stats.RowsProduced)
		fmt.Println("lazy rows skipped:", stats.LazyRowsSkipped)
		fmt.Println("dictionary rewrites:", stats.DictRewrites)
	}
	return nil
}
