package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ayusman/steadyscan/internal/store"
)

var sightingsCmd = &cobra.Command{
	Use:   "sightings",
	Short: "Print the sighting ledger.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if _, err := os.Stat(cfg.DBPath); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("database file not found: %s", cfg.DBPath)
			}
			return err
		}

		s, err := store.New(cfg.DBPath)
		if err != nil {
			return err
		}
		defer s.Close()

		active, _ := cmd.Flags().GetBool("active")
		sightings, err := s.Sightings().List(active)
		if err != nil {
			return err
		}
		if len(sightings) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No sightings recorded.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tSYMBOLOGY\tVALUE\tFIRST SEEN\tLAST SEEN\tGONE\tMOVES")
		for _, sg := range sightings {
			gone := "-"
			if sg.DisappearedAt != nil {
				gone = sg.DisappearedAt.Local().Format(time.DateTime)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
				sg.ID, sg.Symbology, sg.Value,
				sg.FirstSeen.Local().Format(time.DateTime),
				sg.LastSeen.Local().Format(time.DateTime),
				gone, sg.Moves)
		}
		w.Flush()

		counts, err := s.Sightings().Count()
		if err != nil {
			return err
		}
		syms := make([]string, 0, len(counts))
		for sym := range counts {
			syms = append(syms, sym)
		}
		sort.Strings(syms)
		fmt.Fprintln(cmd.OutOrStdout())
		for _, sym := range syms {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d\n", sym, counts[sym])
		}
		return nil
	},
}

func init() {
	sightingsCmd.Flags().Bool("active", false, "only show codes still in view")
}
