package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"library-circulation/config"
	"library-circulation/identity"
	"library-circulation/library"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		cfgFile string
		cfg     *config.Config
	)

	root := &cobra.Command{
		Use:          "library",
		Short:        "Library circulation: catalog, cards, loans and reservations",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(cfgFile)
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShell(cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./library.toml or $HOME/.library/library.toml)")

	root.AddCommand(&cobra.Command{
		Use:   "shell",
		Short: "Start an interactive session (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShell(cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	})
	root.AddCommand(newHistoryCmd(&cfg))
	root.AddCommand(newCatalogCmd())
	return root
}

func newHistoryCmd(cfg **config.Config) *cobra.Command {
	var holder string
	cmd := &cobra.Command{
		Use:   "history [item-key]",
		Short: "Print loan and reservation history from the ledger",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (len(args) == 1) == (holder != "") {
				return fmt.Errorf("give either an item key or --holder")
			}
			path := (*cfg).Ledger.Path
			if path == "" {
				return fmt.Errorf("ledger is disabled (ledger.path is empty)")
			}
			ledger, err := library.NewLedger(path)
			if err != nil {
				return err
			}
			defer ledger.Close()

			var recs []library.LedgerRecord
			if holder != "" {
				recs, err = ledger.HolderHistory(cmd.Context(), holder)
			} else {
				recs, err = ledger.ItemHistory(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			printHistory(cmd.OutOrStdout(), recs)
			return nil
		},
	}
	cmd.Flags().StringVar(&holder, "holder", "", "show history of one holder instead of one item")
	return cmd
}

// newCatalogCmd dry-runs a catalog import: it loads the file into an empty
// library and reports what would be added. Entries are held to the same
// rules as adding a book by hand.
func newCatalogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog <file>",
		Short: "Check a YAML catalog file and list its items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			entries, err := library.ReadCatalogFile(args[0])
			if err != nil {
				return err
			}
			lm, err := library.NewLibraryManager(identity.NewStore())
			if err != nil {
				return err
			}
			added, skipped := lm.Preload(entries)

			fmt.Fprintf(out, "%-18s %-40s %-25s %s\n", "ISBN", "Title", "Author", "Year")
			fmt.Fprintln(out, strings.Repeat("-", 90))
			for _, e := range entries {
				fmt.Fprintf(out, "%-18s %-40s %-25s %d\n",
					truncateString(e.Key, 18), truncateString(e.Title, 40), truncateString(e.Author, 25), e.PublishedYear)
			}
			fmt.Fprintf(out, "\nCheck complete!\n")
			fmt.Fprintf(out, "Importable: %d books\n", added)
			fmt.Fprintf(out, "Skipped (duplicate key or invalid): %d\n", skipped)
			return nil
		},
	}
}

func runShell(cfg *config.Config, in io.Reader, out io.Writer) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	s := newSession(a, in, out)
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fd := int(f.Fd())
		s.readPassword = func(out io.Writer, prompt string) (string, error) {
			return readPassword(fd, out, prompt)
		}
	}
	return s.run()
}

// readPassword securely reads a password with masking from the terminal fd
func readPassword(fd int, out io.Writer, prompt string) (string, error) {
	fmt.Fprint(out, prompt)
	bytePassword, err := term.ReadPassword(fd)
	if err != nil {
		return "", err
	}
	fmt.Fprintln(out) // Add newline after password input
	return strings.TrimSpace(string(bytePassword)), nil
}

func printHistory(out io.Writer, recs []library.LedgerRecord) {
	if len(recs) == 0 {
		fmt.Fprintln(out, "No history.")
		return
	}
	fmt.Fprintf(out, "%-12s %-18s %-16s %-20s %-20s %s\n", "Kind", "Item", "Holder", "Opened", "Closed", "Outcome")
	fmt.Fprintln(out, strings.Repeat("-", 100))
	for _, r := range recs {
		closed, outcome := "-", r.Outcome
		if !r.Open() {
			closed = r.ClosedAt.Format(time.DateTime)
		} else {
			outcome = "open"
		}
		fmt.Fprintf(out, "%-12s %-18s %-16s %-20s %-20s %s\n",
			r.Kind,
			truncateString(r.ItemKey, 18),
			truncateString(r.Holder, 16),
			r.OpenedAt.Format(time.DateTime),
			closed,
			outcome)
	}
}

// truncateString shortens s to maxLen runes, marking the cut with "...".
func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
