package cmd

import (
	"bytes"
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"coevo.dev/pkg/coevo/internal/adapter"
	m "coevo.dev/pkg/coevo/internal/model"
)

var testsCaseFlag string
var testsMethodFlag string

// testsCmd represents the tests command.
var testsCmd = newTestsCmd()

func newTestsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tests [project-dir]",
		Short: "List the current generated test methods",
		Long: `Show the merged current view of the generated test suite: the latest
version of every test method across all test cases. With --case and --method,
print every stored version of one method instead.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			project := projectFromArgs(args)

			store, err := adapter.NewSQLiteStore(string(fsAdapter.JoinPath(string(project), viper.GetString(storePathKey))))
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}

			defer func() { _ = store.Close() }()

			if testsCaseFlag != "" && testsMethodFlag != "" {
				return printMethodHistory(cmd, store, testsCaseFlag, testsMethodFlag)
			}

			cases, err := store.CurrentTestCases(cmd.Context())
			if err != nil {
				return err
			}

			view := m.CurrentView(cases)
			if len(view) == 0 {
				cmd.Println("No generated test methods yet; run 'coevo run' first.")
				return nil
			}

			cmd.Printf("\n%s", renderMethodsTable(view))

			return nil
		},
	}

	cmd.Flags().StringVar(&testsCaseFlag, "case", "", "test case id, combined with --method")
	cmd.Flags().StringVar(&testsMethodFlag, "method", "", "method name to show the version history of")

	return cmd
}

func init() {
	rootCmd.AddCommand(testsCmd)
}

func printMethodHistory(cmd *cobra.Command, store adapter.Store, caseID, name string) error {
	history, err := store.MethodHistory(cmd.Context(), caseID, name)
	if err != nil {
		return err
	}

	if len(history) == 0 {
		cmd.Printf("No versions stored for %s in case %s.\n", name, caseID)
		return nil
	}

	for _, method := range history {
		cmd.Printf("version %d:\n%s\n\n", method.Version, method.Code)
	}

	return nil
}

func renderMethodsTable(methods []m.TestMethod) string {
	var tableBuffer bytes.Buffer

	table := tablewriter.NewWriter(&tableBuffer)
	table.SetHeader([]string{"Case", "Method", "Version"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT, tablewriter.ALIGN_CENTER,
	})

	for _, method := range methods {
		table.Append([]string{method.CaseID, method.Name, fmt.Sprintf("%d", method.Version)})
	}

	table.SetFooter([]string{fmt.Sprintf("Total %d", len(methods)), "", ""})
	table.Render()

	return tableBuffer.String()
}
