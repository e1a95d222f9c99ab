package main

import (
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/registry-crawler/internal/api"
	"github.com/sells-group/registry-crawler/internal/model"
)

var (
	crawlName     string
	crawlRegister string
	crawlTaxID    string
	crawlOut      string
)

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Crawl a single company and print the reconciled record",
	Example: `  registry-crawler crawl --name "MAGNA Real Estate GmbH" --register "HRB 182742"
  registry-crawler crawl --name "Example GmbH" --register HRB1 --tax-id DE123456789 --out example.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		id, err := model.NewIdentifier(crawlName, crawlRegister, crawlTaxID)
		if err != nil {
			return eris.Wrap(err, "crawl")
		}

		env, err := initCrawler(ctx, "crawl")
		if err != nil {
			return err
		}
		defer env.Close()

		var resp api.CompanyResponse
		out, runErr := env.Orchestrator.Run(ctx, id)
		if runErr != nil {
			resp = api.FailureResponse(id.Name(), id.RegisterNumber(), runErr.Error())
		} else {
			resp = api.NewCompanyResponse(id, out)
			zap.L().Info("crawl complete",
				zap.String("run_id", out.RunID),
				zap.Int("sources_ok", out.Succeeded()),
				zap.Int("fields", out.Record.Len()),
			)
		}

		if err := writeResponse(crawlOut, resp); err != nil {
			return err
		}
		if runErr != nil {
			return eris.Wrap(runErr, "crawl")
		}
		return nil
	},
}

func init() {
	crawlCmd.Flags().StringVar(&crawlName, "name", "", "company name")
	crawlCmd.Flags().StringVar(&crawlRegister, "register", "", "register number, e.g. \"HRB 182742\"")
	crawlCmd.Flags().StringVar(&crawlTaxID, "tax-id", "", "VAT id (optional)")
	crawlCmd.Flags().StringVar(&crawlOut, "out", "-", "output file, - for stdout")
	_ = crawlCmd.MarkFlagRequired("name")
	_ = crawlCmd.MarkFlagRequired("register")
	rootCmd.AddCommand(crawlCmd)
}

// writeResponse writes resp as indented JSON to path, or stdout for "-".
func writeResponse(path string, resp api.CompanyResponse) error {
	var w io.Writer = os.Stdout
	if path != "" && path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return eris.Wrap(err, "create output file")
		}
		defer f.Close() //nolint:errcheck
		w = f
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		return eris.Wrap(err, "write output")
	}
	return nil
}
