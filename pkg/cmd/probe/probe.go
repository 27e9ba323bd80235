package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/mpapenbr/livetiming-gateway-go/pkg/cmd/util"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/health"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/model"
)

var errUnhealthy = errors.New("at least one vendor endpoint is not reachable")

func NewProbeCmd() *cobra.Command {
	var (
		format  string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "checks if the vendor live timing endpoints are reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := util.SetupLogger(); err != nil {
				return err
			}
			checker := health.NewChecker(health.WithTimeout(timeout))
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			results := checker.Check(ctx)
			if err := printResults(cmd.OutOrStdout(), format, results); err != nil {
				return err
			}
			if !health.Healthy(results) {
				cmd.SilenceUsage = true
				return errUnhealthy
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", "table", "output format (json, table)")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "timeout per probe")
	return cmd
}

func printResults(out io.Writer, format string, results []health.Result) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	case "table":
		t := table.New().
			Border(lipgloss.NormalBorder()).
			Headers("NAME", "SERIES", "REACHABLE", "STATUS", "LATENCY", "DETAIL")
		for i := range results {
			r := &results[i]
			detail := r.Detail
			if r.Error != "" {
				detail = r.Error
			}
			t.Row(
				r.Name,
				strings.Join(lo.Map(r.Series, func(s model.Series, _ int) string {
					return string(s)
				}), ","),
				fmt.Sprint(r.Reachable),
				fmt.Sprint(r.Status),
				fmt.Sprintf("%dms", r.LatencyMs),
				detail,
			)
		}
		_, err := fmt.Fprintln(out, t.String())
		return err
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
