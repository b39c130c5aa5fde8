package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"supporthub/internal/auth"
	"supporthub/internal/rowstore/httpcsv"
	"supporthub/internal/sources"
	"supporthub/pkg/models"
)

const defaultBaseURL = "http://localhost:8080"

var (
	baseURL   string
	tokenPath string
	client    = &http.Client{Timeout: 60 * time.Second}
)

type directoryResponse struct {
	Data    map[string][]models.CanonicalRecord `json:"data"`
	Sources []models.SourceRef                  `json:"sources"`
	Refresh bool                                `json:"refresh"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	root := &cobra.Command{
		Use:           "supporthub",
		Short:         "Client for the supporthub directory service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&baseURL, "api", defaultBaseURL, "API base URL")
	root.PersistentFlags().StringVar(&tokenPath, "token", defaultTokenPath(), "token file path")

	root.AddCommand(
		loginCmd(),
		logoutCmd(),
		directoryCmd(),
		reconcileCmd(),
		exportCmd(),
		watchCmd(),
		hashPasswordCmd(),
		sourcesCmd(),
	)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loginCmd() *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in as an admin and store the token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" || password == "" {
				return fmt.Errorf("--username and --password are required")
			}
			var resp struct {
				Token     string `json:"token"`
				ExpiresAt string `json:"expires_at"`
			}
			payload := map[string]string{"username": username, "password": password}
			if err := doJSON(cmd.Context(), client, http.MethodPost, baseURL+"/auth/login", "", payload, &resp); err != nil {
				return fmt.Errorf("login failed: %w", err)
			}
			if err := saveToken(tokenPath, resp.Token); err != nil {
				return fmt.Errorf("save token: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "logged in until %s\n", resp.ExpiresAt)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "admin username")
	cmd.Flags().StringVar(&password, "password", "", "admin password")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return clearToken(tokenPath)
		},
	}
}

func fetchDirectory(ctx context.Context, force, noCache bool) (*directoryResponse, error) {
	q := url.Values{}
	if force {
		q.Set("force", "true")
	}
	if noCache {
		q.Set("noCache", "true")
	}
	endpoint := baseURL + "/directory"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	token, err := readToken(tokenPath)
	if err != nil {
		return nil, err
	}
	var resp directoryResponse
	if err := doJSON(ctx, client, http.MethodGet, endpoint, token, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func directoryCmd() *cobra.Command {
	var (
		region         string
		force, noCache bool
		asJSON         bool
	)
	cmd := &cobra.Command{
		Use:   "directory",
		Short: "Show the aggregated directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := fetchDirectory(cmd.Context(), force, noCache)
			if err != nil {
				return err
			}
			if region != "" {
				resp.Data = map[string][]models.CanonicalRecord{region: resp.Data[region]}
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}

			regions := make([]string, 0, len(resp.Data))
			for r := range resp.Data {
				regions = append(regions, r)
			}
			sort.Strings(regions)

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "REGION\tTITLE\tDONATE URL\tLOGO")
			for _, r := range regions {
				for _, rec := range resp.Data[r] {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r, rec.Title, rec.DonateURL, rec.Logo)
				}
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "\n%d sources, refresh=%s\n", len(resp.Sources), strconv.FormatBool(resp.Refresh))
			return nil
		},
	}
	cmd.Flags().StringVar(&region, "region", "", "only show this region")
	cmd.Flags().BoolVar(&force, "force", false, "also force a background reconciliation")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "rebuild instead of reading the cache (admin)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON")
	return cmd
}

func reconcileCmd() *cobra.Command {
	var force, wait bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Trigger a reconciliation run (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := readToken(tokenPath)
			if err != nil {
				return err
			}
			if token == "" {
				return fmt.Errorf("not logged in; run supporthub login")
			}
			q := url.Values{}
			q.Set("force", strconv.FormatBool(force))
			q.Set("wait", strconv.FormatBool(wait))

			var resp map[string]any
			if err := doJSON(cmd.Context(), client, http.MethodPost, baseURL+"/reconcile?"+q.Encode(), token, nil, &resp); err != nil {
				return err
			}
			b, _ := json.MarshalIndent(resp, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "run even if the last run is recent")
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the run to finish")
	return cmd
}

func exportCmd() *cobra.Command {
	var (
		outDir string
		format string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Save the served directory as CSV or JSON files per region",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := fetchDirectory(cmd.Context(), false, false)
			if err != nil {
				return err
			}
			for region, recs := range resp.Data {
				switch format {
				case "json":
					path := filepath.Join(outDir, region+".json")
					b, err := json.MarshalIndent(recs, "", "  ")
					if err != nil {
						return err
					}
					if err := os.MkdirAll(outDir, 0o755); err != nil {
						return err
					}
					if err := os.WriteFile(path, b, 0o644); err != nil {
						return err
					}
				case "csv":
					records := [][]string{models.CanonicalColumns}
					for _, r := range recs {
						hide := ""
						if r.Hide {
							hide = "true"
						}
						records = append(records, []string{r.Title, r.Description, r.DonateURL, r.State, r.City, r.Logo, r.Source, hide})
					}
					if err := httpcsv.WriteCSVFile(filepath.Join(outDir, region+".csv"), records); err != nil {
						return err
					}
				default:
					return fmt.Errorf("unknown format %q", format)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d listings\n", region, len(recs))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "out", "data/directory", "output directory")
	cmd.Flags().StringVar(&format, "format", "csv", "csv or json")
	return cmd
}

func watchCmd() *cobra.Command {
	var (
		tcpAddr string
		pretty  bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream reconciliation events",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			for {
				var err error
				if tcpAddr != "" {
					err = watchTCP(ctx, tcpAddr, pretty, out)
				} else {
					var endpoint string
					endpoint, err = websocketURL(baseURL, "/ws")
					if err != nil {
						return err
					}
					err = watchWS(ctx, endpoint, pretty, out)
				}
				if ctx.Err() != nil {
					return nil
				}
				fmt.Fprintf(os.Stderr, "disconnected: %v; reconnecting\n", err)
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(time.Second):
				}
			}
		},
	}
	cmd.Flags().StringVar(&tcpAddr, "tcp", "", "read the TCP feed at this address instead of the WebSocket")
	cmd.Flags().BoolVar(&pretty, "pretty", true, "pretty print events")
	return cmd
}

func hashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print a bcrypt hash for the admins config section",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func sourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Inspect source descriptor files",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate <file>",
		Short: "Check a sources file and list its regions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			descs, err := sources.Load(args[0])
			if err != nil {
				return err
			}
			regions, byRegion := models.GroupByRegion(descs)
			for _, r := range regions {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d sources\n", r, len(byRegion[r]))
				for _, d := range byRegion[r] {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", d.ID())
				}
			}
			return nil
		},
	})
	return cmd
}
