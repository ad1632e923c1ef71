package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dreamware/fleetwar/internal/cluster"
	"github.com/dreamware/fleetwar/internal/deployer"
	"github.com/dreamware/fleetwar/internal/history"
	"github.com/spf13/cobra"
)

type options struct {
	coordinator string
	vhost       string
	timeout     time.Duration
}

// client talks to the coordinator. Deploys can run for minutes, so there is
// no timeout unless --timeout sets one.
func (o *options) client() cluster.JSONClient {
	return cluster.JSONClient{HTTP: &http.Client{Timeout: o.timeout}}
}

// The coordinator's failure body. Only the fields deployctl prints.
type failure struct {
	OperationId string `json:"operation_id"`
	Error       string `json:"error"`
	Kind        string `json:"kind"`
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:          "deployctl",
		Short:        "Deploy webapps to every node of a fleetwar cluster",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.coordinator, "coordinator", envOr("FLEETWAR_COORDINATOR", "http://127.0.0.1:8080"), "coordinator base URL")
	root.PersistentFlags().StringVar(&opts.vhost, "vhost", deployer.DefaultVHost, "virtual host")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 0, "give up on the coordinator after this long (0 waits until it answers)")

	root.AddCommand(newDeployCmd(opts), newUndeployCmd(opts), newStatusCmd(opts), newHistoryCmd(opts))
	return root
}

func newDeployCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "deploy ARTIFACT...",
		Short: "Deploy .war artifacts to the whole cluster",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			artifacts := make([]string, len(args))
			for i, a := range args {
				abs, err := filepath.Abs(a)
				if err != nil {
					return err
				}
				artifacts[i] = abs
			}
			var resp struct {
				OperationId string          `json:"operation_id"`
				Units       []deployer.Unit `json:"units"`
			}
			err := opts.client().Post(cmd.Context(), opts.coordinator+"/deploy",
				map[string]any{"artifacts": artifacts, "vhost": opts.vhost}, &resp)
			if err != nil {
				return explain(err)
			}
			out := cmd.OutOrStdout()
			for _, u := range resp.Units {
				fmt.Fprintf(out, "deployed %s (%s)\n", u.Context, filepath.Base(u.Artifact))
			}
			fmt.Fprintf(out, "operation %s\n", resp.OperationId)
			return nil
		},
	}
}

func newUndeployCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "undeploy CONTEXT...",
		Short: "Undeploy contexts from the whole cluster",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				OperationId string                                      `json:"operation_id"`
				Results     map[string]map[string]cluster.CommandResult `json:"results"`
			}
			err := opts.client().Post(cmd.Context(), opts.coordinator+"/undeploy",
				map[string]any{"contexts": args, "vhost": opts.vhost}, &resp)
			if err != nil {
				return explain(err)
			}
			out := cmd.OutOrStdout()
			for _, c := range args {
				nodes := resp.Results[c]
				ids := make([]string, 0, len(nodes))
				for id := range nodes {
					ids = append(ids, id)
				}
				sort.Strings(ids)
				for _, id := range ids {
					res := nodes[id]
					state := "ok"
					if !res.OK {
						state = "refused: " + res.Message
					}
					fmt.Fprintf(out, "%s on %s: %s\n", c, id, state)
				}
			}
			fmt.Fprintf(out, "operation %s\n", resp.OperationId)
			return nil
		},
	}
}

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the cluster-wide status of every context",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var view deployer.ClusterView
			q := url.Values{"vhost": {opts.vhost}}
			if err := opts.client().Get(cmd.Context(), opts.coordinator+"/status?"+q.Encode(), &view); err != nil {
				return explain(err)
			}
			return printStatus(cmd.OutOrStdout(), &view)
		},
	}
}

func newHistoryCmd(opts *options) *cobra.Command {
	var limit int
	var kind string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past deploy and undeploy operations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{"limit": {strconv.Itoa(limit)}}
			if kind != "" {
				q.Set("kind", kind)
			}
			var resp struct {
				Operations []history.Operation `json:"operations"`
			}
			if err := opts.client().Get(cmd.Context(), opts.coordinator+"/history?"+q.Encode(), &resp); err != nil {
				return explain(err)
			}
			return printHistory(cmd.OutOrStdout(), resp.Operations)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of operations")
	cmd.Flags().StringVar(&kind, "kind", "", "only show deploy or undeploy operations")
	return cmd
}

func printStatus(w io.Writer, view *deployer.ClusterView) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CONTEXT\tPATH\tSTATE\tCOHERENT\tNODES")
	names := make([]string, 0, len(view.ByContext))
	for name := range view.ByContext {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		st := view.ByContext[name]
		state := st.StateName
		if state == "" {
			state = "MIXED"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", name, st.Path, state, st.Coherent, strings.Join(st.PresentOn, ","))
	}
	return tw.Flush()
}

func printHistory(w io.Writer, ops []history.Operation) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tKIND\tOUTCOME\tCONTEXTS\tERROR")
	for _, op := range ops {
		contexts := make([]string, len(op.Units))
		for i, u := range op.Units {
			contexts[i] = u.Context
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", op.StartedAt.Format("2006-01-02 15:04:05"),
			op.Kind, op.Outcome, strings.Join(contexts, ","), op.ErrorKind)
	}
	return tw.Flush()
}

// explain turns a coordinator failure body into a readable error.
func explain(err error) error {
	var httpErr *cluster.HTTPError
	if !errors.As(err, &httpErr) {
		return err
	}
	var f failure
	if json.Unmarshal([]byte(httpErr.Body), &f) != nil || f.Error == "" {
		return err
	}
	if f.Kind != "" {
		return fmt.Errorf("%s (%s)", f.Error, f.Kind)
	}
	return errors.New(f.Error)
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}
