package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/comms-cli/internal/classify"
	"github.com/sells-group/comms-cli/internal/extract"
	"github.com/sells-group/comms-cli/internal/model"
	"github.com/sells-group/comms-cli/internal/rules"
)

// -- extract --

var extractCmd = &cobra.Command{
	Use:   "extract [text]",
	Short: "Extract structured details from a message",
	Long:  "Runs the extraction engine over the text argument, --file, or stdin and prints the result as JSON.",
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := readText(cmd, args)
		if err != nil {
			return err
		}
		tables, err := rules.Load(cfg.Rules.Path)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), extract.New(tables).Extract(text))
	},
}

// -- classify --

var classifyCmd = &cobra.Command{
	Use:   "classify [text]",
	Short: "Classify a message for emergencies",
	Long:  "Scores the text for emergency severity. With --customer the customer's emergency history from the store is included.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		text, err := readText(cmd, args)
		if err != nil {
			return err
		}
		tables, err := rules.Load(cfg.Rules.Path)
		if err != nil {
			return err
		}

		account, _ := cmd.Flags().GetString("account")
		customerID, _ := cmd.Flags().GetString("customer")
		req := classify.Request{Text: text, AccountToken: account, At: time.Now()}

		var opts []classify.Option
		if customerID != "" {
			st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck
			opts = append(opts, classify.WithHistory(st))
			req.Customer = &model.Customer{ID: customerID, AccountToken: account}
		}
		return printJSON(cmd.OutOrStdout(), classify.New(tables, opts...).Classify(ctx, req))
	},
}

// -- route --

var routeCmd = &cobra.Command{
	Use:   "route <incident.json>",
	Short: "Rank responders for an incident and print the routing decision",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrap(err, "read incident")
		}
		var inc model.Incident
		if err := json.Unmarshal(data, &inc); err != nil {
			return eris.Wrap(err, "parse incident")
		}
		if inc.AccountToken == "" {
			return eris.New("route: incident account_token is required")
		}
		if inc.ID == "" {
			inc.ID = uuid.NewString()
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		pool, err := env.Store.ListResponders(ctx, inc.AccountToken)
		if err != nil {
			return eris.Wrap(err, "route: list responders")
		}
		d, err := env.Ranker.Route(inc, pool)
		if err != nil {
			return eris.Wrap(err, "route")
		}
		if publish, _ := cmd.Flags().GetBool("notify"); publish {
			env.Notifier.Routing(ctx, *d)
		}
		return printJSON(cmd.OutOrStdout(), d)
	},
}

// -- responders --

var respondersCmd = &cobra.Command{
	Use:   "responders",
	Short: "Manage the responder roster",
}

var respondersLoadCmd = &cobra.Command{
	Use:   "load <file>",
	Short: "Insert or update responders from a JSON or YAML list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrap(err, "read responders")
		}
		account, _ := cmd.Flags().GetString("account")
		rs, err := parseResponders(data, account, time.Now().UTC())
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.UpsertResponders(ctx, rs)
		if err != nil {
			return eris.Wrap(err, "responders load")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d responders (%d rows changed).\n", len(rs), n)
		return nil
	},
}

var respondersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List responders for an account",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		account, _ := cmd.Flags().GetString("account")
		if account == "" {
			return eris.New("responders list: --account is required")
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rs, err := st.ListResponders(ctx, account)
		if err != nil {
			return eris.Wrap(err, "responders list")
		}
		return printJSON(cmd.OutOrStdout(), rs)
	},
}

// parseResponders decodes a responder list. YAML is a superset of JSON, so
// both go through the YAML decoder and then onto the JSON field names.
func parseResponders(data []byte, account string, now time.Time) ([]model.Responder, error) {
	var raw []map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrap(err, "parse responders")
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil, eris.Wrap(err, "parse responders")
	}
	var rs []model.Responder
	if err := json.Unmarshal(buf, &rs); err != nil {
		return nil, eris.Wrap(err, "parse responders")
	}

	for i := range rs {
		r := &rs[i]
		if r.ID == "" {
			return nil, eris.Errorf("responder %d: id is required", i+1)
		}
		if r.AccountToken == "" {
			r.AccountToken = account
		}
		if r.AccountToken == "" {
			return nil, eris.Errorf("responder %s: account_token is required (or pass --account)", r.ID)
		}
		r.UpdatedAt = now
	}
	return rs, nil
}

// readText returns the message text from args, --file, or stdin.
func readText(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	file, _ := cmd.Flags().GetString("file")
	var (
		data []byte
		err  error
	)
	switch file {
	case "", "-":
		data, err = io.ReadAll(cmd.InOrStdin())
	default:
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return "", eris.Wrap(err, "read text")
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", eris.New("no text given")
	}
	return text, nil
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	extractCmd.Flags().String("file", "", "read the message from a file (- for stdin)")
	classifyCmd.Flags().String("file", "", "read the message from a file (- for stdin)")
	classifyCmd.Flags().String("account", "", "account token")
	classifyCmd.Flags().String("customer", "", "customer id for history analysis")
	routeCmd.Flags().Bool("notify", false, "publish the decision to the configured sinks")
	respondersLoadCmd.Flags().String("account", "", "account token for entries that omit one")
	respondersListCmd.Flags().String("account", "", "account token")

	respondersCmd.AddCommand(respondersLoadCmd)
	respondersCmd.AddCommand(respondersListCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(routeCmd)
	rootCmd.AddCommand(respondersCmd)
}
