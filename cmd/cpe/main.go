package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/sportarchive/cpe-sqs/cpejobs"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "cpe",
		Short:         "CPE client CLI",
		Long:          "Send CPE commands and notifications through SQS and poll the notifications of a client.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("region", "", "AWS region (defaults to AWS_REGION / AWS_DEFAULT_REGION)")
	rootCmd.PersistentFlags().String("key", "", "AWS access key id (defaults to AWS_ACCESS_KEY_ID)")
	rootCmd.PersistentFlags().String("secret", "", "AWS secret key (defaults to AWS_SECRET_KEY / AWS_SECRET_ACCESS_KEY)")
	rootCmd.PersistentFlags().String("endpoint", os.Getenv("CPE_SQS_ENDPOINT"), "SQS endpoint override (elasticmq, localstack)")
	rootCmd.PersistentFlags().Bool("ambient", false, "Use the ambient AWS credentials (instance profile, task role)")
	rootCmd.PersistentFlags().Bool("create-queues", false, "Create queues given by name when they do not exist")
	rootCmd.PersistentFlags().Bool("debug", false, "Debug logging")
	rootCmd.PersistentFlags().String("client", "", "Client definition: JSON object or path to a JSON file")
	_ = rootCmd.MarkPersistentFlagRequired("client")

	// start-job
	startCmd := &cobra.Command{
		Use:   "start-job",
		Short: "Send START_JOB to the client input queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			input, _ := cmd.Flags().GetString("input")
			jobID, _ := cmd.Flags().GetString("job-id")

			return run(cmd, func(ctx context.Context, sdk *cpejobs.SDK, client []byte) error {
				data, err := readJSON(input)
				if err != nil {
					return err
				}

				id, err := sdk.StartJob(ctx, client, data, jobID)
				if err != nil {
					return err
				}

				fmt.Println(id)
				return nil
			})
		},
	}
	startCmd.Flags().String("input", "", "Job input: JSON object or path to a JSON file")
	startCmd.Flags().String("job-id", "", "Job id (generated when empty)")
	_ = startCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(startCmd)

	// send
	sendCmd := &cobra.Command{
		Use:   "send",
		Short: "Send a notification to the client output queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, _ := cmd.Flags().GetString("type")
			jobID, _ := cmd.Flags().GetString("job-id")
			data, _ := cmd.Flags().GetString("data")

			return run(cmd, func(ctx context.Context, sdk *cpejobs.SDK, client []byte) error {
				payload, err := readJSON(data)
				if err != nil {
					return err
				}

				env, err := cpejobs.NewEnvelope(cpejobs.MsgType(strings.ToUpper(typ)), jobID, json.RawMessage(payload), time.Now())
				if err != nil {
					return err
				}

				return sdk.Send(ctx, client, env)
			})
		},
	}
	sendCmd.Flags().String("type", "", "Message type, e.g. JOB_COMPLETED")
	sendCmd.Flags().String("job-id", "", "Job id")
	sendCmd.Flags().String("data", "{}", "Message data: JSON or path to a JSON file")
	_ = sendCmd.MarkFlagRequired("type")
	_ = sendCmd.MarkFlagRequired("job-id")
	rootCmd.AddCommand(sendCmd)

	// poll
	pollCmd := &cobra.Command{
		Use:   "poll",
		Short: "Print the notifications of the client output queue until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			wait, _ := cmd.Flags().GetInt32("wait")
			del, _ := cmd.Flags().GetBool("delete")

			return run(cmd, func(ctx context.Context, sdk *cpejobs.SDK, client []byte) error {
				err := sdk.Poll(ctx, client, wait, func(_ context.Context, msg *cpejobs.Message) error {
					fmt.Println(msg.Body)
					if !del {
						return cpejobs.ErrRetain
					}
					return nil
				})
				if ctx.Err() != nil {
					return nil
				}
				return err
			})
		},
	}
	pollCmd.Flags().Int32("wait", 20, "Long poll wait in seconds (0-20)")
	pollCmd.Flags().Bool("delete", false, "Delete the messages once printed")
	rootCmd.AddCommand(pollCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// run builds the SDK from the global flags and calls fn until SIGINT/SIGTERM.
func run(cmd *cobra.Command, fn func(ctx context.Context, sdk *cpejobs.SDK, client []byte) error) error {
	debug, _ := cmd.Flags().GetBool("debug")
	log, err := newLogger(debug)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	var explicit cpejobs.Overrides
	explicit.Region, _ = cmd.Flags().GetString("region")
	explicit.Key, _ = cmd.Flags().GetString("key")
	explicit.Secret, _ = cmd.Flags().GetString("secret")
	explicit.Endpoint, _ = cmd.Flags().GetString("endpoint")
	explicit.CreateQueues = boolFlag(cmd, "create-queues")
	explicit.Debug = boolFlag(cmd, "debug")
	ambient, _ := cmd.Flags().GetBool("ambient")

	client, _ := cmd.Flags().GetString("client")
	clientJSON, err := readJSON(client)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := cpejobs.LoadConfig(explicit)
	if err != nil {
		return err
	}

	sdk, err := cpejobs.New(ctx, cfg, ambient, log.Named("cpe"))
	if err != nil {
		return err
	}

	return fn(ctx, sdk, clientJSON)
}

// boolFlag is nil unless the flag was given, the environment decides then.
func boolFlag(cmd *cobra.Command, name string) *bool {
	if !cmd.Flags().Changed(name) {
		return nil
	}

	v, _ := cmd.Flags().GetBool(name)
	return &v
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}

	return zap.NewProduction()
}

// readJSON returns v itself when it looks like JSON, the content of the file
// named v otherwise.
func readJSON(v string) ([]byte, error) {
	s := strings.TrimSpace(v)
	if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
		return []byte(s), nil
	}

	data, err := os.ReadFile(s)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s, err)
	}

	return data, nil
}
