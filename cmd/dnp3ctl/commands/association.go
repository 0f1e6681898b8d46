package commands

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var errAddressRequired = errors.New("address argument is required")

func associationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "association",
		Aliases: []string{"assoc"},
		Short:   "Manage associations with outstations",
	}

	cmd.AddCommand(associationListCmd())
	cmd.AddCommand(associationAddCmd())
	cmd.AddCommand(associationDeleteCmd())
	cmd.AddCommand(associationPollCmd())
	cmd.AddCommand(decodeLevelCmd())

	return cmd
}

// --- association list ---

func associationListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all associations known to the control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			views, err := httpClient.ListAssociations(cmd.Context())
			if err != nil {
				return fmt.Errorf("list associations: %w", err)
			}

			out, err := formatAssociations(views, outputFormat)
			if err != nil {
				return fmt.Errorf("format associations: %w", err)
			}

			fmt.Print(out)
			return nil
		},
	}
}

// --- association add ---

func associationAddCmd() *cobra.Command {
	var (
		address    uint16
		class1     bool
		class2     bool
		class3     bool
		pollPeriod time.Duration
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a new association",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := addAssociationRequest{
				Address: address,
				Class1:  class1,
				Class2:  class2,
				Class3:  class3,
			}
			if pollPeriod > 0 {
				req.IntegrityPollPeriod = pollPeriod.String()
			}

			if err := httpClient.AddAssociation(cmd.Context(), req); err != nil {
				return fmt.Errorf("add association: %w", err)
			}

			fmt.Printf("Association %d added.\n", address)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.Uint16Var(&address, "address", 0, "outstation link-layer address (required)")
	flags.BoolVar(&class1, "class1", false, "enable unsolicited Class 1 reporting")
	flags.BoolVar(&class2, "class2", false, "enable unsolicited Class 2 reporting")
	flags.BoolVar(&class3, "class3", false, "enable unsolicited Class 3 reporting")
	flags.DurationVar(&pollPeriod, "poll-period", 0, "periodic integrity poll interval (0 disables)")

	return cmd
}

// --- association delete ---

func associationDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <address>",
		Short: "Remove an association",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			address, err := parseAddressArg(args)
			if err != nil {
				return err
			}

			if err := httpClient.RemoveAssociation(cmd.Context(), address); err != nil {
				return fmt.Errorf("remove association: %w", err)
			}

			fmt.Printf("Association %d removed.\n", address)
			return nil
		},
	}
}

// --- association poll ---

func associationPollCmd() *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "poll <address>",
		Short: "Enqueue a one-shot read task against an association",
		Long:  "Enqueues an integrity (Class 0 + events) or events-only read task for immediate execution.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			address, err := parseAddressArg(args)
			if err != nil {
				return err
			}

			if err := httpClient.EnqueueTask(cmd.Context(), address, kind); err != nil {
				return fmt.Errorf("enqueue task: %w", err)
			}

			fmt.Printf("Task %q enqueued for association %d.\n", kind, address)
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "integrity", "task kind: integrity or events")

	return cmd
}

// --- decode-level ---

func decodeLevelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode-level <level>",
		Short: "Set the session's frame decode log level",
		Long:  "level is one of debug, info, warn, error.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := httpClient.SetDecodeLevel(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("set decode level: %w", err)
			}

			fmt.Printf("Decode level set to %q.\n", args[0])
			return nil
		},
	}
}

func parseAddressArg(args []string) (uint16, error) {
	if len(args) == 0 || args[0] == "" {
		return 0, errAddressRequired
	}
	v, err := strconv.ParseUint(args[0], 10, 16)
	if err != nil {
		return 0, fmt.Errorf("parse address %q: %w", args[0], err)
	}
	return uint16(v), nil
}
