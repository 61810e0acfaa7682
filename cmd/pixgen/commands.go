package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"pixproxy/internal/apiclient"
	"pixproxy/internal/domain"
	"pixproxy/internal/imagegen"
	"pixproxy/internal/infra"
	"pixproxy/internal/providers/image"
	"pixproxy/internal/storage"
)

// orchestrator is satisfied by both the in-process service and the remote
// API client.
type orchestrator interface {
	ExpandPrompt(ctx context.Context, req domain.PromptRequest) (*imagegen.PromptResult, error)
	GenerateImage(ctx context.Context, req domain.GenerationRequest) (*image.Image, error)
}

type cli struct {
	out    io.Writer
	errOut io.Writer

	apiURL  string
	origin  string
	timeout time.Duration
	verbose bool

	cfg    *infra.Config
	logger infra.Logger

	// loadConfig and newOrchestrator are replaced in tests.
	loadConfig      func() (*infra.Config, error)
	newOrchestrator func(c *cli) (orchestrator, error)
}

func newCLI(out, errOut io.Writer) *cli {
	return &cli{
		out:             out,
		errOut:          errOut,
		logger:          zerolog.New(io.Discard),
		loadConfig:      loadConfig,
		newOrchestrator: defaultOrchestrator,
	}
}

func loadConfig() (*infra.Config, error) {
	if err := infra.LoadDotEnv(); err != nil {
		return nil, err
	}
	return infra.LoadConfig()
}

// defaultOrchestrator talks to a remote proxy when an API URL is known and
// calls the providers directly otherwise.
func defaultOrchestrator(c *cli) (orchestrator, error) {
	if c.apiURL != "" {
		return apiclient.NewClient(apiclient.Options{BaseURL: c.apiURL, Origin: c.origin})
	}
	return imagegen.NewServiceFromConfig(c.cfg, imagegen.Dependencies{Logger: &c.logger})
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "pixgen",
		Short:         "Expand prompts and generate images through the configured providers",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			c.cfg = cfg
			if !cmd.Flags().Changed("api-url") {
				c.apiURL = cfg.APIURL
			}
			c.apiURL = strings.TrimRight(strings.TrimSpace(c.apiURL), "/")
			level := zerolog.WarnLevel
			if c.verbose {
				level = zerolog.DebugLevel
			}
			c.logger = zerolog.New(zerolog.ConsoleWriter{Out: c.errOut, TimeFormat: time.Kitchen}).
				Level(level).With().Timestamp().Logger()
			return nil
		},
	}
	root.SetOut(c.out)
	root.SetErr(c.errOut)

	flags := root.PersistentFlags()
	flags.StringVar(&c.apiURL, "api-url", "", "base URL of a running proxy (default from API_URL; empty calls providers directly)")
	flags.StringVar(&c.origin, "origin", "", "Origin header sent with prompt expansion requests")
	flags.DurationVar(&c.timeout, "timeout", 3*time.Minute, "overall deadline for one command")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "log provider attempts to stderr")

	root.AddCommand(newExpandCmd(c), newGenerateCmd(c), newEndpointsCmd(c))
	return root
}

func newExpandCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "expand <text...>",
		Short: "Expand a short phrase into a detailed image prompt",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, err := c.newOrchestrator(c)
			if err != nil {
				return err
			}
			ctx, cancel := c.context(cmd)
			defer cancel()

			res, err := orch.ExpandPrompt(ctx, domain.PromptRequest{Text: strings.Join(args, " "), Origin: c.origin})
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, res.Prompt)
			return nil
		},
	}
}

func newGenerateCmd(c *cli) *cobra.Command {
	var (
		outDir string
		name   string
		expand bool
	)
	cmd := &cobra.Command{
		Use:   "generate <prompt...>",
		Short: "Generate an image and save it to disk",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storage.NewFileStore(outDir)
			if err != nil {
				return err
			}
			orch, err := c.newOrchestrator(c)
			if err != nil {
				return err
			}
			ctx, cancel := c.context(cmd)
			defer cancel()

			text := strings.Join(args, " ")
			if expand {
				res, err := orch.ExpandPrompt(ctx, domain.PromptRequest{Text: text, Origin: c.origin})
				if err != nil {
					return err
				}
				text = res.Prompt
				color.New(color.FgHiBlack).Fprintf(c.out, "prompt: %s\n", text)
			}

			img, err := orch.GenerateImage(ctx, domain.GenerationRequest{Prompt: text})
			if err != nil {
				return err
			}
			path, err := store.SaveImage(ctx, name, img)
			if err != nil {
				return err
			}
			color.New(color.FgGreen, color.Bold).Fprint(c.out, "saved ")
			fmt.Fprintf(c.out, "%s (%s, %s, %d bytes)\n", path, providerLabel(img), img.ContentType, len(img.Data))
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "directory to write the image into")
	cmd.Flags().StringVarP(&name, "name", "n", "", "file name (default: random, extension from content type)")
	cmd.Flags().BoolVarP(&expand, "expand", "e", false, "expand the prompt before generating")
	return cmd
}

func newEndpointsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "endpoints",
		Short: "Show the ranked immediate-provider endpoints and the provider that would be used",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			endpoints, err := imagegen.Endpoints(c.cfg)
			if err != nil {
				return err
			}
			table := tablewriter.NewWriter(c.out)
			table.Header("Rank", "Name", "URL")
			for _, ep := range endpoints {
				table.Append(strconv.Itoa(ep.Rank), ep.Name, ep.URL)
			}
			if err := table.Render(); err != nil {
				return err
			}

			provider, err := image.Select(image.Credentials{
				HuggingFaceAPIKey: c.cfg.HuggingFaceAPIKey,
				ReplicateAPIKey:   c.cfg.ReplicateAPIKey,
			})
			if err != nil {
				color.New(color.FgYellow).Fprintln(c.out, domain.AsError(err).Message)
				return nil
			}
			fmt.Fprint(c.out, "provider: ")
			color.New(color.FgCyan, color.Bold).Fprintln(c.out, string(provider))
			return nil
		},
	}
}

func (c *cli) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func providerLabel(img *image.Image) string {
	if img.Provider == "" {
		return "unknown provider"
	}
	return img.Provider
}
