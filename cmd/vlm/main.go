package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/gabewillen/mlx-vlm/internal/generate"
	"github.com/gabewillen/mlx-vlm/internal/hub"
	"github.com/gabewillen/mlx-vlm/internal/imageio"
	"github.com/gabewillen/mlx-vlm/internal/logger"
	"github.com/gabewillen/mlx-vlm/internal/prepare"
	"github.com/gabewillen/mlx-vlm/internal/tokenizer"
	"github.com/gabewillen/mlx-vlm/internal/version"
)

func main() {
	cmd := newCommand()
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newCommand builds the CLI. Generated text is the only thing printed to
// stdout; prompt echo and stats go to stderr behind --verbose.
func newCommand() *cli.Command {
	var (
		modelID   string
		imagePath string
		prompt    string
		maxTokens int64
		temp      float64
		seed      int64
		verbose   bool
		logLevel  string
		logFormat string
	)

	return &cli.Command{
		Name:    "vlm",
		Usage:   "Generate text from an image and a prompt with a vision-language model",
		Version: version.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "model",
				Aliases:     []string{"m"},
				Usage:       "model directory or HuggingFace repo id",
				Value:       "qnguyen3/nanoLLaVA",
				Destination: &modelID,
			},
			&cli.StringFlag{
				Name:        "image",
				Aliases:     []string{"i"},
				Usage:       "image URL or local file path",
				Value:       "http://images.cocodataset.org/val2017/000000039769.jpg",
				Destination: &imagePath,
			},
			&cli.StringFlag{
				Name:        "prompt",
				Aliases:     []string{"p"},
				Usage:       "prompt text, C-style escapes are decoded",
				Value:       "<image>\nWhat are these?",
				Destination: &prompt,
			},
			&cli.Int64Flag{
				Name:        "max-tokens",
				Aliases:     []string{"max_tokens", "n"},
				Usage:       "maximum number of tokens to generate",
				Value:       100,
				Destination: &maxTokens,
			},
			&cli.Float64Flag{
				Name:        "temp",
				Aliases:     []string{"temperature", "t"},
				Usage:       "sampling temperature (0 = greedy)",
				Value:       0.3,
				Destination: &temp,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "sampling RNG seed (default -1 = random)",
				Value:       -1,
				Destination: &seed,
			},
			&cli.BoolFlag{
				Name:        "verbose",
				Aliases:     []string{"v"},
				Usage:       "print prompt and generation stats to stderr",
				Destination: &verbose,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error)",
				Value:       "warn",
				Destination: &logLevel,
			},
			&cli.StringFlag{
				Name:        "log-format",
				Usage:       "log output format (pretty, json)",
				Value:       "pretty",
				Destination: &logFormat,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg := LoadConfig()
			applyConfig(c, cfg, &modelID, &maxTokens, &temp, &seed, &logLevel, &logFormat)

			log := newLogger(logLevel, logFormat)
			ctx = logger.WithContext(ctx, log)

			prompt = decodeEscapes(prompt)
			if seed < 0 {
				seed = time.Now().UnixNano()
			}

			loadStart := time.Now()
			rt, err := hub.Load(ctx, modelID, hub.Options{Progress: verbose})
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			log.Debug("model loaded", "elapsed", time.Since(loadStart).String())

			img, err := imageio.Load(ctx, imagePath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			rendered, err := rt.Template.Apply([]tokenizer.Message{
				{Role: "user", Content: prompt},
			}, true)
			if err != nil {
				if !errors.Is(err, tokenizer.ErrNoChatTemplate) {
					return cli.Exit(fmt.Sprintf("error: render prompt: %v", err), 1)
				}
				log.Warn("model ships no chat template, using raw prompt")
			}

			inputs, err := prepare.Prepare(rt.Family.Convention(), rt.Processor, rt.ImageProc, img, rendered)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			if verbose {
				fmt.Fprintln(os.Stderr, prompt)
			}

			result, err := generate.Run(ctx, rt.Model, rt.Processor, inputs.TokenIDs, inputs.Pixels, generate.Options{
				MaxTokens:   int(maxTokens),
				Temperature: temp,
				EOSTokenID:  rt.EOSTokenID,
				Seed:        seed,
			})
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			fmt.Println(result.Text)
			if verbose {
				fmt.Fprintf(os.Stderr, "%d tokens in %.2fs (%.1f tok/s)\n",
					result.Stats.TokensGenerated,
					result.Stats.Duration.Seconds(),
					result.Stats.TPS)
			}
			return nil
		},
	}
}
