package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-narrator/internal/audio"
	"github.com/loqalabs/loqa-narrator/internal/pipeline"
	"github.com/loqalabs/loqa-narrator/internal/tts"
	"github.com/spf13/cobra"
)

type synthFlags struct {
	backend  string
	voice    string
	language string
	mimeType string
	source   string
	output   string
}

func newSynthCommand(global *globalFlags) *cobra.Command {
	flags := &synthFlags{}
	cmd := &cobra.Command{
		Use:   "synth [file]",
		Short: "Narrate a text locally and write the assembled audio to a file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.load()
			if err != nil {
				return err
			}
			text, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			opts, err := flags.options(cfg.Service.DefaultBackend, cfg.Service.DefaultVoice, cfg.Service.DefaultLanguage, cfg.Service.DefaultMIMEType)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			log := global.logger()
			synth, err := tts.New(ctx, opts.Backend, cfg.Backends)
			if err != nil {
				return err
			}
			p, err := pipeline.New(pipeline.OptionsFromConfig(cfg.Pipeline), tts.Set{opts.Backend: synth}, audio.NewAssembler(cfg.Assembler, log), log)
			if err != nil {
				return err
			}

			output := flags.output
			if output == "" {
				output = "narration" + opts.Encoding.Ext()
			}
			if output, err = filepath.Abs(output); err != nil {
				return err
			}
			res, err := p.Run(ctx, pipeline.Request{Text: text, Options: opts, OutputPath: output})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "wrote %s\n", res.OutputPath)
			fmt.Fprintf(out, "chunks: %d (forced: %d)\n", res.Chunks, res.ForcedChunks)
			if res.AudioDuration > 0 {
				fmt.Fprintf(out, "duration: %s\n", res.AudioDuration)
			}
			fmt.Fprintf(out, "elapsed: %s\n", res.Elapsed.Round(time.Millisecond))
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "Output file (default narration.<ext> in the current directory)")
	return cmd
}

func (f *synthFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.backend, "backend", "b", "", "Backend to synthesize with (google, polly, azure)")
	cmd.Flags().StringVar(&f.voice, "voice", "", "Voice name")
	cmd.Flags().StringVar(&f.language, "language", "", "Language code")
	cmd.Flags().StringVar(&f.mimeType, "mime", "", "Output MIME type (audio/mpeg, audio/wav, audio/ogg, audio/opus, audio/pcm)")
	cmd.Flags().StringVar(&f.source, "source", "", "Source tag recorded with the narration")
}

// options fills unset flags from the configured defaults.
func (f *synthFlags) options(backendName, voice, language, mimeType string) (tts.Options, error) {
	if f.backend != "" {
		backendName = f.backend
	}
	backend, err := tts.ParseBackend(backendName)
	if err != nil {
		return tts.Options{}, err
	}
	opts := tts.Options{Backend: backend, VoiceName: voice, LanguageCode: language, SourceTag: f.source}
	if f.voice != "" {
		opts.VoiceName = f.voice
		opts.LanguageCode = f.language
	} else if f.language != "" {
		opts.LanguageCode = f.language
	}
	if f.mimeType != "" {
		mimeType = f.mimeType
	}
	if opts.Encoding, err = tts.EncodingForMIME(mimeType, backend); err != nil {
		return tts.Options{}, err
	}
	return opts, opts.Validate()
}
