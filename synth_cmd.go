package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/ttscache/internal/service"
	"github.com/dgnsrekt/ttscache/internal/tts"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const synthExample = `ttscache synth "Hello world"
echo "Hello world" | ttscache synth -o hello.mp3
ttscache synth --markdown --file README.md --engine fallback --format wav`

var (
	synthEngine   string
	synthVoice    string
	synthFormat   string
	synthRate     int
	synthPitch    int
	synthSSML     bool
	synthFile     string
	synthMarkdown bool
	synthOutput   string
	synthCopy     bool
	synthJSON     bool

	synthCmd = &cobra.Command{
		Use:     "synth [TEXT|-]",
		Short:   "Synthesize text through the cache",
		Long:    paragraph(fmt.Sprintf("\n%s text, or reuse the cached audio for an identical earlier request. Text comes from the arguments, a file or stdin.", keyword("Synthesize"))),
		Example: paragraph(synthExample),
		RunE:    runSynth,
	}
)

func init() {
	synthCmd.Flags().StringVarP(&synthEngine, "engine", "e", "", "auto, primary or fallback (default from config)")
	synthCmd.Flags().StringVarP(&synthVoice, "voice", "v", "", "voice id (default from config)")
	synthCmd.Flags().StringVarP(&synthFormat, "format", "f", "", "mp3, ogg or wav (default from config)")
	synthCmd.Flags().IntVarP(&synthRate, "rate", "r", 0, "speaking rate adjustment in percent (-50..50)")
	synthCmd.Flags().IntVarP(&synthPitch, "pitch", "p", 0, "pitch adjustment in semitones (-12..12)")
	synthCmd.Flags().BoolVar(&synthSSML, "ssml", false, "treat the text as SSML markup")
	synthCmd.Flags().StringVar(&synthFile, "file", "", "read the text from a file")
	synthCmd.Flags().BoolVar(&synthMarkdown, "markdown", false, "extract speakable text from markdown")
	synthCmd.Flags().StringVarP(&synthOutput, "output", "o", "", "copy the audio to a file, or - for stdout")
	synthCmd.Flags().BoolVar(&synthCopy, "copy", false, "copy the audio path to the clipboard")
	synthCmd.Flags().BoolVar(&synthJSON, "json", false, "print the result as JSON")

	synthCmd.MarkFlagsMutuallyExclusive("ssml", "markdown")
}

func runSynth(cmd *cobra.Command, args []string) error {
	text, err := readText(args, synthFile, cmd.InOrStdin())
	if err != nil {
		return err
	}
	if synthMarkdown {
		text = tts.PlainTextFromMarkdown([]byte(text))
	}

	a, err := newApp(cmd.Context(), cfg, false)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	in := service.Input{
		Text:   text,
		Engine: synthEngine,
		Voice:  synthVoice,
		Rate:   synthRate,
		Pitch:  synthPitch,
		Format: synthFormat,
		SSML:   synthSSML,
	}
	start := time.Now()
	resp, err := a.svc.Synthesize(cmd.Context(), in)
	if err != nil {
		return err
	}
	path := a.store.PathFor(resp.Fingerprint, resp.Format)
	log.Debug("Synthesized", "fingerprint", resp.Fingerprint.Short(), "cached", resp.Cached, "took", time.Since(start))

	if synthOutput != "" {
		if err := writeOutput(path, synthOutput, cmd.OutOrStdout()); err != nil {
			return err
		}
	}
	if synthCopy {
		if err := clipboard.WriteAll(path); err != nil {
			return fmt.Errorf("unable to copy to clipboard: %w", err)
		}
	}

	// stdout carries the audio
	if synthOutput == "-" {
		return nil
	}
	out := cmd.OutOrStdout()
	if synthJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	_, err = fmt.Fprint(out, describe(resp, path))
	return err
}

// readText takes the text from --file, from stdin for no arguments or a
// single "-", or from the joined arguments.
func readText(args []string, file string, stdin io.Reader) (string, error) {
	switch {
	case file != "":
		if len(args) > 0 {
			return "", errors.New("use either --file or text arguments")
		}
		b, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("unable to read file: %w", err)
		}
		return string(b), nil
	case len(args) == 0 || (len(args) == 1 && args[0] == "-"):
		if f, ok := stdin.(*os.File); ok && len(args) == 0 && term.IsTerminal(int(f.Fd())) {
			return "", errors.New("missing text: pass it as an argument, with --file or on stdin")
		}
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("unable to read from stdin: %w", err)
		}
		return string(b), nil
	default:
		return strings.Join(args, " "), nil
	}
}

// writeOutput copies the artifact at src to dst, where "-" is stdout.
// Audio is never written to a terminal.
func writeOutput(src, dst string, stdout io.Writer) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("unable to open audio: %w", err)
	}
	defer func() { _ = in.Close() }()

	if dst == "-" {
		if f, ok := stdout.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			return errors.New("refusing to write audio to a terminal, redirect stdout or use -o FILE")
		}
		_, err = io.Copy(stdout, in)
		return err
	}

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("unable to create output file: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("unable to write output file: %w", err)
	}
	return out.Close()
}

func describe(resp *service.Response, path string) string {
	state := "synthesized"
	if resp.Cached {
		state = "cached"
	}
	duration := "unknown"
	if resp.Duration != nil {
		duration = (time.Duration(*resp.Duration * float64(time.Second))).Round(time.Millisecond).String()
	}
	size := "?"
	if st, err := os.Stat(path); err == nil {
		size = humanize.Bytes(uint64(st.Size())) //nolint:gosec
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", keyword(state), path)
	fmt.Fprintf(&b, "  %s %s / %s\n", faint("engine"), resp.Engine, resp.Voice)
	fmt.Fprintf(&b, "  %s %s, %s, %s\n", faint("audio "), resp.Format, duration, size)
	fmt.Fprintf(&b, "  %s %s\n", faint("url   "), resp.AudioURL)
	return b.String()
}
