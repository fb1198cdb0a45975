package doctor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
)

// versionTimeout bounds each `<tool> -version` probe.
const versionTimeout = 5 * time.Second

// Status is the outcome of one check.
type Status struct {
	Name     string
	Required bool
	OK       bool
	Skipped  bool
	Version  string
	Path     string
	Detail   string

	// Instructions tell the operator how to fix a failed check.
	Instructions string
}

// Config names what to check.
type Config struct {
	PiperBinary     string
	PiperModelsDir  string
	FFmpegBinary    string
	FFprobeBinary   string
	CredentialsFile string
	Offline         bool
}

// Run performs every check in a fixed order.
func Run(ctx context.Context, cfg Config) []Status {
	results := []Status{
		checkBinary(ctx, "piper", cfg.PiperBinary, "--version", false, piperInstructions()),
		checkVoices(cfg.PiperModelsDir),
		checkBinary(ctx, "ffmpeg", cfg.FFmpegBinary, "-version", true, ffmpegInstructions()),
		checkBinary(ctx, "ffprobe", cfg.FFprobeBinary, "-version", false, ffmpegInstructions()),
		checkCredentials(cfg.CredentialsFile, cfg.Offline),
	}
	if cfg.Offline {
		// without the primary, the fallback is the only engine
		results[0].Required = true
		results[1].Required = true
	}

	for _, st := range results {
		switch {
		case st.Skipped:
		case st.OK:
			log.Debug("Dependency found", "name", st.Name, "path", st.Path, "version", st.Version)
		case st.Required:
			log.Error("Missing required dependency", "name", st.Name, "detail", st.Detail)
		default:
			log.Warn("Missing optional dependency", "name", st.Name, "detail", st.Detail)
		}
	}
	return results
}

// Err joins the failed required checks, or returns nil.
func Err(results []Status) error {
	var errs []error
	for _, st := range results {
		if st.Required && !st.OK && !st.Skipped {
			errs = append(errs, fmt.Errorf("%s: %s", st.Name, st.Detail))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("missing required dependencies: %w", errors.Join(errs...))
}

func checkBinary(ctx context.Context, name, binary, versionFlag string, required bool, instructions string) Status {
	st := Status{Name: name, Required: required}
	if binary == "" {
		binary = name
	}

	path, err := exec.LookPath(binary)
	if err != nil {
		st.Detail = fmt.Sprintf("%s not found", binary)
		st.Instructions = instructions
		return st
	}
	st.OK = true
	st.Path = path

	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, path, versionFlag).CombinedOutput()
	if err == nil {
		st.Version = parseVersion(string(out))
	}
	if st.Version == "" {
		st.Version = "installed"
	}
	return st
}

// parseVersion picks the version out of the first output line: the token
// after "version" (ffmpeg, ffprobe), or the whole line when it is a bare
// version (piper).
func parseVersion(out string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
	fields := strings.Fields(line)
	for i, f := range fields {
		if f == "version" && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	if len(fields) == 1 {
		return fields[0]
	}
	return ""
}

func checkVoices(dir string) Status {
	st := Status{Name: "piper voices", Path: dir}
	entries, err := os.ReadDir(dir)
	if err != nil {
		st.Detail = fmt.Sprintf("cannot read %s", dir)
		st.Instructions = voiceInstructions(dir)
		return st
	}

	n := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".onnx" {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, name+".json")); err == nil {
			n++
		}
	}
	if n == 0 {
		st.Detail = "no voices installed"
		st.Instructions = voiceInstructions(dir)
		return st
	}
	st.OK = true
	st.Version = fmt.Sprintf("%d voices", n)
	return st
}

func checkCredentials(file string, offline bool) Status {
	st := Status{Name: "google credentials"}
	switch {
	case offline:
		st.Skipped = true
		st.Detail = "offline mode"
	case file == "":
		st.OK = true
		st.Version = "application default"
	default:
		st.Path = file
		if _, err := os.Stat(file); err != nil {
			st.Detail = fmt.Sprintf("cannot read %s", file)
			st.Instructions = "Set GOOGLE_APPLICATION_CREDENTIALS to a service account key file"
			return st
		}
		st.OK = true
		st.Version = "service account"
	}
	return st
}

func piperInstructions() string {
	return "Download from: https://github.com/rhasspy/piper/releases\n    Extract and add to PATH, or set PIPER_BINARY"
}

func voiceInstructions(dir string) string {
	return "Download voices from: https://huggingface.co/rhasspy/piper-voices\n" +
		"    Place <voice>.onnx and <voice>.onnx.json in: " + dir
}

func ffmpegInstructions() string {
	switch runtime.GOOS {
	case "darwin":
		return "Install with: brew install ffmpeg"
	case "linux":
		distro := detectLinuxDistro()
		switch distro {
		case "debian", "ubuntu":
			return "Install with: sudo apt-get install ffmpeg"
		case "fedora", "rhel":
			return "Install with: sudo dnf install ffmpeg"
		case "arch":
			return "Install with: sudo pacman -S ffmpeg"
		}
		return "Install with your package manager: ffmpeg"
	default:
		return "Download from: https://ffmpeg.org/download.html\n    Extract and add to PATH"
	}
}

func detectLinuxDistro() string {
	data, err := os.ReadFile("/etc/os-release")
	if err != nil {
		return "unknown"
	}
	content := strings.ToLower(string(data))
	for _, d := range []string{"ubuntu", "debian", "fedora", "arch"} {
		if strings.Contains(content, d) {
			return d
		}
	}
	if strings.Contains(content, "rhel") || strings.Contains(content, "centos") {
		return "rhel"
	}
	return "unknown"
}

// Report renders results for a terminal.
func Report(results []Status) string {
	var (
		title    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
		ok       = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
		missing  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
		optional = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
		faint    = lipgloss.NewStyle().Faint(true)
	)

	var b strings.Builder
	b.WriteString(title.Render("ttscache dependency check"))
	b.WriteString("\n\n")
	for _, st := range results {
		switch {
		case st.Skipped:
			b.WriteString(faint.Render("  - " + st.Name + ": "))
			b.WriteString(st.Detail + "\n")
		case st.OK:
			b.WriteString(ok.Render("  ✓ " + st.Name + ": "))
			b.WriteString(strings.TrimSpace(st.Path + " " + st.Version))
			b.WriteString("\n")
		default:
			style, suffix := optional, " (optional)"
			if st.Required {
				style, suffix = missing, ""
			}
			b.WriteString(style.Render("  ✗ " + st.Name + ": "))
			b.WriteString(st.Detail + suffix + "\n")
			if st.Instructions != "" {
				b.WriteString("    " + st.Instructions + "\n")
			}
		}
	}
	return b.String()
}
