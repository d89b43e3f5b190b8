package device

import (
	"bytes"
	"context"
	"fmt"
	log "log/slog"
	"os/exec"
	"strings"
)

// Provisioner builds the sketch and flashes it onto the board.
type Provisioner interface {
	Build(ctx context.Context) error
	Upload(ctx context.Context, port string) error
}

// ArduinoCLI provisions firmware through the arduino-cli tool.
type ArduinoCLI struct {
	Bin       string
	FQBN      string
	SketchDir string
}

func NewArduinoCLI(bin, fqbn, sketchDir string) *ArduinoCLI {
	if bin == "" {
		bin = "arduino-cli"
	}
	return &ArduinoCLI{Bin: bin, FQBN: fqbn, SketchDir: sketchDir}
}

func (a *ArduinoCLI) Build(ctx context.Context) error {
	return a.run(ctx, "compile", "--fqbn", a.FQBN, ".")
}

func (a *ArduinoCLI) Upload(ctx context.Context, port string) error {
	return a.run(ctx, "upload", "-p", port, "--fqbn", a.FQBN, ".")
}

func (a *ArduinoCLI) run(ctx context.Context, args ...string) error {
	log.Debug("Running arduino-cli", "args", args, "dir", a.SketchDir)

	cmd := exec.CommandContext(ctx, a.Bin, args...)
	cmd.Dir = a.SketchDir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(out.String())
		if msg == "" {
			return fmt.Errorf("%s %s: %w", a.Bin, args[0], err)
		}
		return fmt.Errorf("%s %s: %w: %s", a.Bin, args[0], err, msg)
	}

	return nil
}
