package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const defaultPacerYAML = `# Pacer config
# Priority: CLI flag > this file > default.

log_level:    "info"
metrics_addr: ":9091"

scheduler:
  max_concurrent_tasks: 8      # 0 = unbounded
  max_task_execution:   "2m"   # wall-clock budget per task; 0 = none

http:
  max_concurrent: 16           # requests on the wire at once; 0 = unbounded
  poll_interval:  "10ms"
  max_retries:    3
  retry_delay:    "500ms"
  retry_on_status: [429, 500, 502, 503, 504]

# otel_endpoint: "localhost:4318"  # uncomment to enable OpenTelemetry tracing
`

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Long: `Write default configuration for pacer.

If --config is given the file is written to that path.
Otherwise it is written to ~/.pacer/pacer.yaml.
Fails if the file already exists unless --force is passed.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			dest := cfgFile
			if dest == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return fmt.Errorf("home dir: %w", err)
				}
				dest = filepath.Join(home, ".pacer", "pacer.yaml")
			}

			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return fmt.Errorf("mkdir: %w", err)
			}

			if !force {
				if _, err := os.Stat(dest); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", dest)
				} else if !errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("stat %s: %w", dest, err)
				}
			}

			if err := os.WriteFile(dest, []byte(defaultPacerYAML), 0o644); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			fmt.Printf("config written to %s\n", dest)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config file")
	return cmd
}
