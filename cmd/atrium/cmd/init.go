package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/atrium/configs"
	"github.com/Aman-CERP/atrium/internal/config"
)

func newInitCmd(st *state) *cobra.Command {
	var (
		force bool
		user  bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration",
		Long: `Write .atrium.yaml into the project directory and create the source
directory it points at. With --user, write ~/.config/atrium/config.yaml
instead. Existing files are kept unless --force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := st.out(cmd)
			path, template := filepath.Join(st.dir, ".atrium.yaml"), configs.ProjectConfigTemplate
			if user {
				path, template = config.GetUserConfigPath(), configs.UserConfigTemplate
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("create config directory: %w", err)
			}
			if err := os.WriteFile(path, []byte(template), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
			out.Successf("Wrote %s", path)
			if user {
				return nil
			}

			pdfDir := filepath.Join(st.dir, "pdfs")
			if err := os.MkdirAll(pdfDir, 0o755); err != nil {
				return fmt.Errorf("create source directory: %w", err)
			}
			out.Status("", "Put PDFs or text files in "+pdfDir+", then run: atrium build")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	cmd.Flags().BoolVar(&user, "user", false, "Write the user configuration instead")
	return cmd
}
