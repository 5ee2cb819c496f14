package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/atriumhq/atrium/internal/config"
	"github.com/atriumhq/atrium/internal/logger"
	"github.com/atriumhq/atrium/pkg/capability"
	"github.com/atriumhq/atrium/pkg/plugin"
)

var validateCmd = &cobra.Command{
	Use:   "validate [manifest-dir]",
	Short: "Validate plugin manifests",
	Long: `Validate every plugin manifest in a directory: schema shape, tier,
and capability requests against the tier's allowed set. With no argument
the configured manifest directory is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	manifestDir := cfg.Plugins.ManifestDir
	if len(args) == 1 {
		manifestDir = args[0]
	}

	log, err := logger.New(logger.Config{Level: "error"})
	if err != nil {
		return err
	}
	defer log.Close()

	loader := plugin.NewManifestLoader(log.Zerolog())
	manifests, err := loader.LoadDir(manifestDir)
	if err != nil {
		return fmt.Errorf("failed to load manifests: %w", err)
	}

	out := cmd.OutOrStdout()
	validator := capability.NewValidator(capability.NewCatalog())
	failures := 0

	for _, manifest := range manifests {
		result := validator.ValidateForTier(manifest.Tier, manifest.Capabilities)
		if !result.Valid {
			failures++
			fmt.Fprintf(out, "FAIL %s (tier %s): capabilities outside tier: %s\n",
				manifest.ID, manifest.Tier, strings.Join(result.Invalid, ", "))
			continue
		}

		granted := validator.Grant(manifest.Tier, manifest.Capabilities, cfg.Plugins.CoreGrants[manifest.ID])
		fmt.Fprintf(out, "OK   %s (tier %s): granted %s\n",
			manifest.ID, manifest.Tier, strings.Join(granted, ", "))
	}

	fmt.Fprintf(out, "\n%d manifest(s) checked, %d failed\n", len(manifests), failures)
	if failures > 0 {
		return fmt.Errorf("%d manifest(s) failed validation", failures)
	}
	return nil
}
