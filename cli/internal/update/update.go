// Package update compares the running version against the latest release.
package update

import (
	"fmt"

	"github.com/hashicorp/go-version"
	"github.com/schemakit/schemakit/cli/internal/ui"
)

// latestKnown is the newest release baked in at build time. Release
// automation bumps it alongside version.Version.
var latestKnown = "0.1.0"

// CheckForUpdates warns when a newer release exists.
func CheckForUpdates(currentVersion string) error {
	current, err := version.NewVersion(currentVersion)
	if err != nil {
		return fmt.Errorf("invalid version format: %w", err)
	}

	latest, err := version.NewVersion(latestKnown)
	if err != nil {
		return fmt.Errorf("invalid latest version format: %w", err)
	}

	if current.LessThan(latest) {
		ui.PrintWarning("A new version is available!")
		fmt.Printf("Current version: %s\n", currentVersion)
		fmt.Printf("Latest version:  %s\n", latestKnown)
		fmt.Printf("\nUpdate with: go install github.com/schemakit/schemakit/cli@latest\n")
	}

	return nil
}
