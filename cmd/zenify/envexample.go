package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

const envExampleFile = ".env.example"

type envSection struct {
	title string
	flags []string
}

var envSections = []envSection{
	{title: "HTTP Server Configuration", flags: []string{
		"server-host", "server-port", "server-read-timeout", "server-write-timeout", "public-url", "cors-origins",
	}},
	{title: "Resolution Chain", flags: []string{
		"strategies", "cobalt-instances", "piped-instances", "cobalt-insecure-tls", "network-timeout",
		"extract-timeout", "download-timeout", "audio-format", "preferred-encoding", "user-agent",
	}},
	{title: "Local Tools and Credentials", flags: []string{
		"downloader-path", "ffmpeg-path", "cookie-file",
	}},
	{title: "Artifact Cache", flags: []string{
		"cache-dir", "cache-ttl", "sweep-interval", "cache-hot-entries", "cache-filter-capacity", "cache-false-positive-rate",
	}},
	{title: "Catalog Search", flags: []string{
		"catalog-instances", "catalog-timeout", "search-limit",
	}},
	{title: "Flood Prevention - Per-client /stream limit", flags: []string{
		"stream-limit-per-minute",
	}},
	{title: "Logging Configuration", flags: []string{
		"log-level", "log-format", "log-file", "log-max-size-mb", "log-max-backups", "log-max-age-days",
	}},
}

func generateEnvExample(cmd *cobra.Command) error {
	fmt.Println("Generating .env.example file from current configuration...")

	content := generateEnvExampleContent(cmd)

	if err := os.WriteFile(envExampleFile, []byte(content), 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", envExampleFile, err)
	}

	fmt.Println("✅ Successfully generated .env.example file")
	return nil
}

func generateEnvExampleContent(cmd *cobra.Command) string {
	var content strings.Builder

	// Header
	content.WriteString("# =============================================================================\n")
	content.WriteString("# Zenify Configuration\n")
	content.WriteString("# =============================================================================\n")
	content.WriteString("#\n")
	content.WriteString("# Copy this file to .env and update with your values\n")
	content.WriteString("# All environment variables have CLI flag equivalents (use --help to see them)\n")
	content.WriteString("# Lists are comma separated\n")
	content.WriteString("#\n")
	content.WriteString("# Format: " + envPrefix + "_<SETTING>=value\n")
	content.WriteString("# CLI equivalent: --<setting>\n")
	content.WriteString("#\n")
	content.WriteString("# =============================================================================\n\n")

	for _, section := range envSections {
		generateSection(&content, cmd, section)
	}

	return content.String()
}

func generateSection(content *strings.Builder, cmd *cobra.Command, section envSection) {
	content.WriteString("# -----------------------------------------------------------------------------\n")
	content.WriteString("# " + section.title + "\n")
	content.WriteString("# -----------------------------------------------------------------------------\n")
	content.WriteString("# CLI: --" + strings.Join(section.flags, ", --") + "\n")

	for _, name := range section.flags {
		f := cmd.Root().PersistentFlags().Lookup(name)
		if f == nil {
			continue
		}
		fmt.Fprintf(content, "%s=%s    # %s (default: %s)\n",
			flagToEnvVar(name), getDefaultValueString(cmd, name), f.Usage, getDefaultValueString(cmd, name))
	}
	content.WriteString("\n")
}

func flagToEnvVar(flagName string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

// getDefaultValueString renders a flag default the way an environment variable would carry it.
func getDefaultValueString(cmd *cobra.Command, flagName string) string {
	f := cmd.Root().PersistentFlags().Lookup(flagName)
	if f == nil {
		return ""
	}
	if f.Value.Type() == "stringSlice" {
		return strings.Trim(f.DefValue, "[]")
	}
	return f.DefValue
}
