package commands

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVersionCommandPrintsVersion(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	require.NoError(t, versionCmd.RunE(versionCmd, nil))
	require.Contains(t, out.String(), "btsinkd")
}

func TestRootCommandRegistersVersionSubcommand(t *testing.T) {
	found := false
	for _, c := range rootCmd.Commands() {
		if c.Use == "version" {
			found = true
		}
	}
	require.True(t, found, "expected version subcommand to be registered")
}
