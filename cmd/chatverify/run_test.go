package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagOverrides_OnlyChangedFlags(t *testing.T) {
	require.NoError(t, runCmd.ParseFlags([]string{"--url", "http://localhost:4000", "--headless=false"}))
	t.Cleanup(func() {
		for _, name := range []string{"url", "headless"} {
			runCmd.Flags().Lookup(name).Changed = false
		}
		runTargetURL = ""
		runHeadless = true
	})

	o := flagOverrides(runCmd)

	require.NotNil(t, o.TargetURL)
	assert.Equal(t, "http://localhost:4000", *o.TargetURL)
	require.NotNil(t, o.Headless)
	assert.False(t, *o.Headless)
	assert.Nil(t, o.Scenario)
	assert.Nil(t, o.Prompt)
	assert.Nil(t, o.LogResponses)
	assert.Nil(t, o.VerifyClear)
	assert.Nil(t, o.ArtifactsDir)
}

func TestDash(t *testing.T) {
	assert.Equal(t, "-", dash(""))
	assert.Equal(t, "navigate", dash("navigate"))
}
