package cmd

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/3leaps/clipnimbus/pkg/settings"
)

const testConnection = "Region=eu-west-1;AccessKeyId=AKIAEXAMPLE;SecretAccessKey=topsecret"

func TestConfigShow_MasksCredential(t *testing.T) {
	env := newCmdEnv(t)
	require.NoError(t, settings.NewStore(env.configPath).Set("cloud.connection_string", testConnection))

	for _, format := range []string{"json", "yaml"} {
		t.Run(format, func(t *testing.T) {
			orig := configShowFormat
			configShowFormat = format
			t.Cleanup(func() { configShowFormat = orig })

			c, out := testCommand(t)
			require.NoError(t, runConfigShow(c, nil))
			assert.NotContains(t, out.String(), "topsecret")
			assert.NotContains(t, out.String(), "AKIAEXAMPLE")

			var doc settings.Document
			if format == "json" {
				require.NoError(t, json.Unmarshal(out.Bytes(), &doc))
			} else {
				require.NoError(t, yaml.Unmarshal(out.Bytes(), &doc))
			}
			assert.Equal(t, settings.MaskSecret(testConnection), doc.Cloud.ConnectionString)
			assert.Equal(t, settings.DefaultUIPort, doc.UI.Port)
		})
	}
}

func TestConfigShow_BadFormat(t *testing.T) {
	newCmdEnv(t)
	orig := configShowFormat
	configShowFormat = "toml"
	t.Cleanup(func() { configShowFormat = orig })

	c, _ := testCommand(t)
	err := runConfigShow(c, nil)
	require.Error(t, err)
	assert.Equal(t, foundry.ExitInvalidArgument, ExitCode(err))
}

func TestPromptSettings(t *testing.T) {
	doc := settings.Defaults()
	doc.Cloud.ConnectionString = testConnection
	doc.Cloud.BlobFolder = "old"

	// Keep the credential, set the container, clear the folder, then EOF.
	in := strings.NewReader("\nmy-clips\n-\n")
	out := &bytes.Buffer{}

	changes, err := promptSettings(in, out, doc)
	require.NoError(t, err)
	assert.Equal(t, []settingChange{
		{key: "cloud.container_name", value: "my-clips"},
		{key: "cloud.blob_folder", value: ""},
	}, changes)

	assert.NotContains(t, out.String(), "topsecret")
	assert.Contains(t, out.String(), "cloud.connection_string [**********]: ")
}

func TestPromptSettings_UnchangedValueIsNotAChange(t *testing.T) {
	doc := settings.Defaults()
	in := strings.NewReader("\n\n\n\n\n" + settings.DefaultUIHost + "\n")

	changes, err := promptSettings(in, &bytes.Buffer{}, doc)
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestConfigEdit_Saves(t *testing.T) {
	env := newCmdEnv(t)
	c, _ := testCommand(t)
	c.SetIn(strings.NewReader("\nmy-clips\nraw/\n\n\n\n8080\n"))

	require.NoError(t, runConfigEdit(c, nil))

	doc, err := settings.NewStore(env.configPath).Load()
	require.NoError(t, err)
	assert.Equal(t, "my-clips", doc.Cloud.ContainerName)
	assert.Equal(t, "raw", doc.Cloud.BlobFolder)
	assert.Equal(t, 8080, doc.UI.Port)
	assert.Equal(t, settings.DefaultFormat, doc.Download.Format)
}

func TestConfigEdit_InvalidPort(t *testing.T) {
	newCmdEnv(t)
	c, _ := testCommand(t)
	c.SetIn(strings.NewReader("\n\n\n\n\n\nnot-a-port\n"))

	err := runConfigEdit(c, nil)
	require.Error(t, err)
	assert.Equal(t, foundry.ExitInvalidArgument, ExitCode(err))
}

func TestConfigEdit_AbortedEditSavesNothing(t *testing.T) {
	env := newCmdEnv(t)
	c, _ := testCommand(t)
	c.SetIn(strings.NewReader("\nnew-bucket\n\n\n\n\nnot-a-port\n"))

	err := runConfigEdit(c, nil)
	require.Error(t, err)
	assert.Equal(t, foundry.ExitInvalidArgument, ExitCode(err))
	assert.NoFileExists(t, env.configPath)

	doc, err := settings.NewStore(env.configPath).Load()
	require.NoError(t, err)
	assert.Empty(t, doc.Cloud.ContainerName)
}

func TestConfigEdit_SavesAllAnswers(t *testing.T) {
	env := newCmdEnv(t)
	c, _ := testCommand(t)
	c.SetIn(strings.NewReader("\nnew-bucket\n\n\n\n\n9100\n"))

	require.NoError(t, runConfigEdit(c, nil))

	doc, err := settings.NewStore(env.configPath).Load()
	require.NoError(t, err)
	assert.Equal(t, "new-bucket", doc.Cloud.ContainerName)
	assert.Equal(t, 9100, doc.UI.Port)
}

func TestConfigSet_UnknownKey(t *testing.T) {
	newCmdEnv(t)
	c, _ := testCommand(t)

	err := configSetCmd.RunE(c, []string{"cloud.nope", "x"})
	require.Error(t, err)
	assert.Equal(t, foundry.ExitInvalidArgument, ExitCode(err))
}

func TestConfigPath(t *testing.T) {
	env := newCmdEnv(t)
	c, out := testCommand(t)

	require.NoError(t, configPathCmd.RunE(c, nil))
	assert.Equal(t, env.configPath, strings.TrimSpace(out.String()))
}
