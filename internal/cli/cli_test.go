package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
log:
  level: error
providers:
  - id: console
    type: console
channels:
  - id: sms
    type: sms
    providers: [console]
    message:
      text: "Hi {{.name}}"
  - id: email
    type: email
    providers: [console]
    from: noreply@example.com
    subject:
      text: "Welcome {{.name}}"
    text_body:
      text: "Hello {{.name}}"
pipelines:
  - intent: welcome
    channels: [email, sms]
    strategy: first-match
  - intent: otp
    id: primary
    channels: [sms]
    priority: high
`

func writeConfig(t *testing.T, raw string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "commshub.yaml")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err = cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"validate", "pipelines", "dispatch"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}

	f := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, f)
	assert.Equal(t, "c", f.Shorthand)
}

func TestInvalidFormat(t *testing.T) {
	_, _, err := execute(t, "validate", "--format", "xml", "-c", writeConfig(t, testConfig))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantCode int
		contains string
	}{
		{name: "valid", raw: testConfig, wantCode: ExitSuccess, contains: "is valid"},
		{
			name: "unknown channel",
			raw: `
pipelines:
  - intent: welcome
    channels: [missing]
`,
			wantCode: ExitFailure,
			contains: "UNKNOWN_CHANNEL",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := execute(t, "validate", "-c", writeConfig(t, tt.raw))
			assert.Equal(t, tt.wantCode, GetExitCode(err))
			assert.Contains(t, out, tt.contains)
		})
	}

	_, _, err := execute(t, "validate", "-c", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestValidateJSON(t *testing.T) {
	out, _, err := execute(t, "validate", "--format", "json", "-c", writeConfig(t, testConfig))
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, true, resp.Data.(map[string]any)["valid"])
}

func TestPipelines(t *testing.T) {
	path := writeConfig(t, testConfig)

	out, _, err := execute(t, "pipelines", "-c", path, "--format", "json")
	require.NoError(t, err)
	var resp struct {
		Data []PipelineView `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "first-match", resp.Data[0].Strategy)
	assert.Equal(t, "high", resp.Data[1].Priority)

	out, _, err = execute(t, "pipelines", "-c", path, "--intent", "otp")
	require.NoError(t, err)
	assert.Contains(t, out, "otp/primary")
	assert.NotContains(t, out, "welcome")
}

func TestDispatch(t *testing.T) {
	path := writeConfig(t, testConfig)

	out, stderr, err := execute(t, "dispatch", "-c", path, "--format", "json",
		"--intent", "welcome", "--to", "ada@example.com", "--model", `{"name":"Ada"}`)
	require.NoError(t, err)

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			DispatchID string `json:"dispatch_id"`
			Results    []struct {
				ChannelID  string `json:"channel_id"`
				ProviderID string `json:"provider_id"`
				Recipient  string `json:"recipient"`
			} `json:"results"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotEmpty(t, resp.Data.DispatchID)
	require.Len(t, resp.Data.Results, 1)
	assert.Equal(t, "email", resp.Data.Results[0].ChannelID)
	assert.Equal(t, "ada@example.com", resp.Data.Results[0].Recipient)

	// console output goes to stderr
	assert.Contains(t, stderr, "Welcome Ada")
}

func TestDispatchFailures(t *testing.T) {
	path := writeConfig(t, testConfig)

	tests := []struct {
		name     string
		args     []string
		wantCode int
	}{
		{name: "missing intent", args: []string{"--to", "ada@example.com"}, wantCode: ExitFailure},
		{name: "bad model", args: []string{"--intent", "welcome", "--to", "ada@example.com", "--model", "[1,2]"}, wantCode: ExitCommandError},
		{name: "bad property", args: []string{"--intent", "welcome", "--to", "ada@example.com", "-p", "novalue"}, wantCode: ExitCommandError},
		{name: "unknown intent", args: []string{"--intent", "nope", "--to", "ada@example.com"}, wantCode: ExitFailure},
		{name: "no recipients", args: []string{"--intent", "welcome"}, wantCode: ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, append([]string{"dispatch", "-c", path}, tt.args...)...)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, GetExitCode(err))
		})
	}
}

const pushConfig = `
log:
  level: error
providers:
  - id: console
    type: console
personas:
  - name: beta
    attribute: beta_tester
identities:
  - type: user
    id: ada
    addresses: ["device-token:fcm-ada"]
    attributes:
      beta_tester: "true"
  - type: user
    id: bob
    addresses: ["device-token:fcm-bob"]
channels:
  - id: push
    type: push
    providers: [console]
    title:
      text: "{{.title}}"
pipelines:
  - intent: announcement
    channels: [push]
    persona_filters: [beta]
  - intent: news
    channels: [push]
`

type dispatchResponse struct {
	Status string `json:"status"`
	Data   struct {
		Results []struct {
			ChannelID string `json:"channel_id"`
			Recipient string `json:"recipient"`
		} `json:"results"`
	} `json:"data"`
}

func TestDispatchPush(t *testing.T) {
	path := writeConfig(t, pushConfig)

	tests := []struct {
		name       string
		args       []string
		wantCode   int
		recipients []string
	}{
		{name: "typed topic", args: []string{"--intent", "news", "--to", "topic:releases"}, recipients: []string{"releases"}},
		{name: "typed device token", args: []string{"--intent", "news", "--to", "device-token:abc,topic:ops"}, recipients: []string{"abc", "ops"}},
		{name: "persona gated identities", args: []string{"--intent", "announcement", "--identity", "user:ada", "--identity", "user:bob"}, recipients: []string{"fcm-ada"}},
		{name: "unknown address type", args: []string{"--intent", "news", "--to", "pager:42"}, wantCode: ExitFailure},
		{name: "bad identity", args: []string{"--intent", "news", "--identity", "ada"}, wantCode: ExitCommandError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"dispatch", "-c", path, "--format", "json", "--model", `{"title":"Hi"}`}, tt.args...)
			out, _, err := execute(t, args...)
			assert.Equal(t, tt.wantCode, GetExitCode(err))
			if tt.wantCode != ExitSuccess {
				return
			}

			var resp dispatchResponse
			require.NoError(t, json.Unmarshal([]byte(out), &resp))
			assert.Equal(t, "ok", resp.Status)
			var got []string
			for _, r := range resp.Data.Results {
				assert.Equal(t, "push", r.ChannelID)
				got = append(got, r.Recipient)
			}
			assert.ElementsMatch(t, tt.recipients, got)
		})
	}
}

func TestDispatchOptionsRequest(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "model.json")
	require.NoError(t, os.WriteFile(model, []byte(`{"code":"1234"}`), 0o600))

	opts := &DispatchOptions{
		Intent:     "otp",
		To:         []string{"+14155550100, ada@example.com"},
		ModelFile:  model,
		Channels:   []string{"sms"},
		Properties: []string{"tenant=acme"},
		Identities: []string{" user : ada "},
	}
	req, err := opts.Request()
	require.NoError(t, err)
	require.Len(t, req.Recipients, 2)
	assert.Equal(t, "ada@example.com", req.Recipients[1].Value)
	assert.Equal(t, "acme", req.Properties["tenant"])
	assert.Equal(t, []string{"sms"}, req.AllowedChannelIDs)
	assert.Equal(t, map[string]any{"code": "1234"}, req.Model.Data())
	require.Len(t, req.Identities, 1)
	assert.Equal(t, "user:ada", req.Identities[0].String())
}
