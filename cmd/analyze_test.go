//go:build !integration

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResponders_JSON(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	data := []byte(`[
		{"id": "r1", "name": "Dana", "role": "technician", "skills": ["gas", "hvac"],
		 "emergency_certified": true, "available": true, "active_jobs": 1, "max_jobs": 4,
		 "location": {"lat": 30.27, "lon": -97.74}},
		{"id": "r2", "account_token": "other", "name": "Lee", "role": "apprentice"}
	]`)

	rs, err := parseResponders(data, "acct", now)
	require.NoError(t, err)
	require.Len(t, rs, 2)

	assert.Equal(t, "r1", rs[0].ID)
	assert.Equal(t, "acct", rs[0].AccountToken)
	assert.Equal(t, []string{"gas", "hvac"}, rs[0].Skills)
	assert.True(t, rs[0].EmergencyCertified)
	assert.Equal(t, 4, rs[0].MaxJobs)
	require.NotNil(t, rs[0].Location)
	assert.InDelta(t, 30.27, rs[0].Location.Lat, 1e-9)
	assert.Equal(t, now, rs[0].UpdatedAt)

	assert.Equal(t, "other", rs[1].AccountToken)
	assert.Nil(t, rs[1].Location)
}

func TestParseResponders_YAML(t *testing.T) {
	data := []byte(`
- id: r1
  account_token: acct
  name: Dana
  role: technician
  skills: [plumbing]
  available: true
- id: r2
  account_token: acct
  name: Sam
  role: lead
`)
	rs, err := parseResponders(data, "", time.Now())
	require.NoError(t, err)
	require.Len(t, rs, 2)
	assert.Equal(t, []string{"plumbing"}, rs[0].Skills)
	assert.True(t, rs[0].Available)
	assert.Equal(t, "lead", rs[1].Role)
}

func TestParseResponders_Errors(t *testing.T) {
	_, err := parseResponders([]byte(`[{"name": "no id", "account_token": "a"}]`), "", time.Now())
	assert.ErrorContains(t, err, "id is required")

	_, err = parseResponders([]byte(`[{"id": "r1"}]`), "", time.Now())
	assert.ErrorContains(t, err, "account_token is required")

	_, err = parseResponders([]byte(`{not a list`), "acct", time.Now())
	assert.Error(t, err)
}

func textCmd() *cobra.Command {
	c := &cobra.Command{Use: "extract"}
	c.Flags().String("file", "", "")
	return c
}

func TestReadText(t *testing.T) {
	t.Run("args", func(t *testing.T) {
		text, err := readText(textCmd(), []string{"water", "everywhere"})
		require.NoError(t, err)
		assert.Equal(t, "water everywhere", text)
	})

	t.Run("stdin", func(t *testing.T) {
		c := textCmd()
		c.SetIn(strings.NewReader("  no heat upstairs \n"))
		text, err := readText(c, nil)
		require.NoError(t, err)
		assert.Equal(t, "no heat upstairs", text)
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "msg.txt")
		require.NoError(t, os.WriteFile(path, []byte("smell gas in kitchen"), 0o600))
		c := textCmd()
		require.NoError(t, c.Flags().Set("file", path))
		text, err := readText(c, nil)
		require.NoError(t, err)
		assert.Equal(t, "smell gas in kitchen", text)
	})

	t.Run("empty", func(t *testing.T) {
		c := textCmd()
		c.SetIn(strings.NewReader("   "))
		_, err := readText(c, nil)
		assert.ErrorContains(t, err, "no text given")
	})
}

func TestPrintJSON(t *testing.T) {
	var sb strings.Builder
	require.NoError(t, printJSON(&sb, map[string]int{"a": 1}))
	assert.Equal(t, "{\n  \"a\": 1\n}\n", sb.String())
}
