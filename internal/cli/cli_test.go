// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-kmespread.
//
// go-kmespread is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-kmespread/internal/rest"
	"github.com/jeremyhahn/go-kmespread/pkg/client"
	"github.com/jeremyhahn/go-kmespread/pkg/kme"
	"github.com/jeremyhahn/go-kmespread/pkg/logging"
	"github.com/jeremyhahn/go-kmespread/pkg/share"
)

const superSecret = "This string is so secret"

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	cmd := NewRootCommand(NewConfig())
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

type servedNode struct {
	node  *kme.KME
	peers map[int64]*kme.KME
	url   string
}

func serveNode(t *testing.T) *servedNode {
	t.Helper()
	node, err := kme.New(1)
	require.NoError(t, err)

	sn := &servedNode{node: node, peers: make(map[int64]*kme.KME)}
	for _, id := range []int64{2, 3} {
		peer, err := kme.New(id)
		require.NoError(t, err)
		sn.peers[id] = peer
	}

	srv, err := rest.NewServer(&rest.Config{
		Node: node,
		Peers: func(id int64) (kme.Peer, bool) {
			p, ok := sn.peers[id]
			return p, ok
		},
		Logger: logging.Discard(),
	})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	sn.url = ts.URL
	return sn
}

func TestSimulate_ReferenceNetwork(t *testing.T) {
	out, err := execute(t, "", "simulate", "-o", "json")
	require.NoError(t, err)

	var report struct {
		Scheme    string  `json:"scheme"`
		Recovered []int64 `json:"recovered"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, share.SchemeGF256, report.Scheme)
	assert.Equal(t, []int64{8}, report.Recovered)
}

func TestSimulate_TextReport(t *testing.T) {
	out, err := execute(t, "", "simulate", "--scheme", "sssa", "--policy", "unanimous")
	require.NoError(t, err)
	assert.Contains(t, out, "Scheme: sssa")
	assert.Contains(t, out, "No KME recovered the secret")
}

func TestSimulate_TopologyAndStorage(t *testing.T) {
	dir := t.TempDir()
	topology := filepath.Join(dir, "chain.yaml")
	require.NoError(t, os.WriteFile(topology, []byte(`
origin: 10
nodes: [10, 20, 30, 40]
hops:
  - from: 10
    to: [20, 30]
  - from: 20
    to: [40]
  - from: 30
    to: [40]
`), 0o600))

	out, err := execute(t, "", "simulate",
		"--topology", topology,
		"--storage-dir", filepath.Join(dir, "inboxes"),
		"--scheme", "vault")
	require.NoError(t, err)
	assert.Contains(t, out, "Recovered by: 40")
	assert.DirExists(t, filepath.Join(dir, "inboxes", "kme-40"))
}

func TestSimulate_InvalidFlags(t *testing.T) {
	_, err := execute(t, "", "simulate", "--scheme", "rot13")
	assert.ErrorIs(t, err, share.ErrUnknownScheme)

	_, err = execute(t, "", "simulate", "--policy", "most")
	assert.Error(t, err)

	_, err = execute(t, "", "simulate", "--topology", "/nonexistent/topology.yaml")
	assert.Error(t, err)
}

func TestSplitCombine_RoundTrip(t *testing.T) {
	for _, scheme := range share.Names() {
		t.Run(scheme, func(t *testing.T) {
			out, err := execute(t, "", "split", "--scheme", scheme, "-n", "5", "-t", "3", superSecret)
			require.NoError(t, err)

			lines := strings.Split(strings.TrimSpace(out), "\n")
			require.Len(t, lines, 5)

			out, err = execute(t, "", "combine", "--scheme", scheme, lines[0], lines[2], lines[4])
			require.NoError(t, err)
			assert.Equal(t, superSecret+"\n", out)
		})
	}
}

func TestSplitCombine_Stdin(t *testing.T) {
	out, err := execute(t, superSecret+"\n", "split", "-n", "3", "-t", "2")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)

	out, err = execute(t, lines[1]+"\n\n"+lines[2]+"\n", "combine", "-o", "json")
	require.NoError(t, err)

	var resp struct {
		Secret []byte `json:"secret"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, superSecret, string(resp.Secret))
}

func TestSplit_ThresholdOneReplicates(t *testing.T) {
	out, err := execute(t, "", "split", "--scheme", "vault", "-n", "3", "-t", "1", superSecret)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	for _, line := range lines {
		tok, err := ParseToken(line)
		require.NoError(t, err)
		assert.Equal(t, superSecret, string(tok.Data))
	}
}

func TestSplit_Errors(t *testing.T) {
	_, err := execute(t, "", "split", "-n", "2", "-t", "3", superSecret)
	assert.ErrorIs(t, err, share.ErrInvalidConfig)

	_, err = execute(t, "", "split")
	assert.ErrorIs(t, err, share.ErrEmptyPayload)

	_, err = execute(t, "", "combine")
	assert.Error(t, err)

	_, err = execute(t, "", "combine", "not-a-share")
	assert.Error(t, err)
}

func TestParseToken(t *testing.T) {
	tok := share.Token{Index: 7, Data: []byte{0, 1, 2, 0xff}}
	parsed, err := ParseToken(FormatToken(tok))
	require.NoError(t, err)
	assert.Equal(t, tok, parsed)

	for _, bad := range []string{"", "7", "0:AAAA", "256:AAAA", "x:AAAA", "1:!!!"} {
		_, err := ParseToken(bad)
		assert.Error(t, err, bad)
	}
}

func TestNodeStatus(t *testing.T) {
	sn := serveNode(t)
	require.NoError(t, sn.node.SetSecret([]byte(superSecret)))

	out, err := execute(t, "", "node", "status", "--server", sn.url, "-o", "json")
	require.NoError(t, err)

	var status kme.Status
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, int64(1), status.ID)
	assert.True(t, status.HasSecret)

	out, err = execute(t, "", "node", "status", "--server", sn.url)
	require.NoError(t, err)
	assert.Contains(t, out, "Has secret: true")
}

func TestNodeSpread(t *testing.T) {
	sn := serveNode(t)

	out, err := execute(t, "", "node", "set-secret", superSecret, "--server", sn.url)
	require.NoError(t, err)
	assert.Contains(t, out, "Secret set")

	out, err = execute(t, "", "node", "spread", "2", "3", "--server", sn.url)
	require.NoError(t, err)
	assert.Contains(t, out, "Spread to 2 destinations")

	for _, peer := range sn.peers {
		status, err := peer.Status()
		require.NoError(t, err)
		assert.Positive(t, status.Envelopes)
	}

	_, err = execute(t, "", "node", "spread", "9", "--server", sn.url)
	var serverErr *client.ServerError
	assert.ErrorAs(t, err, &serverErr)

	_, err = execute(t, "", "node", "spread", "two", "--server", sn.url)
	assert.Error(t, err)
}

func TestNodeReconstruct(t *testing.T) {
	sn := serveNode(t)

	_, err := execute(t, "", "node", "reconstruct", "--server", sn.url)
	assert.ErrorIs(t, err, client.ErrNoSecret)

	origin, err := kme.New(10)
	require.NoError(t, err)
	require.NoError(t, origin.SetSecret([]byte(superSecret)))
	require.NoError(t, origin.Spread(context.Background(), []kme.Peer{sn.node}))

	out, err := execute(t, "", "node", "reconstruct", "--server", sn.url)
	require.NoError(t, err)
	assert.Equal(t, superSecret+"\n", out)
}

func TestNode_UnreachableServer(t *testing.T) {
	_, err := execute(t, "", "node", "status", "--server", "http://127.0.0.1:1", "--timeout", "1s")
	assert.Error(t, err)
}

func TestConfig_FileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kmespread.yaml")
	require.NoError(t, os.WriteFile(path, []byte("output: json\n"), 0o600))

	out, err := execute(t, "", "version", "--config", path)
	require.NoError(t, err)
	var info map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, Version, info["version"])

	t.Setenv("KMESPREAD_OUTPUT", "json")
	out, err = execute(t, "", "version")
	require.NoError(t, err)
	assert.True(t, json.Valid([]byte(out)))

	out, err = execute(t, "", "version", "-o", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "kmespread version")
}

func TestConfig_Invalid(t *testing.T) {
	_, err := execute(t, "", "version", "-o", "xml")
	assert.Error(t, err)

	_, err = execute(t, "", "version", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestPrinter_Error(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPrinter("json", &buf).PrintError(assert.AnError))
	assert.Contains(t, buf.String(), `"success": false`)

	buf.Reset()
	require.NoError(t, NewPrinter("text", &buf).PrintError(assert.AnError))
	assert.True(t, strings.HasPrefix(buf.String(), "Error: "))
}
