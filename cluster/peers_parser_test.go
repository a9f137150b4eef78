package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePeersEmpty(t *testing.T) {
	resp, err := parsePeers("1,,[]", DefaultPort)
	require.NoError(t, err)

	assert.Equal(t, int64(1), resp.Generation)
	assert.Nil(t, resp.DefaultPort)
	assert.Empty(t, resp.Peers)
}

func TestParsePeersDefaultPort(t *testing.T) {
	resp, err := parsePeers(
		"3,3144,[[C1D4DC08D270008,aerospike,[192.168.33.10]],[C814DC08D270008,aerospike,[192.168.33.10:3244]]]",
		DefaultPort)
	require.NoError(t, err)

	assert.Equal(t, int64(3), resp.Generation)
	require.NotNil(t, resp.DefaultPort)
	assert.Equal(t, 3144, *resp.DefaultPort)

	require.Len(t, resp.Peers, 2)
	assert.Equal(t, &Peer{
		NodeName: "C1D4DC08D270008",
		TLSName:  "aerospike",
		Hosts:    []Host{{Name: "192.168.33.10", Port: 3144, TLSName: "aerospike"}},
	}, resp.Peers[0])
	assert.Equal(t, &Peer{
		NodeName: "C814DC08D270008",
		TLSName:  "aerospike",
		Hosts:    []Host{{Name: "192.168.33.10", Port: 3244, TLSName: "aerospike"}},
	}, resp.Peers[1])
}

func TestParsePeersIPv6AndMultipleHosts(t *testing.T) {
	resp, err := parsePeers("7,,[[BB9,,[[fe80::1]:3100,[::1],10.0.0.1,10.0.0.2:3300]]]", 3000)
	require.NoError(t, err)

	require.Len(t, resp.Peers, 1)
	peer := resp.Peers[0]
	assert.Equal(t, "BB9", peer.NodeName)
	assert.Equal(t, "", peer.TLSName)
	assert.Equal(t, []Host{
		{Name: "fe80::1", Port: 3100},
		{Name: "::1", Port: 3000},
		{Name: "10.0.0.1", Port: 3000},
		{Name: "10.0.0.2", Port: 3300},
	}, peer.Hosts)
}

func TestParsePeersNoHosts(t *testing.T) {
	resp, err := parsePeers("2,3000,[[BB9,,[]]]", 3000)
	require.NoError(t, err)
	require.Len(t, resp.Peers, 1)
	assert.Empty(t, resp.Peers[0].Hosts)
}

func TestParsePeersIsPure(t *testing.T) {
	const input = "5,3000,[[A1,,[10.0.0.1]],[A2,tls2,[[::2]:3001,10.0.0.2]]]"

	first, err := parsePeers(input, DefaultPort)
	require.NoError(t, err)
	second, err := parsePeers(input, DefaultPort)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestParsePeersErrors(t *testing.T) {
	inputs := []string{
		",,",
		"",
		"x,3000,[]",
		"1,3000,",
		"1,3000,[",
		"1,3000,[[A1,,[10.0.0.1]]",
		"1,3000,[[A1,,[10.0.0.1]]]]",
		"1,3000,[[A1,[10.0.0.1]]]",
		"1,3000,[[A1,,[[::1]]]",
		"1,3000,[[A1,,[[::1]:abc]]]",
		"1,3000,[[A1,,[10.0.0.1:0]]]",
		"1,3000,[[A1,,[,]]]",
		"1,3000,[[A1,,[10.0.0.1]]x]",
	}

	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			_, err := parsePeers(input, DefaultPort)
			require.ErrorIs(t, err, ErrPeersParse)
		})
	}
}
