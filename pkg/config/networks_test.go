package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNetworkPresets(t *testing.T) {
	tests := []struct {
		name        string
		network     string
		wantChainID uint64
		wantPoll    time.Duration
		wantExists  bool
	}{
		{
			name:        "mapo-mainnet",
			network:     "mapo-mainnet",
			wantChainID: 22776,
			wantPoll:    1 * time.Second,
			wantExists:  true,
		},
		{
			name:        "mapo-testnet",
			network:     "mapo-testnet",
			wantChainID: 212,
			wantPoll:    1 * time.Second,
			wantExists:  true,
		},
		{
			name:       "unknown network",
			network:    "ethereum-mainnet",
			wantExists: false,
		},
		{
			name:       "empty network",
			network:    "",
			wantExists: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			preset, ok := NetworkPresets[tc.network]

			require.Equal(t, tc.wantExists, ok)

			if !tc.wantExists {
				return
			}

			require.Equal(t, tc.wantChainID, preset.ChainID)
			require.Equal(t, tc.wantPoll, preset.PollInterval)
			require.NotEmpty(t, preset.DefaultRPC)
			require.NotZero(t, preset.BlockTime)
		})
	}
}

func TestGetNetworkPreset(t *testing.T) {
	tests := []struct {
		name      string
		network   string
		wantOK    bool
		wantChain uint64
	}{
		{
			name:      "valid mainnet",
			network:   "mapo-mainnet",
			wantOK:    true,
			wantChain: 22776,
		},
		{
			name:      "valid testnet",
			network:   "mapo-testnet",
			wantOK:    true,
			wantChain: 212,
		},
		{
			name:    "invalid network",
			network: "polygon",
			wantOK:  false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			preset, ok := GetNetworkPreset(tc.network)

			require.Equal(t, tc.wantOK, ok)

			if tc.wantOK {
				require.Equal(t, tc.wantChain, preset.ChainID)
			}
		})
	}
}

func TestSupportedNetworks(t *testing.T) {
	networks := SupportedNetworks()

	require.Len(t, networks, 2)
	require.Contains(t, networks, "mapo-mainnet")
	require.Contains(t, networks, "mapo-testnet")
}

func TestNetworkPresetFields(t *testing.T) {
	mainnet := NetworkPresets["mapo-mainnet"]

	require.Equal(t, uint64(22776), mainnet.ChainID)
	require.Equal(t, 1*time.Second, mainnet.PollInterval)
	require.Equal(t, "https://rpc.maplabs.io", mainnet.DefaultRPC)
	require.Equal(t, 5*time.Second, mainnet.BlockTime)

	testnet := NetworkPresets["mapo-testnet"]

	require.Equal(t, uint64(212), testnet.ChainID)
	require.Equal(t, 1*time.Second, testnet.PollInterval)
	require.Equal(t, "https://testnet-rpc.maplabs.io", testnet.DefaultRPC)
	require.Equal(t, 5*time.Second, testnet.BlockTime)
}

func TestNetworkPresetStruct(t *testing.T) {
	preset := NetworkPreset{
		ChainID:      12345,
		PollInterval: 5 * time.Second,
		DefaultRPC:   "https://example.com/rpc",
		BlockTime:    3 * time.Second,
	}

	require.Equal(t, uint64(12345), preset.ChainID)
	require.Equal(t, 5*time.Second, preset.PollInterval)
	require.Equal(t, "https://example.com/rpc", preset.DefaultRPC)
	require.Equal(t, 3*time.Second, preset.BlockTime)
}
