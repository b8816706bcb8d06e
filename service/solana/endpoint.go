package solana

import (
	"fmt"
	"math/rand/v2"
	"net/url"
	"strings"
)

// SelectRandomEndpoint picks one RPC endpoint from the configured list.
// A run talks to a single endpoint from start to finish.
func SelectRandomEndpoint(endpoints []string) (string, error) {
	if len(endpoints) == 0 {
		return "", fmt.Errorf("no RPC endpoints configured")
	}
	return endpoints[rand.IntN(len(endpoints))], nil
}

// EndpointLabel extracts a short identifier from a Solana RPC URL for metrics
// labeling and run history. API keys in the URL never leave this function.
// Examples:
//   - "https://api.mainnet-beta.solana.com" -> "mainnet"
//   - "https://api.devnet.solana.com" -> "devnet"
//   - "https://mainnet.helius-rpc.com/?api-key=..." -> "helius"
func EndpointLabel(rpcURL string) string {
	parsed, err := url.Parse(rpcURL)
	if err != nil {
		return "unknown"
	}

	host := parsed.Hostname()

	// Check for common RPC providers
	for _, provider := range []string{"helius", "quiknode", "alchemy", "triton", "rpcpool"} {
		if strings.Contains(host, provider) {
			return provider
		}
	}
	if strings.Contains(host, "quicknode") {
		return "quiknode"
	}

	// Check for official Solana endpoints
	for _, cluster := range []string{"mainnet", "devnet", "testnet"} {
		if strings.Contains(host, cluster) {
			return cluster
		}
	}

	if host == "localhost" || host == "127.0.0.1" {
		return "localnet"
	}

	// Fallback to hostname
	if host == "" {
		return "unknown"
	}
	return host
}

// IsMainnetURL reports whether the URL names a mainnet endpoint.
func IsMainnetURL(rpcURL string) bool {
	parsed, err := url.Parse(rpcURL)
	if err != nil {
		return false
	}
	return strings.Contains(parsed.Hostname(), "mainnet")
}
