package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractEndpointFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://mainnet.helius-rpc.com/?api-key=abc", "helius"},
		{"https://example.solana-mainnet.quiknode.pro/token/", "quiknode"},
		{"https://sol.quicknode.example/", "quiknode"},
		{"https://api.mainnet-beta.solana.com", "mainnet"},
		{"https://api.devnet.solana.com", "devnet"},
		{"http://127.0.0.1:8899", "127.0.0.1"},
		{"http://localhost:8899", "localhost"},
		{"https://rpc.example.org", "rpc.example.org"},
		{"://bad", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, extractEndpointFromURL(tt.url))
		})
	}
}
