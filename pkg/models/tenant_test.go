package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEndpointMatchesEmptyFiltersMatchAnything(t *testing.T) {
	e := &Endpoint{Active: true}
	assert.True(t, e.Matches("1", "0xabc", "0xdeadbeef"))
}

func TestEndpointMatchesInactiveNeverMatches(t *testing.T) {
	e := &Endpoint{Active: false, ChainIDs: []string{"1"}}
	assert.False(t, e.Matches("1", "", ""))
}

func TestEndpointMatchesChainIDCaseInsensitive(t *testing.T) {
	e := &Endpoint{Active: true, ChainIDs: []string{"ETH"}}
	assert.True(t, e.Matches("eth", "", ""))
	assert.False(t, e.Matches("bsc", "", ""))
}

func TestEndpointMatchesRequiresAllNonEmptyFilters(t *testing.T) {
	e := &Endpoint{
		Active:            true,
		ChainIDs:          []string{"1"},
		ContractAddresses: []string{"0xaaa"},
		EventSignatures:   []string{"0xddf2"},
	}
	assert.True(t, e.Matches("1", "0xAAA", "0xDDF2"))
	assert.False(t, e.Matches("1", "0xbbb", "0xddf2"))
	assert.False(t, e.Matches("2", "0xaaa", "0xddf2"))
}
