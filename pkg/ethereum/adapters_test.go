package ethereum

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

func TestParseNodeRegisteredExtractsAddressAndMetadata(t *testing.T) {
	addr := common.HexToAddress("0x000000000000000000000000000000000000aa")
	log := types.Log{
		Topics: []common.Hash{{}, addr.Hash()},
		Data:   []byte(`{"models":["llama-3"]}`),
	}

	ev, err := parseNodeRegistered(log)
	require.NoError(t, err)
	require.Equal(t, `{"models":["llama-3"]}`, ev.Metadata)
	require.Contains(t, ev.Address, "aa")
}

func TestParseNodeRegisteredRejectsMalformedLog(t *testing.T) {
	_, err := parseNodeRegistered(types.Log{})
	require.Error(t, err)
}

func TestParseNodeUnregisteredExtractsAddress(t *testing.T) {
	addr := common.HexToAddress("0x000000000000000000000000000000000000bb")
	log := types.Log{Topics: []common.Hash{{}, addr.Hash()}}

	ev, err := parseNodeUnregistered(log)
	require.NoError(t, err)
	require.Contains(t, ev.Address, "bb")
}
