package wallet

import (
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	devMnemonic = "test test test test test test test test test test test junk"
	devKey      = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	devAddress  = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func TestFromPrivateKey(t *testing.T) {
	for _, in := range []string{devKey, devKey[2:], "  " + devKey + "\n"} {
		w, err := FromPrivateKey(in)
		require.NoError(t, err)
		assert.Equal(t, common.HexToAddress(devAddress), w.Address)
		assert.Equal(t, ChallengeBrowserExtension, w.ChallengeType())
		assert.Equal(t, devKey, w.PrivateKeyHex())
	}

	_, err := FromPrivateKey("0x1234")
	assert.Error(t, err)
}

func TestFromMnemonic(t *testing.T) {
	w, err := FromMnemonic("  test test test test test test\ttest test test test test junk ")
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(devAddress), w.Address)
	assert.Equal(t, ChallengeRecoveryEOA, w.ChallengeType())

	_, err = FromMnemonic("not a real phrase at all")
	assert.ErrorIs(t, err, ErrInvalidMnemonic)
}

func TestSignTextRecovers(t *testing.T) {
	w, err := FromPrivateKey(devKey)
	require.NoError(t, err)

	msg := []byte("Sign in to Incentiv: nonce 42")
	sig, err := w.SignText(msg)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	assert.Contains(t, []byte{27, 28}, sig[64])

	got, err := RecoverText(msg, sig)
	require.NoError(t, err)
	assert.Equal(t, w.Address, got)

	h := common.HexToHash("0x5c1f3e5b2f8ad41f0a8ce5b4c5d3f1c3b9d7f3e2a1b0c9d8e7f6a5b4c3d2e1f0")
	sig, err = w.SignHash(h)
	require.NoError(t, err)
	got, err = RecoverText(h.Bytes(), sig)
	require.NoError(t, err)
	assert.Equal(t, w.Address, got)
}

func TestGenerateAndRandomAddress(t *testing.T) {
	a, err := Generate()
	require.NoError(t, err)
	b, err := Generate()
	require.NoError(t, err)
	assert.NotEqual(t, a.Address, b.Address)
	assert.NotEqual(t, RandomAddress(), RandomAddress())
}

func TestParseEntry(t *testing.T) {
	cases := []struct {
		line string
		ok   bool
		pk   string
		mn   string
	}{
		{line: "", ok: false},
		{line: "# comment", ok: false},
		{line: devKey, ok: true, pk: devKey},
		{line: devKey[2:], ok: true, pk: devKey[2:]},
		{line: devMnemonic, ok: true, mn: devMnemonic},
		{line: `{"private_key": "` + devKey + `"}`, ok: true, pk: devKey},
		{line: `{"mnemonic": "` + devMnemonic + `"}`, ok: true, mn: devMnemonic},
	}
	for _, tc := range cases {
		e, ok, err := ParseEntry(tc.line)
		require.NoError(t, err, tc.line)
		assert.Equal(t, tc.ok, ok, tc.line)
		assert.Equal(t, tc.pk, e.PrivateKey, tc.line)
		assert.Equal(t, tc.mn, e.Mnemonic, tc.line)
	}

	_, _, err := ParseEntry(`{"address": "0x1"}`)
	assert.Error(t, err)
}

func TestLoadEntriesAndSelect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.txt")
	body := "# wallets\n" + devKey + "\n\n" + devMnemonic + "\n" + devKey[2:] + "\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	entries, err := LoadEntries(path)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, 2, entries[0].Line)
	assert.Equal(t, 4, entries[1].Line)

	for _, e := range entries {
		w, err := e.Wallet()
		require.NoError(t, err)
		assert.Equal(t, common.HexToAddress(devAddress), w.Address)
	}

	assert.Equal(t, []Entry{entries[0], entries[2]}, Select(entries, Selection{Exact: []int{1, 3, 9}}))
	assert.Equal(t, entries[1:], Select(entries, Selection{Start: 2, End: 0}))
	assert.Equal(t, entries[:2], Select(entries, Selection{Start: 1, End: 2}))
	assert.Equal(t, entries, Select(entries, Selection{}))

	shuffled := Select(entries, Selection{Shuffle: true, Rand: rand.New(rand.NewPCG(7, 7))})
	assert.ElementsMatch(t, entries, shuffled)
}

func TestAppendLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "new_accounts.txt")
	require.NoError(t, AppendLines(path, []string{"a", "b"}))
	require.NoError(t, AppendLines(path, []string{"c"}))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a\nb\nc\n", string(b))
}
