package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShortAndMask(t *testing.T) {
	assert.Equal(t, "0xf39F...2266", ShortAddr("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"))
	assert.Equal(t, "0x12", ShortAddr("0x12"))
	assert.Equal(t, "***", MaskHex("0xabc"))
	assert.Equal(t, "0xac09…ff80", MaskHex("0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"))
}

func TestForAccountFields(t *testing.T) {
	var buf bytes.Buffer
	lg := New("debug", &buf)
	ForAccount(lg, 3, 12, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266").Info("login ok")

	out := buf.String()
	assert.Contains(t, out, "acc=0xf39F...2266")
	assert.Contains(t, out, "account=3/12")
	assert.Contains(t, out, "login ok")
}

func TestLevelFallback(t *testing.T) {
	lg := New("nonsense", &bytes.Buffer{})
	assert.Equal(t, "info", lg.GetLevel().String())
}
