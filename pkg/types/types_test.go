package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChangeDescriptorValidate(t *testing.T) {
	tests := []struct {
		name    string
		desc    *ChangeDescriptor
		wantErr bool
	}{
		{
			name:    "nil descriptor",
			desc:    nil,
			wantErr: true,
		},
		{
			name:    "missing shape digest",
			desc:    &ChangeDescriptor{Inbounds: []InboundDigest{{Tag: "a", Hash: "h"}}},
			wantErr: true,
		},
		{
			name:    "empty tag",
			desc:    &ChangeDescriptor{ShapeDigest: "d", Inbounds: []InboundDigest{{Tag: ""}}},
			wantErr: true,
		},
		{
			name: "duplicate tag",
			desc: &ChangeDescriptor{ShapeDigest: "d", Inbounds: []InboundDigest{
				{Tag: "a"}, {Tag: "a"},
			}},
			wantErr: true,
		},
		{
			name:    "no inbounds is valid",
			desc:    &ChangeDescriptor{ShapeDigest: "d"},
			wantErr: false,
		},
		{
			name: "valid",
			desc: &ChangeDescriptor{ShapeDigest: "d", Inbounds: []InboundDigest{
				{Tag: "a", Hash: "1", UserCount: 1}, {Tag: "b", Hash: "2", UserCount: 3},
			}},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.desc.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestChangeDescriptorLookup(t *testing.T) {
	d := &ChangeDescriptor{ShapeDigest: "d", Inbounds: []InboundDigest{{Tag: "a", Hash: "1"}}}

	in, ok := d.Lookup("a")
	assert.True(t, ok)
	assert.Equal(t, "1", in.Hash)

	_, ok = d.Lookup("b")
	assert.False(t, ok)

	assert.Contains(t, d.Tags(), "a")
}

func TestIdentityHashesStale(t *testing.T) {
	assert.Equal(t, "cur", IdentityHashes{Current: "cur"}.Stale())
	assert.Equal(t, "prev", IdentityHashes{Current: "cur", Previous: "prev"}.Stale())
}

func TestParseProtocol(t *testing.T) {
	p, err := ParseProtocol("vless")
	assert.NoError(t, err)
	assert.Equal(t, ProtocolVless, p)

	_, err = ParseProtocol("wireguard")
	assert.Error(t, err)
}

func TestAccountProtocols(t *testing.T) {
	accounts := map[Protocol]Account{
		ProtocolVless:           VlessAccount{},
		ProtocolTrojan:          TrojanAccount{},
		ProtocolShadowsocks:     ShadowsocksAccount{},
		ProtocolShadowsocks2022: Shadowsocks2022Account{},
		ProtocolSocks:           SocksAccount{},
		ProtocolHTTP:            HTTPAccount{},
	}
	for want, acc := range accounts {
		assert.Equal(t, want, acc.Protocol())
	}
}

func TestCipherMethod(t *testing.T) {
	tests := []struct {
		cipher CipherType
		want   string
	}{
		{CipherAES128GCM, "aes-128-gcm"},
		{CipherAES256GCM, "aes-256-gcm"},
		{CipherChaCha20Poly1305, "chacha20-poly1305"},
		{CipherXChaCha20Poly1305, "xchacha20-poly1305"},
		{CipherNone, "none"},
		{CipherUnknown, ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.cipher.Method())
	}
}
