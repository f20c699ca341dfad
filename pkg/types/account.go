package types

import "fmt"

// Protocol names an inbound protocol
type Protocol string

const (
	ProtocolVless           Protocol = "vless"
	ProtocolTrojan          Protocol = "trojan"
	ProtocolShadowsocks     Protocol = "shadowsocks"
	ProtocolShadowsocks2022 Protocol = "shadowsocks2022"
	ProtocolSocks           Protocol = "socks"
	ProtocolHTTP            Protocol = "http"
)

// VlessFlow is the optional VLESS flow control
type VlessFlow string

const (
	VlessFlowNone   VlessFlow = ""
	VlessFlowVision VlessFlow = "xtls-rprx-vision"
)

// CipherType is the shadowsocks cipher, numbered as the engine numbers it
type CipherType int32

const (
	CipherUnknown           CipherType = 0
	CipherAES128GCM         CipherType = 5
	CipherAES256GCM         CipherType = 6
	CipherChaCha20Poly1305  CipherType = 7
	CipherXChaCha20Poly1305 CipherType = 8
	CipherNone              CipherType = 9
)

// Method returns the cipher name used in engine configuration files
func (c CipherType) Method() string {
	switch c {
	case CipherAES128GCM:
		return "aes-128-gcm"
	case CipherAES256GCM:
		return "aes-256-gcm"
	case CipherChaCha20Poly1305:
		return "chacha20-poly1305"
	case CipherXChaCha20Poly1305:
		return "xchacha20-poly1305"
	case CipherNone:
		return "none"
	default:
		return ""
	}
}

// Account is the protocol-specific credential of a user.
// The concrete types below are the only implementations.
type Account interface {
	Protocol() Protocol
	isAccount()
}

// VlessAccount authenticates by UUID
type VlessAccount struct {
	UUID string
	Flow VlessFlow
}

// TrojanAccount authenticates by password
type TrojanAccount struct {
	Password string
}

// ShadowsocksAccount is a legacy (pre-2022) shadowsocks credential
type ShadowsocksAccount struct {
	Password string
	Cipher   CipherType
	IVCheck  bool
}

// Shadowsocks2022Account authenticates by a base64 key
type Shadowsocks2022Account struct {
	Key string
}

// SocksAccount is a username/password pair
type SocksAccount struct {
	Username string
	Password string
}

// HTTPAccount is a username/password pair
type HTTPAccount struct {
	Username string
	Password string
}

func (VlessAccount) Protocol() Protocol           { return ProtocolVless }
func (TrojanAccount) Protocol() Protocol          { return ProtocolTrojan }
func (ShadowsocksAccount) Protocol() Protocol     { return ProtocolShadowsocks }
func (Shadowsocks2022Account) Protocol() Protocol { return ProtocolShadowsocks2022 }
func (SocksAccount) Protocol() Protocol           { return ProtocolSocks }
func (HTTPAccount) Protocol() Protocol            { return ProtocolHTTP }

func (VlessAccount) isAccount()           {}
func (TrojanAccount) isAccount()          {}
func (ShadowsocksAccount) isAccount()     {}
func (Shadowsocks2022Account) isAccount() {}
func (SocksAccount) isAccount()           {}
func (HTTPAccount) isAccount()            {}

// ParseProtocol validates a protocol name
func ParseProtocol(s string) (Protocol, error) {
	switch p := Protocol(s); p {
	case ProtocolVless, ProtocolTrojan, ProtocolShadowsocks,
		ProtocolShadowsocks2022, ProtocolSocks, ProtocolHTTP:
		return p, nil
	default:
		return "", fmt.Errorf("unsupported protocol %q", s)
	}
}
