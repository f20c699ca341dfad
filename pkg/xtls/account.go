package xtls

import (
	"fmt"

	"github.com/xtls/xray-core/common/serial"
	"github.com/xtls/xray-core/proxy/http"
	"github.com/xtls/xray-core/proxy/shadowsocks"
	"github.com/xtls/xray-core/proxy/shadowsocks_2022"
	"github.com/xtls/xray-core/proxy/socks"
	"github.com/xtls/xray-core/proxy/trojan"
	"github.com/xtls/xray-core/proxy/vless"

	"github.com/cuemby/xnode/pkg/types"
)

// typedAccount converts an account into the engine's typed message
func typedAccount(acct types.Account) (*serial.TypedMessage, error) {
	switch a := acct.(type) {
	case types.VlessAccount:
		return serial.ToTypedMessage(&vless.Account{
			Id:   a.UUID,
			Flow: string(a.Flow),
		}), nil
	case types.TrojanAccount:
		return serial.ToTypedMessage(&trojan.Account{
			Password: a.Password,
		}), nil
	case types.ShadowsocksAccount:
		return serial.ToTypedMessage(&shadowsocks.Account{
			Password:   a.Password,
			CipherType: shadowsocks.CipherType(a.Cipher),
			IvCheck:    a.IVCheck,
		}), nil
	case types.Shadowsocks2022Account:
		return serial.ToTypedMessage(&shadowsocks_2022.Account{
			Key: a.Key,
		}), nil
	case types.SocksAccount:
		return serial.ToTypedMessage(&socks.Account{
			Username: a.Username,
			Password: a.Password,
		}), nil
	case types.HTTPAccount:
		return serial.ToTypedMessage(&http.Account{
			Username: a.Username,
			Password: a.Password,
		}), nil
	case nil:
		return nil, fmt.Errorf("account is missing")
	default:
		return nil, fmt.Errorf("unsupported account type %T", acct)
	}
}
