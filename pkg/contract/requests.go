package contract

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"

	"github.com/google/uuid"

	"github.com/cuemby/xnode/pkg/types"
)

// AddUserRequest adds one logical user to one or more inbounds
type AddUserRequest struct {
	Users    []types.InboundUser
	Identity types.IdentityHashes
}

// addUserItem is the wire form of one AddUser entry, discriminated by type
type addUserItem struct {
	Type          types.Protocol   `json:"type"`
	Tag           string           `json:"tag"`
	Username      string           `json:"username"`
	Level         uint32           `json:"level"`
	UUID          string           `json:"uuid"`
	Flow          types.VlessFlow  `json:"flow"`
	Password      string           `json:"password"`
	CipherType    types.CipherType `json:"cipherType"`
	IVCheck       bool             `json:"ivCheck"`
	Key           string           `json:"key"`
	SocksUsername string           `json:"socks_username"`
	SocksPassword string           `json:"socks_password"`
	HTTPUsername  string           `json:"http_username"`
	HTTPPassword  string           `json:"http_password"`
}

func (item addUserItem) account() (types.Account, error) {
	switch item.Type {
	case types.ProtocolVless:
		return types.VlessAccount{UUID: item.UUID, Flow: item.Flow}, nil
	case types.ProtocolTrojan:
		return types.TrojanAccount{Password: item.Password}, nil
	case types.ProtocolShadowsocks:
		return types.ShadowsocksAccount{Password: item.Password, Cipher: item.CipherType, IVCheck: item.IVCheck}, nil
	case types.ProtocolShadowsocks2022:
		return types.Shadowsocks2022Account{Key: item.Key}, nil
	case types.ProtocolSocks:
		return types.SocksAccount{Username: item.SocksUsername, Password: item.SocksPassword}, nil
	case types.ProtocolHTTP:
		return types.HTTPAccount{Username: item.HTTPUsername, Password: item.HTTPPassword}, nil
	default:
		return nil, fmt.Errorf("unsupported user type %q", item.Type)
	}
}

// UnmarshalJSON decodes {"data": [...], "hashData": {...}}
func (r *AddUserRequest) UnmarshalJSON(data []byte) error {
	var wire struct {
		Data     []addUserItem        `json:"data"`
		HashData types.IdentityHashes `json:"hashData"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	users := make([]types.InboundUser, 0, len(wire.Data))
	for i, item := range wire.Data {
		acct, err := item.account()
		if err != nil {
			return fmt.Errorf("data[%d]: %w", i, err)
		}
		users = append(users, types.InboundUser{
			Tag:      item.Tag,
			Username: item.Username,
			Level:    item.Level,
			Account:  acct,
		})
	}

	r.Users = users
	r.Identity = wire.HashData
	return nil
}

// RemoveUserRequest removes one logical user from every tracked inbound
type RemoveUserRequest struct {
	Username string               `json:"username"`
	Identity types.IdentityHashes `json:"hashData"`
}

// BatchInbound names one inbound a batch user is added to
type BatchInbound struct {
	Protocol types.Protocol  `json:"type"`
	Tag      string          `json:"tag"`
	Flow     types.VlessFlow `json:"flow,omitempty"`
}

// BatchUserData carries every credential a batch user may need
type BatchUserData struct {
	UserID         string `json:"userId"`
	HashUUID       string `json:"hashUuid"`
	VlessUUID      string `json:"vlessUuid"`
	TrojanPassword string `json:"trojanPassword"`
	SSPassword     string `json:"ssPassword"`
}

// BatchUser is one user of an AddUsers request
type BatchUser struct {
	Inbounds []BatchInbound `json:"inboundData"`
	UserData BatchUserData  `json:"userData"`
}

// AddUsersRequest adds many users at once
type AddUsersRequest struct {
	AffectedTags []string    `json:"affectedInboundTags"`
	Users        []BatchUser `json:"users"`
}

// Validate checks the identifiers that must be UUIDs
func (r *AddUsersRequest) Validate() error {
	var errs []error
	for i, u := range r.Users {
		if err := uuid.Validate(u.UserData.HashUUID); err != nil {
			errs = append(errs, fmt.Errorf("users[%d].hashUuid: %w", i, err))
		}
		if err := uuid.Validate(u.UserData.VlessUUID); err != nil {
			errs = append(errs, fmt.Errorf("users[%d].vlessUuid: %w", i, err))
		}
		for j, in := range u.Inbounds {
			switch in.Protocol {
			case types.ProtocolVless, types.ProtocolTrojan, types.ProtocolShadowsocks:
			default:
				errs = append(errs, fmt.Errorf("users[%d].inboundData[%d]: unsupported type %q", i, j, in.Protocol))
			}
		}
	}
	return errors.Join(errs...)
}

// RemoveUsersItem identifies one user of a RemoveUsers request
type RemoveUsersItem struct {
	UserID   string `json:"userId"`
	HashUUID string `json:"hashUuid"`
}

// RemoveUsersRequest removes many users at once
type RemoveUsersRequest struct {
	Users []RemoveUsersItem `json:"users"`
}

// Validate checks that every hashUuid is a UUID
func (r *RemoveUsersRequest) Validate() error {
	var errs []error
	for i, u := range r.Users {
		if err := uuid.Validate(u.HashUUID); err != nil {
			errs = append(errs, fmt.Errorf("users[%d].hashUuid: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// IPRequest blocks or unblocks traffic from one client address
type IPRequest struct {
	IP       string `json:"ip"`
	Username string `json:"username"`
}

// Validate checks that IP is a literal address
func (r *IPRequest) Validate() error {
	if _, err := netip.ParseAddr(r.IP); err != nil {
		return fmt.Errorf("ip: %w", err)
	}
	return nil
}

// InboundTagRequest selects one inbound
type InboundTagRequest struct {
	Tag string `json:"tag"`
}
