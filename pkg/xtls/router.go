package xtls

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/netip"
	"strconv"

	"github.com/xtls/xray-core/app/router"
	routercmd "github.com/xtls/xray-core/app/router/command"
	"github.com/xtls/xray-core/common/serial"
)

// BlockOutboundTag is the outbound blocked source addresses are routed to
const BlockOutboundTag = "BLOCK"

// RuleTag returns the routing rule tag for ip. It is the hex MD5 of the
// address in object-hash string encoding, so the control plane derives
// the same tag for the same address.
func RuleTag(ip string) string {
	sum := md5.Sum([]byte("string:" + strconv.Itoa(len(ip)) + ":" + ip))
	return hex.EncodeToString(sum[:])
}

// BlockIP appends a routing rule sending every connection from ip to the
// block outbound
func (c *Client) BlockIP(ctx context.Context, ip string) error {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return fmt.Errorf("invalid ip %q: %w", ip, err)
	}
	addr = addr.Unmap()

	tag := RuleTag(ip)
	rule := &router.RoutingRule{
		RuleTag:   tag,
		TargetTag: &router.RoutingRule_Tag{Tag: BlockOutboundTag},
		SourceGeoip: []*router.GeoIP{{
			Cidr: []*router.CIDR{{Ip: addr.AsSlice(), Prefix: uint32(addr.BitLen())}},
		}},
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err = c.router.AddRule(ctx, &routercmd.AddRuleRequest{
		Config:       serial.ToTypedMessage(&router.Config{Rule: []*router.RoutingRule{rule}}),
		ShouldAppend: true,
	})
	if err != nil {
		return fmt.Errorf("failed to block %s: %w", ip, err)
	}

	c.logger.Debug().Str("ip", ip).Str("rule_tag", tag).Msg("Block rule added")
	return nil
}

// UnblockIP removes the block rule installed for ip
func (c *Client) UnblockIP(ctx context.Context, ip string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	tag := RuleTag(ip)
	if _, err := c.router.RemoveRule(ctx, &routercmd.RemoveRuleRequest{RuleTag: tag}); err != nil {
		return fmt.Errorf("failed to unblock %s: %w", ip, err)
	}

	c.logger.Debug().Str("ip", ip).Str("rule_tag", tag).Msg("Block rule removed")
	return nil
}
